package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/zendure2mqtt/internal/adapter/actor"
	"github.com/berfenger/zendure2mqtt/internal/config"
	"github.com/berfenger/zendure2mqtt/internal/core/actor"
	"github.com/berfenger/zendure2mqtt/internal/metrics"
	"github.com/berfenger/zendure2mqtt/internal/server"
	"github.com/berfenger/zendure2mqtt/internal/util/actorutil"
	"github.com/berfenger/zendure2mqtt/pkg/sunspec_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// Modbus actor provider, only when the grid meter is read over Modbus TCP
	var modbusProv actor.ModbusActorProvider
	if cfg.Meter.Source == config.METER_SOURCE_MODBUS {
		modbusProv, err = modbusActorProvider(cfg, logger)
		if err != nil {
			panic(err)
		}
	}

	m := metrics.NewMetrics()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, modbusProv, mqttActorProvider(cfg, logger), m, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("master actor spawn failed", zap.Error(err))
		return
	}

	server := server.NewServer(*cfg, ctx, pid, m)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => ZENDURE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ZENDURE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("zendure")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, fmt.Errorf("invalid base topic: %w", err)
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, fmt.Errorf("invalid homeassistant discovery topic: %w", err)
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds and cross references
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func modbusActorProvider(cfg *config.Config, logger *zap.Logger) (actor.ModbusActorProvider, error) {

	acMeter, err := sunspec_modbus.CreateACMeterIntSFModbusReader(cfg.MeterModbusTcp.Host,
		cfg.MeterModbusTcp.Port, uint8(cfg.MeterModbusTcp.MeterId), 1*time.Second,
		cfg.MeterModbusTcp.IgnoreFronius, logger, nil)

	if err != nil {
		return nil, err
	}

	return func() *adactor.ModbusActor {
		return adactor.NewModbusActor(acMeter, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "zendure")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("zendure.report_topic_prefix", "")
	viper.SetDefault("zendure.write_topic_prefix", "iot")
	viper.SetDefault("meter.source", config.METER_SOURCE_MQTT)
	viper.SetDefault("meter.factor", 1)
	viper.SetDefault("meter.min_update_millis", 0)
	viper.SetDefault("meter_modbus_tcp.port", 502)
	viper.SetDefault("meter_modbus_tcp.meter_id", 200)
	viper.SetDefault("meter_modbus_tcp.poll_interval_millis", 2000)
	viper.SetDefault("distribution.operating_mode", "OFF")
	viper.SetDefault("distribution.manual_power", 0)
	viper.SetDefault("distribution.start_power", 50)
	viper.SetDefault("distribution.power_tolerance", 5)
	viper.SetDefault("distribution.device_timeout_seconds", 120)
	viper.SetDefault("distribution.pack_timeout_seconds", 600)
	viper.SetDefault("distribution.auto_register", false)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
