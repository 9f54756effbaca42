// Command replay runs a recorded bridge log through the power distribution
// and reports how the grid exchange would have looked.
//
// Usage:
//
//	replay --log bridge.log [--start-power 50] [--tolerance 5] [--report out.yaml]
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/berfenger/zendure2mqtt/internal/simulator"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	flags := newFlagSet()
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	v, err := newConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if v.GetString("log") == "" {
		fmt.Fprintln(os.Stderr, "Usage: replay --log <file> [--start-power <W>] [--tolerance <W>] [--report <file>]")
		flags.PrintDefaults()
		os.Exit(1)
	}

	zapCfg := zap.NewDevelopmentConfig()
	level, err := zap.ParseAtomicLevel(v.GetString("log-level"))
	if err == nil {
		zapCfg.Level = level
	}
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	if err := run(v, logger); err != nil {
		logger.Error("replay failed", zap.Error(err))
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("replay", pflag.ExitOnError)
	flags.String("log", "", "log file to replay")
	flags.Int("start-power", simulator.DefaultOptions().StartPower, "power (W) given to a device that starts up")
	flags.Int("tolerance", simulator.DefaultOptions().PowerTolerance, "setpoint changes (W) below this are ignored")
	flags.String("report", "", "write the replay report as YAML to this file, - for stdout")
	flags.String("log-level", "info", "log level")
	return flags
}

// newConfig binds the flags, overridable by ZENDURE_REPLAY_* variables
// (ZENDURE_REPLAY_START_POWER for --start-power).
func newConfig(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("zendure_replay")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	return v, nil
}

func run(v *viper.Viper, logger *zap.Logger) error {
	runId := uuid.NewString()
	logger = logger.With(zap.String("run", runId))

	file, err := os.Open(v.GetString("log"))
	if err != nil {
		return err
	}
	defer file.Close()

	l, err := simulator.ParseLog(file, logger)
	if err != nil {
		return fmt.Errorf("parse log: %w", err)
	}

	result, err := simulator.Simulate(l, simulator.Options{
		StartPower:     v.GetInt("start-power"),
		PowerTolerance: v.GetInt("tolerance"),
	}, logger)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	result.RunId = runId
	result.Source = v.GetString("log")
	result.StartPower = v.GetInt("start-power")
	result.PowerTolerance = v.GetInt("tolerance")

	logger.Info("replay summary",
		zap.Int("samples", result.Summary.Samples),
		zap.Float64("grid_import_wh", result.Summary.GridImportWh),
		zap.Float64("grid_export_wh", result.Summary.GridExportWh),
		zap.Float64("sim_grid_import_wh", result.Summary.SimGridImportWh),
		zap.Float64("sim_grid_export_wh", result.Summary.SimGridExportWh))

	report := v.GetString("report")
	if report == "" {
		return nil
	}
	var out io.Writer = os.Stdout
	if report != "-" {
		f, err := os.Create(report)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return result.WriteYAML(out)
}
