package actorutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel, zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a bridge command topic to a distribution request.
// Unknown entities yield a nil request.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	switch {
	case cmd.Command == mqtt.COMMAND_SELECT && cmd.EntityId == domain.SELECT_ID_OPERATING_MODE:
		mode, err := domain.ParseOperatingMode(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return domain.SetOperatingModeRequest{Mode: mode}, nil
	case cmd.Command == mqtt.COMMAND_NUMBER && cmd.EntityId == domain.INPUT_NUMBER_ID_MANUAL_POWER:
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrMalformedValue, cmd.Payload)
		}
		return domain.SetManualPowerRequest{PowerWatt: int(value)}, nil
	}
	return nil, nil
}
