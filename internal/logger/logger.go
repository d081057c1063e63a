package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process wide logger, replaced by Init. It is a no-op until then
// so packages can log from tests without initialisation.
var Log = zap.NewNop()

// Init builds the global logger. Production gets the JSON encoder, anything
// else the colored console encoder.
func Init(environment, level string) error {
	l, err := New(environment, level)
	if err != nil {
		return err
	}
	Log = l
	return nil
}

func New(environment, level string) (*zap.Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			config.Level.SetLevel(lvl)
		}
	}

	return config.Build()
}

// Named scopes the global logger to a component.
func Named(component string) *zap.Logger {
	return Log.With(zap.String("component", component))
}
