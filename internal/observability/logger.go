package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithNamespace scopes a logger to one event namespace.
func WithNamespace(logger *zap.Logger, namespace string) *zap.Logger {
	if logger == nil {
		return nil
	}
	if strings.TrimSpace(namespace) == "" {
		return logger
	}
	return logger.With(zap.String("namespace", namespace))
}

// WithEndpoint tags a logger with the local endpoint id and side.
func WithEndpoint(logger *zap.Logger, endpoint, side string) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		fields = append(fields, zap.String("endpoint", endpoint))
	}
	if side = strings.TrimSpace(side); side != "" {
		fields = append(fields, zap.String("side", strings.ToLower(side)))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
