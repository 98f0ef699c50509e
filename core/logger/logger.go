package logger

// Logger defines the minimal structured logging interface used across the
// service. Implementations live under infra/logger.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
