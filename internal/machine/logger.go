package machine

import "log"

// Logger receives operator-facing progress and warning messages for one
// machine.
type Logger interface {
	Info(msg string)
	Warn(msg string)
}

// logLogger is the default Logger, writing through the standard library
// logger with the machine name as prefix.
type logLogger struct {
	name string
}

// NewLogger returns the default machine-scoped logger.
func NewLogger(name string) Logger {
	return &logLogger{name: name}
}

func (l *logLogger) Info(msg string) {
	log.Printf("%s> %s", l.name, msg)
}

func (l *logLogger) Warn(msg string) {
	log.Printf("%s> warning: %s", l.name, msg)
}
