// Package logrus adapts a logrus entry to kvstate.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/kvstate"
)

var _ kvstate.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l, tagging every entry with component=kvstate.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "kvstate")}
}

func (l LogrusLogger) Debug(msg string, f kvstate.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f kvstate.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f kvstate.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f kvstate.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f kvstate.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		e = e.WithField(k, v)
	}
	return e
}
