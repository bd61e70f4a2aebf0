// Package logrus adapts a *logrus.Entry to querysync.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/querysync"
)

var _ querysync.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every line with component=querysync.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "querysync")}
}

func (l Logger) Debug(msg string, f querysync.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f querysync.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f querysync.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f querysync.Fields) { l.with(f).Error(msg) }

// with maps an error under "err" to logrus' error key.
func (l Logger) with(f querysync.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[k] = v
	}
	return l.E.WithFields(out)
}
