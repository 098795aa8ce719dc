package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/forumdb/log"
)

var _ log.Logger = LogrusLogger{}

// LogrusLogger adapts a logrus entry. An error stored under "err" is attached
// with WithError so formatters place it under logrus.ErrorKey.
type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f log.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f log.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f log.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f log.Fields) { l.entry(f).Error(msg) }

func (l LogrusLogger) entry(f log.Fields) *logrus.Entry {
	e := l.E
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}
	if len(f) == 0 {
		return e
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		fields[k] = v
	}
	return e.WithFields(fields)
}
