package testing

import (
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

// NewCapturingLogger returns a debug-level logger whose entries are kept by
// the returned hook instead of printed.
func NewCapturingLogger() (logging.Interface, *logrustest.Hook) {
	l, hook := logrustest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return logging.ForLogrus(logrus.NewEntry(l)), hook
}

// Messages lists what was logged at level, oldest first.
func Messages(hook *logrustest.Hook, level logrus.Level) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}
