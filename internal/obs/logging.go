// Package obs provides the logging infrastructure shared by every
// front.evalgo.org component: a single process-wide logrus logger with
// stream-aware output routing and a small context-carrying wrapper.
package obs

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes error/fatal-level log lines to stderr and
// everything else to stdout, so container log drivers can treat the two
// streams differently without parsing structured fields.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger used across the control plane.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// SetLevel parses name ("debug", "info", "warn", "error", "fatal") and
// applies it to Logger, falling back to info on an unrecognised value.
func SetLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)
}
