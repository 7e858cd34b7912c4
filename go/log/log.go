package log

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

var L hclog.Logger

func init() {
	L = hclog.New(&hclog.LoggerOptions{Name: "domaincorn"})
	L.SetLevel(hclog.Info)

	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}

// Setup replaces the global logger. TRACE in the environment still wins over
// the configured level.
func Setup(level string, out io.Writer, color bool) {
	opts := &hclog.LoggerOptions{
		Name:   "domaincorn",
		Level:  hclog.LevelFromString(level),
		Output: out,
	}
	if opts.Level == hclog.NoLevel {
		opts.Level = hclog.Info
	}
	if color {
		opts.Color = hclog.AutoColor
	}
	if os.Getenv("TRACE") != "" {
		opts.Level = hclog.Trace
	}
	L = hclog.New(opts)
}

// Discard silences logging, mostly for tests.
func Discard() {
	L = hclog.NewNullLogger()
}
