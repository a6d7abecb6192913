package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// L is the root logger every package names its own logger from.
var L hclog.Logger

func init() {
	L = New(os.Getenv)
}

// New builds the root logger from the environment. RVOS_LOG picks a level
// name, TRACE forces trace output and RVOS_LOG_JSON switches to JSON lines.
func New(getenv func(string) string) hclog.Logger {
	l := hclog.New(&hclog.LoggerOptions{
		Name:       "rvos",
		Level:      levelFromEnv(getenv),
		JSONFormat: getenv("RVOS_LOG_JSON") != "",
	})

	return l
}

func levelFromEnv(getenv func(string) string) hclog.Level {
	if getenv("TRACE") != "" {
		return hclog.Trace
	}

	if lvl := hclog.LevelFromString(getenv("RVOS_LOG")); lvl != hclog.NoLevel {
		return lvl
	}

	return hclog.Info
}
