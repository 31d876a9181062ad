// Package logging provides the structured, per-component logger used
// throughout mailcore.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	base     zerolog.Logger
	baseOnce sync.Once
)

func root() zerolog.Logger {
	baseOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
		base = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
	return base
}

// SetLevel adjusts the global minimum log level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// WithComponent returns a logger tagged with the given component name,
// e.g. WithComponent("imap-transport") or WithComponent("mimeparse").
func WithComponent(name string) zerolog.Logger {
	return root().With().Str("component", name).Logger()
}
