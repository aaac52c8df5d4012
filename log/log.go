// Package log provides the subsystem loggers used across the library.
// Output goes to stderr as structured JSON; SetDebug widens the level
// for wire-traffic diagnostics.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var root = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Subsystem loggers. Each tags its events with a sys field so mixed
// output from several venues stays attributable.
var (
	ExchangeSys  = sub("exchange")
	RequestSys   = sub("request")
	WebsocketMgr = sub("websocket")
)

func sub(name string) zerolog.Logger {
	return root.With().Str("sys", name).Logger()
}

// SetDebug toggles debug-level output for the whole library.
func SetDebug(enabled bool) {
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetOutput redirects every subsystem logger to w. Call during setup,
// before any exchange is initialized; the loggers are rebuilt in place.
func SetOutput(w io.Writer) {
	root = zerolog.New(w).With().Timestamp().Logger()
	ExchangeSys = sub("exchange")
	RequestSys = sub("request")
	WebsocketMgr = sub("websocket")
}
