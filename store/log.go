package store

import "github.com/btcsuite/btclog"

// log is the package-level logger for the bbolt-backed store. It is
// disabled by default; callers wire a real backend in via UseLogger.
var log = btclog.Disabled

// UseLogger sets the logger used by the store package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
