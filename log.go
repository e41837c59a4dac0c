package main

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate"

	"github.com/basis-protocol/tracker/httpapi"
	"github.com/basis-protocol/tracker/scanner"
	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

// logWriter always writes to stdout, and also to logRotator once
// initLogRotator has pointed it at a file. The data dir isn't known until
// config is loaded, so the rotator can't be wired up any earlier.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var logRotator *logrotate.Rotator

// backendLog is the logging backend every subsystem logger below is carved
// out of.
var backendLog = btclog.NewBackend(logWriter{})

// subsystem loggers, one per package that logs. Each is wired into its
// package via that package's UseLogger.
var (
	trkdLog = backendLog.Logger("TRKD")
	trkrLog = backendLog.Logger("TRKR")
	scanLog = backendLog.Logger("SCAN")
	httpLog = backendLog.Logger("HTTP")
	storLog = backendLog.Logger("STOR")
)

// subsystemLoggers maps each subsystem tag to its logger, used by
// setLogLevel to apply a per-subsystem level override.
var subsystemLoggers = map[string]btclog.Logger{
	"TRKD": trkdLog,
	"TRKR": trkrLog,
	"SCAN": scanLog,
	"HTTP": httpLog,
	"STOR": storLog,
}

func init() {
	tracker.UseLogger(trkrLog)
	scanner.UseLogger(scanLog)
	httpapi.UseLogger(httpLog)
	store.UseLogger(storLog)
}

// initLogRotator points logWriter at a rotated file on disk, in addition to
// the stdout output it always produces.
func initLogRotator(logFile string, maxRolls int) error {
	r, err := logrotate.NewRotator(logFile)
	if err != nil {
		return err
	}
	r.MaxRolls = maxRolls
	logRotator = r
	return nil
}

// setLogLevel sets the logging level for the named subsystem. Invalid
// subsystems or level names are silently ignored, matching the lenient
// --debuglevel behavior subsystem-tagged loggers conventionally have.
func setLogLevel(subsystem, level string) {
	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		return
	}
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}
	logger.SetLevel(lvl)
}

// setLogLevels sets every subsystem's logger to the same level, used for a
// bare "--debuglevel=debug" with no per-subsystem overrides.
func setLogLevels(level string) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(lvl)
	}
}
