package log

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LocalityLogger provides per-locality logging: every entry is tagged
// with the locality id and reaches the main log, cfg.ActorFileLog adds
// a dedicated per-locality file, and localities named in the verbose
// whitelist bypass the global level filter, so an operator debugging a
// single misbehaving locality in a large cluster can isolate its
// output without turning on verbose logging everywhere. server.Server
// does not build one; callers construct it with NewLocalityLogger.
type LocalityLogger struct {
	*GameLogger
	localityID  uint32
	inWhiteList bool
}

// NewLocalityLogger builds a logger tagging every event with localityID.
// When cfg.ActorFileLog is set, a second file appender is added writing
// only this locality's entries; when the locality is in the verbose
// whitelist, IgnoreCheckLevel reports true so Debug-level output is
// never dropped regardless of the process-wide minimum level.
func NewLocalityLogger(cfg *LogCfg, localityID uint32) *LocalityLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &GameLogger{
		minLevel:          cfg.LogLevel,
		callerSkip:        cfg.CallerSkip,
		levelChange:       newLevelChange(cfg.LevelChange),
		enabledCallerInfo: cfg.EnabledCallerInfo,
	}

	localityLogger := &LocalityLogger{
		GameLogger:  logger,
		localityID:  localityID,
		inWhiteList: cfg.IsInWhiteList(uint64(localityID)),
	}

	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}
	if cfg.FileAppender {
		logger.AddAppender(NewFileAppender(cfg, logger))
	}

	if cfg.ActorFileLog {
		perLocalityCfg := *cfg
		ext := filepath.Ext(perLocalityCfg.LogPath)
		base := strings.TrimSuffix(perLocalityCfg.LogPath, ext)
		perLocalityCfg.LogPath = fmt.Sprintf("%s_locality%d%s", base, localityID, ext)

		localityLogger.AddAppender(NewFileAppender(&perLocalityCfg, localityLogger))
	}

	return localityLogger
}

// log creates a new log event tagged with this locality's id. A
// whitelisted locality skips the level filter entirely.
func (x *LocalityLogger) log(level Level) *LogEvent {
	if !x.inWhiteList {
		logEvent := x.GameLogger.log(level)
		if logEvent == nil {
			return nil
		}
		return logEvent.Uint64("locality", uint64(x.localityID))
	}

	e := x.newEvent()
	t := time.Now()
	e.Time("time", &t)
	e.Str("level", level.String())
	if x.enabledCallerInfo {
		e.Str("caller", x.getCallerInfo().String())
	}
	return e.Uint64("locality", uint64(x.localityID))
}

// IgnoreCheckLevel reports whether this locality bypasses the global
// level filter (it is in the verbose whitelist).
func (x *LocalityLogger) IgnoreCheckLevel() bool {
	return x.inWhiteList
}

// Debug starts a debug-level event.
func (x *LocalityLogger) Debug() *LogEvent {
	return x.log(DebugLevel)
}

// Info starts an info-level event.
func (x *LocalityLogger) Info() *LogEvent {
	return x.log(InfoLevel)
}

// Warn starts a warn-level event.
func (x *LocalityLogger) Warn() *LogEvent {
	return x.log(WarnLevel)
}

// Error starts an error-level event.
func (x *LocalityLogger) Error() *LogEvent {
	return x.log(ErrorLevel)
}

// Fatal starts a fatal-level event. After logging, the process panics.
func (x *LocalityLogger) Fatal() *LogEvent {
	return x.log(FatalLevel)
}
