package log

// LogCfg configures the default logger for a locality runtime-support
// server: synchronous or asynchronous writing, file rotation, and
// per-locality verbose overrides.
type LogCfg struct {
	// LogPath specifies the target log file path for file-based logging.
	// Supports relative and absolute paths with automatic directory creation.
	LogPath string `mapstructure:"path"`

	// LogLevel defines the minimum log level for filtering log entries.
	// Supports hot-reload without service restart for dynamic log level adjustment.
	// Valid levels: Trace, Debug, Info, Warn, Error, Fatal.
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB determines the file rotation threshold in megabytes.
	// When log file exceeds this size, automatic rotation creates new files.
	// Supports hot-reload for runtime adjustment of rotation strategy.
	FileSplitMB int `mapstructure:"splitmb"`

	// FileSplitHour specifies the hour of day (0-23) for time-based file rotation.
	// Enables daily log rotation at specific times for operational convenience.
	FileSplitHour int `mapstructure:"splithour"`

	// IsAsync enables asynchronous log writing to prevent I/O blocking.
	// Recommended for localities under heavy parcel traffic to maintain low latency.
	IsAsync bool `mapstructure:"isasync"`

	// AsyncCacheSize limits the maximum buffered log entries in async mode.
	// Prevents memory overflow during traffic spikes or I/O slowdowns.
	// Default: 1024 entries when async mode is enabled.
	AsyncCacheSize int `mapstructure:"asynccachesize"`

	// AsyncWriteMillSec defines the async write interval in milliseconds.
	// Balances between write latency and batch efficiency for optimal performance.
	// Default: 200ms for reasonable trade-off between responsiveness and throughput.
	AsyncWriteMillSec int `mapstructure:"asyncwritemillsec"`

	// LevelChangeMin enables dynamic minimum log level adjustment.
	// Allows runtime log level changes for debugging or performance tuning.
	LevelChangeMin int `mapstructure:"levelchangemin"`

	// CallerSkip specifies the number of stack frames to skip for caller information.
	// Useful for wrapper functions or middleware layers in complex applications.
	CallerSkip int `mapstructure:"callerSkip"`

	// FileAppender enables file-based logging output.
	// Primary logging destination for persistent storage and analysis.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables console (stdout) logging output.
	// Convenient for development and containerized environments.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// LevelChange enables fine-grained log level control for specific code locations.
	// Allows runtime adjustment of logging verbosity without service restart.
	// Each entry maps a file path and line number to a specific log level.
	LevelChange []LevelChangeEntry `mapstructure:"levelChange"`

	// ActorWhiteList names the locality ids that bypass the global level
	// filter, regardless of LogLevel. Used to get full debug output from
	// one misbehaving locality during a cluster-wide shutdown without
	// turning on verbose logging everywhere.
	// Example: [0, 3, 7]
	ActorWhiteList []uint64 `mapstructure:"localityWhiteList"`

	// actorWhiteListSet is an internal cache for O(1) whitelist lookups.
	// Populated automatically from ActorWhiteList during configuration initialization.
	actorWhiteListSet map[uint64]struct{} `mapstructure:"-"`

	// ActorFileLog enables per-locality log files in addition to the
	// shared server log. When disabled, LocalityLogger writes only to
	// the shared log.
	ActorFileLog bool `mapstructure:"perLocalityFile"`

	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName implements config.Config so LogCfg can be loaded through the
// ConfigManager's "logger" section.
func (cfg *LogCfg) GetName() string { return "logger" }

// Validate implements config.Config.
func (cfg *LogCfg) Validate() error { return nil }

// IsInWhiteList reports whether localityID is in the verbose whitelist,
// with an O(1) lookup after the first call lazily builds the set.
func (cfg *LogCfg) IsInWhiteList(localityID uint64) bool {
	if len(cfg.actorWhiteListSet) == 0 && len(cfg.ActorWhiteList) != 0 {
		cfg.actorWhiteListSet = make(map[uint64]struct{}, len(cfg.ActorWhiteList))
		for _, id := range cfg.ActorWhiteList {
			cfg.actorWhiteListSet[id] = struct{}{}
		}
	}

	_, exists := cfg.actorWhiteListSet[localityID]
	return exists
}

var _defaultCfg = &LogCfg{
	LogPath:         "./runtime-support.log",
	LogLevel:        DebugLevel,
	FileSplitMB:     50,
	FileSplitHour:   0,
	IsAsync:         true,
	CallerSkip:      1,
	FileAppender:    true,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
