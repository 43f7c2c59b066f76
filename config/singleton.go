package config

import "sync"

var (
	_instanceMu sync.Mutex
	_instance   ConfigManager
)

// GetInstance returns the process-wide ConfigManager, creating it on
// first use. Every package in this repository that needs configuration
// (the logger, the server's get_config source, cmd/localityd) goes through this singleton
// rather than threading a ConfigManager through every constructor.
func GetInstance() ConfigManager {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()
	if _instance == nil {
		_instance = NewConfigManager()
	}
	return _instance
}

// ResetInstance discards the singleton so the next GetInstance call
// builds a fresh one. Used between tests.
func ResetInstance() {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()
	_instance = nil
}

// SetInstanceForTesting installs a caller-provided ConfigManager (e.g. a
// mock) as the singleton.
func SetInstanceForTesting(cm ConfigManager) {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()
	_instance = cm
}
