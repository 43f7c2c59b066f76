package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager loads, validates, hot-reloads and fans configuration
// sections out to interested listeners. A single process-wide instance is
// reached through GetInstance; tests may substitute their own with
// SetInstanceForTesting.
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	RegisterValidator(configName string, validator ValidatorFunc)
	RegisterHook(configName string, hook HookFunc)
	AddChangeListener(listener ConfigChangeListener)
	RemoveChangeListener(listener ConfigChangeListener)
	NotifyConfigChanged(configName string, newConfig, oldConfig Config)
	SetBasePath(path string)
	SetEnvironment(env string)
	Close() error
}

// ValidatorFunc validates a freshly decoded configuration section before
// it replaces the previous value.
type ValidatorFunc func(Config) error

// HookFunc runs whenever a configuration section is hot-reloaded,
// receiving both the superseded and the new value.
type HookFunc func(oldVal, newVal Config) error

// ConfigChangeListener is the broadcast counterpart of HookFunc: any
// subsystem that cares about every reload (not just one named section)
// registers itself once and filters on configName itself. The log
// package's GameLogger uses this to hot-reload its own settings without
// the config manager knowing about it by name.
type ConfigChangeListener interface {
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
}

type configManager struct {
	mu         sync.RWMutex
	configs    map[string]Config
	watchers   map[string]*fsnotify.Watcher
	validators map[string]ValidatorFunc
	hooks      map[string][]HookFunc
	listeners  []ConfigChangeListener
	basePath   string
	env        string
}

// NewConfigManager creates a standalone configuration manager. Most code
// should use the process-wide singleton via GetInstance instead.
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:    make(map[string]Config),
		watchers:   make(map[string]*fsnotify.Watcher),
		validators: make(map[string]ValidatorFunc),
		hooks:      make(map[string][]HookFunc),
		basePath:   "./configs",
		env:        "development",
	}
}

// LoadConfig reads configName.yaml from the configured search path,
// decodes it into config, validates it, stores it, and arms a file
// watcher so future edits trigger reloadConfig.
func (cm *configManager) LoadConfig(configName string, config Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.AddConfigPath(fmt.Sprintf("%s/%s", cm.basePath, cm.env))

	v.AutomaticEnv()
	v.SetEnvPrefix(strings.ToUpper(configName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", configName, err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", configName, err)
	}
	if validator, ok := cm.validators[configName]; ok {
		if err := validator(config); err != nil {
			return fmt.Errorf("config: validate %s: %w", configName, err)
		}
	} else if err := config.Validate(); err != nil {
		return fmt.Errorf("config: validate %s: %w", configName, err)
	}

	cm.configs[configName] = config

	if err := cm.watchConfigFile(configName, v); err != nil {
		return fmt.Errorf("config: watch %s: %w", configName, err)
	}
	return nil
}

// GetConfig returns the most recently loaded value for configName.
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	cfg, ok := cm.configs[configName]
	if !ok {
		return nil, fmt.Errorf("config: %s not found", configName)
	}
	return cfg, nil
}

// RegisterValidator installs a per-section validator, overriding the
// section's own Validate for both LoadConfig and hot reload.
func (cm *configManager) RegisterValidator(configName string, validator ValidatorFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[configName] = validator
}

// RegisterHook appends a per-section reload hook.
func (cm *configManager) RegisterHook(configName string, hook HookFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks[configName] = append(cm.hooks[configName], hook)
}

// AddChangeListener subscribes to every reload, regardless of section.
func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// RemoveChangeListener undoes a prior AddChangeListener.
func (cm *configManager) RemoveChangeListener(listener ConfigChangeListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for i, l := range cm.listeners {
		if l == listener {
			cm.listeners = append(cm.listeners[:i], cm.listeners[i+1:]...)
			return
		}
	}
}

// NotifyConfigChanged fans a reload out to every registered listener.
// Exported so components that load configuration outside of a watched
// file (e.g. the plugin registry re-reading its own section) can still
// participate in the same broadcast.
func (cm *configManager) NotifyConfigChanged(configName string, newConfig, oldConfig Config) {
	cm.mu.RLock()
	listeners := append([]ConfigChangeListener(nil), cm.listeners...)
	cm.mu.RUnlock()

	for _, l := range listeners {
		if err := l.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
			fmt.Printf("config: listener rejected %s change: %v\n", configName, err)
		}
	}
}

// SetBasePath changes the root directory searched for <name>.yaml.
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

// SetEnvironment changes the environment sub-directory consulted after
// basePath (e.g. "./configs/production").
func (cm *configManager) SetEnvironment(env string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.env = env
}

func (cm *configManager) watchConfigFile(configName string, v *viper.Viper) error {
	configFile := v.ConfigFileUsed()
	if configFile == "" {
		return nil
	}
	if _, exists := cm.watchers[configName]; exists {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cm.watchers[configName] = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					cm.reloadConfig(configName)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Add(configFile)
}

func (cm *configManager) reloadConfig(configName string) {
	cm.mu.Lock()

	oldConfig, exists := cm.configs[configName]
	if !exists {
		cm.mu.Unlock()
		return
	}

	newConfig := reflect.New(reflect.TypeOf(oldConfig).Elem()).Interface().(Config)

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.AddConfigPath(fmt.Sprintf("%s/%s", cm.basePath, cm.env))

	if err := v.ReadInConfig(); err != nil {
		cm.mu.Unlock()
		return
	}
	if err := v.Unmarshal(newConfig); err != nil {
		cm.mu.Unlock()
		return
	}

	validator, hasValidator := cm.validators[configName]
	if hasValidator {
		if err := validator(newConfig); err != nil {
			cm.mu.Unlock()
			return
		}
	} else if err := newConfig.Validate(); err != nil {
		cm.mu.Unlock()
		return
	}

	for _, hook := range cm.hooks[configName] {
		if err := hook(oldConfig, newConfig); err != nil {
			cm.mu.Unlock()
			return
		}
	}

	cm.configs[configName] = newConfig
	listeners := append([]ConfigChangeListener(nil), cm.listeners...)
	cm.mu.Unlock()

	for _, l := range listeners {
		_ = l.OnConfigChanged(configName, newConfig, oldConfig)
	}
}

// Close stops every active file watcher.
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, watcher := range cm.watchers {
		if err := watcher.Close(); err != nil {
			return err
		}
	}
	return nil
}

// ConfigManagerProvider lets a component hold a replaceable reference to
// a ConfigManager, useful for dependency injection in tests.
type ConfigManagerProvider struct {
	configManager ConfigManager
}

// NewConfigManagerProvider wraps an existing ConfigManager.
func NewConfigManagerProvider(cm ConfigManager) *ConfigManagerProvider {
	return &ConfigManagerProvider{configManager: cm}
}

// GetConfigManager returns the wrapped manager.
func (p *ConfigManagerProvider) GetConfigManager() ConfigManager {
	return p.configManager
}

// SetConfigManager replaces the wrapped manager.
func (p *ConfigManagerProvider) SetConfigManager(cm ConfigManager) {
	p.configManager = cm
}
