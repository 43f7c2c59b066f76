// Package components implements the plugin/module registry: factories
// register themselves statically at init time or are loaded dynamically
// from a shared object, load_components instantiates every configured
// instance exactly once, and each instance contributes its startup and
// shutdown behavior into the hook registry.
package components

import (
	"fmt"
	"plugin"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"github.com/lcx/hpxrt/hook"
	"github.com/lcx/hpxrt/log"
	"github.com/lcx/hpxrt/rterrors"
)

// Type names a category of component (e.g. "transport", "storage").
type Type string

// DefaultInstanceName is used for a configured instance that carries no
// explicit "tag" field.
const DefaultInstanceName = "default"

// Component is the instance interface every factory-created value must
// satisfy.
type Component interface {
	FactoryName() string
}

// Factory is a self-registering constructor for one kind of component.
// Beyond the basic Setup/Destroy/Reload/CanDelete lifecycle, a factory
// contributes the instance's hooks and, once, its own command-line
// flags — this is what makes component loading do more than just
// construct a value.
type Factory interface {
	Type() Type
	Name() string

	Setup(v map[string]any) (Component, error)
	Destroy(Component, any) error
	Reload(Component, map[string]any) error
	CanDelete(Component) bool

	// ContributeHooks registers inst's startup/shutdown callables, if
	// any, into hooks. Called exactly once per instance, the first time
	// load_components brings it up.
	ContributeHooks(inst Component, hooks *hook.Registry)

	// ContributeFlags adds this factory's own command-line options to
	// flags. Called at most once per factory regardless of how many
	// instances of it are configured.
	ContributeFlags(flags *pflag.FlagSet)
}

var (
	factoryLock sync.RWMutex
	factoryMap  = make(map[string]Factory)
)

func factoryKey(t Type, name string) string {
	return string(t) + "_" + name
}

// RegisterFactory adds f to the static factory table. Called from an
// init function by every statically linked component package.
func RegisterFactory(f Factory) {
	factoryLock.Lock()
	defer factoryLock.Unlock()
	factoryMap[factoryKey(f.Type(), f.Name())] = f
}

func lookupStaticFactory(t Type, name string) Factory {
	factoryLock.RLock()
	defer factoryLock.RUnlock()
	return factoryMap[factoryKey(t, name)]
}

// loadDynamicFactory opens a shared object at path and expects it to
// export a symbol "NewFactory" of type func() components.Factory,
// mirroring the dynamic half of load_components: a factory the binary
// was not linked against at build time.
func loadDynamicFactory(path string) (Factory, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("components: open %s: %w", path, err)
	}
	sym, err := p.Lookup("NewFactory")
	if err != nil {
		return nil, fmt.Errorf("components: %s has no NewFactory symbol: %w", path, err)
	}
	ctor, ok := sym.(func() Factory)
	if !ok {
		return nil, fmt.Errorf("components: %s: NewFactory has the wrong signature: %w", path, rterrors.BadPluginType)
	}
	return ctor(), nil
}

// Config is the components.<instance> configuration section:
// map[component_type][factory_key] = instance config, where factory_key
// is "<factory_name>" or "<factory_name>_<disambiguator>" when a type
// configures the same factory more than once.
type Config map[string]map[string]map[string]any

func (c *Config) GetName() string { return "components" }

func (c *Config) Validate() error {
	for t, factories := range *c {
		if len(factories) == 0 {
			return fmt.Errorf("components: type %q has no factory configured", t)
		}
	}
	return nil
}

// LoadError wraps an error from LoadComponents with the numeric status
// the action surface reports back to the caller of load_components.
// -2 names the one fatal, non-recoverable condition: two configured
// instances of the same type/factory sharing a name.
type LoadError struct {
	Code int
	Err  error
}

func (e *LoadError) Error() string { return e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

func fatalDuplicate(err error) *LoadError { return &LoadError{Code: -2, Err: err} }

// instanceKey identifies one component instance across type, factory
// and instance name, used both as the module-table key and as the
// startup_handled dedup key.
type instanceKey struct {
	typ      Type
	factory  string
	instance string
}

// Registry is the module table: every component instance load_components
// has ever brought up, plus the startup_handled set that keeps a
// reloaded configuration from re-registering the same instance's hooks
// twice. The table never forgets an instance; it only grows.
type Registry struct {
	mu sync.Mutex

	instances      map[instanceKey]Component
	startupHandled map[instanceKey]bool
	flagged        map[string]bool // factories whose ContributeFlags has run

	hooks      *hook.Registry
	flags      *pflag.FlagSet
	dynamicDir string
}

// NewRegistry builds an empty module table. dynamicDir, if non-empty, is
// where LoadComponents looks for a "<type>_<factory>.so" shared object
// when a factory isn't found in the static table.
func NewRegistry(hooks *hook.Registry, flags *pflag.FlagSet, dynamicDir string) *Registry {
	return &Registry{
		instances:      make(map[instanceKey]Component),
		startupHandled: make(map[instanceKey]bool),
		flagged:        make(map[string]bool),
		hooks:          hooks,
		flags:          flags,
		dynamicDir:     dynamicDir,
	}
}

// LoadComponents implements the load_components action: instantiate
// every instance named in cfg that this registry has not already
// brought up, contributing each new instance's flags and hooks exactly
// once. Already-loaded instances are left untouched — the module table
// never reloads a running component. A failure setting up one instance
// — an unknown factory or a Setup error — is logged and skipped so the
// rest of the batch still loads; load_components itself still returns
// success. The one fatal condition is two instances of the same
// type/factory sharing an instance name, which aborts the whole call
// with a -2 LoadError.
func (r *Registry) LoadComponents(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for t, byFactory := range cfg {
		seenInstance := make(map[string]map[string]bool)

		for factoryKeyStr, instCfg := range byFactory {
			factoryName := parseFactoryName(factoryKeyStr)
			f, err := r.resolveFactory(Type(t), factoryName)
			if err != nil {
				log.Warn().Str("type", t).Str("factory", factoryName).Err(err).Msg("component factory unavailable, skipping")
				continue
			}

			if !r.flagged[factoryKey(Type(t), factoryName)] {
				f.ContributeFlags(r.flags)
				r.flagged[factoryKey(Type(t), factoryName)] = true
			}

			instanceName := instanceNameFromConfig(instCfg)
			key := instanceKey{typ: Type(t), factory: factoryName, instance: instanceName}

			if seenInstance[factoryName] == nil {
				seenInstance[factoryName] = make(map[string]bool)
			}
			if seenInstance[factoryName][instanceName] {
				return fatalDuplicate(fmt.Errorf("components: type %q factory %q: duplicate instance %q: %w", t, factoryName, instanceName, rterrors.DuplicateInstance))
			}
			seenInstance[factoryName][instanceName] = true

			if _, exists := r.instances[key]; exists {
				continue // already loaded; module table never reloads.
			}

			log.Info().Str("type", t).Str("factory", factoryName).Str("instance", instanceName).Msg("component setup begin")
			inst, err := f.Setup(instCfg)
			if err != nil {
				log.Warn().Str("type", t).Str("factory", factoryName).Str("instance", instanceName).Err(err).Msg("component setup failed, skipping")
				continue
			}

			r.instances[key] = inst

			if !r.startupHandled[key] {
				f.ContributeHooks(inst, r.hooks)
				r.startupHandled[key] = true
			}

			log.Info().Str("type", t).Str("factory", factoryName).Str("instance", instanceName).Msg("component setup success")
		}
	}

	return nil
}

func (r *Registry) resolveFactory(t Type, name string) (Factory, error) {
	if f := lookupStaticFactory(t, name); f != nil {
		return f, nil
	}
	if r.dynamicDir == "" {
		return nil, fmt.Errorf("components: factory %s/%s not registered and no dynamic directory configured", t, name)
	}
	path := r.dynamicDir + "/" + string(t) + "_" + name + ".so"
	f, err := loadDynamicFactory(path)
	if err != nil {
		return nil, err
	}
	RegisterFactory(f)
	return f, nil
}

// Get looks up a previously loaded component instance.
func (r *Registry) Get(t Type, factoryName, instanceName string) (Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.instances[instanceKey{typ: t, factory: factoryName, instance: instanceName}]
	return c, ok
}

// GetDefault looks up the default-named instance of a factory.
func (r *Registry) GetDefault(t Type, factoryName string) (Component, bool) {
	return r.Get(t, factoryName, DefaultInstanceName)
}

// Count returns how many component instances the table currently holds.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func parseFactoryName(key string) string {
	if idx := strings.IndexByte(key, '_'); idx >= 0 {
		if _, err := strconv.Atoi(key[idx+1:]); err == nil {
			return key[:idx]
		}
	}
	return key
}

func instanceNameFromConfig(c map[string]any) string {
	v, ok := c["tag"]
	if !ok {
		return DefaultInstanceName
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return DefaultInstanceName
	}
	return s
}
