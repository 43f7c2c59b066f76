package components

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/lcx/hpxrt/hook"
)

type fakeComponent struct{ factory string }

func (c *fakeComponent) FactoryName() string { return c.factory }

type fakeFactory struct {
	typ        Type
	name       string
	setupCalls int
	hookCalls  int
	flagCalls  int
	failSetup  bool
}

func (f *fakeFactory) Type() Type { return f.typ }
func (f *fakeFactory) Name() string { return f.name }

func (f *fakeFactory) Setup(v map[string]any) (Component, error) {
	f.setupCalls++
	if f.failSetup {
		return nil, errSetupFailed
	}
	return &fakeComponent{factory: f.name}, nil
}

func (f *fakeFactory) Destroy(Component, any) error          { return nil }
func (f *fakeFactory) Reload(Component, map[string]any) error { return nil }
func (f *fakeFactory) CanDelete(Component) bool               { return true }

func (f *fakeFactory) ContributeHooks(inst Component, hooks *hook.Registry) {
	f.hookCalls++
	hooks.AddStartup(func() error { return nil })
}

func (f *fakeFactory) ContributeFlags(flags *pflag.FlagSet) {
	f.flagCalls++
}

var errSetupFailed = fakeErr("setup failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestLoadComponents_InstantiatesEachConfiguredInstanceOnce(t *testing.T) {
	f := &fakeFactory{typ: "db", name: "mysql"}
	RegisterFactory(f)

	hooks := hook.NewRegistry()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	reg := NewRegistry(hooks, flags, "")

	cfg := Config{
		"db": {
			"mysql": {"host": "localhost"},
		},
	}

	if err := reg.LoadComponents(cfg); err != nil {
		t.Fatalf("LoadComponents: %v", err)
	}
	if f.setupCalls != 1 {
		t.Fatalf("setupCalls = %d, want 1", f.setupCalls)
	}
	if f.hookCalls != 1 {
		t.Fatalf("hookCalls = %d, want 1", f.hookCalls)
	}
	if f.flagCalls != 1 {
		t.Fatalf("flagCalls = %d, want 1", f.flagCalls)
	}

	// Reloading the same config must not re-setup or re-contribute hooks.
	if err := reg.LoadComponents(cfg); err != nil {
		t.Fatalf("second LoadComponents: %v", err)
	}
	if f.setupCalls != 1 || f.hookCalls != 1 {
		t.Fatalf("re-running load_components re-triggered setup/hooks: setup=%d hooks=%d", f.setupCalls, f.hookCalls)
	}

	if _, ok := reg.GetDefault("db", "mysql"); !ok {
		t.Fatal("expected default mysql instance to be registered")
	}
}

func TestLoadComponents_DuplicateDefaultInstanceIsFatal(t *testing.T) {
	f := &fakeFactory{typ: "db", name: "redis"}
	RegisterFactory(f)

	reg := NewRegistry(hook.NewRegistry(), pflag.NewFlagSet("test", pflag.ContinueOnError), "")

	cfg := Config{
		"db": {
			"redis_1": {"host": "a"},
			"redis_2": {"host": "b"},
		},
	}

	err := reg.LoadComponents(cfg)
	if err == nil {
		t.Fatal("expected an error for two default-named instances of the same factory")
	}
	loadErr, ok := err.(*LoadError)
	if !ok {
		t.Fatalf("error is %T, want *LoadError", err)
	}
	if loadErr.Code != -2 {
		t.Fatalf("Code = %d, want -2", loadErr.Code)
	}
}

func TestLoadComponents_UnknownFactoryIsSkippedNotFatal(t *testing.T) {
	reg := NewRegistry(hook.NewRegistry(), pflag.NewFlagSet("test", pflag.ContinueOnError), "")

	cfg := Config{"db": {"nonexistent": {}}}
	if err := reg.LoadComponents(cfg); err != nil {
		t.Fatalf("an unregistered factory must be logged and skipped, not returned as an error: %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", reg.Count())
	}
}

func TestLoadComponents_SetupFailureIsSkippedAndRestOfBatchStillLoads(t *testing.T) {
	bad := &fakeFactory{typ: "db", name: "broken", failSetup: true}
	good := &fakeFactory{typ: "db", name: "mongo"}
	RegisterFactory(bad)
	RegisterFactory(good)

	reg := NewRegistry(hook.NewRegistry(), pflag.NewFlagSet("test", pflag.ContinueOnError), "")

	cfg := Config{
		"db": {
			"broken": {},
			"mongo":  {},
		},
	}

	if err := reg.LoadComponents(cfg); err != nil {
		t.Fatalf("LoadComponents: %v", err)
	}
	if bad.setupCalls != 1 {
		t.Fatalf("broken factory setupCalls = %d, want 1", bad.setupCalls)
	}
	if _, ok := reg.GetDefault("db", "broken"); ok {
		t.Fatal("a factory whose Setup failed must not be registered")
	}
	if _, ok := reg.GetDefault("db", "mongo"); !ok {
		t.Fatal("a sibling factory must still load after an earlier one's Setup failed")
	}
}

func TestLoadComponents_DuplicateTaggedInstanceInOneBatchIsFatal(t *testing.T) {
	f := &fakeFactory{typ: "cache", name: "memcache"}
	RegisterFactory(f)

	reg := NewRegistry(hook.NewRegistry(), pflag.NewFlagSet("test", pflag.ContinueOnError), "")

	cfg := Config{
		"cache": {
			"memcache_1": {"tag": "primary"},
			"memcache_2": {"tag": "primary"},
		},
	}

	err := reg.LoadComponents(cfg)
	if err == nil {
		t.Fatal("expected an error for two tagged instances of the same factory sharing a name")
	}
	loadErr, ok := err.(*LoadError)
	if !ok {
		t.Fatalf("error is %T, want *LoadError", err)
	}
	if loadErr.Code != -2 {
		t.Fatalf("Code = %d, want -2", loadErr.Code)
	}
}

func TestLoadComponents_DistinctTaggedInstancesBothLoad(t *testing.T) {
	f := &fakeFactory{typ: "cache", name: "redis"}
	RegisterFactory(f)

	reg := NewRegistry(hook.NewRegistry(), pflag.NewFlagSet("test", pflag.ContinueOnError), "")

	cfg := Config{
		"cache": {
			"redis_1": {"tag": "primary"},
			"redis_2": {"tag": "replica"},
		},
	}

	if err := reg.LoadComponents(cfg); err != nil {
		t.Fatalf("LoadComponents: %v", err)
	}
	if reg.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", reg.Count())
	}
	if _, ok := reg.Get("cache", "redis", "primary"); !ok {
		t.Fatal("expected primary instance")
	}
	if _, ok := reg.Get("cache", "redis", "replica"); !ok {
		t.Fatal("expected replica instance")
	}
}
