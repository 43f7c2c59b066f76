// Package rterrors defines the small set of sentinel error kinds the
// runtime-support server reports back across the action surface, in
// place of the teacher's raw error-string comparisons.
package rterrors

// Kind is a sentinel error value. It implements error directly so
// callers can wrap it with fmt.Errorf("%w: ...", kind) and still
// recover it with errors.Is.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// InvalidStatus is returned when an action that only makes sense on
	// the root locality (shutdown_all, terminate_all) is invoked
	// elsewhere, or when a component method is called outside the
	// lifecycle phase it requires.
	InvalidStatus Kind = "invalid_status"

	// BadPluginType is returned when a dynamically loaded plugin's
	// exported factory symbol does not satisfy the expected signature.
	BadPluginType Kind = "bad_plugin_type"

	// ServiceUnavailable is returned when an action cannot be served:
	// the dependency it needs is not configured on this locality, the
	// action is not invocable over the wire, or no peer transport exists.
	ServiceUnavailable Kind = "service_unavailable"

	// CommandlineOptionError names a conflict between a plugin's
	// contributed flag set and one already registered, or a failure
	// parsing the combined flag set. No code path in this repository
	// returns it.
	CommandlineOptionError Kind = "commandline_option_error"

	// BadAlloc mirrors the original's out-of-memory escape hatch; the Go
	// runtime never returns from allocation failure, but a component
	// that pre-checks a size budget reports this kind instead of
	// attempting an allocation it knows will be refused.
	BadAlloc Kind = "bad_alloc"

	// DuplicateInstance is returned when load_components finds two
	// configured component instances sharing a name.
	DuplicateInstance Kind = "duplicate_instance"
)
