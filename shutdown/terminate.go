package shutdown

import (
	"context"
	"os"

	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/log"
)

// exitFunc is the process-abort call terminate issues after its side
// effects complete. Overridden in tests so Terminate never actually
// kills the test binary.
var exitFunc = os.Exit

// Terminate implements the terminate action: flush logs, optionally
// reply synchronously to whoever asked this locality to terminate,
// then abort the process immediately. Unlike Stop, it performs no
// draining and never returns to its caller in a real process.
func Terminate(respondTo locality.GID, responder Responder) {
	log.Warn().Msg("terminate invoked, aborting process")
	log.Refresh()

	if !respondTo.IsInvalid() && responder != nil {
		if err := responder.RespondSync(context.Background(), respondTo); err != nil {
			log.Warn().Err(err).Msg("terminate: synchronous reply failed")
		}
	}

	exitFunc(1)
}
