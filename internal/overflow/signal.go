package overflow

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// fatalSignals must remain deliverable even while the index write is in
// progress (§4.3): blocking them would turn a real crash into a hang
// instead of a clean abort.
var fatalSignals = []int{int(unix.SIGABRT), int(unix.SIGSEGV), int(unix.SIGBUS), int(unix.SIGILL)}

// withSignalsBlocked runs fn with every non-fatal signal blocked on the
// calling OS thread, restoring the previous mask afterward. The index
// rewrite cannot be safely resumed after an interrupt, so the write that
// runs inside fn must not observe one.
func withSignalsBlocked(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var newMask, oldMask unix.Sigset_t
	if err := unix.SigFillSet(&newMask); err != nil {
		return fmt.Errorf("overflow: fill signal mask: %w", err)
	}

	for _, sig := range fatalSignals {
		clearSigsetBit(&newMask, sig)
	}

	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &newMask, &oldMask); err != nil {
		return fmt.Errorf("overflow: block signals: %w", err)
	}

	defer func() {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &oldMask, nil)
	}()

	return fn()
}

// clearSigsetBit clears sig's bit in set, in place.
func clearSigsetBit(set *unix.Sigset_t, sig int) {
	idx := (sig - 1) / 64
	bit := uint((sig - 1) % 64)
	set.Val[idx] &^= 1 << bit
}
