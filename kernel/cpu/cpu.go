// Package cpu models the processor state that the memory subsystem depends
// on. The machine is emulated in-process so the interrupt-enable flag is a
// software flag instead of RFLAGS.IF.
package cpu

import "sync/atomic"

var (
	// interruptsEnabled mirrors the interrupt-enable flag of the boot CPU.
	interruptsEnabled atomic.Bool

	// maskedSections counts StartNoInts calls; used by tests to verify
	// that code paths run with interrupts masked.
	maskedSections atomic.Uint64
)

func init() {
	interruptsEnabled.Store(true)
}

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {
	interruptsEnabled.Store(true)
}

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() {
	interruptsEnabled.Store(false)
}

// InterruptsEnabled returns true if interrupts are currently enabled.
func InterruptsEnabled() bool {
	return interruptsEnabled.Load()
}

// StartNoInts disables interrupts and reports whether they were enabled
// before the call. The returned value must be handed to the matching
// EndNoInts call so nested sections restore the correct state.
func StartNoInts() bool {
	maskedSections.Add(1)
	return interruptsEnabled.Swap(false)
}

// EndNoInts re-enables interrupts if they were enabled when the matching
// StartNoInts call was made.
func EndNoInts(wasEnabled bool) {
	if wasEnabled {
		interruptsEnabled.Store(true)
	}
}

// MaskedSections returns the number of StartNoInts calls made so far.
func MaskedSections() uint64 {
	return maskedSections.Load()
}
