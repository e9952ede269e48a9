package fibre

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Go gives no supported way to ask "which goroutine am I"; the runtime's
// own identity is deliberately not a public API. fibre.Self() still needs
// exactly that, the same way pthread_self() needs the calling thread's
// identity, so the calling goroutine's id is recovered from the debug
// line runtime.Stack prints ("goroutine 123 [running]:...") and used as
// the key into a small registry populated by each fibre's trampoline.
// This is a documented tradeoff, not a go:linkname into unexported
// runtime internals: it depends only on runtime.Stack's public contract
// that its output starts with "goroutine <id> ...".
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if idx := bytes.IndexByte(b, ' '); idx >= 0 {
		b = b[:idx]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

var selfRegistry sync.Map // goroutine id (uint64) -> *Fibre

func registerSelf(f *Fibre)   { selfRegistry.Store(currentGoroutineID(), f) }
func unregisterSelf()         { selfRegistry.Delete(currentGoroutineID()) }

// Self returns the Fibre running on the calling goroutine, or nil if the
// calling goroutine is not a fibre (e.g. the process's original
// goroutine before any EventScope is bootstrapped).
func Self() *Fibre {
	v, ok := selfRegistry.Load(currentGoroutineID())
	if !ok {
		return nil
	}
	return v.(*Fibre)
}
