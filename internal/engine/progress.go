package engine

import (
	"sync/atomic"

	"github.com/tonimelisma/fsync/internal/storage"
)

// SharedProgress is the reference-counted cell an operation's Progress
// passes through (spec.md §4.6): the engine creates one per call and wires
// it into storage calls as a Sink, so RPC clients polling the same path can
// observe the same in-flight state the call itself is updating.
type SharedProgress struct {
	ptr atomic.Pointer[storage.Progress]
}

func newSharedProgress() *SharedProgress {
	sp := &SharedProgress{}
	sp.Set(storage.Progress{State: storage.ProgressInit})

	return sp
}

// Set stores a new Progress value, visible to any concurrent Get.
func (sp *SharedProgress) Set(p storage.Progress) {
	sp.ptr.Store(&p)
}

// Get returns the current Progress value.
func (sp *SharedProgress) Get() storage.Progress {
	if v := sp.ptr.Load(); v != nil {
		return *v
	}

	return storage.Progress{}
}

// Sink adapts the SharedProgress to a storage.Sink for passing into
// ReadFile/CreateFile/WriteFile/... calls.
func (sp *SharedProgress) Sink() storage.Sink {
	return storage.SinkFunc(sp.Set)
}
