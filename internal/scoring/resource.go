package scoring

import "runtime"

// ResourceSampler reports the current heap usage.
type ResourceSampler interface {
	HeapBytes() uint64
}

// RuntimeSampler reads heap usage from the Go runtime.
type RuntimeSampler struct{}

// HeapBytes returns the bytes of allocated heap objects.
func (RuntimeSampler) HeapBytes() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// StaticSampler always reports the same heap size. Useful in tests and for
// deterministic scoring.
type StaticSampler uint64

// HeapBytes returns the fixed value.
func (s StaticSampler) HeapBytes() uint64 {
	return uint64(s)
}
