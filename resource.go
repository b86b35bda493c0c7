package eva

import (
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/casualjim/eva/pkg/slogx"
)

// Resource is callback state owned by a subscription together with the
// function that releases it.
//
// A resource handed to Subscribe belongs to the topic from then on. The state
// it wraps is released exactly once: when a later Subscribe on the same key
// supplies different state, or when the topic is destroyed by Unsubscribe or
// by closing the agency. Subscribing again with the same *Resource, or with a
// new resource wrapping the same state, keeps the state alive; ownership moves
// to the new resource.
//
// State identity is pointer identity for pointers, maps and channels, and
// equality for other comparable values. Slices and funcs never match.
type Resource struct {
	value   any
	release func(any)

	mu       sync.Mutex
	holds    int
	dropped  bool
	disowned bool
	heir     *Resource
	freed    bool
	released atomic.Bool
}

// Own wraps value with its release function. A nil value yields a nil
// resource. A non-nil value without a release function is a programming error
// and panics.
func Own(value any, release func(any)) *Resource {
	if value == nil {
		return nil
	}
	if release == nil {
		panic("eva: Own requires a release function for non-nil state")
	}
	return &Resource{value: value, release: release}
}

// OwnCloser wraps an io.Closer; releasing the resource closes it.
func OwnCloser(c io.Closer) *Resource {
	if c == nil {
		return nil
	}
	return Own(c, func(v any) {
		if err := v.(io.Closer).Close(); err != nil {
			slog.Error("failed to close subscription state", slogx.Error(err))
		}
	})
}

// Value returns the wrapped state. It is nil for a nil resource.
func (r *Resource) Value() any {
	if r == nil {
		return nil
	}
	return r.value
}

// Release runs the release function if it has not run yet. While a notifier
// is using the state the release is deferred until it returns.
func (r *Resource) Release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.dropped {
		r.mu.Unlock()
		return
	}
	r.dropped = true
	run := r.holds == 0 && !r.disowned
	r.freed = run
	r.mu.Unlock()

	if run {
		r.free()
	}
}

// Released reports whether the release function has run.
func (r *Resource) Released() bool {
	return r != nil && r.released.Load()
}

func (r *Resource) free() {
	r.released.Store(true)
	r.release(r.value)
}

// hold keeps the state alive until the matching unhold.
func (r *Resource) hold() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.holds++
	r.mu.Unlock()
}

func (r *Resource) unhold() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.holds--
	if r.disowned {
		heir := r.heir
		r.mu.Unlock()
		heir.unhold()
		return
	}
	run := r.holds == 0 && r.dropped && !r.freed
	if run {
		r.freed = true
	}
	r.mu.Unlock()

	if run {
		r.free()
	}
}

// disown hands the state over to heir without releasing it. Holds taken on r
// are carried over and drop off heir as they end.
func (r *Resource) disown(heir *Resource) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disowned, r.dropped, r.heir = true, true, heir
	for range r.holds {
		heir.hold()
	}
}

// sameState reports whether a and b wrap the same state.
func sameState(a, b *Resource) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return true
	}
	va, vb := reflect.ValueOf(a.value), reflect.ValueOf(b.value)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice, reflect.Func:
		return false
	}
	return va.Comparable() && vb.Comparable() && va.Equal(vb)
}
