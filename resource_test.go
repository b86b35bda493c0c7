package eva

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tracked is callback state that counts how often it was released.
type tracked struct {
	name     string
	releases atomic.Int32
}

func track(name string) (*tracked, *Resource) {
	st := &tracked{name: name}
	return st, Own(st, func(v any) { v.(*tracked).releases.Add(1) })
}

type closer struct {
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestResource(t *testing.T) {
	t.Run("nil value yields nil resource", func(t *testing.T) {
		assert.Nil(t, Own(nil, nil))
		assert.Nil(t, OwnCloser(nil))

		var r *Resource
		assert.Nil(t, r.Value())
		assert.False(t, r.Released())
		assert.NotPanics(t, r.Release)
	})

	t.Run("state without release function panics", func(t *testing.T) {
		assert.Panics(t, func() { Own("state", nil) })
	})

	t.Run("releases exactly once", func(t *testing.T) {
		st, r := track("once")
		assert.Same(t, st, r.Value())

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Release()
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, st.releases.Load())
		assert.True(t, r.Released())
	})

	t.Run("release waits for holders", func(t *testing.T) {
		st, r := track("held")
		r.hold()
		r.hold()
		r.Release()
		assert.EqualValues(t, 0, st.releases.Load())
		r.unhold()
		assert.False(t, r.Released())
		r.unhold()
		assert.EqualValues(t, 1, st.releases.Load())
		assert.True(t, r.Released())
	})

	t.Run("disowned state moves to its heir", func(t *testing.T) {
		st, old := track("moved")
		heir := Own(st, func(v any) { v.(*tracked).releases.Add(1) })

		old.hold()
		old.disown(heir)
		old.Release()
		heir.Release()
		assert.EqualValues(t, 0, st.releases.Load(), "the hold carries over to the heir")

		old.unhold()
		assert.EqualValues(t, 1, st.releases.Load())
		assert.False(t, old.Released())
		assert.True(t, heir.Released())
	})

	t.Run("closer", func(t *testing.T) {
		c := &closer{err: errors.New("close failed")}
		r := OwnCloser(c)
		require.NotNil(t, r)
		r.Release()
		r.Release()
		assert.Equal(t, 1, c.closed)
	})
}

func TestSameState(t *testing.T) {
	p := &tracked{}
	m := map[string]int{}
	free := func(any) {}

	tests := []struct {
		name string
		a, b *Resource
		want bool
	}{
		{"nil", nil, Own(p, free), false},
		{"same pointer", Own(p, free), Own(p, free), true},
		{"other pointer", Own(p, free), Own(&tracked{}, free), false},
		{"same map", Own(m, free), Own(m, free), true},
		{"equal strings", Own("a", free), Own("a", free), true},
		{"different types", Own(1, free), Own(int64(1), free), false},
		{"slices never match", Own([]int{1}, free), Own([]int{1}, free), false},
		{"struct with slice", Own(struct{ s []int }{}, free), Own(struct{ s []int }{}, free), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sameState(tt.a, tt.b))
		})
	}
}
