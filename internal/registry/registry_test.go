package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("add and get", func(t *testing.T) {
		r := New[int]()
		r.Add("one", 1)

		v, ok := r.Get("one")
		require.True(t, ok)
		assert.Equal(t, 1, v)

		_, ok = r.Get("two")
		assert.False(t, ok)
	})

	t.Run("get or add computes once", func(t *testing.T) {
		r := New[*int]()
		calls := 0
		mk := func() *int {
			calls++
			v := 42
			return &v
		}

		first, loaded := r.GetOrAdd("answer", mk)
		assert.False(t, loaded)
		second, loaded := r.GetOrAdd("answer", mk)
		assert.True(t, loaded)
		assert.Same(t, first, second)
		assert.Equal(t, 1, calls)
	})

	t.Run("delete", func(t *testing.T) {
		r := New[string]()
		r.Add("k", "v")
		r.Del("k")
		_, ok := r.Get("k")
		assert.False(t, ok)
	})

	t.Run("names are sorted", func(t *testing.T) {
		r := New[bool]()
		for _, n := range []string{"nats", "kafka", "mem"} {
			r.Add(n, true)
		}
		assert.Equal(t, []string{"kafka", "mem", "nats"}, r.Names())
	})
}
