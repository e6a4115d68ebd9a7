package listener

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(calls *[]string, name string) Callback {
	return func(json.RawMessage) { *calls = append(*calls, name) }
}

func TestRegistry_OnInvokesInRegistrationOrder(t *testing.T) {
	r := New()
	var calls []string
	r.On("msg", record(&calls, "first"))
	r.On("other", record(&calls, "other"))
	r.On("msg", record(&calls, "second"))

	n := r.Dispatch("msg", nil)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_DispatchPassesData(t *testing.T) {
	r := New()
	var got json.RawMessage
	r.On("msg", func(data json.RawMessage) { got = data })

	r.Dispatch("msg", json.RawMessage(`{"a":1}`))
	assert.JSONEq(t, `{"a":1}`, string(got))
}

func TestRegistry_DispatchWithoutListeners(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Dispatch("nothing", nil))
}

func TestRegistry_OnceFiresExactlyOnce(t *testing.T) {
	r := New()
	count := 0
	r.Once("tick", func(json.RawMessage) { count++ })

	for i := 0; i < 5; i++ {
		r.Dispatch("tick", nil)
	}

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_OncePreservesOtherEntries(t *testing.T) {
	r := New()
	var calls []string
	r.On("tick", record(&calls, "persistent-before"))
	r.Once("tick", record(&calls, "once"))
	r.On("tick", record(&calls, "persistent-after"))
	r.On("tock", record(&calls, "tock"))

	r.Dispatch("tick", nil)
	r.Dispatch("tick", nil)
	r.Dispatch("tock", nil)

	assert.Equal(t, []string{
		"persistent-before", "once", "persistent-after",
		"persistent-before", "persistent-after",
		"tock",
	}, calls)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_OnceRemovesOnlyItsOwnEntry(t *testing.T) {
	r := New()
	var calls []string
	shared := record(&calls, "shared")
	r.On("tick", shared)
	r.Once("tick", shared)

	r.Dispatch("tick", nil)
	r.Dispatch("tick", nil)

	assert.Equal(t, []string{"shared", "shared", "shared"}, calls)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_OffMatchesEventAndToken(t *testing.T) {
	r := New()
	var calls []string
	a := r.On("e1", record(&calls, "a"))
	r.On("e1", record(&calls, "b"))
	c := r.On("e2", record(&calls, "c"))

	assert.False(t, r.Off("e2", a), "token registered under another event must not match")
	assert.False(t, r.Off("e1", c), "event alone must not match")
	assert.True(t, r.Off("e1", a))
	assert.False(t, r.Off("e1", a), "second removal is a silent no-op")

	r.Dispatch("e1", nil)
	r.Dispatch("e2", nil)
	assert.Equal(t, []string{"b", "c"}, calls)
}

func TestRegistry_OffOnceBeforeFiring(t *testing.T) {
	r := New()
	count := 0
	tok := r.Once("tick", func(json.RawMessage) { count++ })

	require.True(t, r.Off("tick", tok))
	r.Dispatch("tick", nil)
	assert.Equal(t, 0, count)
}

func TestRegistry_MutationDuringDispatch(t *testing.T) {
	r := New()
	var calls []string
	var second Token

	r.On("e", func(json.RawMessage) {
		calls = append(calls, "first")
		// Listeners added mid-pass wait for the next dispatch.
		r.On("e", record(&calls, "late"))
		// Removing a later entry does not skip it in the current pass.
		r.Off("e", second)
	})
	second = r.On("e", record(&calls, "second"))
	r.Once("e", record(&calls, "once"))
	r.On("e", record(&calls, "last"))

	assert.Equal(t, 4, r.Dispatch("e", nil))
	assert.Equal(t, []string{"first", "second", "once", "last"}, calls)

	calls = nil
	r.Dispatch("e", nil)
	assert.Equal(t, []string{"first", "last", "late"}, calls)
}

func TestRegistry_OnceReentrantDispatch(t *testing.T) {
	r := New()
	count := 0
	r.Once("e", func(json.RawMessage) {
		count++
		r.Dispatch("e", nil)
	})

	r.Dispatch("e", nil)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_OnceRemovedWhenCallbackPanics(t *testing.T) {
	r := New()
	r.Once("e", func(json.RawMessage) { panic("boom") })

	assert.Panics(t, func() { r.Dispatch("e", nil) })
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Clear(t *testing.T) {
	r := New()
	r.On("a", func(json.RawMessage) {})
	r.Once("b", func(json.RawMessage) {})

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Dispatch("a", nil))
}
