package mantle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantlekit/mantle/schema"
)

func TestEventRegistry_Register(t *testing.T) {
	r := NewEventRegistry()

	err := r.Register(EventDescriptor{
		Name: "myapp:cache_hit",
		Kind: KindSignal,
	})
	require.NoError(t, err)

	desc, ok := r.Lookup("myapp:cache_hit")
	require.True(t, ok)
	assert.Equal(t, KindSignal, desc.Kind)
	assert.Equal(t, 1, r.Len())
}

func TestEventRegistry_RejectsDuplicate(t *testing.T) {
	r := NewEventRegistry()

	require.NoError(t, r.Register(EventDescriptor{Name: "myapp:x", Kind: KindSignal}))

	// Same name, even with a different kind, must be rejected: one
	// identifier maps to one semantics tag forever.
	err := r.Register(EventDescriptor{Name: "myapp:x", Kind: KindInterceptable})
	assert.Error(t, err)

	desc, _ := r.Lookup("myapp:x")
	assert.Equal(t, KindSignal, desc.Kind)
}

func TestEventRegistry_RejectsInvalid(t *testing.T) {
	r := NewEventRegistry()

	assert.Error(t, r.Register(EventDescriptor{Name: "", Kind: KindSignal}))
	assert.Error(t, r.Register(EventDescriptor{Name: "myapp:x", Kind: "broadcast"}))
	assert.Error(t, r.Register(EventDescriptor{Name: "myapp:x"}))
}

func TestEventRegistry_Freeze(t *testing.T) {
	r := NewEventRegistry()
	require.NoError(t, r.Register(EventDescriptor{Name: "myapp:x", Kind: KindSignal}))

	r.Freeze()
	assert.True(t, r.Frozen())

	err := r.Register(EventDescriptor{Name: "myapp:y", Kind: KindSignal})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistryFrozen)

	// Lookups still work after freezing.
	_, ok := r.Lookup("myapp:x")
	assert.True(t, ok)

	// Idempotent.
	r.Freeze()
	assert.True(t, r.Frozen())
}

func TestEventRegistry_Names(t *testing.T) {
	r := NewEventRegistry()
	require.NoError(t, r.Register(EventDescriptor{Name: "b:event", Kind: KindSignal}))
	require.NoError(t, r.Register(EventDescriptor{Name: "a:event", Kind: KindSignal}))
	require.NoError(t, r.Register(EventDescriptor{Name: "c:event", Kind: KindInterceptable}))

	assert.Equal(t, []string{"a:event", "b:event", "c:event"}, r.Names())
}

func TestRegisterBuiltinEvents(t *testing.T) {
	r := NewEventRegistry()
	require.NoError(t, RegisterBuiltinEvents(r))

	for name, kind := range map[string]EventKind{
		EventTurnBefore:   KindInterceptable,
		EventTurnAfter:    KindSignal,
		EventModelBefore:  KindInterceptable,
		EventModelAfter:   KindSignal,
		EventModelError:   KindInterceptable,
		EventToolBefore:   KindInterceptable,
		EventToolResult:   KindInterceptable,
		EventToolError:    KindInterceptable,
		EventModeEntering: KindInterceptable,
		EventModeEntered:  KindSignal,
		EventModeExiting:  KindInterceptable,
		EventModeExited:   KindSignal,
		EventModeError:    KindSignal,
	} {
		desc, ok := r.Lookup(name)
		require.True(t, ok, "missing descriptor for %s", name)
		assert.Equal(t, kind, desc.Kind, name)
	}

	// Registering twice collides on every name.
	assert.Error(t, RegisterBuiltinEvents(r))
}

func TestEventRegistry_SchemaValidation(t *testing.T) {
	r := NewEventRegistry()
	require.NoError(t, r.Register(EventDescriptor{
		Name: "myapp:sized",
		Kind: KindSignal,
		Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
			"bytes": schema.Integer("Size").Min(0),
		}, "bytes")),
	}))

	desc, _ := r.Lookup("myapp:sized")
	assert.NoError(t, desc.Params.Validate(map[string]any{"bytes": 10}))
	assert.Error(t, desc.Params.Validate(map[string]any{"bytes": -1}))
	assert.Error(t, desc.Params.Validate(map[string]any{}))
}
