package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	NodeID  uint64 `cbor:"1,keyasint"`
	Address string `cbor:"2,keyasint,omitempty"`
}

func backends(t *testing.T) map[string]func() Backend {
	dir := t.TempDir()
	return map[string]func() Backend{
		"memory": func() Backend { return NewMemoryBackend() },
		"file": func() Backend {
			b, err := OpenFileBackend(filepath.Join(dir, "state.cbor"))
			require.NoError(t, err)
			return b
		},
	}
}

func TestContextHasGetSetDelete(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := MustContext(newBackend(), ContextController)

			ok, err := ctx.Has("commissionedNodes")
			require.NoError(t, err)
			assert.False(t, ok)

			var out []record
			assert.ErrorIs(t, ctx.Get("commissionedNodes", &out), ErrNotFound)

			in := []record{{NodeID: 1, Address: "10.0.0.5:5540"}, {NodeID: 2}}
			require.NoError(t, ctx.Set("commissionedNodes", in))

			ok, err = ctx.Has("commissionedNodes")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, ctx.Get("commissionedNodes", &out))
			assert.Equal(t, in, out)

			require.NoError(t, ctx.Delete("commissionedNodes"))
			require.NoError(t, ctx.Delete("commissionedNodes"))
			ok, err = ctx.Has("commissionedNodes")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestContextClearIncludesSubContexts(t *testing.T) {
	backend := NewMemoryBackend()
	root := MustContext(backend, ContextSessionManager)
	other := MustContext(backend, ContextFabricManager)
	sub, err := root.Sub("resumption")
	require.NoError(t, err)

	require.NoError(t, root.Set("a", 1))
	require.NoError(t, sub.Set("b", 2))
	require.NoError(t, other.Set("c", 3))

	require.NoError(t, root.Clear())

	keys, err := root.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
	keys, err = sub.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = other.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)
}

func TestInvalidNames(t *testing.T) {
	backend := NewMemoryBackend()

	_, err := NewContext(backend, "")
	assert.ErrorIs(t, err, ErrInvalidContext)
	_, err = NewContext(backend, "a.b")
	assert.ErrorIs(t, err, ErrInvalidContext)

	ctx := MustContext(backend, "ok")
	assert.ErrorIs(t, ctx.Set("", 1), ErrInvalidKey)
}

func TestFileBackendPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "controller.cbor")

	b, err := OpenFileBackend(path)
	require.NoError(t, err)
	ctx := MustContext(b, ContextController)
	require.NoError(t, ctx.Set("fabric", record{NodeID: 0x1122334455667788}))
	require.NoError(t, b.Close())

	reopened, err := OpenFileBackend(path)
	require.NoError(t, err)
	var got record
	require.NoError(t, MustContext(reopened, ContextController).Get("fabric", &got))
	assert.Equal(t, uint64(0x1122334455667788), got.NodeID)
}

func TestClosedBackend(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, MustContext(b, "x").Set("k", 1), ErrClosed)
}
