package remote

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/tempo/internal/adapters/remote/httpstore"
	"github.com/jbctechsolutions/tempo/internal/adapters/remote/memory"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.List())

	require.NoError(t, r.Register(memory.New()))
	replacement := memory.New()
	require.NoError(t, r.Register(replacement))

	assert.Equal(t, []string{"memory"}, r.List())
	assert.Same(t, replacement, r.Get("memory"))
	assert.Nil(t, r.Get("http"))

	assert.Error(t, r.Register(nil))
}

func TestRegistry_GetRequired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(memory.New()))

	store, err := r.GetRequired("memory")
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Name())

	_, err = r.GetRequired("http")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
	assert.Contains(t, err.Error(), "memory")
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(memory.New()))
	hs, err := httpstore.New("http://127.0.0.1:1")
	require.NoError(t, err)
	require.NoError(t, r.Register(hs))

	infos := r.Describe()
	require.Len(t, infos, 2)
	assert.Equal(t, BackendInfo{Name: "http", Breaker: "closed"}, infos[0])
	assert.Equal(t, BackendInfo{Name: "memory"}, infos[1])
}
