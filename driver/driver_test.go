package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

func testConstructor(_ context.Context, _ Config, _ *observability.SLogger) (store.Provider, error) {
	return nil, nil
}

func TestRegisterAndNew(t *testing.T) {
	Register("testbackend", testConstructor)
	t.Cleanup(func() { Unregister("testbackend") })

	assert.Contains(t, Constructors(), "testbackend")

	_, err := New(context.Background(), "testbackend", nil, observability.NewNopLogger())
	assert.NoError(t, err)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "no-such-backend", nil, observability.NewNopLogger())
	require.Error(t, err)

	var ube UnknownBackendError
	require.ErrorAs(t, err, &ube)
	assert.Equal(t, "no-such-backend", ube.Backend)
	assert.Contains(t, err.Error(), "forgotten import")
}

func TestRegisterNilPanics(t *testing.T) {
	assert.Panics(t, func() { Register("nilctor", nil) })
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("dup", testConstructor)
	t.Cleanup(func() { Unregister("dup") })

	assert.Panics(t, func() { Register("dup", testConstructor) })
}

func TestUnregister(t *testing.T) {
	Register("transient", testConstructor)
	Unregister("transient")

	assert.NotContains(t, Constructors(), "transient")

	_, err := New(context.Background(), "transient", nil, observability.NewNopLogger())
	assert.Error(t, err)
}

func TestConstructorsSorted(t *testing.T) {
	Register("zzz", testConstructor)
	Register("aaa", testConstructor)
	t.Cleanup(func() {
		Unregister("zzz")
		Unregister("aaa")
	})

	names := Constructors()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, "aaa", names[0])
	assert.Equal(t, "zzz", names[len(names)-1])
}
