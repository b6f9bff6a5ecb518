package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPutFetchRoundTrip(t *testing.T) {
	st := openTestStore(t)

	blob := []byte(`{"position":420,"true_pos":true}`)
	require.NoError(t, st.Put("valve/mix", 1, blob))

	got, err := st.Fetch("valve/mix", 1)
	assert.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestPutReplaces(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.Put("k", 1, []byte("old")))
	require.NoError(t, st.Put("k", 1, []byte("new")))

	got, err := st.Fetch("k", 1)
	assert.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestFetchMissingKey(t *testing.T) {
	st := openTestStore(t)
	_, err := st.Fetch("never/stored", 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// A version bump must refuse the old blob: no silent migration.
func TestFetchVersionMismatch(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.Put("boiler/main", 1, []byte("v1 layout")))

	_, err := st.Fetch("boiler/main", 2)
	assert.ErrorIs(t, err, errs.ErrMismatch)

	// the old version still reads back
	got, err := st.Fetch("boiler/main", 1)
	assert.NoError(t, err)
	assert.Equal(t, []byte("v1 layout"), got)
}

func TestPutNewVersionReplacesOld(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.Put("k", 1, []byte("v1")))
	require.NoError(t, st.Put("k", 2, []byte("v2")))

	_, err := st.Fetch("k", 1)
	assert.ErrorIs(t, err, errs.ErrMismatch)
	got, err := st.Fetch("k", 2)
	assert.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestDelete(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.Put("k", 1, []byte("x")))
	require.NoError(t, st.Delete("k"))
	_, err := st.Fetch("k", 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// deleting a missing key is fine
	assert.NoError(t, st.Delete("k"))
}

func TestEmptyKeyRejected(t *testing.T) {
	st := openTestStore(t)
	assert.ErrorIs(t, st.Put("", 1, []byte("x")), errs.ErrInvalid)
}
