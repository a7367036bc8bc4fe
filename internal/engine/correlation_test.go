package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lotkeep/internal/remote/memstore"
	"github.com/roach88/lotkeep/internal/store"
)

func TestUUIDv7Generator_SortsByCreation(t *testing.T) {
	gen := UUIDv7Generator{}

	prev := gen.Generate()
	for i := 0; i < 100; i++ {
		next := gen.Generate()
		parsed, err := uuid.Parse(next)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())
		assert.Less(t, prev, next, "waitlist ids must sort in creation order")
		prev = next
	}
}

func TestNew_DefaultGeneratorKeysSessionsAndEntries(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	rs := memstore.New()
	f := New(s, s, rs, WithCapacity(1))
	ctx := context.Background()

	admitted, err := f.CheckIn(ctx, CheckInRequest{Plate: "AAA1"})
	require.NoError(t, err)
	require.NotNil(t, admitted.Session)
	ref, err := uuid.Parse(admitted.Session.ClientRef)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), ref.Version())

	waiting, err := f.CheckIn(ctx, CheckInRequest{Plate: "BBB2"})
	require.NoError(t, err)
	require.NotNil(t, waiting.Entry)
	assert.NotEqual(t, admitted.Session.ClientRef, waiting.Entry.ID)
	_, err = uuid.Parse(waiting.Entry.ID)
	assert.NoError(t, err)

	stored := rs.Sessions()
	require.Len(t, stored, 1)
	assert.Equal(t, admitted.Session.ClientRef, stored[0].ClientRef)
}
