package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/promptops/repoflow/errs"
	"github.com/byte4ever/promptops/repoflow/registry"
)

func TestMemoryStore_create_get(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()
	ctx := context.Background()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)

	require.NoError(t, st.Create(ctx, rec))

	got, err := st.Get(ctx, "u1", "acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, registry.StatusPending, got.Status)
}

func TestMemoryStore_get_missing(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()

	_, err := st.Get(
		context.Background(), "u1", "acme/widgets",
	)

	require.Error(t, err)
	assert.Equal(
		t, errs.KindNotFound, errs.KindOf(err),
	)
}

func TestMemoryStore_create_duplicate(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()
	ctx := context.Background()

	first := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)
	require.NoError(t, st.Create(ctx, first))

	dup := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)
	err := st.Create(ctx, dup)

	assert.Equal(
		t, errs.KindConflict, errs.KindOf(err),
	)
}

func TestMemoryStore_update(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()
	ctx := context.Background()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)
	require.NoError(t, st.Create(ctx, rec))

	rec.MarkCloning()
	require.NoError(t, rec.MarkCloned("/srv/tree"))
	require.NoError(t, st.Update(ctx, rec))

	got, err := st.Get(ctx, "u1", "acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, registry.StatusCloned, got.Status)
	assert.Equal(t, "/srv/tree", got.LocalPath)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStore_update_missing(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)

	err := st.Update(context.Background(), rec)

	assert.Equal(
		t, errs.KindNotFound, errs.KindOf(err),
	)
}

func TestMemoryStore_returns_copies(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()
	ctx := context.Background()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)
	require.NoError(t, st.Create(ctx, rec))

	got, err := st.Get(ctx, "u1", "acme/widgets")
	require.NoError(t, err)

	// Mutating the returned record must not leak into
	// the store.
	got.Status = registry.StatusFailed

	again, err := st.Get(ctx, "u1", "acme/widgets")
	require.NoError(t, err)
	assert.Equal(
		t, registry.StatusPending, again.Status,
	)
}

func TestMemoryStore_list_by_user(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.Create(
		ctx,
		registry.NewRecord(
			"u1", "acme/widgets", "url", "main",
		),
	))
	require.NoError(t, st.Create(
		ctx,
		registry.NewRecord(
			"u1", "acme/gadgets", "url", "main",
		),
	))
	require.NoError(t, st.Create(
		ctx,
		registry.NewRecord(
			"u2", "acme/widgets", "url", "main",
		),
	))

	out, err := st.ListByUser(ctx, "u1")
	require.NoError(t, err)

	assert.Len(t, out, 2)
}

func TestMemoryStore_delete(t *testing.T) {
	t.Parallel()

	st := registry.NewMemoryStore()
	ctx := context.Background()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)
	require.NoError(t, st.Create(ctx, rec))

	require.NoError(t, st.Delete(ctx, rec.ID))

	_, err := st.Get(ctx, "u1", "acme/widgets")
	assert.Equal(
		t, errs.KindNotFound, errs.KindOf(err),
	)

	err = st.Delete(ctx, rec.ID)
	assert.Equal(
		t, errs.KindNotFound, errs.KindOf(err),
	)
}
