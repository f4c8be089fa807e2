package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/promptops/repoflow/registry"
)

// checkInvariant asserts the LocalPath/error-message
// invariants that must hold after every transition.
func checkInvariant(
	tb testing.TB,
	rec *registry.Record,
) {
	tb.Helper()

	hasPath := rec.LocalPath != ""
	pathStates := rec.Status == registry.StatusCloned ||
		rec.Status == registry.StatusOutdated

	if pathStates {
		assert.True(
			tb, hasPath,
			"LocalPath must be set in %s", rec.Status,
		)
	}

	if rec.Status == registry.StatusFailed {
		assert.NotEmpty(tb, rec.CloneErrorMessage)
	} else {
		assert.Empty(tb, rec.CloneErrorMessage)
	}
}

func TestNewRecord_defaults(t *testing.T) {
	t.Parallel()

	rec := registry.NewRecord(
		"u1", "acme/widgets",
		"https://github.com/acme/widgets.git", "",
	)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, registry.StatusPending, rec.Status)
	assert.Equal(t, "main", rec.Branch)
	assert.Empty(t, rec.LocalPath)
	assert.True(t, rec.IsClonePending())

	checkInvariant(t, rec)
}

func TestTransitions_pending_to_cloned(t *testing.T) {
	t.Parallel()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)

	rec.MarkCloning()
	checkInvariant(t, rec)
	assert.Equal(t, registry.StatusCloning, rec.Status)
	assert.False(t, rec.LastCloneAttempt.IsZero())

	require.NoError(
		t, rec.MarkCloned("/srv/trees/u1/widgets"),
	)
	checkInvariant(t, rec)
	assert.True(t, rec.IsClonedSuccessfully())
	assert.Equal(
		t, "/srv/trees/u1/widgets", rec.LocalPath,
	)
}

func TestTransitions_pending_to_failed(t *testing.T) {
	t.Parallel()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)

	rec.MarkCloning()

	require.NoError(
		t, rec.MarkFailed("authentication failed"),
	)
	checkInvariant(t, rec)
	assert.True(t, rec.IsCloneFailed())
	assert.Equal(
		t,
		"authentication failed",
		rec.CloneErrorMessage,
	)
	// First clone never succeeded, so no path.
	assert.Empty(t, rec.LocalPath)
}

func TestTransitions_failed_retry_clears_error(
	t *testing.T,
) {
	t.Parallel()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)

	rec.MarkCloning()
	require.NoError(t, rec.MarkFailed("boom"))

	// FAILED is re-enterable into CLONING.
	rec.MarkCloning()
	assert.Empty(t, rec.CloneErrorMessage)
	checkInvariant(t, rec)

	require.NoError(t, rec.MarkCloned("/srv/tree"))
	checkInvariant(t, rec)
}

func TestTransitions_outdated_cycle(t *testing.T) {
	t.Parallel()

	rec := registry.NewRecord(
		"u1", "acme/widgets", "url", "main",
	)

	rec.MarkCloning()
	require.NoError(t, rec.MarkCloned("/srv/tree"))

	require.NoError(t, rec.MarkOutdated())
	checkInvariant(t, rec)
	// Stale copy still exists.
	assert.Equal(t, "/srv/tree", rec.LocalPath)
	assert.True(t, rec.HasWorkingTree())

	// OUTDATED is re-enterable into CLONING.
	rec.MarkCloning()
	require.NoError(t, rec.MarkCloned("/srv/tree"))
	assert.True(t, rec.IsClonedSuccessfully())
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()

	t.Run("cloned without cloning", func(t *testing.T) {
		t.Parallel()

		rec := registry.NewRecord(
			"u1", "acme/widgets", "url", "main",
		)

		err := rec.MarkCloned("/srv/tree")

		assert.ErrorIs(
			t, err, registry.ErrInvalidTransition,
		)
	})

	t.Run("failed without cloning", func(t *testing.T) {
		t.Parallel()

		rec := registry.NewRecord(
			"u1", "acme/widgets", "url", "main",
		)

		err := rec.MarkFailed("boom")

		assert.ErrorIs(
			t, err, registry.ErrInvalidTransition,
		)
	})

	t.Run("outdated from pending", func(t *testing.T) {
		t.Parallel()

		rec := registry.NewRecord(
			"u1", "acme/widgets", "url", "main",
		)

		err := rec.MarkOutdated()

		assert.ErrorIs(
			t, err, registry.ErrInvalidTransition,
		)
	})
}
