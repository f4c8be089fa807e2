package oauthstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIssueConsume(t *testing.T) {
	t.Parallel()

	st := New(time.Minute)

	state := st.Issue()
	assert.NotEmpty(t, state)
	assert.Equal(t, 1, st.Len())

	assert.True(t, st.Consume(state))
	assert.Equal(t, 0, st.Len())
}

func TestConsume_is_single_use(t *testing.T) {
	t.Parallel()

	st := New(time.Minute)

	state := st.Issue()

	assert.True(t, st.Consume(state))
	assert.False(t, st.Consume(state))
}

func TestConsume_unknown(t *testing.T) {
	t.Parallel()

	st := New(time.Minute)

	assert.False(t, st.Consume("never-issued"))
}

func TestStates_are_unique(t *testing.T) {
	t.Parallel()

	st := New(time.Minute)

	assert.NotEqual(t, st.Issue(), st.Issue())
}

func TestExpiry(t *testing.T) {
	t.Parallel()

	st := New(time.Minute)

	current := time.Now()
	st.now = func() time.Time { return current }

	state := st.Issue()

	// Jump past the TTL.
	current = current.Add(2 * time.Minute)

	assert.False(t, st.Consume(state))
}

func TestLen_purges_expired(t *testing.T) {
	t.Parallel()

	st := New(time.Minute)

	current := time.Now()
	st.now = func() time.Time { return current }

	st.Issue()
	st.Issue()
	assert.Equal(t, 2, st.Len())

	current = current.Add(2 * time.Minute)

	assert.Equal(t, 0, st.Len())
}
