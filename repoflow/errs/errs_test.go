package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/byte4ever/promptops/repoflow/errs"
)

func TestError_message(t *testing.T) {
	t.Parallel()

	err := errs.E(
		errs.KindClone,
		"cloning acme/widgets",
		errors.New("exit status 128"),
	)

	assert.Contains(t, err.Error(), "clone")
	assert.Contains(t, err.Error(), "acme/widgets")
	assert.Contains(t, err.Error(), "exit status 128")
}

func TestError_message_no_cause(t *testing.T) {
	t.Parallel()

	err := errs.Ef(
		errs.KindBusy, "record %s busy", "r1",
	)

	assert.Equal(
		t, "repository_busy: record r1 busy",
		err.Error(),
	)
}

func TestKindOf_wrapped(t *testing.T) {
	t.Parallel()

	inner := errs.E(
		errs.KindAuth, "token expired", nil,
	)
	wrapped := fmt.Errorf("saving artifact: %w", inner)

	assert.Equal(
		t, errs.KindAuth, errs.KindOf(wrapped),
	)
	assert.True(
		t, errs.IsKind(wrapped, errs.KindAuth),
	)
}

func TestKindOf_unclassified(t *testing.T) {
	t.Parallel()

	assert.Equal(
		t,
		errs.KindUnknown,
		errs.KindOf(errors.New("plain")),
	)
}

func TestUnwrap_reaches_cause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := errs.E(errs.KindPush, "pushing", cause)

	assert.True(t, errors.Is(err, cause))
}

func TestKind_strings_are_stable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind errs.Kind
		want string
	}{
		{errs.KindAuth, "authentication"},
		{errs.KindNotFound, "not_found"},
		{errs.KindConflict, "conflict"},
		{errs.KindBusy, "repository_busy"},
		{errs.KindProvider, "provider"},
		{errs.KindClone, "clone"},
		{errs.KindPush, "push"},
		{errs.KindCommit, "commit"},
		{errs.KindInvalidArgument, "invalid_argument"},
		{errs.KindUnknown, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
