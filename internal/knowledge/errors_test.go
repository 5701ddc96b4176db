package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/romcoding/architex/internal/resilience"
	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantKind     Kind
		wantMessage  string
		wantInternal bool
	}{
		{
			name:        "validation error",
			err:         &types.ValidationError{Field: "title", Message: "title is required"},
			wantKind:    KindValidation,
			wantMessage: "title: title is required",
		},
		{
			name:        "wrapped not found",
			err:         fmt.Errorf("%w: ka_1", storage.ErrNotFound),
			wantKind:    KindNotFound,
			wantMessage: "asset not found",
		},
		{
			name:        "cycle",
			err:         fmt.Errorf("%w: a -> b", storage.ErrCycle),
			wantKind:    KindConflict,
			wantMessage: "relationship would create a cycle",
		},
		{
			name:        "duplicate",
			err:         storage.ErrDuplicate,
			wantKind:    KindConflict,
			wantMessage: "relationship already exists",
		},
		{
			name:        "invalid input keeps detail",
			err:         fmt.Errorf("%w: self-loop", storage.ErrInvalidInput),
			wantKind:    KindValidation,
			wantMessage: "invalid input: self-loop",
		},
		{
			name:        "guard timeout",
			err:         fmt.Errorf("%w: get_asset", resilience.ErrTimeout),
			wantKind:    KindTimeout,
			wantMessage: "storage did not respond in time, retry later",
		},
		{
			name:     "caller deadline",
			err:      context.DeadlineExceeded,
			wantKind: KindTimeout,
		},
		{
			name:         "driver failure",
			err:          errors.New("pq: password authentication failed for user \"architex\""),
			wantKind:     KindInternal,
			wantMessage:  "internal error",
			wantInternal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, internal := classify(tt.err)
			assert.Equal(t, tt.wantKind, got.Kind)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, got.Message)
			}
			assert.Equal(t, tt.wantInternal, internal)
			assert.ErrorIs(t, got, tt.err, "cause stays reachable for logs")
		})
	}
}

func TestClassify_PassesThroughServiceErrors(t *testing.T) {
	in := newError(KindAuthorization, "nope")
	got, internal := classify(in)
	assert.Same(t, in, got)
	assert.False(t, internal)
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindNotFound, "asset not found"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound, Message: "asset not found"})
	assert.NotErrorIs(t, err, &Error{Kind: KindNotFound, Message: "other"})
	assert.Equal(t, "NOT_FOUND: asset not found", errors.Unwrap(err).Error())
}

func TestKindOfAndRetryable(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindConflict, KindOf(newError(KindConflict, "dup")))

	assert.True(t, Retryable(newError(KindTimeout, "slow")))
	assert.False(t, Retryable(newError(KindValidation, "bad")))
	assert.False(t, Retryable(nil))
}
