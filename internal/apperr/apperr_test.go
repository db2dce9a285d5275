package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

func TestKindMatching(t *testing.T) {
	err := NotFound("ledger entry %s", "abc")
	wrapped := fmt.Errorf("set state: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrUnauthorized))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestStoreUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := StoreUnavailable(cause, "find_one")

	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "record store find_one failed", err.Message)
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	e, ok := As(fmt.Errorf("check: %w", RateLimited(12*time.Second)))
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, e.Kind)
	assert.Equal(t, 12*time.Second, e.RetryAfter)
}

func TestFromStore(t *testing.T) {
	require.NoError(t, FromStore(nil, "find_one", "job"))

	err := FromStore(fmt.Errorf("lookup: %w", storage.ErrNotFound), "find_one", "job j-1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "job j-1 not found")

	err = FromStore(errors.New("dial tcp: refused"), "update", "job")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}
