package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelToken(t *testing.T) {
	token := NewCancelToken(context.Background())
	assert.False(t, token.Cancelled())
	assert.NoError(t, token.Err())
	assert.NoError(t, token.Context().Err())

	token.Cancel()
	token.Cancel()
	assert.True(t, token.Cancelled())
	assert.ErrorIs(t, token.Err(), ErrCancelled)
	assert.Error(t, token.Context().Err())
}

func TestCancelTokenFollowsParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	token := NewCancelToken(ctx)
	cancel()

	assert.True(t, token.Cancelled())
	assert.ErrorIs(t, token.Err(), ErrCancelled)
}

func TestCancelTokenReleaseIsNotCancel(t *testing.T) {
	token := NewCancelToken(context.Background())
	token.release()

	require.Error(t, token.Context().Err())
	assert.False(t, token.Cancelled())
	assert.NoError(t, token.Err())
}

func TestNilCancelToken(t *testing.T) {
	var token *CancelToken
	token.Cancel()
	assert.False(t, token.Cancelled())
	assert.NoError(t, token.Err())
}
