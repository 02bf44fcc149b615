package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketExhausts(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Zero(t, tb.Remaining())
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerEndpoints(t *testing.T) {
	m := NewManager()
	assert.Equal(t, 60, m.Get("trade:order").Remaining())
	assert.Equal(t, 10, m.Get("account:balance").Remaining())
	// 未配置端点走兜底额度
	assert.Equal(t, 20, m.Get("unknown:endpoint").Remaining())
}
