package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anyArgs(expected, actual []interface{}) error { return nil }

func TestLeaderLock_AcquireSucceedsImmediately(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.CustomMatch(anyArgs).ExpectSetNX("abc-pipeline:vector-index-lock", "", 30*time.Second).SetVal(true)

	l := newLeaderLock(rdb, "abc-pipeline:vector-index-lock", 30*time.Second)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, release)

	mock.CustomMatch(anyArgs).ExpectEval(releaseScript, []string{"abc-pipeline:vector-index-lock"}, "").SetVal(int64(1))
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderLock_AcquireRetriesUntilHeldIsReleased(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.CustomMatch(anyArgs).ExpectSetNX("lock-key", "", time.Second).SetVal(false)
	mock.CustomMatch(anyArgs).ExpectSetNX("lock-key", "", time.Second).SetVal(true)

	l := newLeaderLock(rdb, "lock-key", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, release)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderLock_AcquireRespectsContextCancellation(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.CustomMatch(anyArgs).ExpectSetNX("lock-key", "", time.Second).SetVal(false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := newLeaderLock(rdb, "lock-key", time.Second)
	_, err := l.Acquire(ctx)
	assert.Error(t, err)
}
