package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/logger"
)

func TestLeaseAcquire(t *testing.T) {
	tests := []struct {
		name   string
		result int64
		want   bool
	}{
		{name: "free or renewed", result: 1, want: true},
		{name: "held by another instance", result: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			repo := NewRedisLeaseRepository(db, logger.InitializeTestZapLogger())

			mock.ExpectEvalSha(acquireScript.Hash(), []string{"admission:lease:ev-1"}, "node-a", int64(90000)).
				SetVal(tt.result)

			ok, err := repo.Acquire(context.Background(), "ev-1", "node-a", 90*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLeaseAcquireError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisLeaseRepository(db, logger.InitializeTestZapLogger())

	mock.ExpectEvalSha(acquireScript.Hash(), []string{"admission:lease:ev-1"}, "node-a", int64(1000)).
		SetErr(errors.New("connection refused"))

	ok, err := repo.Acquire(context.Background(), "ev-1", "node-a", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLeaseRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisLeaseRepository(db, logger.InitializeTestZapLogger())

	mock.ExpectEvalSha(releaseScript.Hash(), []string{"admission:lease:ev-1"}, "node-a").SetVal(int64(1))

	require.NoError(t, repo.Release(context.Background(), "ev-1", "node-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisLeaseRepository(db, logger.InitializeTestZapLogger())

	mock.ExpectGet("admission:lease:ev-1").SetVal("node-b")
	mock.ExpectGet("admission:lease:ev-2").RedisNil()

	owner, err := repo.Holder(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "node-b", owner)

	owner, err = repo.Holder(context.Background(), "ev-2")
	require.NoError(t, err)
	assert.Empty(t, owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishSlotFreed(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisSignalRepository(db, logger.InitializeTestZapLogger())

	mock.ExpectPublish(SlotFreedChannel, "ev-1").SetVal(2)

	require.NoError(t, repo.PublishSlotFreed(context.Background(), "ev-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
