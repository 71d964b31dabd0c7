package pipeline

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func TestOutboxStageAndDrainOnce(t *testing.T) {
	outbox := NewOutbox()
	outbox.Stage(OpInsert, "projects", "1", []string{"name"})
	outbox.Stage(OpUpdate, "projects", "2", nil)
	assert.Equal(t, 2, outbox.Staged())

	collector := &eventCollector{}
	outbox.DrainAfterCommit(collector)
	assert.Len(t, collector.collected(), 2)
	assert.Equal(t, 0, outbox.Staged())

	// 重复Drain不产生重复事件
	outbox.DrainAfterCommit(collector)
	assert.Len(t, collector.collected(), 2)
}

func TestOutboxDiscard(t *testing.T) {
	outbox := NewOutbox()
	outbox.Stage(OpDelete, "skills", "9", nil)
	outbox.Discard()

	collector := &eventCollector{}
	outbox.DrainAfterCommit(collector)
	assert.Empty(t, collector.collected())
}

func TestWithOutboxCommitForwardsEvents(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	collector := &eventCollector{}
	err := WithOutbox(db, collector, func(tx *gorm.DB, outbox *Outbox) error {
		outbox.Stage(OpInsert, "portfolios", "7", nil)
		return nil
	})
	require.NoError(t, err)

	events := collector.collected()
	require.Len(t, events, 1)
	assert.Equal(t, "portfolios:7", events[0].Key())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithOutboxRollbackDropsEvents(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	collector := &eventCollector{}
	err := WithOutbox(db, collector, func(tx *gorm.DB, outbox *Outbox) error {
		outbox.Stage(OpInsert, "portfolios", "7", nil)
		return errors.New("write failed")
	})
	require.Error(t, err)
	assert.Empty(t, collector.collected())
	assert.NoError(t, mock.ExpectationsWereMet())
}
