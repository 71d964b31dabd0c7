package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormDeadLetterStoreSave(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormDeadLetterStore(db)

	mock.ExpectQuery(`INSERT INTO "rag_dead_letters"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := store.Save(context.Background(), models.RagDeadLetter{
		JobType:     "index",
		SourceTable: "projects",
		SourceID:    "7",
		Payload:     `{"op":"update"}`,
		Error:       "boom",
		Retries:     2,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeadLetterStoreList(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewGormDeadLetterStore(db)

	rows := sqlmock.NewRows([]string{"id", "job_type", "source_table", "source_id", "payload", "error", "retries"}).
		AddRow(1, "index", "projects", "7", `{}`, "boom", 2).
		AddRow(2, "retire", "skills", "3", `{}`, "gone", 1)
	mock.ExpectQuery(`SELECT \* FROM "rag_dead_letters"`).WillReturnRows(rows)

	letters, err := store.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, "index", letters[0].JobType)
	assert.Equal(t, uint(2), letters[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
