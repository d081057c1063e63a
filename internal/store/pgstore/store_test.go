package pgstore

import (
	"collaborative-office-suite/internal/store"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var documentColumns = []string{
	"id", "title", "description", "content", "owner",
	"collaborators", "comments", "deleted_at", "updated_at", "version",
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestStore_GetMapsRow(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(documentColumns).
			AddRow("d1", "Draft", "", "Hello", "u1", `["bob@example.com"]`,
				`[{"author":"bob@example.com","text":"nice","timestamp":"2024-01-02T03:04:05Z"}]`,
				nil, now, 3))

	doc, err := s.Get(context.Background(), "d1")

	require.NoError(t, err)
	assert.Equal(t, "Draft", doc.Title)
	assert.Equal(t, []string{"bob@example.com"}, doc.Collaborators)
	require.Len(t, doc.Comments, 1)
	assert.Equal(t, "nice", doc.Comments[0].Text)
	assert.Nil(t, doc.DeletedAt)
	assert.Equal(t, int64(3), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(documentColumns))

	_, err := s.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_CreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectExec(`INSERT INTO "documents"`).WillReturnError(gorm.ErrDuplicatedKey)

	err := s.Create(context.Background(), &store.Document{ID: "d1", Owner: "u1", Title: "Draft"})

	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateSetsVersion(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectExec(`INSERT INTO "documents"`).WillReturnResult(sqlmock.NewResult(0, 1))

	doc := &store.Document{ID: "d1", Owner: "u1", Title: "Draft"}
	require.NoError(t, s.Create(context.Background(), doc))

	assert.Equal(t, int64(1), doc.Version)
	assert.False(t, doc.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateReturnsNewRow(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectQuery(`UPDATE "documents" SET .* WHERE id = \$\d+ RETURNING \*`).
		WillReturnRows(sqlmock.NewRows(documentColumns).
			AddRow("d1", "Draft", "", "Hello", "u1", `[]`, `[]`, nil, time.Now(), 2))

	doc, err := s.Update(context.Background(), "d1", store.Fields{Content: store.StringPtr("Hello")})

	require.NoError(t, err)
	assert.Equal(t, "Hello", doc.Content)
	assert.Equal(t, int64(2), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectQuery(`UPDATE "documents" SET .* WHERE id = \$\d+ RETURNING \*`).
		WillReturnRows(sqlmock.NewRows(documentColumns))

	_, err := s.Update(context.Background(), "d1", store.Fields{Title: store.StringPtr("x")})

	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UpdateVersionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectQuery(`UPDATE "documents" SET .* WHERE id = \$\d+ AND version = \$\d+ RETURNING \*`).
		WillReturnRows(sqlmock.NewRows(documentColumns))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "documents" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	comments := []store.Comment{{Author: "a@example.com", Text: "hi"}}
	_, err := s.UpdateVersion(context.Background(), "d1", 4, store.Fields{Comments: &comments})

	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateVersionMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectQuery(`UPDATE "documents" SET .* RETURNING \*`).
		WillReturnRows(sqlmock.NewRows(documentColumns))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := s.UpdateVersion(context.Background(), "d1", 4, store.Fields{Title: store.StringPtr("x")})

	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectQuery(`DELETE FROM "documents" WHERE id = \$1 RETURNING "id","owner"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner"}).AddRow("d1", "u1"))

	require.NoError(t, s.Delete(context.Background(), "d1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())

	mock.ExpectQuery(`DELETE FROM "documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner"}))

	assert.ErrorIs(t, s.Delete(context.Background(), "d1"), store.ErrNotFound)
}

func TestStore_ListByOwner(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, nil, zap.NewNop())
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE owner = \$1 ORDER BY updated_at DESC`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(documentColumns).
			AddRow("d2", "B", "", "", "u1", `[]`, `[]`, now, now, 1).
			AddRow("d1", "A", "", "", "u1", `[]`, nil, nil, now.Add(-time.Hour), 1))

	docs, err := s.List(context.Background(), store.Filter{Owner: "u1"})

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.True(t, docs[0].InTrash())
	assert.False(t, docs[1].InTrash())
	assert.Empty(t, docs[1].Comments)
}
