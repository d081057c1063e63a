package pgstore

import (
	"collaborative-office-suite/internal/store"
	"context"
	"database/sql/driver"
	"encoding/json"
	defError "errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRow is the documents table.
type DocumentRow struct {
	ID            string      `gorm:"primaryKey;size:64"`
	Title         string      `gorm:"size:255;not null"`
	Description   string      `gorm:"type:text"`
	Content       string      `gorm:"type:text"`
	Owner         string      `gorm:"size:64;not null;index"`
	Collaborators stringList  `gorm:"type:jsonb"`
	Comments      commentList `gorm:"type:jsonb"`
	DeletedAt     *time.Time  `gorm:"index"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime:false"`
	Version       int64       `gorm:"not null"`
}

func (DocumentRow) TableName() string {
	return "documents"
}

type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		l = stringList{}
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *stringList) Scan(src any) error {
	return scanJSON(src, l)
}

type commentList []store.Comment

func (l commentList) Value() (driver.Value, error) {
	if l == nil {
		l = commentList{}
	}
	b, err := json.Marshal([]store.Comment(l))
	return string(b), err
}

func (l *commentList) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

func toRow(d *store.Document) DocumentRow {
	return DocumentRow{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		Content:       d.Content,
		Owner:         d.Owner,
		Collaborators: stringList(d.Collaborators),
		Comments:      commentList(d.Comments),
		DeletedAt:     d.DeletedAt,
		UpdatedAt:     d.UpdatedAt,
		Version:       d.Version,
	}
}

func (r DocumentRow) toDocument() store.Document {
	return store.Document{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Content:       r.Content,
		Owner:         r.Owner,
		Collaborators: []string(r.Collaborators),
		Comments:      []store.Comment(r.Comments),
		DeletedAt:     r.DeletedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
}

// Store is the postgres Document Store.
type Store struct {
	db  *gorm.DB
	hub *store.Hub
	now func() time.Time
}

func New(db *gorm.DB, broker store.Broker, log *zap.Logger) *Store {
	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	s.hub = store.NewHub(s, broker, log)
	return s
}

func (s *Store) Hub() *store.Hub {
	return s.hub
}

func (s *Store) Create(ctx context.Context, doc *store.Document) error {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = s.now()
	}
	doc.Version = 1

	row := toRow(doc)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if defError.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return err
	}

	s.hub.Publish(ctx, store.Change{ID: doc.ID, Owner: doc.Owner})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*store.Document, error) {
	var row DocumentRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	doc := row.toDocument()
	return &doc, nil
}

func (s *Store) Update(ctx context.Context, id string, fields store.Fields) (*store.Document, error) {
	row, err := s.update(ctx, id, fields, nil)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, store.ErrNotFound
	}
	return s.published(ctx, row), nil
}

func (s *Store) UpdateVersion(ctx context.Context, id string, version int64, fields store.Fields) (*store.Document, error) {
	row, err := s.update(ctx, id, fields, &version)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return s.published(ctx, row), nil
	}

	// nothing matched: either the record is gone or its version moved
	var count int64
	if err := s.db.WithContext(ctx).Model(&DocumentRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrVersionConflict
}

// update applies fields in one statement and returns the new row, or nil when no row matched.
func (s *Store) update(ctx context.Context, id string, fields store.Fields, version *int64) (*DocumentRow, error) {
	values := map[string]any{
		"updated_at": s.now(),
		"version":    gorm.Expr("version + 1"),
	}
	if fields.Title != nil {
		values["title"] = *fields.Title
	}
	if fields.Description != nil {
		values["description"] = *fields.Description
	}
	if fields.Content != nil {
		values["content"] = *fields.Content
	}
	if fields.Collaborators != nil {
		values["collaborators"] = stringList(*fields.Collaborators)
	}
	if fields.Comments != nil {
		values["comments"] = commentList(*fields.Comments)
	}
	if fields.DeletedAt != nil {
		values["deleted_at"] = *fields.DeletedAt
	}
	if fields.ClearDeletedAt {
		values["deleted_at"] = nil
	}

	var rows []DocumentRow
	query := s.db.WithContext(ctx).Model(&rows).Clauses(clause.Returning{}).Where("id = ?", id)
	if version != nil {
		query = query.Where("version = ?", *version)
	}

	if err := query.Updates(values).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Store) published(ctx context.Context, row *DocumentRow) *store.Document {
	doc := row.toDocument()
	s.hub.Publish(ctx, store.Change{ID: doc.ID, Owner: doc.Owner})
	return &doc
}

func (s *Store) Delete(ctx context.Context, id string) error {
	var rows []DocumentRow
	res := s.db.WithContext(ctx).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "owner"}}}).
		Where("id = ?", id).
		Delete(&rows)
	if res.Error != nil {
		return res.Error
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}

	s.hub.Publish(ctx, store.Change{ID: id, Owner: rows[0].Owner})
	return nil
}

func (s *Store) List(ctx context.Context, filter store.Filter) ([]store.Document, error) {
	query := s.db.WithContext(ctx).Model(&DocumentRow{})
	if filter.ID != "" {
		query = query.Where("id = ?", filter.ID)
	}
	if filter.Owner != "" {
		query = query.Where("owner = ?", filter.Owner)
	}

	var rows []DocumentRow
	if err := query.Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.toDocument())
	}
	return docs, nil
}

func (s *Store) Subscribe(ctx context.Context, filter store.Filter) (*store.Subscription, error) {
	return s.hub.Subscribe(ctx, filter)
}
