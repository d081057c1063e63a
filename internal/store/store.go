// Package store defines the document record and the Document Store contract
// shared by the in-memory and postgres backends.
//
// A Store persists whole document records addressed by caller-generated ids
// and fans change notifications out to subscribers through a Hub. Merging
// updates (Update) is last-write-wins on every field they name. UpdateVersion
// adds an optimistic version check for read-modify-write callers.
package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrVersionConflict = errors.New("document version conflict")
)

// Permission is what an identity may do with a document.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionCollaborator
	PermissionOwner
)

func (p Permission) String() string {
	switch p {
	case PermissionOwner:
		return "owner"
	case PermissionCollaborator:
		return "collaborator"
	default:
		return "none"
	}
}

func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Identity is a signed-in user. Documents are owned by UserID and shared by Email.
type Identity struct {
	UserID      string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Document struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Content       string     `json:"content"`
	Owner         string     `json:"owner"`
	Collaborators []string   `json:"collaborators"`
	Comments      []Comment  `json:"comments"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int64      `json:"version"`
}

func (d *Document) PermissionFor(id Identity) Permission {
	if id.UserID != "" && d.Owner == id.UserID {
		return PermissionOwner
	}
	if id.Email != "" && slices.Contains(d.Collaborators, id.Email) {
		return PermissionCollaborator
	}
	return PermissionNone
}

func (d *Document) InTrash() bool {
	return d.DeletedAt != nil
}

// Clone returns a copy that shares no slices or pointers with d.
func (d Document) Clone() Document {
	d.Collaborators = slices.Clone(d.Collaborators)
	d.Comments = slices.Clone(d.Comments)
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		d.DeletedAt = &t
	}
	return d
}

// Fields is a partial update. Nil members are left untouched.
type Fields struct {
	Title         *string
	Description   *string
	Content       *string
	Collaborators *[]string
	Comments      *[]Comment
	DeletedAt     *time.Time
	// ClearDeletedAt restores a trashed document. It wins over DeletedAt.
	ClearDeletedAt bool
}

// Apply merges f into d. Timestamps and version are the store's job.
func (f Fields) Apply(d *Document) {
	if f.Title != nil {
		d.Title = *f.Title
	}
	if f.Description != nil {
		d.Description = *f.Description
	}
	if f.Content != nil {
		d.Content = *f.Content
	}
	if f.Collaborators != nil {
		d.Collaborators = slices.Clone(*f.Collaborators)
	}
	if f.Comments != nil {
		d.Comments = slices.Clone(*f.Comments)
	}
	if f.DeletedAt != nil {
		t := *f.DeletedAt
		d.DeletedAt = &t
	}
	if f.ClearDeletedAt {
		d.DeletedAt = nil
	}
}

// Filter selects either one record by ID or every record of an Owner.
type Filter struct {
	ID    string
	Owner string
}

func (f Filter) Matches(d *Document) bool {
	if f.ID != "" && d.ID != f.ID {
		return false
	}
	if f.Owner != "" && d.Owner != f.Owner {
		return false
	}
	return true
}

func (f Filter) matchesChange(c Change) bool {
	if f.ID != "" {
		return c.ID == f.ID
	}
	return f.Owner == "" || c.Owner == f.Owner
}

type Store interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, id string, fields Fields) (*Document, error)
	UpdateVersion(ctx context.Context, id string, version int64, fields Fields) (*Document, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]Document, error)
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
}

func StringPtr(s string) *string { return &s }
