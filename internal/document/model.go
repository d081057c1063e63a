package document

import (
	"collaborative-office-suite/internal/store"
	"time"
)

const DefaultTitle = "Untitled Document"

// Sort orders offered by the dashboard.
const (
	SortNameAsc      = "name-asc"
	SortNameDesc     = "name-desc"
	SortModifiedAsc  = "modified-asc"
	SortModifiedDesc = "modified-desc"
)

type ListQuery struct {
	Search  string
	Sort    string
	Page    int
	PerPage int
}

type DocumentSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DocumentsMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type PaginatedDocuments struct {
	Data []DocumentSummary `json:"data"`
	Meta DocumentsMeta     `json:"meta"`
}

// DocumentShowResponse is what opening a document returns.
type DocumentShowResponse struct {
	store.Document
	Permission store.Permission `json:"permission"`
}

type TrashItem struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	DeletedAt         time.Time `json:"deleted_at"`
	DaysUntilDeletion int       `json:"days_until_deletion"`
}

func toSummary(d store.Document) DocumentSummary {
	return DocumentSummary{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		UpdatedAt:   d.UpdatedAt,
	}
}
