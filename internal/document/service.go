package document

import (
	"cmp"
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/export"
	"collaborative-office-suite/internal/store"
	"collaborative-office-suite/internal/worker"
	"collaborative-office-suite/redis"
	"context"
	defError "errors"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const listCacheTTL = 10 * time.Minute

type Service interface {
	ListDocuments(ctx context.Context, identity store.Identity, query ListQuery) (*PaginatedDocuments, error)
	CreateDocument(ctx context.Context, identity store.Identity, title, description string) (*store.Document, error)
	CreateFromTemplate(ctx context.Context, identity store.Identity, name string) (*store.Document, error)
	ImportFile(ctx context.Context, identity store.Identity, filename string, data []byte) (*store.Document, error)
	GetDocument(ctx context.Context, identity store.Identity, id string) (*DocumentShowResponse, error)
	RenameDocument(ctx context.Context, identity store.Identity, id, title string) (*store.Document, error)
	DuplicateDocument(ctx context.Context, identity store.Identity, id string) (*store.Document, error)
	DeleteDocument(ctx context.Context, identity store.Identity, id string) error
	ListTrash(ctx context.Context, identity store.Identity) ([]TrashItem, error)
	RestoreDocument(ctx context.Context, identity store.Identity, id string) (*store.Document, error)
	DeletePermanently(ctx context.Context, identity store.Identity, id string) error
	EmptyTrash(ctx context.Context, identity store.Identity) (int, error)
	ExportDocument(ctx context.Context, identity store.Identity, id string, format export.Format) (*export.File, error)
}

type DefaultService struct {
	store     store.Store
	cache     *redis.Cache
	pool      *worker.WorkerPool
	exporter  *export.Exporter
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	st store.Store,
	cache *redis.Cache,
	pool *worker.WorkerPool,
	exporter *export.Exporter,
	retention time.Duration,
	log *zap.Logger,
) *DefaultService {
	return &DefaultService{
		store:     st,
		cache:     cache,
		pool:      pool,
		exporter:  exporter,
		retention: retention,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func versionKey(userID string) string {
	return fmt.Sprintf("user:%s:docs:version", userID)
}

// invalidate bumps the cache version so any new fetch misses old entries.
func (s *DefaultService) invalidate(ctx context.Context, userID string) {
	s.cache.IncrementVersion(ctx, versionKey(userID))
}

// HandleChange drops cached lists of the owner of a changed document. It is
// hooked to the store hub so session writes reach the dashboard too.
func (s *DefaultService) HandleChange(ctx context.Context, change store.Change) {
	if change.Owner != "" {
		s.invalidate(ctx, change.Owner)
	}
}

// owned splits the caller's documents into active and trashed.
func (s *DefaultService) owned(ctx context.Context, userID string) (active, trashed []store.Document, err error) {
	docs, err := s.store.List(ctx, store.Filter{Owner: userID})
	if err != nil {
		return nil, nil, err
	}
	for _, d := range docs {
		if d.InTrash() {
			trashed = append(trashed, d)
		} else {
			active = append(active, d)
		}
	}
	return active, trashed, nil
}

func titles(docs ...[]store.Document) []string {
	var out []string
	for _, list := range docs {
		for _, d := range list {
			out = append(out, d.Title)
		}
	}
	return out
}

func (s *DefaultService) ListDocuments(ctx context.Context, identity store.Identity, query ListQuery) (*PaginatedDocuments, error) {
	query.Search = strings.ToLower(strings.TrimSpace(query.Search))
	switch query.Sort {
	case SortNameAsc, SortNameDesc, SortModifiedAsc, SortModifiedDesc:
	default:
		query.Sort = SortModifiedDesc
	}

	// Get the current data version for this user's documents
	v := s.cache.GetVersion(ctx, versionKey(identity.UserID))
	cacheKey := fmt.Sprintf("docs:u:%s:v:%d:q:%s:s:%s:p:%d:pp:%d",
		identity.UserID, v, query.Search, query.Sort, query.Page, query.PerPage)

	var result PaginatedDocuments
	if found, _ := s.cache.Get(ctx, cacheKey, &result); found {
		return &result, nil
	}

	active, _, err := s.owned(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	matches := make([]store.Document, 0, len(active))
	for _, d := range active {
		if query.Search == "" ||
			strings.Contains(strings.ToLower(d.Title), query.Search) ||
			strings.Contains(strings.ToLower(d.Description), query.Search) {
			matches = append(matches, d)
		}
	}
	sortDocuments(matches, query.Sort)

	result = paginate(matches, query.Page, query.PerPage)
	s.pool.Submit(func(ctx context.Context) error {
		s.cache.Set(ctx, cacheKey, result, listCacheTTL)
		return nil
	})

	return &result, nil
}

func sortDocuments(docs []store.Document, order string) {
	byName := func(a, b store.Document) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)),
			cmp.Compare(a.Title, b.Title),
		)
	}
	byModified := func(a, b store.Document) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}

	switch order {
	case SortNameAsc:
		slices.SortStableFunc(docs, byName)
	case SortNameDesc:
		slices.SortStableFunc(docs, func(a, b store.Document) int { return byName(b, a) })
	case SortModifiedAsc:
		slices.SortStableFunc(docs, byModified)
	default:
		slices.SortStableFunc(docs, func(a, b store.Document) int { return byModified(b, a) })
	}
}

func paginate(docs []store.Document, page, perPage int) PaginatedDocuments {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	total := len(docs)
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)

	data := make([]DocumentSummary, 0, end-start)
	for _, d := range docs[start:end] {
		data = append(data, toSummary(d))
	}
	return PaginatedDocuments{
		Data: data,
		Meta: DocumentsMeta{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: (total + perPage - 1) / perPage,
		},
	}
}

// CreateDocument makes the title unique among the caller's active documents.
func (s *DefaultService) CreateDocument(ctx context.Context, identity store.Identity, title, description string) (*store.Document, error) {
	active, _, err := s.owned(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	title = UniqueTitle(normalizeTitle(title), titles(active))
	return s.create(ctx, identity, title, strings.TrimSpace(description), "")
}

func (s *DefaultService) CreateFromTemplate(ctx context.Context, identity store.Identity, name string) (*store.Document, error) {
	tpl, ok := templates[strings.ToLower(name)]
	if !ok {
		return nil, errors.InvalidInput("Unknown template", nil)
	}
	return s.createOutsideTrash(ctx, identity, tpl.Title, "", tpl.Content)
}

// ImportFile creates a document from an uploaded .txt, .html or .docx file
// named after the file.
func (s *DefaultService) ImportFile(ctx context.Context, identity store.Identity, filename string, data []byte) (*store.Document, error) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)

	content, err := export.Import(strings.ToLower(ext), data)
	if err != nil {
		if defError.Is(err, export.ErrUnknownImport) || defError.Is(err, export.ErrNotDocx) {
			return nil, errors.InvalidInput("Error reading file", err)
		}
		return nil, err
	}
	return s.createOutsideTrash(ctx, identity, strings.TrimSuffix(base, ext), "", content)
}

// createOutsideTrash also avoids titles in the trash, so a later restore
// can't produce a duplicate.
func (s *DefaultService) createOutsideTrash(ctx context.Context, identity store.Identity, title, description, content string) (*store.Document, error) {
	active, trashed, err := s.owned(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	title = UniqueTitle(normalizeTitle(title), titles(active, trashed))
	return s.create(ctx, identity, title, description, content)
}

func (s *DefaultService) create(ctx context.Context, identity store.Identity, title, description, content string) (*store.Document, error) {
	doc := &store.Document{
		ID:            uuid.NewString(),
		Title:         title,
		Description:   description,
		Content:       content,
		Owner:         identity.UserID,
		Collaborators: []string{},
		Comments:      []store.Comment{},
		UpdatedAt:     s.now(),
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.invalidate(ctx, identity.UserID)

	s.log.Info("document created", zap.String("document_id", doc.ID), zap.String("user_id", identity.UserID))
	return doc, nil
}

// load fetches id and checks the caller may see it, or own it.
func (s *DefaultService) load(ctx context.Context, identity store.Identity, id string, ownerOnly bool) (*store.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.InvalidInput("Invalid document ID", nil)
	}

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		if defError.Is(err, store.ErrNotFound) {
			return nil, errors.NotFound("Document not found", err)
		}
		return nil, err
	}

	switch permission := doc.PermissionFor(identity); {
	case permission == store.PermissionNone:
		return nil, errors.Forbidden("You don't have access to this document", nil)
	case ownerOnly && permission != store.PermissionOwner:
		return nil, errors.Forbidden("Only the owner can do this", nil)
	}
	return doc, nil
}

func (s *DefaultService) GetDocument(ctx context.Context, identity store.Identity, id string) (*DocumentShowResponse, error) {
	doc, err := s.load(ctx, identity, id, false)
	if err != nil {
		return nil, err
	}
	return &DocumentShowResponse{Document: *doc, Permission: doc.PermissionFor(identity)}, nil
}

// RenameDocument rejects a title another active document of the owner has.
func (s *DefaultService) RenameDocument(ctx context.Context, identity store.Identity, id, title string) (*store.Document, error) {
	doc, err := s.load(ctx, identity, id, true)
	if err != nil {
		return nil, err
	}
	title = normalizeTitle(title)

	active, _, err := s.owned(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	for _, d := range active {
		if d.ID != doc.ID && d.Title == title {
			return nil, errors.ValidationConflict("A document with this name already exists. Please choose a different name.", nil)
		}
	}

	updated, err := s.store.Update(ctx, doc.ID, store.Fields{Title: &title})
	if err != nil {
		return nil, storeError(err)
	}
	s.invalidate(ctx, identity.UserID)
	return updated, nil
}

// DuplicateDocument copies title, description and content into a new
// document owned by the caller. Sharing and comments stay behind.
func (s *DefaultService) DuplicateDocument(ctx context.Context, identity store.Identity, id string) (*store.Document, error) {
	src, err := s.load(ctx, identity, id, false)
	if err != nil {
		return nil, err
	}
	return s.createOutsideTrash(ctx, identity, "Copy of "+src.Title, src.Description, src.Content)
}

// DeleteDocument moves the document to the trash.
func (s *DefaultService) DeleteDocument(ctx context.Context, identity store.Identity, id string) error {
	doc, err := s.load(ctx, identity, id, true)
	if err != nil {
		return err
	}
	if doc.InTrash() {
		return nil
	}

	now := s.now()
	if _, err := s.store.Update(ctx, doc.ID, store.Fields{DeletedAt: &now}); err != nil {
		return storeError(err)
	}
	s.invalidate(ctx, identity.UserID)
	return nil
}

func (s *DefaultService) ListTrash(ctx context.Context, identity store.Identity) ([]TrashItem, error) {
	_, trashed, err := s.owned(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]TrashItem, 0, len(trashed))
	for _, d := range trashed {
		items = append(items, TrashItem{
			ID:                d.ID,
			Title:             d.Title,
			Description:       d.Description,
			DeletedAt:         *d.DeletedAt,
			DaysUntilDeletion: DaysUntilDeletion(*d.DeletedAt, s.retention, now),
		})
	}
	slices.SortFunc(items, func(a, b TrashItem) int { return b.DeletedAt.Compare(a.DeletedAt) })
	return items, nil
}

// DaysUntilDeletion counts whole days, rounded up, until a document deleted
// at deletedAt is purged. It never goes below zero.
func DaysUntilDeletion(deletedAt time.Time, retention time.Duration, now time.Time) int {
	left := deletedAt.Add(retention).Sub(now)
	return max(0, int(math.Ceil(left.Hours()/24)))
}

func (s *DefaultService) RestoreDocument(ctx context.Context, identity store.Identity, id string) (*store.Document, error) {
	doc, err := s.load(ctx, identity, id, true)
	if err != nil {
		return nil, err
	}
	if !doc.InTrash() {
		return nil, errors.InvalidInput("Document is not in the trash", nil)
	}

	restored, err := s.store.Update(ctx, doc.ID, store.Fields{ClearDeletedAt: true})
	if err != nil {
		return nil, storeError(err)
	}
	s.invalidate(ctx, identity.UserID)
	return restored, nil
}

// DeletePermanently removes a trashed document for good.
func (s *DefaultService) DeletePermanently(ctx context.Context, identity store.Identity, id string) error {
	doc, err := s.load(ctx, identity, id, true)
	if err != nil {
		return err
	}
	if !doc.InTrash() {
		return errors.InvalidInput("Move the document to the trash first", nil)
	}

	if err := s.store.Delete(ctx, doc.ID); err != nil {
		return storeError(err)
	}
	s.invalidate(ctx, identity.UserID)
	return nil
}

// EmptyTrash deletes every trashed document of the caller on the worker
// pool and returns how many were removed.
func (s *DefaultService) EmptyTrash(ctx context.Context, identity store.Identity) (int, error) {
	_, trashed, err := s.owned(ctx, identity.UserID)
	if err != nil {
		return 0, err
	}
	n, err := s.deleteAll(ctx, trashed)
	if n > 0 {
		s.invalidate(ctx, identity.UserID)
	}
	return n, err
}

func (s *DefaultService) deleteAll(ctx context.Context, docs []store.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	deleted := make([]bool, len(docs))
	tasks := make([]worker.Task, len(docs))
	for i, d := range docs {
		tasks[i] = func(ctx context.Context) error {
			err := s.store.Delete(ctx, d.ID)
			if defError.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("delete %s: %w", d.ID, err)
			}
			deleted[i] = true
			return nil
		}
	}

	err := s.pool.Run(ctx, tasks...)
	n := 0
	for _, ok := range deleted {
		if ok {
			n++
		}
	}
	if err != nil {
		s.log.Warn("delete documents failed", zap.Int("deleted", n), zap.Error(err))
		return n, errors.TransientWriteFailure("Some documents could not be deleted", err)
	}
	return n, nil
}

func (s *DefaultService) ExportDocument(ctx context.Context, identity store.Identity, id string, format export.Format) (*export.File, error) {
	doc, err := s.load(ctx, identity, id, false)
	if err != nil {
		return nil, err
	}

	file, err := s.exporter.Export(ctx, doc, format)
	switch {
	case err == nil:
		return file, nil
	case defError.Is(err, export.ErrUnknownFormat), defError.Is(err, export.ErrNoRenderer):
		return nil, errors.InvalidInput(err.Error(), err)
	default:
		return nil, errors.New(http.StatusBadGateway, errors.CodeInternal, "Export failed", err)
	}
}

func storeError(err error) error {
	if defError.Is(err, store.ErrNotFound) {
		return errors.NotFound("Document not found", err)
	}
	return errors.TransientWriteFailure("Could not save document", err)
}
