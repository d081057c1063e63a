// Package session implements one user's editing session on one document.
//
// A Controller loads the record, keeps a local buffer of title and content,
// writes the buffer back after a quiet period (Scheduler) and applies
// snapshots pushed by the store (Reconciler). Its own autosave write comes
// back as a snapshot too; the controller marks the write beforehand so the
// echo is dropped instead of clobbering the buffer.
package session

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/store"
	"context"
	defError "errors"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const DefaultTitle = "Untitled Document"

type State int

const (
	StateLoading State = iota
	StateReady
	StateNotFound
	StateForbidden
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateNotFound:
		return "not-found"
	case StateForbidden:
		return "forbidden"
	default:
		return "closed"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the save label shown next to the title.
type Status string

const (
	StatusSaving Status = "Saving…"
	StatusSaved  Status = "Saved"
	StatusError  Status = "Error saving"
)

// Listener receives what happens to a session outside of direct calls.
// Callbacks run on the controller's goroutines and must not block for long.
type Listener interface {
	StatusChanged(status Status)
	RemoteUpdate(view View)
	// Terminated is called once when a remote deletion or revocation ends the session.
	Terminated(err error)
}

// View is a copy of the session state.
type View struct {
	DocumentID string           `json:"id"`
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	Caret      int              `json:"caret"`
	Permission store.Permission `json:"permission"`
	Comments   []store.Comment  `json:"comments"`
	Version    int64            `json:"version"`
	State      State            `json:"state"`
}

// Edit replaces the fields it sets. Caret is in runes.
type Edit struct {
	Title   *string
	Content *string
	Caret   *int
}

func EditTitle(title string) Edit {
	return Edit{Title: &title}
}

func EditContent(content string) Edit {
	return Edit{Content: &content}
}

type Config struct {
	AutosaveDelay    time.Duration
	MaxWriteAttempts int
}

type Controller struct {
	store    store.Store
	cfg      Config
	listener Listener
	log      *zap.Logger

	scheduler *Scheduler
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.Mutex
	state        State
	err          error
	documentID   string
	identity     store.Identity
	permission   store.Permission
	title        string
	content      string
	caret        int
	comments     []store.Comment
	version      int64
	loaded       bool
	suppressNext bool
	sub          *store.Subscription
}

func NewController(st store.Store, cfg Config, listener Listener, log *zap.Logger) *Controller {
	if cfg.MaxWriteAttempts < 1 {
		cfg.MaxWriteAttempts = 1
	}
	c := &Controller{
		store:    st,
		cfg:      cfg,
		listener: listener,
		log:      log,
		state:    StateLoading,
	}
	c.scheduler = NewScheduler(cfg.AutosaveDelay, c.autosave)
	return c
}

// Open loads the document, checks the identity against it and starts
// listening for remote changes. NotFound and Forbidden end the session.
func (c *Controller) Open(ctx context.Context, documentID string, identity store.Identity) (View, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" || (identity.UserID == "" && identity.Email == "") {
		return View{}, errors.InvalidInput("Document id and identity are required", nil)
	}

	c.mu.Lock()
	if c.state != StateLoading {
		c.mu.Unlock()
		return View{}, errors.InvalidInput("Session already opened", nil)
	}
	c.documentID = documentID
	c.identity = identity
	c.mu.Unlock()

	doc, err := c.store.Get(ctx, documentID)
	if err != nil {
		if defError.Is(err, store.ErrNotFound) {
			return View{}, c.fail(StateNotFound, errors.NotFound("Document not found", err))
		}
		return View{}, errors.Internal(err)
	}

	permission := doc.PermissionFor(identity)
	if permission == store.PermissionNone {
		return View{}, c.fail(StateForbidden, errors.Forbidden("You don't have access to this document", nil))
	}

	c.mu.Lock()
	c.permission = permission
	c.title = doc.Title
	c.content = doc.Content
	c.comments = slices.Clone(doc.Comments)
	c.version = doc.Version
	if !c.loaded {
		c.caret = utf8.RuneCountInString(doc.Content)
		c.loaded = true
	}
	c.state = StateReady
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	sub, err := c.store.Subscribe(ctx, store.Filter{ID: documentID})
	if err != nil {
		c.Close()
		return View{}, errors.Internal(err)
	}

	// Subscribe leaves the current snapshot buffered, so this never blocks.
	// It catches anything written between Get and Subscribe.
	if _, _, err := c.reconcile(<-sub.C); err != nil {
		sub.Close()
		c.cancel()
		return View{}, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		sub.Close()
		return View{}, errors.InvalidInput("Session closed", nil)
	}
	c.sub = sub
	view := c.viewLocked()
	c.mu.Unlock()

	go c.run(sub)

	c.log.Debug("session opened",
		zap.String("document_id", documentID),
		zap.String("user_id", identity.UserID),
		zap.Stringer("permission", permission),
	)
	return view, nil
}

func (c *Controller) fail(state State, err error) error {
	c.mu.Lock()
	c.state = state
	c.err = err
	c.mu.Unlock()
	return err
}

// Edit applies a local change and re-arms the autosave. Nothing is written yet.
func (c *Controller) Edit(edit Edit) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if edit.Title != nil {
		c.title = *edit.Title
	}
	if edit.Content != nil {
		c.content = *edit.Content
	}
	if edit.Caret != nil {
		c.caret = *edit.Caret
	}
	c.caret = clamp(c.caret, 0, utf8.RuneCountInString(c.content))
	c.mu.Unlock()

	c.listener.StatusChanged(StatusSaving)
	c.scheduler.Arm()
	return nil
}

// MoveCaret records the caret without touching the buffer.
func (c *Controller) MoveCaret(pos int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return err
	}
	c.caret = clamp(pos, 0, utf8.RuneCountInString(c.content))
	return nil
}

// Save writes the buffer now and drops the pending autosave.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	err := c.readyLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.scheduler.Cancel()
	c.listener.StatusChanged(StatusSaving)
	return c.write(ctx)
}

func (c *Controller) autosave() {
	if err := c.write(c.ctx); err != nil {
		c.log.Warn("autosave failed", zap.String("document_id", c.documentID), zap.Error(err))
	}
}

// write stores title and content last-write-wins. A failure is only
// reported as StatusError; the next edit tries again.
func (c *Controller) write(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil
	}
	title := c.title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	content := c.content
	c.suppressNext = true
	c.mu.Unlock()

	doc, err := c.store.Update(ctx, c.documentID, store.Fields{Title: &title, Content: &content})
	if err != nil {
		c.mu.Lock()
		c.suppressNext = false
		c.mu.Unlock()
		c.listener.StatusChanged(StatusError)
		return errors.TransientWriteFailure("Error saving", err)
	}

	c.mu.Lock()
	if doc.Version > c.version {
		c.version = doc.Version
	}
	c.mu.Unlock()
	c.listener.StatusChanged(StatusSaved)
	return nil
}

// Close stops the session. A pending autosave is dropped, not flushed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	c.scheduler.Stop()
	if c.cancel != nil {
		c.cancel()
	}
	if sub != nil {
		sub.Close()
	}
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Err is the error that ended the session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) viewLocked() View {
	return View{
		DocumentID: c.documentID,
		Title:      c.title,
		Content:    c.content,
		Caret:      c.caret,
		Permission: c.permission,
		Comments:   slices.Clone(c.comments),
		Version:    c.version,
		State:      c.state,
	}
}

func (c *Controller) readyLocked() error {
	switch c.state {
	case StateReady:
		return nil
	case StateNotFound, StateForbidden:
		return c.err
	case StateLoading:
		return errors.InvalidInput("Session is not open", nil)
	default:
		return errors.InvalidInput("Session closed", nil)
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
