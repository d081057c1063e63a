package session

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/store"
	"context"
	defError "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = store.Identity{UserID: "u-alice", Email: "alice@example.com", DisplayName: "Alice"}
	bob   = store.Identity{UserID: "u-bob", Email: "bob@example.com", DisplayName: "Bob"}
	carol = store.Identity{UserID: "u-carol", Email: "carol@example.com", DisplayName: "Carol"}
)

type recorder struct {
	mu         sync.Mutex
	statuses   []Status
	updates    []View
	terminated error
}

func (r *recorder) StatusChanged(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recorder) RemoteUpdate(view View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, view)
}

func (r *recorder) Terminated(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = err
}

func (r *recorder) lastStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) terminatedWith() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// countingStore counts autosave writes and can make them fail.
type countingStore struct {
	store.Store
	updates atomic.Int32
	fail    error
}

func (s *countingStore) Update(ctx context.Context, id string, fields store.Fields) (*store.Document, error) {
	s.updates.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	return s.Store.Update(ctx, id, fields)
}

func testConfig() Config {
	return Config{AutosaveDelay: 40 * time.Millisecond, MaxWriteAttempts: 5}
}

func newMemory(t *testing.T, docs ...store.Document) *store.Memory {
	t.Helper()
	m := store.NewMemory(nil, zap.NewNop())
	for _, doc := range docs {
		require.NoError(t, m.Create(context.Background(), &doc))
	}
	return m
}

func draft() store.Document {
	return store.Document{ID: "d1", Title: "Draft", Content: "Hello", Owner: alice.UserID}
}

func open(t *testing.T, st store.Store, cfg Config, identity store.Identity) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := NewController(st, cfg, rec, zap.NewNop())
	_, err := c.Open(context.Background(), "d1", identity)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, rec
}

func (c *Controller) suppressing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressNext
}

func TestOpen_Owner(t *testing.T) {
	c, _ := open(t, newMemory(t, draft()), testConfig(), alice)

	view := c.View()
	assert.Equal(t, StateReady, view.State)
	assert.Equal(t, store.PermissionOwner, view.Permission)
	assert.Equal(t, "Draft", view.Title)
	assert.Equal(t, "Hello", view.Content)
	assert.Equal(t, 5, view.Caret)
}

func TestOpen_NotFound(t *testing.T) {
	c := NewController(newMemory(t), testConfig(), &recorder{}, zap.NewNop())

	view, err := c.Open(context.Background(), "missing", alice)

	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Empty(t, view.Content)
	assert.Equal(t, StateNotFound, c.View().State)
	assert.ErrorIs(t, c.Edit(EditContent("x")), errors.ErrNotFound)
}

func TestOpen_Forbidden(t *testing.T) {
	c := NewController(newMemory(t, draft()), testConfig(), &recorder{}, zap.NewNop())

	view, err := c.Open(context.Background(), "d1", carol)

	assert.ErrorIs(t, err, errors.ErrForbidden)
	assert.Empty(t, view.Content)
	assert.Empty(t, c.View().Content)
	assert.Equal(t, StateForbidden, c.View().State)
}

func TestOpen_InvalidInput(t *testing.T) {
	c := NewController(newMemory(t, draft()), testConfig(), &recorder{}, zap.NewNop())

	_, err := c.Open(context.Background(), "  ", alice)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = c.Open(context.Background(), "d1", store.Identity{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestEdit_ReportsSavingBeforeAnyWrite(t *testing.T) {
	st := &countingStore{Store: newMemory(t, draft())}
	c, rec := open(t, st, Config{AutosaveDelay: time.Hour, MaxWriteAttempts: 1}, alice)

	require.NoError(t, c.Edit(EditContent("Hello world")))

	assert.Equal(t, StatusSaving, rec.lastStatus())
	assert.Equal(t, int32(0), st.updates.Load())
	assert.Equal(t, "Hello world", c.View().Content)
}

func TestAutosave_BurstWritesOnce(t *testing.T) {
	mem := newMemory(t, draft())
	st := &countingStore{Store: mem}
	c, rec := open(t, st, Config{AutosaveDelay: 80 * time.Millisecond, MaxWriteAttempts: 1}, alice)

	for _, content := range []string{"H", "He", "Hel", "Hell", "Hello!"} {
		require.NoError(t, c.Edit(EditContent(content)))
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return st.updates.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return st.updates.Load() > 1 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.lastStatus() == StatusSaved }, time.Second, 5*time.Millisecond)

	doc, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", doc.Content)
}

func TestAutosave_SpacedEditsWriteEach(t *testing.T) {
	st := &countingStore{Store: newMemory(t, draft())}
	c, _ := open(t, st, testConfig(), alice)

	require.NoError(t, c.Edit(EditContent("one")))
	assert.Eventually(t, func() bool { return st.updates.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Edit(EditContent("two")))
	assert.Eventually(t, func() bool { return st.updates.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAutosave_EmptyTitleStoredAsUntitled(t *testing.T) {
	mem := newMemory(t, draft())
	c, rec := open(t, mem, testConfig(), alice)

	require.NoError(t, c.Edit(EditTitle("   ")))
	require.Eventually(t, func() bool { return rec.lastStatus() == StatusSaved }, time.Second, 5*time.Millisecond)

	doc, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, doc.Title)
	// the local buffer keeps what the user typed
	assert.Equal(t, "   ", c.View().Title)
}

func TestAutosave_FailureReportsErrorWithoutRetry(t *testing.T) {
	st := &countingStore{Store: newMemory(t, draft()), fail: defError.New("connection reset")}
	c, rec := open(t, st, testConfig(), alice)

	require.NoError(t, c.Edit(EditContent("lost")))

	assert.Eventually(t, func() bool { return rec.lastStatus() == StatusError }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return st.updates.Load() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.False(t, c.suppressing())
}

func TestSave_WritesNowAndDropsPendingAutosave(t *testing.T) {
	st := &countingStore{Store: newMemory(t, draft())}
	c, rec := open(t, st, Config{AutosaveDelay: 50 * time.Millisecond, MaxWriteAttempts: 1}, alice)

	require.NoError(t, c.Edit(EditContent("now")))
	require.NoError(t, c.Save(context.Background()))

	assert.Equal(t, int32(1), st.updates.Load())
	assert.Equal(t, StatusSaved, rec.lastStatus())
	assert.Never(t, func() bool { return st.updates.Load() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestSave_FailureIsTransient(t *testing.T) {
	st := &countingStore{Store: newMemory(t, draft()), fail: defError.New("timeout")}
	c, rec := open(t, st, testConfig(), alice)

	err := c.Save(context.Background())

	assert.ErrorIs(t, err, errors.ErrTransientWrite)
	assert.Equal(t, StatusError, rec.lastStatus())
}

func TestEcho_LeavesBufferAndCaretAlone(t *testing.T) {
	c, rec := open(t, newMemory(t, draft()), testConfig(), alice)
	caret := 3

	require.NoError(t, c.Edit(Edit{Content: store.StringPtr("Hello world"), Caret: &caret}))
	require.Eventually(t, func() bool { return rec.lastStatus() == StatusSaved }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !c.suppressing() }, time.Second, 5*time.Millisecond)

	view := c.View()
	assert.Equal(t, "Hello world", view.Content)
	assert.Equal(t, 3, view.Caret)
	assert.Equal(t, 0, rec.updateCount())
}

func TestReconcile_SuppressesExactlyOneSnapshot(t *testing.T) {
	c, _ := open(t, newMemory(t, draft()), testConfig(), alice)
	version := c.View().Version

	c.mu.Lock()
	c.suppressNext = true
	c.mu.Unlock()

	remote := store.Document{ID: "d1", Owner: alice.UserID, Title: "Draft", Content: "remote", Version: version + 1}
	_, changed, err := c.reconcile(store.Snapshot{Documents: []store.Document{remote}})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, c.suppressing())

	_, changed, err = c.reconcile(store.Snapshot{Documents: []store.Document{remote}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "remote", c.View().Content)
}

func TestReconcile_DropsStaleVersion(t *testing.T) {
	c, _ := open(t, newMemory(t, draft()), testConfig(), alice)
	version := c.View().Version

	stale := store.Document{ID: "d1", Owner: alice.UserID, Content: "older", Version: version}
	_, changed, err := c.reconcile(store.Snapshot{Documents: []store.Document{stale}})

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Hello", c.View().Content)
}

func TestRemoteUpdate_OverwritesBufferKeepsCaret(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	mem := newMemory(t, doc)
	c, rec := open(t, mem, testConfig(), alice)
	require.NoError(t, c.MoveCaret(2))

	comments := []store.Comment{{Author: bob.Email, Text: "nice", Timestamp: time.Now()}}
	_, err := mem.Update(context.Background(), "d1", store.Fields{
		Title:    store.StringPtr("Bob's title"),
		Content:  store.StringPtr("Rewritten by Bob"),
		Comments: &comments,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.updateCount() == 1 }, time.Second, 5*time.Millisecond)
	view := c.View()
	assert.Equal(t, "Bob's title", view.Title)
	assert.Equal(t, "Rewritten by Bob", view.Content)
	assert.Len(t, view.Comments, 1)
	assert.Equal(t, 2, view.Caret)
}

// gatedRecorder holds the first RemoteUpdate until release is called.
type gatedRecorder struct {
	recorder
	held    atomic.Bool
	entered chan struct{}
	gate    chan struct{}
	opened  sync.Once
}

func newGatedRecorder() *gatedRecorder {
	return &gatedRecorder{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedRecorder) RemoteUpdate(view View) {
	if g.held.CompareAndSwap(false, true) {
		close(g.entered)
		<-g.gate
	}
	g.recorder.RemoteUpdate(view)
}

func (g *gatedRecorder) release() {
	g.opened.Do(func() { close(g.gate) })
}

func TestRemoteUpdate_QueuedBehindCommentWriteIsApplied(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	mem := newMemory(t, doc)
	ctx := context.Background()

	rec := newGatedRecorder()
	c := NewController(mem, Config{AutosaveDelay: time.Hour, MaxWriteAttempts: 3}, rec, zap.NewNop())
	_, err := c.Open(ctx, "d1", alice)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	t.Cleanup(rec.release)

	_, err = mem.Update(ctx, "d1", store.Fields{Title: store.StringPtr("Remote v2")})
	require.NoError(t, err)
	select {
	case <-rec.entered:
	case <-time.After(time.Second):
		t.Fatal("remote update never reached the listener")
	}

	// lands while the session is still busy delivering the previous update
	_, err = mem.Update(ctx, "d1", store.Fields{
		Title:   store.StringPtr("Remote v3"),
		Content: store.StringPtr("remote body"),
	})
	require.NoError(t, err)

	_, err = c.AddComment(ctx, "noted")
	require.NoError(t, err)

	view := c.View()
	assert.Equal(t, "Remote v3", view.Title)
	assert.Equal(t, "remote body", view.Content)
	require.Len(t, view.Comments, 1)

	rec.release()
	assert.Never(t, func() bool {
		v := c.View()
		return v.Title != "Remote v3" || v.Content != "remote body"
	}, 150*time.Millisecond, 10*time.Millisecond)

	// saving the buffer keeps the collaborator's text
	require.NoError(t, c.Save(ctx))
	stored, err := mem.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Remote v3", stored.Title)
	assert.Equal(t, "remote body", stored.Content)
	assert.Len(t, stored.Comments, 1)
}

func TestShare_AppliesRemoteEditReadAlongTheWay(t *testing.T) {
	mem := newMemory(t, draft())
	ctx := context.Background()

	rec := newGatedRecorder()
	c := NewController(mem, Config{AutosaveDelay: time.Hour, MaxWriteAttempts: 3}, rec, zap.NewNop())
	_, err := c.Open(ctx, "d1", alice)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	t.Cleanup(rec.release)

	_, err = mem.Update(ctx, "d1", store.Fields{Content: store.StringPtr("from another tab")})
	require.NoError(t, err)
	select {
	case <-rec.entered:
	case <-time.After(time.Second):
		t.Fatal("remote update never reached the listener")
	}
	_, err = mem.Update(ctx, "d1", store.Fields{Content: store.StringPtr("newest")})
	require.NoError(t, err)

	require.NoError(t, c.Share(ctx, bob.Email, RoleEditor))
	rec.release()

	assert.Equal(t, "newest", c.View().Content)
}

func TestComments_RevokedCollaboratorCannotComment(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	mem := newMemory(t, doc)
	rec := newGatedRecorder()
	c := NewController(mem, testConfig(), rec, zap.NewNop())
	_, err := c.Open(context.Background(), "d1", bob)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	t.Cleanup(rec.release)

	// keep the reconciler busy so the session has not noticed yet
	_, err = mem.Update(context.Background(), "d1", store.Fields{Title: store.StringPtr("Renamed")})
	require.NoError(t, err)
	<-rec.entered
	none := []string{}
	_, err = mem.Update(context.Background(), "d1", store.Fields{Collaborators: &none})
	require.NoError(t, err)

	_, err = c.AddComment(context.Background(), "still here?")

	assert.ErrorIs(t, err, errors.ErrForbidden)
	stored, _ := mem.Get(context.Background(), "d1")
	assert.Empty(t, stored.Comments)
}

func TestRemoteDelete_EndsSession(t *testing.T) {
	mem := newMemory(t, draft())
	c, rec := open(t, mem, testConfig(), alice)

	require.NoError(t, mem.Delete(context.Background(), "d1"))

	require.Eventually(t, func() bool { return rec.terminatedWith() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.terminatedWith(), errors.ErrNotFound)
	assert.Equal(t, StateNotFound, c.View().State)
	assert.ErrorIs(t, c.Edit(EditContent("x")), errors.ErrNotFound)
}

func TestRevokedAccess_EndsSession(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	mem := newMemory(t, doc)
	c, rec := open(t, mem, testConfig(), bob)

	none := []string{}
	_, err := mem.Update(context.Background(), "d1", store.Fields{Collaborators: &none})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.terminatedWith() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.terminatedWith(), errors.ErrForbidden)
	assert.Equal(t, StateForbidden, c.View().State)
}

func TestClose_DropsPendingAutosave(t *testing.T) {
	st := &countingStore{Store: newMemory(t, draft())}
	c, _ := open(t, st, testConfig(), alice)

	require.NoError(t, c.Edit(EditContent("never saved")))
	c.Close()
	c.Close()

	assert.Never(t, func() bool { return st.updates.Load() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StateClosed, c.View().State)
	assert.ErrorIs(t, c.Edit(EditContent("x")), errors.ErrInvalidInput)
}

func TestShare_CollaboratorCanOpen(t *testing.T) {
	mem := newMemory(t, draft())
	owner, _ := open(t, mem, testConfig(), alice)

	require.NoError(t, owner.Share(context.Background(), " Bob@Example.com ", RoleEditor))

	c := NewController(mem, testConfig(), &recorder{}, zap.NewNop())
	t.Cleanup(c.Close)
	view, err := c.Open(context.Background(), "d1", bob)
	require.NoError(t, err)
	assert.Equal(t, store.PermissionCollaborator, view.Permission)
	assert.Equal(t, "Draft", view.Title)
	assert.Equal(t, "Hello", view.Content)
}

func TestShare_SameEmailTwiceIsNoop(t *testing.T) {
	mem := newMemory(t, draft())
	owner, _ := open(t, mem, testConfig(), alice)

	require.NoError(t, owner.Share(context.Background(), bob.Email, RoleEditor))
	require.NoError(t, owner.Share(context.Background(), bob.Email, RoleViewer))

	doc, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{bob.Email}, doc.Collaborators)
}

func TestShare_OnlyOwner(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	c, _ := open(t, newMemory(t, doc), testConfig(), bob)

	err := c.Share(context.Background(), carol.Email, RoleViewer)

	assert.ErrorIs(t, err, errors.ErrForbidden)
}

func TestShare_RejectsBadInput(t *testing.T) {
	c, _ := open(t, newMemory(t, draft()), testConfig(), alice)

	assert.ErrorIs(t, c.Share(context.Background(), bob.Email, "admin"), errors.ErrInvalidInput)
	assert.ErrorIs(t, c.Share(context.Background(), "not-an-email", RoleEditor), errors.ErrInvalidInput)
}

func TestComments_AddEditDelete(t *testing.T) {
	mem := newMemory(t, draft())
	c, _ := open(t, mem, testConfig(), alice)
	ctx := context.Background()

	comment, err := c.AddComment(ctx, "  first  ")
	require.NoError(t, err)
	assert.Equal(t, "first", comment.Text)
	assert.Equal(t, alice.Email, comment.Author)

	require.NoError(t, c.EditComment(ctx, 0, "edited"))
	doc, _ := mem.Get(ctx, "d1")
	require.Len(t, doc.Comments, 1)
	assert.Equal(t, "edited", doc.Comments[0].Text)
	assert.Equal(t, "edited", c.View().Comments[0].Text)

	require.NoError(t, c.DeleteComment(ctx, 0))
	doc, _ = mem.Get(ctx, "d1")
	assert.Empty(t, doc.Comments)
}

func TestComments_Validation(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	doc.Comments = []store.Comment{{Author: alice.Email, Text: "mine", Timestamp: time.Now()}}
	c, _ := open(t, newMemory(t, doc), testConfig(), bob)
	ctx := context.Background()

	_, err := c.AddComment(ctx, "   ")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.ErrorIs(t, c.EditComment(ctx, 5, "x"), errors.ErrInvalidInput)
	assert.ErrorIs(t, c.DeleteComment(ctx, -1), errors.ErrInvalidInput)
	assert.ErrorIs(t, c.EditComment(ctx, 0, "hijack"), errors.ErrForbidden)
	assert.ErrorIs(t, c.DeleteComment(ctx, 0), errors.ErrForbidden)
}

// interleavingStore lets another writer in between a read and the write that follows it.
type interleavingStore struct {
	store.Store
	mu     sync.Mutex
	before func()
}

func (s *interleavingStore) Get(ctx context.Context, id string) (*store.Document, error) {
	doc, err := s.Store.Get(ctx, id)
	s.mu.Lock()
	f := s.before
	s.before = nil
	s.mu.Unlock()
	if f != nil {
		f()
	}
	return doc, err
}

func TestComments_ConflictingWriterIsNotLost(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	mem := newMemory(t, doc)
	st := &interleavingStore{Store: mem}
	c, _ := open(t, st, testConfig(), alice)

	st.before = func() {
		comments := []store.Comment{{Author: bob.Email, Text: "from bob", Timestamp: time.Now()}}
		_, err := mem.Update(context.Background(), "d1", store.Fields{Comments: &comments})
		require.NoError(t, err)
	}

	_, err := c.AddComment(context.Background(), "from alice")
	require.NoError(t, err)

	stored, _ := mem.Get(context.Background(), "d1")
	require.Len(t, stored.Comments, 2)
	assert.Equal(t, "from bob", stored.Comments[0].Text)
	assert.Equal(t, "from alice", stored.Comments[1].Text)
}

func TestComments_ConcurrentAddsAllSurvive(t *testing.T) {
	doc := draft()
	doc.Collaborators = []string{bob.Email}
	mem := newMemory(t, doc)
	cfg := Config{AutosaveDelay: time.Hour, MaxWriteAttempts: 100}
	a, _ := open(t, mem, cfg, alice)
	b, _ := open(t, mem, cfg, bob)

	var wg sync.WaitGroup
	for _, c := range []*Controller{a, b} {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			for range 10 {
				_, err := c.AddComment(context.Background(), "hi")
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	stored, _ := mem.Get(context.Background(), "d1")
	assert.Len(t, stored.Comments, 20)
}

type conflictingStore struct {
	store.Store
	attempts atomic.Int32
}

func (s *conflictingStore) UpdateVersion(context.Context, string, int64, store.Fields) (*store.Document, error) {
	s.attempts.Add(1)
	return nil, store.ErrVersionConflict
}

func TestComments_GivesUpAfterMaxAttempts(t *testing.T) {
	st := &conflictingStore{Store: newMemory(t, draft())}
	c, _ := open(t, st, Config{AutosaveDelay: time.Hour, MaxWriteAttempts: 3}, alice)

	_, err := c.AddComment(context.Background(), "busy")

	assert.ErrorIs(t, err, errors.ErrTransientWrite)
	assert.Equal(t, int32(3), st.attempts.Load())
}
