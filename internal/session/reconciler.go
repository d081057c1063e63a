package session

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/store"
	"slices"

	"go.uber.org/zap"
)

// run applies snapshots until the subscription is closed or the document
// goes away.
func (c *Controller) run(sub *store.Subscription) {
	for snap := range sub.C {
		view, changed, err := c.reconcile(snap)
		if err != nil {
			c.scheduler.Stop()
			c.cancel()
			sub.Close()
			c.log.Info("session ended",
				zap.String("document_id", view.DocumentID),
				zap.Error(err),
			)
			c.listener.Terminated(err)
			return
		}
		if changed {
			c.listener.RemoteUpdate(view)
		}
	}
}

// reconcile decides what one snapshot does to the session:
//   - the echo of our own autosave is dropped once;
//   - an empty snapshot means the record was deleted;
//   - a version we already have is dropped, so a late delivery can't roll back;
//   - losing access ends the session;
//   - anything else overwrites title, content and comments. The caret stays.
func (c *Controller) reconcile(snap store.Snapshot) (View, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		return View{}, false, nil
	}
	if c.suppressNext {
		c.suppressNext = false
		return View{}, false, nil
	}

	doc, ok := snap.Document()
	if !ok {
		c.state = StateNotFound
		c.err = errors.NotFound("Document was deleted", store.ErrNotFound)
		return View{DocumentID: c.documentID}, false, c.err
	}
	if doc.Version <= c.version {
		return View{}, false, nil
	}
	if doc.PermissionFor(c.identity) == store.PermissionNone {
		c.version = doc.Version
		c.permission = store.PermissionNone
		c.state = StateForbidden
		c.err = errors.Forbidden("You no longer have access to this document", nil)
		return View{DocumentID: c.documentID}, false, c.err
	}

	c.applyLocked(doc)
	return c.viewLocked(), true, nil
}

// applyLocked takes title, content, comments and version from a newer
// record. The caret stays.
func (c *Controller) applyLocked(doc *store.Document) {
	c.version = doc.Version
	c.permission = doc.PermissionFor(c.identity)
	c.title = doc.Title
	c.content = doc.Content
	c.comments = slices.Clone(doc.Comments)
}
