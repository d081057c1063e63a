package session

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/store"
	"context"
	defError "errors"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Roles offered when sharing. Only the email is stored.
const (
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

var validate = validator.New()

// mutation computes the fields to write from a fresh read of the record.
// Returning nil fields means there is nothing to do.
type mutation func(doc *store.Document) (*store.Fields, error)

// mutate runs a read-modify-write guarded by the record version and
// retries it from a fresh read when another writer got in between.
//
// The write moves the session version past the record it read. Anything
// in that record the reconciler has not applied yet is applied here, since
// the snapshot carrying it will now be dropped as stale.
func (c *Controller) mutate(ctx context.Context, fn mutation) (*store.Document, error) {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	id := c.documentID
	identity := c.identity
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxWriteAttempts; attempt++ {
		doc, err := c.store.Get(ctx, id)
		if err != nil {
			if defError.Is(err, store.ErrNotFound) {
				return nil, errors.NotFound("Document not found", err)
			}
			return nil, errors.TransientWriteFailure("Could not read document", err)
		}

		if doc.PermissionFor(identity) == store.PermissionNone {
			return nil, errors.Forbidden("You no longer have access to this document", nil)
		}

		fields, err := fn(doc)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return doc, nil
		}

		updated, err := c.store.UpdateVersion(ctx, id, doc.Version, *fields)
		switch {
		case err == nil:
			c.mu.Lock()
			remote := c.state == StateReady && doc.Version > c.version
			if remote {
				c.applyLocked(doc)
			}
			c.comments = slices.Clone(updated.Comments)
			if updated.Version > c.version {
				c.version = updated.Version
			}
			view := c.viewLocked()
			c.mu.Unlock()

			if remote {
				c.listener.RemoteUpdate(view)
			}
			return updated, nil
		case defError.Is(err, store.ErrVersionConflict):
			lastErr = err
			c.log.Debug("write conflict, retrying",
				zap.String("document_id", id),
				zap.Int("attempt", attempt),
			)
		case defError.Is(err, store.ErrNotFound):
			return nil, errors.NotFound("Document not found", err)
		default:
			return nil, errors.TransientWriteFailure("Could not save document", err)
		}
	}
	return nil, errors.TransientWriteFailure("Document is busy, try again", lastErr)
}

// Share adds email to the collaborators. Only the owner may share, and
// sharing with someone already present changes nothing.
func (c *Controller) Share(ctx context.Context, email, role string) error {
	c.mu.Lock()
	isOwner := c.state == StateReady && c.permission == store.PermissionOwner
	c.mu.Unlock()
	if !isOwner {
		return errors.Forbidden("Only the owner can share this document", nil)
	}

	if role != RoleEditor && role != RoleViewer {
		return errors.InvalidInput("Role must be editor or viewer", nil)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return errors.InvalidInput("A valid email is required", err)
	}

	_, err := c.mutate(ctx, func(doc *store.Document) (*store.Fields, error) {
		if slices.Contains(doc.Collaborators, email) {
			return nil, nil
		}
		collaborators := append(slices.Clone(doc.Collaborators), email)
		return &store.Fields{Collaborators: &collaborators}, nil
	})
	return err
}

func (c *Controller) AddComment(ctx context.Context, text string) (store.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Comment{}, errors.InvalidInput("Comment can't be empty", nil)
	}

	comment := store.Comment{
		Author:    c.author(),
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	_, err := c.mutate(ctx, func(doc *store.Document) (*store.Fields, error) {
		comments := append(slices.Clone(doc.Comments), comment)
		return &store.Fields{Comments: &comments}, nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	return comment, nil
}

// EditComment replaces the text of the comment at index. Only its author may.
func (c *Controller) EditComment(ctx context.Context, index int, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.InvalidInput("Comment can't be empty", nil)
	}

	author := c.author()
	_, err := c.mutate(ctx, func(doc *store.Document) (*store.Fields, error) {
		if err := checkComment(doc, index, author); err != nil {
			return nil, err
		}
		comments := slices.Clone(doc.Comments)
		comments[index].Text = text
		return &store.Fields{Comments: &comments}, nil
	})
	return err
}

func (c *Controller) DeleteComment(ctx context.Context, index int) error {
	author := c.author()
	_, err := c.mutate(ctx, func(doc *store.Document) (*store.Fields, error) {
		if err := checkComment(doc, index, author); err != nil {
			return nil, err
		}
		comments := slices.Delete(slices.Clone(doc.Comments), index, index+1)
		return &store.Fields{Comments: &comments}, nil
	})
	return err
}

func (c *Controller) author() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.Email
}

func checkComment(doc *store.Document, index int, author string) error {
	if index < 0 || index >= len(doc.Comments) {
		return errors.InvalidInput("Comment no longer exists", nil)
	}
	if doc.Comments[index].Author != author {
		return errors.Forbidden("Only the author can change a comment", nil)
	}
	return nil
}
