// Package realtime serves editing sessions over websockets. Each connection
// runs one session.Controller and relays its status, remote updates and
// termination to the browser.
package realtime

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/middleware"
	"collaborative-office-suite/internal/session"
	"collaborative-office-suite/internal/store"
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AuthWatcher reports sign-in state changes. A nil identity is a sign-out.
type AuthWatcher interface {
	OnAuthStateChange(ctx context.Context, userID string) <-chan *store.Identity
}

type Handler struct {
	store    store.Store
	cfg      session.Config
	auth     AuthWatcher
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler accepts upgrades from allowedOrigins, or from anywhere when
// the list is empty.
func NewHandler(st store.Store, cfg session.Config, auth AuthWatcher, allowedOrigins []string, log *zap.Logger) *Handler {
	return &Handler{
		store: st,
		cfg:   cfg,
		auth:  auth,
		log:   log.With(zap.String("component", "realtime")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Serve opens the session before upgrading, so a missing document or a
// denied user gets a plain HTTP error.
func (h *Handler) Serve(c *gin.Context) {
	identity := middleware.CurrentIdentity(c)
	documentID := c.Param("id")
	log := h.log.With(zap.String("document_id", documentID), zap.String("user_id", identity.UserID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := newClient(cancel, log)
	ctrl := session.NewController(h.store, h.cfg, cl, log)
	defer ctrl.Close()

	view, err := ctrl.Open(c.Request.Context(), documentID, identity)
	if err != nil {
		c.Error(err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already replied
		log.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	cl.conn = conn
	cl.start(Frame{Type: TypeView, Payload: view})

	go h.watchSignOut(ctx, cl, identity.UserID)

	done := make(chan struct{})
	go func() {
		cl.writePump(ctx)
		close(done)
	}()

	log.Info("editing session connected")
	cl.readPump(func(msg Message) {
		h.handle(ctx, ctrl, cl, msg)
	})

	cancel()
	<-done
	log.Info("editing session disconnected")
}

// watchSignOut ends the session when the user signs out elsewhere.
func (h *Handler) watchSignOut(ctx context.Context, cl *client, userID string) {
	changes := h.auth.OnAuthStateChange(ctx, userID)
	for {
		select {
		case <-ctx.Done():
			return
		case identity, ok := <-changes:
			if !ok {
				return
			}
			if identity == nil {
				cl.Terminated(errors.Unauthorized("Signed out", nil))
				return
			}
		}
	}
}

// handle runs one inbound message against the controller and answers with
// an ack carrying the session view, or an error frame. Acks are only sent
// for messages that carry an ID.
func (h *Handler) handle(ctx context.Context, ctrl *session.Controller, cl *client, msg Message) {
	if err := h.apply(ctx, ctrl, msg); err != nil {
		cl.push(errorFrame(msg.ID, TypeError, err))
		return
	}
	if msg.ID != "" {
		cl.push(Frame{ID: msg.ID, Type: TypeAck, Payload: ctrl.View()})
	}
}

func (h *Handler) apply(ctx context.Context, ctrl *session.Controller, msg Message) error {
	switch msg.Type {
	case TypeEdit:
		var p EditPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return ctrl.Edit(session.Edit{Title: p.Title, Content: p.Content, Caret: p.Caret})

	case TypeCaret:
		var p CaretPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return ctrl.MoveCaret(p.Caret)

	case TypeSave:
		return ctrl.Save(ctx)

	case TypeShare:
		var p SharePayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return ctrl.Share(ctx, p.Email, p.Role)

	case TypeCommentAdd:
		var p CommentPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		_, err := ctrl.AddComment(ctx, p.Text)
		return err

	case TypeCommentEdit:
		var p CommentPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return ctrl.EditComment(ctx, p.Index, p.Text)

	case TypeCommentDelete:
		var p CommentPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return ctrl.DeleteComment(ctx, p.Index)

	default:
		return errors.InvalidInput("Unknown message type", nil)
	}
}
