package pgstore

import (
	"collaborative-office-suite/internal/store"
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultChannel = "document_changes"

// Notifier is a store.Broker over postgres LISTEN/NOTIFY, so instances sharing
// a database see each other's writes without redis.
type Notifier struct {
	db      *gorm.DB
	dsn     string
	channel string
	log     *zap.Logger
}

func NewNotifier(db *gorm.DB, dsn string, log *zap.Logger) *Notifier {
	return &Notifier{
		db:      db,
		dsn:     dsn,
		channel: DefaultChannel,
		log:     log,
	}
}

func (n *Notifier) Publish(ctx context.Context, change store.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", n.channel, string(payload)).Error
}

func (n *Notifier) Listen(ctx context.Context, handle func(store.Change)) error {
	listener := pq.NewListener(n.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.log.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(n.channel); err != nil {
		return err
	}

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-listener.Notify:
			// nil after a reconnect
			if note == nil {
				continue
			}
			change, err := decodeChange(note.Extra)
			if err != nil {
				n.log.Warn("dropping malformed change", zap.String("payload", note.Extra), zap.Error(err))
				continue
			}
			handle(change)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					n.log.Warn("postgres listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func decodeChange(payload string) (store.Change, error) {
	var change store.Change
	err := json.Unmarshal([]byte(payload), &change)
	return change, err
}
