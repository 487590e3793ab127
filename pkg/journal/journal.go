// Package journal records the packets of server sessions in a BadgerDB store.
//
// Each session is keyed by its worker ID. Packets are stored under the session
// with a per-session sequence number, so a session can be read back in arrival
// order.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/framekit/internal/logger"
)

// ErrSessionNotFound is returned for a session the journal has no record of.
var ErrSessionNotFound = errors.New("journal: session not found")

// Config configures a journal Store.
type Config struct {
	// Path is the BadgerDB directory. Empty keeps the journal in memory.
	Path string `mapstructure:"path"`

	// SyncWrites fsyncs every append. Slower but survives a crash.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// Session describes one recorded connection.
type Session struct {
	ID         uuid.UUID `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Started    time.Time `json:"started"`
	Packets    uint64    `json:"packets"`
	Bytes      uint64    `json:"bytes"`
}

// Store is a packet journal. It is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a journal.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithCompression(options.None).
		WithLogger(badgerLogger{}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %q: %w", cfg.Path, err)
	}

	return &Store{db: db}, nil
}

// BeginSession records the start of a session.
func (s *Store) BeginSession(id uuid.UUID, remoteAddr string) error {
	data, err := json.Marshal(&Session{
		ID:         id,
		RemoteAddr: remoteAddr,
		Started:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySession(id), data)
	})
}

// Append stores payload as packet seq of session id and updates the session
// counters. The session must have been started with BeginSession.
func (s *Store) Append(id uuid.UUID, seq uint64, payload []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		session, err := getSession(txn, id)
		if err != nil {
			return err
		}

		if err := txn.Set(keyPacket(id, seq), payload); err != nil {
			return fmt.Errorf("failed to store packet %d: %w", seq, err)
		}

		session.Packets++
		session.Bytes += uint64(len(payload))
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		return txn.Set(keySession(id), data)
	})
}

// Session returns the record of session id.
func (s *Store) Session(id uuid.UUID) (*Session, error) {
	var session *Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		session, err = getSession(txn, id)
		return err
	})
	return session, err
}

// Sessions returns every recorded session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSession)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var session Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			}); err != nil {
				return fmt.Errorf("failed to decode session: %w", err)
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys are random UUIDs, so store order says nothing about age.
	slices.SortStableFunc(sessions, func(a, b Session) int {
		return a.Started.Compare(b.Started)
	})
	return sessions, nil
}

// Packets calls fn with every packet of session id, in sequence order.
// The payload passed to fn is a copy owned by the callee. Iteration stops at
// the first error fn returns.
func (s *Store) Packets(ctx context.Context, id uuid.UUID, fn func(seq uint64, payload []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		if _, err := getSession(txn, id); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPacketPrefix(id)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			seq, ok := seqFromKey(item.Key())
			if !ok {
				continue
			}

			payload, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read packet %d: %w", seq, err)
			}
			if err := fn(seq, payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close flushes and closes the journal.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

func getSession(txn *badger.Txn, id uuid.UUID) (*Session, error) {
	item, err := txn.Get(keySession(id))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var session Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &session)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &session, nil
}

// badgerLogger routes BadgerDB's own logging through the framekit logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, v ...any) {
	logger.Error("badger: %s", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (badgerLogger) Warningf(format string, v ...any) {
	logger.Warn("badger: %s", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (badgerLogger) Infof(format string, v ...any) {
	logger.Debug("badger: %s", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (badgerLogger) Debugf(format string, v ...any) {
	logger.Debug("badger: %s", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
