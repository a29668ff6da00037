package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
)

const (
	// DefaultGCInterval is how often the value log garbage collector runs.
	DefaultGCInterval = 5 * time.Minute

	// gcDiscardRatio is the rewrite threshold passed to Badger's value
	// log GC. A log file is rewritten when at least this fraction of it
	// is stale.
	gcDiscardRatio = 0.5
)

// Config controls how the store opens its Badger database.
type Config struct {
	// Dir is the database directory. Created if missing.
	Dir string

	// SyncWrites forces an fsync on every commit. Slower, safer.
	SyncWrites bool

	// GCInterval overrides DefaultGCInterval when positive.
	GCInterval time.Duration

	// Logger receives Badger's internal log lines. Defaults to the
	// package default logger.
	Logger logger.Logger
}

// snapshotRecord is the persisted form of a room snapshot.
type snapshotRecord struct {
	VectorClock domain.VectorClock `json:"vector_clock"`
	SavedAt     float64            `json:"saved_at"`
}

// Store is the durable message log, snapshot table, and peer registry,
// all backed by a single Badger database. Messages are immutable and
// keyed by id; secondary indexes keep them readable in timestamp order
// per room and globally. All methods are safe for concurrent use.
type Store struct {
	db  *badger.DB
	log logger.Logger

	gcInterval time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// Open opens (or creates) the database under cfg.Dir and starts the
// value log GC loop. The caller owns the store and must Close it.
func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = &badgerLogger{log: log.With("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Dir, err)
	}

	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = DefaultGCInterval
	}

	s := &Store{
		db:         db,
		log:        log,
		gcInterval: gcInterval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go s.gcLoop()

	log.Info("store opened", "dir", cfg.Dir, "sync_writes", cfg.SyncWrites)
	return s, nil
}

// Close stops the GC loop and closes the database. Safe to call once.
func (s *Store) Close() error {
	close(s.stopCh)
	<-s.doneCh
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	s.log.Info("store closed")
	return nil
}

// AddMessage persists a message and its index entries. A message whose
// id is already stored is left untouched and the call reports success,
// so replaying the same message any number of times is harmless.
func (s *Store) AddMessage(ctx context.Context, msg *domain.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return domain.ErrStorageUnavailable.WithDetails("encode message").WithCause(err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := messageKey(msg.ID)
		_, getErr := txn.Get(key)
		if getErr == nil {
			return nil // duplicate, keep the stored copy
		}
		if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}

		if setErr := txn.Set(key, raw); setErr != nil {
			return setErr
		}
		if setErr := txn.Set(roomIndexKey(msg.RoomID, msg.CreatedAt, msg.ID), []byte(msg.ID)); setErr != nil {
			return setErr
		}
		if setErr := txn.Set(timeIndexKey(msg.CreatedAt, msg.ID), []byte(msg.ID)); setErr != nil {
			return setErr
		}
		return txn.Set(roomSetKey(msg.RoomID), nil)
	})
	if errors.Is(err, badger.ErrConflict) {
		// Two writers raced on the same id; one copy is stored, which
		// is all idempotent insert promises.
		return nil
	}
	if err != nil {
		return domain.ErrStorageUnavailable.WithDetails("add message").WithCause(err)
	}
	return nil
}

// MessageExists reports whether a message id is already stored.
func (s *Store) MessageExists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, getErr := txn.Get(messageKey(id))
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		found = true
		return nil
	})
	if err != nil {
		return false, domain.ErrStorageUnavailable.WithDetails("message lookup").WithCause(err)
	}
	return found, nil
}

// Message loads one message by id. Returns ErrMessageNotFound when the
// id is unknown.
func (s *Store) Message(ctx context.Context, id string) (*domain.Message, error) {
	var msg *domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		m, getErr := getMessage(txn, id)
		if getErr != nil {
			return getErr
		}
		msg = m
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrMessageNotFound.WithDetails(id)
	}
	if err != nil {
		return nil, domain.ErrStorageUnavailable.WithDetails("message lookup").WithCause(err)
	}
	return msg, nil
}

// AllMessages returns stored messages across every room in ascending
// timestamp order. limit <= 0 means no limit, offset < 0 reads from
// the start.
func (s *Store) AllMessages(ctx context.Context, limit, offset int) ([]*domain.Message, error) {
	return s.scanIndex(ctx, []byte(prefixTimeIdx), nil, limit, offset)
}

// RoomMessages returns one room's messages in ascending timestamp
// order. limit <= 0 means no limit, offset < 0 reads from the start.
func (s *Store) RoomMessages(ctx context.Context, roomID string, limit, offset int) ([]*domain.Message, error) {
	return s.scanIndex(ctx, roomIndexPrefix(roomID), nil, limit, offset)
}

// MessagesAfter returns a room's messages with CreatedAt strictly
// greater than after, ascending. It seeks straight to the timestamp in
// the room index instead of scanning from the start.
func (s *Store) MessagesAfter(ctx context.Context, roomID string, after float64) ([]*domain.Message, error) {
	prefix := roomIndexPrefix(roomID)
	seek := append(append([]byte{}, prefix...), encodeTimestamp(after)...)

	var out []*domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.Valid(); it.Next() {
			id, valErr := it.Item().ValueCopy(nil)
			if valErr != nil {
				return valErr
			}
			msg, getErr := getMessage(txn, string(id))
			if getErr != nil {
				return getErr
			}
			// The seek lands on the first key at the after timestamp
			// itself; skip until strictly past it.
			if msg.CreatedAt <= after {
				continue
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable.WithDetails("messages after").WithCause(err)
	}
	return out, nil
}

// scanIndex walks an index prefix resolving ids to message records.
func (s *Store) scanIndex(ctx context.Context, prefix, seek []byte, limit, offset int) ([]*domain.Message, error) {
	if seek == nil {
		seek = prefix
	}
	var out []*domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			if skipped < offset {
				skipped++
				continue
			}
			id, valErr := it.Item().ValueCopy(nil)
			if valErr != nil {
				return valErr
			}
			msg, getErr := getMessage(txn, string(id))
			if getErr != nil {
				return getErr
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable.WithDetails("message scan").WithCause(err)
	}
	return out, nil
}

func getMessage(txn *badger.Txn, id string) (*domain.Message, error) {
	item, err := txn.Get(messageKey(id))
	if err != nil {
		return nil, err
	}
	var msg domain.Message
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SaveSnapshot upserts a room's vector clock snapshot, stamping it
// with the current time. The previous snapshot, if any, is replaced.
func (s *Store) SaveSnapshot(ctx context.Context, roomID string, clock domain.VectorClock) error {
	record := snapshotRecord{
		VectorClock: clock.Clone(),
		SavedAt:     domain.TimestampNow(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return domain.ErrStorageUnavailable.WithDetails("encode snapshot").WithCause(err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if setErr := txn.Set(snapshotKey(roomID), raw); setErr != nil {
			return setErr
		}
		return txn.Set(roomSetKey(roomID), nil)
	})
	if err != nil {
		return domain.ErrStorageUnavailable.WithDetails("save snapshot").WithCause(err)
	}
	return nil
}

// LoadSnapshot returns a room's snapshot clock and the time it was
// taken. A room with no snapshot yields (nil, 0, nil), which recovery
// treats as "replay everything".
func (s *Store) LoadSnapshot(ctx context.Context, roomID string) (domain.VectorClock, float64, error) {
	var record snapshotRecord
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(snapshotKey(roomID))
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, 0, domain.ErrStorageUnavailable.WithDetails("load snapshot").WithCause(err)
	}
	if !found {
		return nil, 0, nil
	}
	return record.VectorClock, record.SavedAt, nil
}

// RoomIDs lists every room that has at least one message or snapshot.
func (s *Store) RoomIDs(ctx context.Context) ([]string, error) {
	var rooms []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRoomSet)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rooms = append(rooms, roomFromSetKey(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable.WithDetails("room scan").WithCause(err)
	}
	return rooms, nil
}

// AddPeer upserts a replication peer for a room, refreshing its
// last-seen time.
func (s *Store) AddPeer(ctx context.Context, roomID, peerURL string) error {
	record := domain.Peer{
		RoomID:   roomID,
		URL:      peerURL,
		LastSeen: domain.TimestampNow(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return domain.ErrStorageUnavailable.WithDetails("encode peer").WithCause(err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(peerKey(roomID, peerURL), raw)
	})
	if err != nil {
		return domain.ErrStorageUnavailable.WithDetails("add peer").WithCause(err)
	}
	return nil
}

// Peers lists the replication peers registered for a room.
func (s *Store) Peers(ctx context.Context, roomID string) ([]domain.Peer, error) {
	var peers []domain.Peer
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = peerPrefix(roomID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p domain.Peer
			if valErr := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); valErr != nil {
				return valErr
			}
			peers = append(peers, p)
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorageUnavailable.WithDetails("peer scan").WithCause(err)
	}
	return peers, nil
}

// RegisterMetrics exposes database size gauges on the given registry.
func (s *Store) RegisterMetrics(registry *prometheus.Registry) *Store {
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chatmesh",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Size of the Badger LSM tree in bytes.",
		}, func() float64 {
			lsm, _ := s.db.Size()
			return float64(lsm)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chatmesh",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Size of the Badger value log in bytes.",
		}, func() float64 {
			_, vlog := s.db.Size()
			return float64(vlog)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chatmesh",
			Subsystem: "badger",
			Name:      "total_size_bytes",
			Help:      "Combined LSM and value log size in bytes.",
		}, func() float64 {
			lsm, vlog := s.db.Size()
			return float64(lsm + vlog)
		}),
	)
	return s
}

// gcLoop periodically rewrites stale value log files. Badger never
// runs this on its own.
func (s *Store) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(gcDiscardRatio)
			switch {
			case err == nil:
				s.log.Debug("value log gc rewrote a file")
			case errors.Is(err, badger.ErrNoRewrite):
				// Nothing worth rewriting this round.
			default:
				s.log.Warn("value log gc failed", "error", err)
			}
		}
	}
}

// badgerLogger adapts Badger's printf-style logger onto ours.
type badgerLogger struct {
	log logger.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.log.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.log.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.log.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.log.Debug(fmt.Sprintf(format, args...))
}
