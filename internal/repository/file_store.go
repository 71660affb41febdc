package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
)

// fileRecord is the on-disk shape of one subscriber. The layout matches the
// JSON database already used by deployed bots so existing data
// files load unchanged.
type fileRecord struct {
	ExpiryTS    int64  `json:"expiry_ts"`
	LastPayment string `json:"last_payment"`
	Status      string `json:"status"`
	ExpiredAt   string `json:"expired_at,omitempty"`
}

// FileStore keeps every subscriber in a single JSON document. Each Upsert
// rewrites the whole document to a temporary file and renames it over the
// canonical path, so the file on disk is always a complete committed state.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	records map[string]domain.Subscriber
	log     *logger.Logger

	// write persists the encoded document. Replaced in tests.
	write func(path string, data []byte) error
}

// OpenFileStore loads path (creating its directory if needed). A missing
// file yields an empty store; an unreadable or corrupt file is an error.
func OpenFileStore(path string, log *logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.NewStoreError("open", "", fmt.Errorf("creating data directory: %w", err))
	}

	// A leftover temporary file means a previous process died mid-write.
	// The canonical file is still the last committed state.
	if err := os.Remove(path + ".tmp"); err == nil {
		log.Warnw("Removed stale temporary store file", "path", path+".tmp")
	}

	records, err := loadFile(path)
	if err != nil {
		return nil, domain.NewStoreError("open", "", err)
	}

	log.Infow("Subscriber file store opened", "path", path, "records", len(records))
	return &FileStore{
		path:    path,
		records: records,
		log:     log,
		write:   writeFileAtomic,
	}, nil
}

func loadFile(path string) (map[string]domain.Subscriber, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]domain.Subscriber), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	records := make(map[string]domain.Subscriber, len(raw))
	for identity, fr := range raw {
		rec, err := fr.toDomain(identity)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: record %q: %w", path, identity, err)
		}
		records[identity] = rec
	}
	return records, nil
}

func (fr fileRecord) toDomain(identity string) (domain.Subscriber, error) {
	rec := domain.Subscriber{
		Identity:  identity,
		ExpiresAt: time.Unix(fr.ExpiryTS, 0).UTC(),
		Status:    domain.SubscriberStatus(fr.Status),
	}
	if !rec.Status.Valid() {
		return domain.Subscriber{}, fmt.Errorf("unknown status %q", fr.Status)
	}
	if fr.LastPayment != "" {
		t, err := time.Parse(time.RFC3339Nano, fr.LastPayment)
		if err != nil {
			return domain.Subscriber{}, fmt.Errorf("last_payment: %w", err)
		}
		rec.LastPaymentAt = t
	}
	if fr.ExpiredAt != "" {
		t, err := time.Parse(time.RFC3339Nano, fr.ExpiredAt)
		if err != nil {
			return domain.Subscriber{}, fmt.Errorf("expired_at: %w", err)
		}
		rec.ExpiredAt = &t
	}
	return rec, nil
}

func toFileRecord(rec domain.Subscriber) fileRecord {
	fr := fileRecord{
		ExpiryTS: rec.ExpiresAt.Unix(),
		Status:   string(rec.Status),
	}
	if !rec.LastPaymentAt.IsZero() {
		fr.LastPayment = rec.LastPaymentAt.Format(time.RFC3339Nano)
	}
	if rec.ExpiredAt != nil {
		fr.ExpiredAt = rec.ExpiredAt.Format(time.RFC3339Nano)
	}
	return fr
}

// Get returns the committed record for identity
func (s *FileStore) Get(ctx context.Context, identity string) (domain.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return domain.Subscriber{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[identity]
	if !ok {
		return domain.Subscriber{}, ErrNotFound
	}
	return rec, nil
}

// Upsert writes rec and commits the whole document. On failure the previous
// committed state stays visible to readers.
func (s *FileStore) Upsert(ctx context.Context, rec domain.Subscriber) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecord(rec); err != nil {
		return fmt.Errorf("upsert %q: %w", rec.Identity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.records[rec.Identity]
	s.records[rec.Identity] = rec

	if err := s.flushLocked(); err != nil {
		if existed {
			s.records[rec.Identity] = previous
		} else {
			delete(s.records, rec.Identity)
		}
		s.log.Errorw("Failed to persist subscriber", "identity", rec.Identity, "error", err)
		return domain.NewStoreError("upsert", rec.Identity, err)
	}

	s.log.Debugw("Subscriber persisted", "identity", rec.Identity, "status", rec.Status)
	return nil
}

func (s *FileStore) flushLocked() error {
	doc := make(map[string]fileRecord, len(s.records))
	for identity, rec := range s.records {
		doc[identity] = toFileRecord(rec)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	return s.write(s.path, append(data, '\n'))
}

// ScanAll returns every record sorted by identity
func (s *FileStore) ScanAll(ctx context.Context) ([]domain.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Subscriber, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// Close is a no-op; every Upsert is already durable.
func (s *FileStore) Close() error {
	return nil
}

// writeFileAtomic writes data to path.tmp, fsyncs it, renames it over path
// and fsyncs the directory so the rename survives power loss.
func writeFileAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary store file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary store file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary store file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary store file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming store file into place: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
