package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Well-known keys for durable local state.
const (
	KeyFailedPrintQueue        = "failed_print_queue"
	KeyOnlineOrdersLastFetched = "online_orders_last_fetched"
	KeyOnlineOrdersBoundary    = "online_orders_boundary"
	KeyRegisterSettings        = "register_settings"
	KeyCredentialPrefix        = "pairing_credential_"
)

const maintenanceInterval = 10 * time.Minute

// Store keeps small JSON documents under fixed keys. Every document is read and
// written whole; there is no partial update.
type Store struct {
	db     *badger.DB
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger
}

func NewStore(dir string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = NopLogger()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// Badger flocks the directory itself; a LOCK file left by a dead process
	// does not block Open and must not be removed while another one runs.
	opts := badger.DefaultOptions(dir).
		WithValueLogFileSize(1 << 20). // 1MB value log files
		WithMemTableSize(8 << 20).
		WithNumMemtables(2).
		WithNumCompactors(2).
		WithSyncWrites(true). // print queue must survive a power cut
		WithBlockCacheSize(8 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	store := &Store{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	go store.maintenanceWorker()

	return store, nil
}

// Load decodes the document stored under key into v. It reports false when
// the key has never been written.
func (s *Store) Load(key string, v any) (bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Save replaces the document stored under key.
func (s *Store) Save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	s.logger.Debugf("Saved %s (%d bytes)", key, len(data))
	return nil
}

func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every stored key starting with prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false // Key-only scan
		it := txn.NewIterator(itOpts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) maintenanceWorker() {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance()
		}
	}
}

func (s *Store) runMaintenance() {
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		s.logger.Errorf("Store value log GC failed: %v", err)
	}

	lsm, vlog := s.db.Size()
	s.logger.Debugf("Store size: lsm=%d KB vlog=%d KB", lsm/1024, vlog/1024)
}

func (s *Store) Close() error {
	s.cancel()
	return s.db.Close()
}

// CredentialKey is the store key holding the pairing credential of provider.
func CredentialKey(provider string) string {
	return KeyCredentialPrefix + strings.ToLower(provider)
}
