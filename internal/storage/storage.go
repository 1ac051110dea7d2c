package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"SimFed/internal/logger"
)

// Options tunes the store. Zero values select the defaults.
type Options struct {
	CacheSize    int64         // CacheSize is the block cache size in bytes (default 32 MB)
	MemTableSize uint64        // MemTableSize is the memtable size in bytes (default 16 MB)
	SyncInterval time.Duration // SyncInterval is the WAL sync period (default 100ms)
}

func (o Options) withDefaults() Options {
	if o.CacheSize <= 0 {
		o.CacheSize = 32 << 20
	}

	if o.MemTableSize == 0 {
		o.MemTableSize = 16 << 20
	}

	if o.SyncInterval <= 0 {
		o.SyncInterval = 100 * time.Millisecond
	}

	return o
}

// KeyValue is one pair of a batch write.
type KeyValue struct {
	Key   []byte // Key is the key to store
	Value []byte // Value is the value to store
}

// Storage is a key-value store backed by Pebble, holding checkpoints and certificates.
// Writes do not wait for the disk; a background loop syncs the WAL periodically
// and Close syncs one last time.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	interval time.Duration // interval is the WAL sync period
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
	once     sync.Once
}

// Open opens or creates a store at path.
func Open(path string, opts Options) (*Storage, error) {
	opts = opts.withDefaults()

	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       cache,
		MemTableSize:                opts.MemTableSize,
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	s := &Storage{
		db:       db,
		interval: opts.SyncInterval,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop()

	return s, nil
}

// Get returns a copy of the value for key, nil when the key is absent.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get %q:\n%w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)

	return out, nil
}

// Set stores a pair.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Delete removes a key.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// SetBatch writes every pair or none.
func (s *Storage) SetBatch(pairs []KeyValue) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return fmt.Errorf("batch set %q:\n%w", kv.Key, err)
		}
	}

	return batch.Commit(pebble.NoSync)
}

// DeletePrefix removes every key starting with prefix.
func (s *Storage) DeletePrefix(prefix []byte) error {
	upper := prefixUpperBound(prefix)
	if upper == nil {
		return fmt.Errorf("refusing to delete unbounded prefix %q", prefix)
	}

	return s.db.DeleteRange(prefix, upper, pebble.NoSync)
}

// IteratePrefix calls fn for each pair whose key starts with prefix, in key order.
// Key and value are only valid during the call. An error from fn stops the scan.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("open iterator:\n%w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound is the exclusive upper bound of a prefix scan, nil when the
// prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close stops the sync loop, syncs and closes the database. Later calls are no-ops.
func (s *Storage) Close() error {
	var err error

	s.once.Do(func() {
		close(s.stopSync)
		s.wg.Wait()

		if syncErr := s.sync(); syncErr != nil {
			err = fmt.Errorf("final sync:\n%w", syncErr)
			_ = s.db.Close()

			return
		}

		err = s.db.Close()
	})

	return err
}

func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.sync(); err != nil {
					logger.Warn("storage sync failed", "error", err)
				}
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
