package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/cache"
	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/ring"
	"github.com/devrev/ringkv/internal/storage/filestore"
	"github.com/devrev/ringkv/internal/util"
)

// CacheConfig holds cache configuration
type CacheConfig struct {
	Strategy cache.Strategy
	Size     int
}

// NodeInfo is a point-in-time summary of a node
type NodeInfo struct {
	Name          string         `json:"name"`
	Host          string         `json:"host"`
	Port          int            `json:"port"`
	CacheStrategy cache.Strategy `json:"cache_strategy"`
	CacheSize     int            `json:"cache_size"`
	CacheEntries  int            `json:"cache_entries"`
	WriteLocked   bool           `json:"write_locked"`
	RangeStart    util.Hash      `json:"range_start"`
	RangeEnd      util.Hash      `json:"range_end"`
	RingSize      int            `json:"ring_size"`
}

// KeyLocation describes where a key lives as seen by one node
type KeyLocation struct {
	Key         string    `json:"key"`
	Hash        util.Hash `json:"hash"`
	Owner       string    `json:"owner"`
	Responsible bool      `json:"responsible"`
	InCache     bool      `json:"in_cache"`
	InStorage   bool      `json:"in_storage"`
}

// StorageService is a storage node: a bounded cache in front of a file
// store, the node's ring metadata and its write lock. One mutex covers all
// of it, so every key-value operation on a node is serialized.
type StorageService struct {
	mu          sync.Mutex
	cache       cache.Cache
	cacheCfg    CacheConfig
	store       *filestore.Store
	writeLocked bool
	metadata    model.NodeDescriptor
	ring        *ring.Ring

	migration     *MigrationService
	lockListeners []func(locked bool)

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewStorageService creates a node serving from store with an empty cache
func NewStorageService(
	store *filestore.Store,
	cacheCfg CacheConfig,
	self model.NodeDescriptor,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*StorageService, error) {
	s := &StorageService{
		cacheCfg: cacheCfg,
		store:    store,
		metadata: self,
		metrics:  m,
		logger:   logger,
	}

	c, err := s.newCache()
	if err != nil {
		return nil, err
	}
	s.cache = c
	return s, nil
}

// SetMigrationService sets the service used by MoveData
func (s *StorageService) SetMigrationService(ms *MigrationService) {
	s.migration = ms
}

// OnWriteLockChange registers fn to be called after the write lock flips.
// Listeners run with the node lock held and must not call back into the node.
func (s *StorageService) OnWriteLockChange(fn func(locked bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockListeners = append(s.lockListeners, fn)
}

func (s *StorageService) newCache() (cache.Cache, error) {
	c, err := cache.New(s.cacheCfg.Strategy, s.cacheCfg.Size, func(key, _ string) {
		s.metrics.RecordCacheEviction()
		s.logger.Debug("Cache eviction", zap.String("key", key))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return c, nil
}

// Get returns the value of key from the cache, falling back to the store.
// A store hit does not populate the cache.
func (s *StorageService) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheHit()
		s.logger.Debug("Cache hit", zap.String("key", key))
		return value, nil
	}
	s.metrics.RecordCacheMiss()

	value, err := s.store.Read(key)
	if err != nil {
		if !errors.IsNotFound(err) {
			s.logger.Error("Store read failed", zap.String("key", key), zap.Error(err))
		}
		return "", err
	}
	return value, nil
}

// Put writes key through the cache to the store and reports whether the key
// was already stored. While the node is write locked nothing changes and
// no error is returned.
func (s *StorageService) Put(key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := s.store.Exists(key)
	if s.writeLocked {
		s.logger.Debug("Put ignored while write locked", zap.String("key", key))
		return existed, nil
	}

	if err := s.store.Write(key, value); err != nil {
		s.logger.Error("Store write failed", zap.String("key", key), zap.Error(err))
		return existed, err
	}
	s.cache.Set(key, value)
	s.metrics.UpdateCacheEntries(s.cache.Len())

	s.logger.Debug("Put completed",
		zap.String("key", key),
		zap.Bool("updated", existed))
	return existed, nil
}

// Delete removes key from the cache and the store and reports whether a
// stored record existed. While the node is write locked nothing changes.
func (s *StorageService) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeLocked {
		s.logger.Debug("Delete ignored while write locked", zap.String("key", key))
		return s.store.Exists(key), nil
	}

	s.cache.Delete(key)
	s.metrics.UpdateCacheEntries(s.cache.Len())

	existed, err := s.store.Delete(key)
	if err != nil {
		s.logger.Error("Store delete failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return existed, nil
}

// InStorage reports whether key has a stored record
func (s *StorageService) InStorage(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Exists(key)
}

// InCache reports whether key is cached without affecting eviction order
func (s *StorageService) InCache(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(key)
}

// ClearCache replaces the cache with an empty one of the same strategy and
// capacity
func (s *StorageService) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the configuration was accepted by NewStorageService
	c, _ := s.newCache()
	s.cache = c
	s.metrics.UpdateCacheEntries(0)
	s.logger.Info("Cache cleared")
}

// ClearStorage removes every stored record. The cache is left as is.
func (s *StorageService) ClearStorage() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		s.logger.Error("Failed to clear storage", zap.Error(err))
		return err
	}
	s.logger.Info("Storage cleared")
	return nil
}

// LockWrite makes Put and Delete no-ops until UnlockWrite
func (s *StorageService) LockWrite() {
	s.setWriteLock(true)
}

// UnlockWrite re-enables writes
func (s *StorageService) UnlockWrite() {
	s.setWriteLock(false)
}

func (s *StorageService) setWriteLock(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeLocked == locked {
		return
	}
	s.writeLocked = locked
	s.metrics.UpdateWriteLock(locked)
	for _, fn := range s.lockListeners {
		fn(locked)
	}
	s.logger.Info("Write lock changed", zap.Bool("locked", locked))
}

// IsWriteLocked reports whether writes are currently ignored
func (s *StorageService) IsWriteLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked
}

// UpdateMetadata replaces the node's descriptor
func (s *StorageService) UpdateMetadata(desc model.NodeDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metadata = desc
	s.logger.Info("Metadata updated",
		zap.String("node", desc.Name),
		zap.String("range", desc.Range().String()))
}

// UpdateRing replaces the ring metadata. If the ring contains this node its
// descriptor replaces the node's own.
func (s *StorageService) UpdateRing(r *ring.Ring) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring = r
	if self, ok := r.Lookup(s.metadata.Name); ok {
		s.metadata = self
	}
	s.logger.Info("Ring updated",
		zap.Int("nodes", r.Len()),
		zap.String("range", s.metadata.Range().String()))
}

// Metadata returns the node's current descriptor
func (s *StorageService) Metadata() model.NodeDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

// Ring returns the ring metadata last applied, or nil
func (s *StorageService) Ring() *ring.Ring {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring
}

// IsResponsible reports whether key hashes into the node's range
func (s *StorageService) IsResponsible(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata.Owns(util.HashString(key))
}

// Locate reports the ring owner of key and whether this node holds it.
// Without a ring the node considers itself the owner of every key.
func (s *StorageService) Locate(key string) KeyLocation {
	loc := KeyLocation{
		Key:         key,
		Hash:        util.HashString(key),
		Responsible: s.IsResponsible(key),
		InCache:     s.InCache(key),
		InStorage:   s.InStorage(key),
	}
	if owner, ok := s.Ring().Owner(key); ok {
		loc.Owner = owner.Name
	} else {
		loc.Owner = s.Metadata().Name
	}
	return loc
}

// Info returns a summary of the node
func (s *StorageService) Info() NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return NodeInfo{
		Name:          s.metadata.Name,
		Host:          s.metadata.Host,
		Port:          s.metadata.Port,
		CacheStrategy: s.cacheCfg.Strategy,
		CacheSize:     s.cacheCfg.Size,
		CacheEntries:  s.cache.Len(),
		WriteLocked:   s.writeLocked,
		RangeStart:    s.metadata.RangeStart,
		RangeEnd:      s.metadata.RangeEnd,
		RingSize:      s.ring.Len(),
	}
}

// MoveData copies every stored key whose hash lies strictly inside r to
// the ring member named target. Keys are not removed locally.
func (s *StorageService) MoveData(ctx context.Context, r model.HashRange, target string) (*MigrationResult, error) {
	if s.migration == nil {
		return nil, errors.Unavailable("migration is not configured", nil)
	}
	return s.migration.Migrate(ctx, s, r, target)
}

type kvPair struct {
	key   string
	value string
}

// resolve returns the ring member named name
func (s *StorageService) resolve(name string) (model.NodeDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if desc, ok := s.ring.Lookup(name); ok {
		return desc, nil
	}
	return model.NodeDescriptor{}, errors.UnknownNode(name)
}

// snapshotRange enumerates and reads every stored key inside r under the
// node lock. It also returns the number of keys scanned.
func (s *StorageService) snapshotRange(r model.HashRange) ([]kvPair, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.ListKeys()
	if err != nil {
		return nil, 0, err
	}
	s.metrics.UpdateStoredKeys(len(keys))

	var pairs []kvPair
	for _, key := range keys {
		if !r.Contains(util.HashString(key)) {
			continue
		}
		value, err := s.store.Read(key)
		if err != nil {
			return nil, len(keys), err
		}
		pairs = append(pairs, kvPair{key: key, value: value})
	}
	return pairs, len(keys), nil
}
