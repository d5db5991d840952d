package application

import (
	"encoding/hex"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

// MapStoreService is one type-specific sub-store of the protected data
// store. Which payload types it accepts is declared through CanHandle, so
// the store can route entries without knowing their persistence format.
type MapStoreService interface {
	CanHandle(entry *domain.ProtectedStorageEntry) bool
	Put(hash string, entry *domain.ProtectedStorageEntry) error
	Remove(hash string) *domain.ProtectedStorageEntry
	GetMap() map[string]*domain.ProtectedStorageEntry
}

// ProtectedDataStoreService aggregates type-specific sub-stores for
// replicated data that can be added and removed by its owner.
type ProtectedDataStoreService struct {
	mtx      sync.RWMutex
	services []MapStoreService
}

// NewProtectedDataStoreService returns an empty aggregate store.
func NewProtectedDataStoreService() *ProtectedDataStoreService {
	return &ProtectedDataStoreService{}
}

// AddService registers a sub-store.
func (s *ProtectedDataStoreService) AddService(service MapStoreService) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.services = append(s.services, service)
}

// Put routes the entry to every sub-store declaring it can handle its
// payload type, after verifying the ownership proof.
func (s *ProtectedDataStoreService) Put(hash string, entry *domain.ProtectedStorageEntry) error {
	if err := entry.VerifyOwnership(); err != nil {
		return err
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()
	for _, service := range s.services {
		if service.CanHandle(entry) {
			if err := service.Put(hash, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remove removes the entry from whichever sub-store holds it, after
// verifying that the remover owns it. It returns the removed entry, if any.
func (s *ProtectedDataStoreService) Remove(
	hash string, entry *domain.ProtectedStorageEntry,
) (*domain.ProtectedStorageEntry, error) {
	if err := entry.VerifyOwnership(); err != nil {
		return nil, err
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()
	var removed *domain.ProtectedStorageEntry
	for _, service := range s.services {
		if service.CanHandle(entry) {
			if r := service.Remove(hash); r != nil {
				removed = r
			}
		}
	}
	return removed, nil
}

// GetMap presents the union view over all sub-stores.
func (s *ProtectedDataStoreService) GetMap() map[string]*domain.ProtectedStorageEntry {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	union := make(map[string]*domain.ProtectedStorageEntry)
	for _, service := range s.services {
		for hash, entry := range service.GetMap() {
			union[hash] = entry
		}
	}
	return union
}

// mapStoreService is the common sub-store implementation: a hash keyed map
// with its own lock, so different payload types can be accessed concurrently
// while put/remove within one type stays serialized.
type mapStoreService struct {
	name      string
	canHandle func(payload domain.ProtectedPayload) bool

	mtx     sync.Mutex
	entries map[string]*domain.ProtectedStorageEntry
}

// NewMapStoreService returns a sub-store accepting the payload types matched
// by the given predicate.
func NewMapStoreService(
	name string, canHandle func(payload domain.ProtectedPayload) bool,
) MapStoreService {
	return &mapStoreService{
		name:      name,
		canHandle: canHandle,
		entries:   make(map[string]*domain.ProtectedStorageEntry),
	}
}

func (s *mapStoreService) CanHandle(entry *domain.ProtectedStorageEntry) bool {
	return entry.Payload != nil && s.canHandle(entry.Payload)
}

func (s *mapStoreService) Put(hash string, entry *domain.ProtectedStorageEntry) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if stored, ok := s.entries[hash]; ok {
		// A replay or a stale update must not clobber a newer entry.
		if entry.SequenceNumber <= stored.SequenceNumber {
			log.Debugf("%s store: ignoring put with stale sequence for %s", s.name, hash)
			return nil
		}
	}
	s.entries[hash] = entry
	return nil
}

func (s *mapStoreService) Remove(hash string) *domain.ProtectedStorageEntry {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	entry, ok := s.entries[hash]
	if !ok {
		return nil
	}
	delete(s.entries, hash)
	return entry
}

func (s *mapStoreService) GetMap() map[string]*domain.ProtectedStorageEntry {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	snapshot := make(map[string]*domain.ProtectedStorageEntry, len(s.entries))
	for hash, entry := range s.entries {
		snapshot[hash] = entry
	}
	return snapshot
}

// AppendOnlyDataStoreService holds replicated payloads that are immutable
// once admitted and identified by content hash. The dataset only grows;
// duplicate admissions are ignored.
type AppendOnlyDataStoreService struct {
	mtx       sync.Mutex
	payloads  map[string]domain.AppendOnlyPayload
	listeners []func(payload domain.AppendOnlyPayload)
}

// NewAppendOnlyDataStoreService returns an empty append-only store.
func NewAppendOnlyDataStoreService() *AppendOnlyDataStoreService {
	return &AppendOnlyDataStoreService{
		payloads: make(map[string]domain.AppendOnlyPayload),
	}
}

// AddListener registers a callback invoked for every newly admitted payload.
func (s *AppendOnlyDataStoreService) AddListener(listener func(payload domain.AppendOnlyPayload)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Put admits a payload and reports whether it was new. Invalid payloads are
// rejected, duplicates silently deduplicated.
func (s *AppendOnlyDataStoreService) Put(payload domain.AppendOnlyPayload) (bool, error) {
	if payload == nil {
		return false, domain.ErrNullPayload
	}
	if !payload.IsValid() {
		return false, domain.ErrInvalidPayload
	}

	hash := hex.EncodeToString(payload.Hash())

	s.mtx.Lock()
	if _, ok := s.payloads[hash]; ok {
		s.mtx.Unlock()
		return false, nil
	}
	s.payloads[hash] = payload
	listeners := make([]func(domain.AppendOnlyPayload), len(s.listeners))
	copy(listeners, s.listeners)
	s.mtx.Unlock()

	// Listeners run outside the lock: one of them may re-inject a converted
	// payload through Put.
	for _, listener := range listeners {
		listener(payload)
	}
	return true, nil
}

// GetMap returns a snapshot of all admitted payloads keyed by hash.
func (s *AppendOnlyDataStoreService) GetMap() map[string]domain.AppendOnlyPayload {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	snapshot := make(map[string]domain.AppendOnlyPayload, len(s.payloads))
	for hash, payload := range s.payloads {
		snapshot[hash] = payload
	}
	return snapshot
}
