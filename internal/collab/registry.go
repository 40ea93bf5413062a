package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrRoomOrgMismatch indicates that an existing room for the document is
	// bound to a different organization than the caller supplied.
	ErrRoomOrgMismatch = errors.New("collab: room bound to a different organization")
)

// RegistryConfig describes the dependencies shared by every room a Registry
// creates.
type RegistryConfig struct {
	Database            *gorm.DB
	Clock               func() time.Time
	IDProvider          IDProvider
	CompactionThreshold CompactionThreshold
	Logger              *zap.Logger
}

// Registry is the single point of truth for active collaboration rooms.
// It is injected at the composition root and owns room lifecycle; rooms are
// created lazily on first connection and live until deleted or shutdown.
type Registry struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	threshold  CompactionThreshold
	logger     *zap.Logger

	mu       sync.Mutex
	rooms    map[DocumentID]*Room
	docLocks map[DocumentID]*docLock
}

// docLock serializes room creation and deletion for one document. holders
// counts goroutines that acquired the entry; the entry is dropped from the
// registry map when the last holder releases it, so the map does not grow
// with every document id ever seen.
type docLock struct {
	mu      sync.Mutex
	holders int
}

// NewRegistry validates the configuration and returns a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Registry{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		threshold:  cfg.CompactionThreshold,
		logger:     logger,
		rooms:      make(map[DocumentID]*Room),
		docLocks:   make(map[DocumentID]*docLock),
	}, nil
}

// GetOrCreate returns the active room for the document, creating and
// starting one when none exists. Creation is serialized per document, so
// concurrent first connections resolve to a single room, and a room that
// fails to start is never registered. A cache hit with a different
// organization than the room was created with is rejected.
func (registry *Registry) GetOrCreate(ctx context.Context, docID DocumentID, orgID OrgID, principal PrincipalID) (*Room, error) {
	lock := registry.lockFor(docID)
	lock.mu.Lock()
	defer registry.releaseLock(docID, lock)

	if room, exists := registry.lookup(docID); exists {
		if room.OrgID() != orgID {
			return nil, ErrRoomOrgMismatch
		}
		return room, nil
	}

	store, err := NewUpdateStore(UpdateStoreConfig{
		Database:            registry.db,
		DocumentID:          docID,
		OrgID:               orgID,
		ActingPrincipal:     principal,
		CompactionThreshold: registry.threshold,
		Clock:               registry.clock,
		IDProvider:          registry.idProvider,
		Logger:              registry.logger,
	})
	if err != nil {
		return nil, err
	}

	room, err := NewRoom(RoomConfig{Store: store, Logger: registry.logger})
	if err != nil {
		return nil, err
	}
	if err := room.Start(ctx); err != nil {
		return nil, err
	}

	registry.mu.Lock()
	registry.rooms[docID] = room
	registry.mu.Unlock()

	registry.logger.Info("room created",
		zap.String(fieldDocID, docID.String()),
		zap.String(fieldOrgID, orgID.String()),
		zap.String(fieldPrincipalID, principal.String()))
	return room, nil
}

// StoreFor returns an UpdateStore for the document built from the registry's
// shared dependencies. The store reads and writes the same update log an
// active room would; no room is created or required.
func (registry *Registry) StoreFor(docID DocumentID, orgID OrgID, principal PrincipalID) (*UpdateStore, error) {
	return NewUpdateStore(UpdateStoreConfig{
		Database:            registry.db,
		DocumentID:          docID,
		OrgID:               orgID,
		ActingPrincipal:     principal,
		CompactionThreshold: registry.threshold,
		Clock:               registry.clock,
		IDProvider:          registry.idProvider,
		Logger:              registry.logger,
	})
}

// Delete stops and removes the room for the document. Persisted updates are
// untouched; absence is a no-op.
func (registry *Registry) Delete(ctx context.Context, docID DocumentID) {
	lock := registry.lockFor(docID)
	lock.mu.Lock()
	defer registry.releaseLock(docID, lock)

	registry.mu.Lock()
	room, exists := registry.rooms[docID]
	if exists {
		delete(registry.rooms, docID)
	}
	registry.mu.Unlock()

	if !exists {
		return
	}
	room.Stop(ctx)
	registry.logger.Info("room deleted", zap.String(fieldDocID, docID.String()))
}

// RoomCount returns the number of active rooms.
func (registry *Registry) RoomCount() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.rooms)
}

// Rooms returns a snapshot of the active rooms.
func (registry *Registry) Rooms() []*Room {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	rooms := make([]*Room, 0, len(registry.rooms))
	for _, room := range registry.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// HasRoom reports whether an active room exists for the document.
func (registry *Registry) HasRoom(docID DocumentID) bool {
	_, exists := registry.lookup(docID)
	return exists
}

// Shutdown stops every active room. Cleanup is best effort and logged; the
// update log remains the durable source of truth.
func (registry *Registry) Shutdown(ctx context.Context) {
	registry.mu.Lock()
	rooms := registry.rooms
	registry.rooms = make(map[DocumentID]*Room)
	registry.mu.Unlock()

	for docID, room := range rooms {
		room.Stop(ctx)
		registry.logger.Debug("room stopped during shutdown",
			zap.String(fieldDocID, docID.String()))
	}
	registry.logger.Info("room registry shut down", zap.Int("rooms_stopped", len(rooms)))
}

func (registry *Registry) lookup(docID DocumentID) (*Room, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	room, exists := registry.rooms[docID]
	return room, exists
}

func (registry *Registry) lockFor(docID DocumentID) *docLock {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	lock, exists := registry.docLocks[docID]
	if !exists {
		lock = &docLock{}
		registry.docLocks[docID] = lock
	}
	lock.holders++
	return lock
}

// releaseLock unlocks the per-document lock and drops the registry entry once
// no goroutine holds a reference to it. Waiters counted in holders keep using
// the same lock object, so mutual exclusion per document is preserved across
// the delete.
func (registry *Registry) releaseLock(docID DocumentID, lock *docLock) {
	lock.mu.Unlock()
	registry.mu.Lock()
	defer registry.mu.Unlock()
	lock.holders--
	if lock.holders == 0 {
		delete(registry.docLocks, docID)
	}
}
