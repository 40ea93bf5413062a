package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/gorm"
)

func mustRegistry(t *testing.T, db *gorm.DB) *Registry {
	t.Helper()
	registry, err := NewRegistry(RegistryConfig{
		Database:            db,
		Clock:               newTickingClock(),
		IDProvider:          NewUUIDProvider(),
		CompactionThreshold: mustThreshold(t, DefaultCompactionThreshold),
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return registry
}

func TestGetOrCreateBuildsRoomLazily(t *testing.T) {
	registry := mustRegistry(t, mustTestDatabase(t))
	docID := mustDocumentID(t)

	if registry.HasRoom(docID) {
		t.Fatal("expected no room before first connection")
	}

	room, err := registry.GetOrCreate(context.Background(), docID, mustOrgID(t), mustPrincipalID(t))
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if room == nil {
		t.Fatal("expected a room")
	}
	if !registry.HasRoom(docID) {
		t.Fatal("expected room to be registered")
	}
	if registry.RoomCount() != 1 {
		t.Fatalf("expected 1 room, got %d", registry.RoomCount())
	}
}

func TestGetOrCreateReturnsExistingRoom(t *testing.T) {
	registry := mustRegistry(t, mustTestDatabase(t))
	docID := mustDocumentID(t)
	orgID := mustOrgID(t)

	first, err := registry.GetOrCreate(context.Background(), docID, orgID, mustPrincipalID(t))
	if err != nil {
		t.Fatalf("first get or create failed: %v", err)
	}
	second, err := registry.GetOrCreate(context.Background(), docID, orgID, mustPrincipalID(t))
	if err != nil {
		t.Fatalf("second get or create failed: %v", err)
	}
	if first != second {
		t.Fatal("expected cache hit to return the same room")
	}
	if registry.RoomCount() != 1 {
		t.Fatalf("expected 1 room, got %d", registry.RoomCount())
	}
}

func TestGetOrCreateRejectsOrgMismatchOnHit(t *testing.T) {
	registry := mustRegistry(t, mustTestDatabase(t))
	docID := mustDocumentID(t)

	if _, err := registry.GetOrCreate(context.Background(), docID, mustOrgID(t), mustPrincipalID(t)); err != nil {
		t.Fatalf("get or create failed: %v", err)
	}

	_, err := registry.GetOrCreate(context.Background(), docID, mustOrgID(t), mustPrincipalID(t))
	if !errors.Is(err, ErrRoomOrgMismatch) {
		t.Fatalf("expected ErrRoomOrgMismatch, got %v", err)
	}
}

func TestConcurrentGetOrCreateYieldsOneRoom(t *testing.T) {
	registry := mustRegistry(t, mustTestDatabase(t))
	docID := mustDocumentID(t)
	orgID := mustOrgID(t)
	principal := mustPrincipalID(t)

	const connections = 8
	rooms := make([]*Room, connections)
	var wg sync.WaitGroup
	for index := 0; index < connections; index++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			room, err := registry.GetOrCreate(context.Background(), docID, orgID, principal)
			if err != nil {
				t.Errorf("concurrent get or create failed: %v", err)
				return
			}
			rooms[slot] = room
		}(index)
	}
	wg.Wait()

	if registry.RoomCount() != 1 {
		t.Fatalf("expected exactly 1 room, got %d", registry.RoomCount())
	}
	for index := 1; index < connections; index++ {
		if rooms[index] != rooms[0] {
			t.Fatal("expected every caller to receive the same room")
		}
	}
}

func TestDeleteStopsRoomAndKeepsLog(t *testing.T) {
	db := mustTestDatabase(t)
	registry := mustRegistry(t, db)
	docID := mustDocumentID(t)
	orgID := mustOrgID(t)
	principal := mustPrincipalID(t)

	room, err := registry.GetOrCreate(context.Background(), docID, orgID, principal)
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}

	store := mustStore(t, db, docID, 0)
	if err := store.Append(context.Background(), mustEncodedUpdate(t, "site-a", 1, []byte("a1")), nil); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	registry.Delete(context.Background(), docID)
	if registry.HasRoom(docID) {
		t.Fatal("expected room to be removed")
	}
	if err := room.Serve(context.Background(), newMemoryChannel(docID.String())); !errors.Is(err, ErrRoomStopped) {
		t.Fatalf("expected ErrRoomStopped, got %v", err)
	}

	count, err := store.UpdateCount(context.Background())
	if err != nil {
		t.Fatalf("update count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected persisted updates to survive room deletion, got %d", count)
	}

	registry.Delete(context.Background(), docID)
}

func TestPerDocumentLocksAreReleased(t *testing.T) {
	registry := mustRegistry(t, mustTestDatabase(t))
	docID := mustDocumentID(t)

	if _, err := registry.GetOrCreate(context.Background(), docID, mustOrgID(t), mustPrincipalID(t)); err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	registry.Delete(context.Background(), docID)

	registry.mu.Lock()
	remaining := len(registry.docLocks)
	registry.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected per-document locks to be released, %d entries remain", remaining)
	}
}

func TestShutdownStopsAllRooms(t *testing.T) {
	registry := mustRegistry(t, mustTestDatabase(t))

	for index := 0; index < 3; index++ {
		if _, err := registry.GetOrCreate(context.Background(), mustDocumentID(t), mustOrgID(t), mustPrincipalID(t)); err != nil {
			t.Fatalf("get or create failed: %v", err)
		}
	}

	registry.Shutdown(context.Background())
	if registry.RoomCount() != 0 {
		t.Fatalf("expected no rooms after shutdown, got %d", registry.RoomCount())
	}
}
