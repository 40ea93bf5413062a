package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atdaga/skrm-server-sub000/internal/crdt"
)

func mustTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&UpdateRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func mustDocumentID(t *testing.T) DocumentID {
	t.Helper()
	id, err := NewDocumentID(uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}

func mustOrgID(t *testing.T) OrgID {
	t.Helper()
	id, err := NewOrgID(uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected org id error: %v", err)
	}
	return id
}

func mustPrincipalID(t *testing.T) PrincipalID {
	t.Helper()
	id, err := NewPrincipalID(uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected principal id error: %v", err)
	}
	return id
}

func mustThreshold(t *testing.T, value int64) CompactionThreshold {
	t.Helper()
	threshold, err := NewCompactionThreshold(value)
	if err != nil {
		t.Fatalf("unexpected threshold error: %v", err)
	}
	return threshold
}

func mustStore(t *testing.T, db *gorm.DB, docID DocumentID, threshold int64) *UpdateStore {
	t.Helper()
	store, err := NewUpdateStore(UpdateStoreConfig{
		Database:            db,
		DocumentID:          docID,
		OrgID:               mustOrgID(t),
		ActingPrincipal:     mustPrincipalID(t),
		CompactionThreshold: mustThreshold(t, threshold),
		Clock:               newTickingClock(),
		IDProvider:          NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustEncodedUpdate(t *testing.T, site string, clock uint64, body []byte) []byte {
	t.Helper()
	delta, err := crdt.NewDelta(site, clock, body)
	if err != nil {
		t.Fatalf("unexpected delta error: %v", err)
	}
	return crdt.EncodeUpdate([]crdt.Delta{delta})
}

// newTickingClock returns a deterministic clock that advances one millisecond
// per call, so appended records always carry strictly increasing timestamps.
func newTickingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Unix(1700000000, 0).UTC()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

// memoryChannel is an in-process Channel used to exercise rooms without a
// network transport. Frames written by the room are captured in sent;
// Receive drains the queued inbound frames and then reports a close.
type memoryChannel struct {
	path string

	mu      sync.Mutex
	inbound chan []byte
	sent    [][]byte
}

func newMemoryChannel(path string) *memoryChannel {
	return &memoryChannel{
		path:    path,
		inbound: make(chan []byte, 16),
	}
}

func (channel *memoryChannel) Path() string {
	return channel.path
}

func (channel *memoryChannel) Send(_ context.Context, frame []byte) error {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	channel.sent = append(channel.sent, append([]byte(nil), frame...))
	return nil
}

func (channel *memoryChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-channel.inbound:
		if !ok {
			return nil, ErrChannelClosed
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ErrChannelClosed
	}
}

func (channel *memoryChannel) queue(frame []byte) {
	channel.inbound <- frame
}

func (channel *memoryChannel) close() {
	close(channel.inbound)
}

func (channel *memoryChannel) sentFrames() [][]byte {
	channel.mu.Lock()
	defer channel.mu.Unlock()
	frames := make([][]byte, len(channel.sent))
	copy(frames, channel.sent)
	return frames
}
