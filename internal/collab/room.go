package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atdaga/skrm-server-sub000/internal/crdt"
)

// Wire frames exchanged with clients. Every frame is one tag byte followed
// by an encoded update: FrameSnapshot carries the full merged state the
// server sends on connect, FrameUpdate carries one incremental update in
// either direction.
const (
	FrameSnapshot byte = 0x00
	FrameUpdate   byte = 0x01
)

var (
	// ErrRoomNotStarted indicates that Serve was called before Start.
	ErrRoomNotStarted = errors.New("collab: room not started")
	// ErrRoomStopped indicates that the room has been stopped.
	ErrRoomStopped = errors.New("collab: room stopped")
	// ErrInvalidFrame indicates a frame that does not follow the wire format.
	ErrInvalidFrame = errors.New("collab: invalid frame")
)

// RoomConfig describes the dependencies of a Room.
type RoomConfig struct {
	Store  *UpdateStore
	Logger *zap.Logger
}

// Room is the live collaboration session for one document: an in-memory
// replica seeded from the update log, fanned out to every connected channel.
// Rooms are transient; all durable state lives in the UpdateStore.
type Room struct {
	store  *UpdateStore
	doc    *crdt.Document
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[int64]Channel
	nextID   int64
	started  bool
	stopped  bool
}

// NewRoom constructs a Room around the given per-document store.
func NewRoom(cfg RoomConfig) (*Room, error) {
	if cfg.Store == nil {
		return nil, errors.New("collab: room store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Room{
		store:    cfg.Store,
		doc:      crdt.NewDocument(),
		logger:   logger,
		channels: make(map[int64]Channel),
	}, nil
}

// DocumentID returns the document the room serves.
func (room *Room) DocumentID() DocumentID {
	return room.store.DocumentID()
}

// OrgID returns the tenant the room belongs to.
func (room *Room) OrgID() OrgID {
	return room.store.OrgID()
}

// Start seeds the in-memory replica from the persisted update log. A Room
// that fails to start holds no resources and must not be registered.
func (room *Room) Start(ctx context.Context) error {
	state, err := room.store.CurrentState(ctx)
	if err != nil {
		return err
	}
	if len(state) > 0 {
		if _, err := room.doc.ApplyUpdate(state); err != nil {
			return err
		}
	}

	room.mu.Lock()
	room.started = true
	room.mu.Unlock()
	return nil
}

// Serve drives one channel for the lifetime of its connection: it sends the
// current snapshot, then persists and fans out every incoming update until
// the peer closes. A normal close returns nil.
func (room *Room) Serve(ctx context.Context, channel Channel) error {
	if err := room.checkServable(); err != nil {
		return err
	}

	channelID := room.register(channel)
	defer room.unregister(channelID)

	snapshot := encodeFrame(FrameSnapshot, room.doc.State())
	if err := channel.Send(ctx, snapshot); err != nil {
		if errors.Is(err, ErrChannelClosed) {
			return nil
		}
		return err
	}

	for {
		frame, err := channel.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return nil
			}
			return err
		}

		// A room stopped mid-session must not keep writing to the log.
		if err := room.checkServable(); err != nil {
			return err
		}

		update, err := decodeUpdateFrame(frame)
		if err != nil {
			room.logger.Warn("dropping malformed frame",
				zap.String(fieldDocID, room.DocumentID().String()),
				zap.Error(err))
			continue
		}

		unseen, err := room.doc.UnseenDeltas(update)
		if err != nil {
			room.logger.Warn("dropping undecodable update",
				zap.String(fieldDocID, room.DocumentID().String()),
				zap.Error(err))
			continue
		}
		if unseen == 0 {
			continue
		}

		// Persist before mutating the replica: a delta the log never
		// received must not be served from memory.
		if err := room.store.Append(ctx, update, nil); err != nil {
			return err
		}
		if _, err := room.doc.ApplyUpdate(update); err != nil {
			return err
		}

		room.broadcast(ctx, channelID, frame)
	}
}

// Stop marks the room unusable for new Serve calls. Connected channels are
// owned by their sessions and drain on their own close.
func (room *Room) Stop(_ context.Context) {
	room.mu.Lock()
	room.stopped = true
	room.channels = make(map[int64]Channel)
	room.mu.Unlock()

	room.logger.Info("room stopped",
		zap.String(fieldDocID, room.DocumentID().String()))
}

// ChannelCount returns the number of channels currently served.
func (room *Room) ChannelCount() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.channels)
}

func (room *Room) checkServable() error {
	room.mu.RLock()
	defer room.mu.RUnlock()
	if room.stopped {
		return ErrRoomStopped
	}
	if !room.started {
		return ErrRoomNotStarted
	}
	return nil
}

func (room *Room) register(channel Channel) int64 {
	room.mu.Lock()
	defer room.mu.Unlock()
	room.nextID++
	room.channels[room.nextID] = channel
	return room.nextID
}

func (room *Room) unregister(channelID int64) {
	room.mu.Lock()
	delete(room.channels, channelID)
	room.mu.Unlock()
}

func (room *Room) broadcast(ctx context.Context, senderID int64, frame []byte) {
	room.mu.RLock()
	peers := make(map[int64]Channel, len(room.channels))
	for id, channel := range room.channels {
		if id == senderID {
			continue
		}
		peers[id] = channel
	}
	room.mu.RUnlock()

	for id, channel := range peers {
		if err := channel.Send(ctx, frame); err != nil {
			room.logger.Warn("broadcast to peer failed",
				zap.String(fieldDocID, room.DocumentID().String()),
				zap.Int64("channel_id", id),
				zap.Error(err))
		}
	}
}

func encodeFrame(frameType byte, body []byte) []byte {
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, frameType)
	return append(frame, body...)
}

func decodeUpdateFrame(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("%w: truncated", ErrInvalidFrame)
	}
	if frame[0] != FrameUpdate {
		return nil, fmt.Errorf("%w: unexpected frame type 0x%02x", ErrInvalidFrame, frame[0])
	}
	return frame[1:], nil
}
