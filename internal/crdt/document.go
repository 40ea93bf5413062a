package crdt

import (
	"sync"
)

// Document is the in-memory materialization of one collaborative document:
// the set of all deltas observed so far, keyed by delta identity. It is the
// live replica a Room holds between persistence and its connected clients.
type Document struct {
	mu     sync.RWMutex
	deltas map[string]Delta
}

// NewDocument returns an empty Document.
func NewDocument() *Document {
	return &Document{deltas: make(map[string]Delta)}
}

// ApplyUpdate folds an encoded update into the document and reports how many
// deltas were new. Re-applying an update the document has already seen is a
// no-op, so replays and echoed broadcasts are harmless.
func (doc *Document) ApplyUpdate(update []byte) (int, error) {
	decoded, err := DecodeUpdate(update)
	if err != nil {
		return 0, err
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	applied := 0
	for _, delta := range decoded {
		identity := delta.identity()
		if _, exists := doc.deltas[identity]; exists {
			continue
		}
		doc.deltas[identity] = delta
		applied++
	}
	return applied, nil
}

// UnseenDeltas reports how many of the update's deltas the document has not
// observed yet, without applying any of them. Callers that must persist an
// update before mutating the replica use this to decide whether the update
// carries anything new.
func (doc *Document) UnseenDeltas(update []byte) (int, error) {
	decoded, err := DecodeUpdate(update)
	if err != nil {
		return 0, err
	}

	doc.mu.RLock()
	defer doc.mu.RUnlock()

	unseen := 0
	for _, delta := range decoded {
		if _, exists := doc.deltas[delta.identity()]; !exists {
			unseen++
		}
	}
	return unseen, nil
}

// State returns the canonical encoded form of the document, or nil when the
// document has no deltas. The encoding is deterministic: two documents that
// observed the same deltas in any order return identical bytes.
func (doc *Document) State() []byte {
	doc.mu.RLock()
	defer doc.mu.RUnlock()

	if len(doc.deltas) == 0 {
		return nil
	}
	merged := make([]Delta, 0, len(doc.deltas))
	for _, delta := range doc.deltas {
		merged = append(merged, delta)
	}
	sortDeltas(merged)
	return EncodeUpdate(merged)
}

// DeltaCount returns the number of distinct deltas observed.
func (doc *Document) DeltaCount() int {
	doc.mu.RLock()
	defer doc.mu.RUnlock()
	return len(doc.deltas)
}
