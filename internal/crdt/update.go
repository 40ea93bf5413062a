package crdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	updateMagic   = 0x59
	updateVersion = 0x01

	maxSiteLength  = 190
	maxDeltaLength = 1 << 20
)

var (
	// ErrInvalidUpdate indicates that an update payload cannot be decoded.
	ErrInvalidUpdate = errors.New("crdt: invalid update")
	// ErrInvalidDelta indicates that a delta is malformed.
	ErrInvalidDelta = errors.New("crdt: invalid delta")
	// ErrEmptyMerge indicates that a merge was attempted with no inputs.
	ErrEmptyMerge = errors.New("crdt: no updates to merge")
)

// Delta is one attributed mutation inside an update. Deltas are identified
// by their (site, clock) pair; two deltas with the same identity are the
// same mutation regardless of which update carried them.
type Delta struct {
	site  string
	clock uint64
	body  []byte
}

// NewDelta validates the inputs and returns a Delta.
func NewDelta(site string, clock uint64, body []byte) (Delta, error) {
	trimmed := strings.TrimSpace(site)
	if trimmed == "" {
		return Delta{}, fmt.Errorf("%w: empty site", ErrInvalidDelta)
	}
	if len(trimmed) > maxSiteLength {
		return Delta{}, fmt.Errorf("%w: site exceeds %d bytes", ErrInvalidDelta, maxSiteLength)
	}
	if len(body) > maxDeltaLength {
		return Delta{}, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidDelta, maxDeltaLength)
	}
	return Delta{
		site:  trimmed,
		clock: clock,
		body:  append([]byte(nil), body...),
	}, nil
}

// Site returns the replica identifier that produced the delta.
func (d Delta) Site() string {
	return d.site
}

// Clock returns the per-site logical clock of the delta.
func (d Delta) Clock() uint64 {
	return d.clock
}

// Body returns a copy of the delta body.
func (d Delta) Body() []byte {
	return append([]byte(nil), d.body...)
}

func (d Delta) identity() string {
	return fmt.Sprintf("%s\x00%d", d.site, d.clock)
}

// EncodeUpdate serializes deltas into the binary update format.
func EncodeUpdate(deltas []Delta) []byte {
	buffer := &bytes.Buffer{}
	buffer.WriteByte(updateMagic)
	buffer.WriteByte(updateVersion)
	writeUvarint(buffer, uint64(len(deltas)))
	for _, delta := range deltas {
		writeUvarint(buffer, uint64(len(delta.site)))
		buffer.WriteString(delta.site)
		writeUvarint(buffer, delta.clock)
		writeUvarint(buffer, uint64(len(delta.body)))
		buffer.Write(delta.body)
	}
	return buffer.Bytes()
}

// DecodeUpdate parses the binary update format back into deltas.
func DecodeUpdate(update []byte) ([]Delta, error) {
	if len(update) < 2 {
		return nil, fmt.Errorf("%w: truncated header", ErrInvalidUpdate)
	}
	if update[0] != updateMagic {
		return nil, fmt.Errorf("%w: bad magic byte 0x%02x", ErrInvalidUpdate, update[0])
	}
	if update[1] != updateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidUpdate, update[1])
	}

	reader := bytes.NewReader(update[2:])
	count, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: delta count: %v", ErrInvalidUpdate, err)
	}

	deltas := make([]Delta, 0, count)
	for index := uint64(0); index < count; index++ {
		siteLength, err := binary.ReadUvarint(reader)
		if err != nil || siteLength == 0 || siteLength > maxSiteLength {
			return nil, fmt.Errorf("%w: delta %d site length", ErrInvalidUpdate, index)
		}
		siteBytes := make([]byte, siteLength)
		if _, err := io.ReadFull(reader, siteBytes); err != nil {
			return nil, fmt.Errorf("%w: delta %d site", ErrInvalidUpdate, index)
		}
		clock, err := binary.ReadUvarint(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: delta %d clock", ErrInvalidUpdate, index)
		}
		bodyLength, err := binary.ReadUvarint(reader)
		if err != nil || bodyLength > maxDeltaLength {
			return nil, fmt.Errorf("%w: delta %d body length", ErrInvalidUpdate, index)
		}
		body := make([]byte, bodyLength)
		if bodyLength > 0 {
			if _, err := io.ReadFull(reader, body); err != nil {
				return nil, fmt.Errorf("%w: delta %d body", ErrInvalidUpdate, index)
			}
		}
		deltas = append(deltas, Delta{site: string(siteBytes), clock: clock, body: body})
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidUpdate, reader.Len())
	}
	return deltas, nil
}

// Merge combines any number of updates into one canonical update. The
// operation is a union over delta identities: associative, commutative,
// and idempotent, with deterministic (clock, site) output ordering so the
// same set of deltas always encodes to the same bytes.
func Merge(updates ...[]byte) ([]byte, error) {
	if len(updates) == 0 {
		return nil, ErrEmptyMerge
	}

	seen := make(map[string]Delta)
	for _, update := range updates {
		deltas, err := DecodeUpdate(update)
		if err != nil {
			return nil, err
		}
		for _, delta := range deltas {
			seen[delta.identity()] = delta
		}
	}

	merged := make([]Delta, 0, len(seen))
	for _, delta := range seen {
		merged = append(merged, delta)
	}
	sortDeltas(merged)
	return EncodeUpdate(merged), nil
}

// Apply folds a single update into an existing state. A nil state is the
// empty document. Apply(state, update) is equivalent to Merge(state, update).
func Apply(state []byte, update []byte) ([]byte, error) {
	if len(state) == 0 {
		return Merge(update)
	}
	return Merge(state, update)
}

func sortDeltas(deltas []Delta) {
	sort.Slice(deltas, func(left, right int) bool {
		if deltas[left].clock != deltas[right].clock {
			return deltas[left].clock < deltas[right].clock
		}
		return deltas[left].site < deltas[right].site
	})
}

func writeUvarint(buffer *bytes.Buffer, value uint64) {
	scratch := make([]byte, binary.MaxVarintLen64)
	written := binary.PutUvarint(scratch, value)
	buffer.Write(scratch[:written])
}
