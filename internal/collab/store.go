package collab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atdaga/skrm-server-sub000/internal/crdt"
)

const (
	opStoreNew     = "collab.store.new"
	opAppend       = "collab.store.append"
	opReadAll      = "collab.store.read_all"
	opCurrentState = "collab.store.current_state"
	opCompact      = "collab.store.compact"
	opUpdateCount  = "collab.store.update_count"
	opDeleteAll    = "collab.store.delete_all"

	fieldDocID       = "doc_id"
	fieldOrgID       = "org_id"
	fieldPrincipalID = "principal_id"

	queryLiveByDoc   = "doc_id = ? AND deleted_at IS NULL"
	orderTimestamp   = "timestamp ASC"
	columnPayload    = "payload"
	reasonMissingDB  = "missing_database"
	reasonMissingIDs = "missing_id_provider"
	reasonInsert     = "insert_failed"
	reasonQuery      = "query_failed"
	reasonMerge      = "merge_failed"
	reasonDelete     = "delete_failed"
	reasonNewID      = "id_generation_failed"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for newly stored update records.
type IDProvider interface {
	NewID() (string, error)
}

// UpdateStoreConfig describes the bindings for a per-document update store.
type UpdateStoreConfig struct {
	Database            *gorm.DB
	DocumentID          DocumentID
	OrgID               OrgID
	ActingPrincipal     PrincipalID
	CompactionThreshold CompactionThreshold
	Clock               func() time.Time
	IDProvider          IDProvider
	Logger              *zap.Logger
}

// UpdateStore persists and retrieves CRDT updates for one document. Each
// Room owns exactly one store; the doc, org, and acting principal are fixed
// at construction so that every write carries the same audit identity.
type UpdateStore struct {
	db         *gorm.DB
	docID      DocumentID
	orgID      OrgID
	actor      PrincipalID
	threshold  CompactionThreshold
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewUpdateStore validates the configuration and returns an UpdateStore.
func NewUpdateStore(cfg UpdateStoreConfig) (*UpdateStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDB, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, reasonMissingIDs, errMissingIDProvider)
	}
	if cfg.DocumentID == "" {
		return nil, ErrInvalidDocumentID
	}
	if cfg.OrgID == "" {
		return nil, ErrInvalidOrgID
	}
	if cfg.ActingPrincipal == "" {
		return nil, ErrInvalidPrincipalID
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &UpdateStore{
		db:         cfg.Database,
		docID:      cfg.DocumentID,
		orgID:      cfg.OrgID,
		actor:      cfg.ActingPrincipal,
		threshold:  cfg.CompactionThreshold,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// DocumentID returns the document the store is bound to.
func (store *UpdateStore) DocumentID() DocumentID {
	return store.docID
}

// OrgID returns the tenant the store is bound to.
func (store *UpdateStore) OrgID() OrgID {
	return store.orgID
}

// Append stores one update with a write-time timestamp and commits
// immediately. When a compaction threshold is configured and the live record
// count has passed it, the log is compacted before Append returns. Storage
// failures propagate to the caller.
func (store *UpdateStore) Append(ctx context.Context, payload []byte, metadata []byte) error {
	if len(payload) == 0 {
		return ErrInvalidPayload
	}

	recordID, err := store.idProvider.NewID()
	if err != nil {
		store.logError(opAppend, reasonNewID, err)
		return newServiceError(opAppend, reasonNewID, err)
	}

	record := UpdateRecord{
		ID:             recordID,
		DocID:          store.docID.String(),
		OrgID:          store.orgID.String(),
		Payload:        append([]byte(nil), payload...),
		Timestamp:      store.unixSeconds(),
		CreatedBy:      store.actor.String(),
		LastModifiedBy: store.actor.String(),
	}
	if len(metadata) > 0 {
		record.PayloadMeta = append([]byte(nil), metadata...)
	}

	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		store.logError(opAppend, reasonInsert, err)
		return newServiceError(opAppend, reasonInsert, err)
	}

	if store.threshold.Disabled() {
		return nil
	}

	count, err := store.UpdateCount(ctx)
	if err != nil {
		return err
	}
	if count <= store.threshold.Int64() {
		return nil
	}

	compacted, err := store.Compact(ctx)
	if err != nil {
		return err
	}
	store.logger.Info("compacted update log",
		zap.String(fieldDocID, store.docID.String()),
		zap.Int("compacted_records", compacted))
	return nil
}

// ReadAll returns every live update for the document in timestamp order.
// The result is a fresh slice on every call.
func (store *UpdateStore) ReadAll(ctx context.Context) ([]UpdateEntry, error) {
	var records []UpdateRecord
	err := store.db.WithContext(ctx).
		Where(queryLiveByDoc, store.docID.String()).
		Order(orderTimestamp).
		Find(&records).Error
	if err != nil {
		store.logError(opReadAll, reasonQuery, err)
		return nil, newServiceError(opReadAll, reasonQuery, err)
	}

	entries := make([]UpdateEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, UpdateEntry{
			Payload:   append([]byte(nil), record.Payload...),
			Metadata:  append([]byte(nil), record.PayloadMeta...),
			Timestamp: record.Timestamp,
		})
	}
	return entries, nil
}

// CurrentState returns the merged document state: nil when no updates
// exist, the single payload verbatim when one exists, and the merged
// payload otherwise.
func (store *UpdateStore) CurrentState(ctx context.Context) ([]byte, error) {
	payloads, err := store.livePayloads(ctx, store.db)
	if err != nil {
		store.logError(opCurrentState, reasonQuery, err)
		return nil, newServiceError(opCurrentState, reasonQuery, err)
	}

	if len(payloads) == 0 {
		return nil, nil
	}
	if len(payloads) == 1 {
		return payloads[0], nil
	}

	merged, err := crdt.Merge(payloads...)
	if err != nil {
		store.logError(opCurrentState, reasonMerge, err)
		return nil, newServiceError(opCurrentState, reasonMerge, err)
	}
	return merged, nil
}

// Compact collapses all live updates into one merged record and retires the
// originals, returning how many records were compacted. The merged record is
// inserted before the originals are deleted, inside a single transaction, so
// a crash can never lose the log. With one record or fewer this is a no-op.
func (store *UpdateStore) Compact(ctx context.Context) (int, error) {
	compacted := 0
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []UpdateRecord
		if err := tx.
			Where(queryLiveByDoc, store.docID.String()).
			Order(orderTimestamp).
			Find(&records).Error; err != nil {
			return newServiceError(opCompact, reasonQuery, err)
		}
		if len(records) <= 1 {
			return nil
		}

		payloads := make([][]byte, 0, len(records))
		recordIDs := make([]string, 0, len(records))
		for _, record := range records {
			payloads = append(payloads, record.Payload)
			recordIDs = append(recordIDs, record.ID)
		}

		merged, err := crdt.Merge(payloads...)
		if err != nil {
			return newServiceError(opCompact, reasonMerge, err)
		}

		mergedID, err := store.idProvider.NewID()
		if err != nil {
			return newServiceError(opCompact, reasonNewID, err)
		}
		mergedRecord := UpdateRecord{
			ID:             mergedID,
			DocID:          store.docID.String(),
			OrgID:          store.orgID.String(),
			Payload:        merged,
			Timestamp:      store.unixSeconds(),
			CreatedBy:      store.actor.String(),
			LastModifiedBy: store.actor.String(),
		}
		if err := tx.Create(&mergedRecord).Error; err != nil {
			return newServiceError(opCompact, reasonInsert, err)
		}

		if err := tx.
			Where("id IN ?", recordIDs).
			Delete(&UpdateRecord{}).Error; err != nil {
			return newServiceError(opCompact, reasonDelete, err)
		}

		compacted = len(records)
		return nil
	})
	if txErr != nil {
		store.logError(opCompact, reasonQuery, txErr)
		return 0, txErr
	}
	return compacted, nil
}

// UpdateCount returns the number of live update records for the document.
func (store *UpdateStore) UpdateCount(ctx context.Context) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&UpdateRecord{}).
		Where(queryLiveByDoc, store.docID.String()).
		Count(&count).Error
	if err != nil {
		store.logError(opUpdateCount, reasonQuery, err)
		return 0, newServiceError(opUpdateCount, reasonQuery, err)
	}
	return count, nil
}

// DeleteAll removes every update record for the document and returns the
// prior live count. Called when the owning document is permanently removed.
func (store *UpdateStore) DeleteAll(ctx context.Context) (int64, error) {
	count, err := store.UpdateCount(ctx)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	if err := store.db.WithContext(ctx).
		Where("doc_id = ?", store.docID.String()).
		Delete(&UpdateRecord{}).Error; err != nil {
		store.logError(opDeleteAll, reasonDelete, err)
		return 0, newServiceError(opDeleteAll, reasonDelete, err)
	}

	store.logger.Info("deleted update log",
		zap.String(fieldDocID, store.docID.String()),
		zap.Int64("deleted_records", count))
	return count, nil
}

func (store *UpdateStore) livePayloads(ctx context.Context, db *gorm.DB) ([][]byte, error) {
	var records []UpdateRecord
	err := db.WithContext(ctx).
		Select(columnPayload).
		Where(queryLiveByDoc, store.docID.String()).
		Order(orderTimestamp).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, record.Payload)
	}
	return payloads, nil
}

func (store *UpdateStore) unixSeconds() float64 {
	return float64(store.clock().UnixNano()) / float64(time.Second)
}

func (store *UpdateStore) logError(operation, reason string, err error) {
	store.logger.Error("collab store operation failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String(fieldDocID, store.docID.String()),
		zap.String(fieldOrgID, store.orgID.String()),
		zap.Error(err))
}
