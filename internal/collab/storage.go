package collab

import "time"

// UpdateRecord stores one append-only CRDT update for a document.
type UpdateRecord struct {
	ID             string     `gorm:"column:id;primaryKey;size:36;not null"`
	DocID          string     `gorm:"column:doc_id;size:36;not null;index:idx_doc_crdt_updates_doc_timestamp,priority:1"`
	OrgID          string     `gorm:"column:org_id;size:36;not null;index"`
	Payload        []byte     `gorm:"column:payload;not null"`
	PayloadMeta    []byte     `gorm:"column:payload_meta"`
	Timestamp      float64    `gorm:"column:timestamp;not null;index:idx_doc_crdt_updates_doc_timestamp,priority:2"`
	CreatedBy      string     `gorm:"column:created_by;size:36;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	LastModifiedBy string     `gorm:"column:last_modified_by;size:36;not null"`
	DeletedAt      *time.Time `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (UpdateRecord) TableName() string {
	return "doc_crdt_updates"
}
