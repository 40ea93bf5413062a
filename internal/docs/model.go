package docs

import "time"

// Document is the handle for one collaborative document. The collaboration
// core reads it only to check existence and tenant ownership; editing state
// lives in the update log.
type Document struct {
	ID             string     `gorm:"column:id;primaryKey;size:36;not null"`
	OrgID          string     `gorm:"column:org_id;size:36;not null;uniqueIndex:idx_docs_org_name,priority:1"`
	Name           string     `gorm:"column:name;size:255;not null;uniqueIndex:idx_docs_org_name,priority:2"`
	Description    string     `gorm:"column:description;size:255"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	CreatedBy      string     `gorm:"column:created_by;size:36;not null"`
	LastModifiedAt time.Time  `gorm:"column:last_modified_at;autoUpdateTime"`
	LastModifiedBy string     `gorm:"column:last_modified_by;size:36;not null"`
	DeletedAt      *time.Time `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "docs"
}
