package docs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreate  = "docs.create"
	opGetByID = "docs.get_by_id"
	opDelete  = "docs.delete"

	queryLiveByID = "id = ? AND deleted_at IS NULL"
)

var (
	// ErrDocumentNotFound indicates that no live document exists for the id.
	ErrDocumentNotFound = errors.New("docs: document not found")
	// ErrInvalidDocument indicates that creation input is incomplete.
	ErrInvalidDocument = errors.New("docs: invalid document")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for new documents.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the document service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns document handles: creation, lookup, and soft deletion.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
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
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateParams captures the inputs for a new document.
type CreateParams struct {
	OrgID       string
	Name        string
	Description string
	CreatedBy   string
}

// Create inserts a new document handle and returns it.
func (service *Service) Create(ctx context.Context, params CreateParams) (Document, error) {
	if strings.TrimSpace(params.OrgID) == "" {
		return Document{}, fmt.Errorf("%w: empty org id", ErrInvalidDocument)
	}
	if strings.TrimSpace(params.Name) == "" {
		return Document{}, fmt.Errorf("%w: empty name", ErrInvalidDocument)
	}
	if strings.TrimSpace(params.CreatedBy) == "" {
		return Document{}, fmt.Errorf("%w: empty creator", ErrInvalidDocument)
	}

	documentID, err := service.idProvider.NewID()
	if err != nil {
		service.logError(opCreate, err, params.OrgID)
		return Document{}, err
	}

	document := Document{
		ID:             documentID,
		OrgID:          strings.TrimSpace(params.OrgID),
		Name:           strings.TrimSpace(params.Name),
		Description:    strings.TrimSpace(params.Description),
		CreatedBy:      params.CreatedBy,
		LastModifiedBy: params.CreatedBy,
	}
	if err := service.db.WithContext(ctx).Create(&document).Error; err != nil {
		service.logError(opCreate, err, params.OrgID)
		return Document{}, err
	}
	return document, nil
}

// GetByID returns the live document for the id or ErrDocumentNotFound.
// Soft-deleted documents are treated as absent.
func (service *Service) GetByID(ctx context.Context, documentID string) (Document, error) {
	var document Document
	err := service.db.WithContext(ctx).
		Where(queryLiveByID, documentID).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if err != nil {
		service.logError(opGetByID, err, documentID)
		return Document{}, err
	}
	return document, nil
}

// Delete soft-deletes the document handle. The caller is responsible for
// tearing down any live room and purging the update log.
func (service *Service) Delete(ctx context.Context, documentID string, deletedBy string) error {
	deletedAt := service.clock().UTC()
	result := service.db.WithContext(ctx).
		Model(&Document{}).
		Where(queryLiveByID, documentID).
		Updates(map[string]any{
			"deleted_at":       &deletedAt,
			"last_modified_by": deletedBy,
		})
	if result.Error != nil {
		service.logError(opDelete, result.Error, documentID)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return nil
}

func (service *Service) logError(operation string, err error, subject string) {
	service.logger.Error("docs operation failed",
		zap.String("operation", operation),
		zap.String("subject", subject),
		zap.Error(err))
}
