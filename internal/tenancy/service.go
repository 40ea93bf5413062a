package tenancy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opVerifyMembership = "tenancy.verify_membership"
	opAddMember        = "tenancy.add_member"

	queryMembership = "org_id = ? AND principal_id = ?"
)

var (
	// ErrNotMember indicates that the principal does not belong to the
	// organization. Callers must treat this as an authorization failure,
	// never as an empty result.
	ErrNotMember = errors.New("tenancy: principal is not a member of the organization")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies of the tenancy service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service answers organization membership questions.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// VerifyMembership confirms that the principal belongs to the organization,
// returning ErrNotMember when no membership row exists.
func (service *Service) VerifyMembership(ctx context.Context, orgID string, principalID string) error {
	var membership Membership
	err := service.db.WithContext(ctx).
		Where(queryMembership, orgID, principalID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: org %s principal %s", ErrNotMember, orgID, principalID)
	}
	if err != nil {
		service.logger.Error("membership lookup failed",
			zap.String("operation", opVerifyMembership),
			zap.String("org_id", orgID),
			zap.String("principal_id", principalID),
			zap.Error(err))
		return err
	}
	return nil
}

// AddMember records a membership; inserting an existing pair is an error
// surfaced from the database.
func (service *Service) AddMember(ctx context.Context, orgID string, principalID string) error {
	membership := Membership{OrgID: orgID, PrincipalID: principalID}
	if err := service.db.WithContext(ctx).Create(&membership).Error; err != nil {
		service.logger.Error("membership insert failed",
			zap.String("operation", opAddMember),
			zap.String("org_id", orgID),
			zap.String("principal_id", principalID),
			zap.Error(err))
		return err
	}
	return nil
}
