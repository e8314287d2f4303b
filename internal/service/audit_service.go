package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/foodbridge/notify-gateway/internal/repository"
	"go.uber.org/zap"
)

// AuditService is the read side of the audit trail: the in-app notification
// feed and its read flags. All operations are tenant-scoped.
type AuditService struct {
	audit  repository.AuditRepository
	logger *zap.Logger
}

func NewAuditService(audit repository.AuditRepository, logger *zap.Logger) (*AuditService, error) {
	if audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditService{
		audit:  audit,
		logger: logger,
	}, nil
}

func (s *AuditService) List(
	ctx context.Context,
	tenantID string,
	params repository.ListParams,
) ([]domain.AuditRecord, int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, 0, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	return s.audit.List(ctx, tenantID, params)
}

func (s *AuditService) GetByID(ctx context.Context, tenantID, id string) (*domain.AuditRecord, error) {
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: record id is required", domain.ErrValidation)
	}
	return s.audit.GetByID(ctx, tenantID, id)
}

func (s *AuditService) MarkRead(ctx context.Context, tenantID, id string) error {
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if id == "" {
		return fmt.Errorf("%w: record id is required", domain.ErrValidation)
	}
	return s.audit.MarkRead(ctx, tenantID, id)
}

func (s *AuditService) MarkAllRead(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	return s.audit.MarkAllRead(ctx, tenantID)
}

func (s *AuditService) CountUnread(ctx context.Context, tenantID string) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	return s.audit.CountUnread(ctx, tenantID)
}
