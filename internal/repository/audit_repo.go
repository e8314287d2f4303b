package repository

import (
	"context"
	"errors"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"gorm.io/gorm"
)

// ListParams filters and paginates a tenant's audit records.
type ListParams struct {
	Category *domain.Category
	Unread   *bool
	Page     int
	PageSize int
}

// AuditRepository is the tenant-scoped audit store port. Every query carries a
// tenant id so one tenant's records are never visible to another.
type AuditRepository interface {
	Create(ctx context.Context, record *domain.AuditRecord) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.AuditRecord, error)
	GetByIdempotencyKey(ctx context.Context, tenantID, idempotencyKey string) (*domain.AuditRecord, error)
	List(ctx context.Context, tenantID string, params ListParams) ([]domain.AuditRecord, int64, error)
	MarkRead(ctx context.Context, tenantID, id string) error
	MarkAllRead(ctx context.Context, tenantID string) error
	CountUnread(ctx context.Context, tenantID string) (int64, error)
}

type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) Create(ctx context.Context, record *domain.AuditRecord) error {
	model := recordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		*record = *recordModelToDomain(model)
	}
	return nil
}

func (r *GormAuditRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.AuditRecord, error) {
	var model AuditRecordModel
	err := r.scopedQuery(ctx, tenantID).
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordModelToDomain(&model), nil
}

func (r *GormAuditRepo) GetByIdempotencyKey(ctx context.Context, tenantID, idempotencyKey string) (*domain.AuditRecord, error) {
	var model AuditRecordModel
	err := r.scopedQuery(ctx, tenantID).
		Where("idempotency_key = ?", idempotencyKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordModelToDomain(&model), nil
}

func (r *GormAuditRepo) List(ctx context.Context, tenantID string, params ListParams) ([]domain.AuditRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&AuditRecordModel{}).Where("tenant_id = ?", tenantID)

	if params.Category != nil {
		query = query.Where("category = ?", *params.Category)
	}
	if params.Unread != nil {
		query = query.Where("read = ?", !*params.Unread)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []AuditRecordModel
	err := query.
		Preload("Outcomes", orderedOutcomes).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	records := make([]domain.AuditRecord, 0, len(models))
	for i := range models {
		records = append(records, *recordModelToDomain(&models[i]))
	}

	return records, total, nil
}

func (r *GormAuditRepo) MarkRead(ctx context.Context, tenantID, id string) error {
	result := r.db.WithContext(ctx).
		Model(&AuditRecordModel{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAuditRepo) MarkAllRead(ctx context.Context, tenantID string) error {
	return r.db.WithContext(ctx).
		Model(&AuditRecordModel{}).
		Where("tenant_id = ? AND read = ?", tenantID, false).
		Update("read", true).Error
}

func (r *GormAuditRepo) CountUnread(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&AuditRecordModel{}).
		Where("tenant_id = ? AND read = ?", tenantID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormAuditRepo) scopedQuery(ctx context.Context, tenantID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Outcomes", orderedOutcomes).
		Where("tenant_id = ?", tenantID)
}

func orderedOutcomes(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}
