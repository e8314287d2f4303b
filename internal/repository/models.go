package repository

import (
	"time"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/google/uuid"
)

// AuditRecordModel is the persistence model for the audit_records table.
type AuditRecordModel struct {
	ID             string                 `gorm:"type:uuid;primaryKey"`
	TenantID       string                 `gorm:"type:varchar(64);not null;index"`
	IdempotencyKey *string                `gorm:"type:varchar(255)"`
	Category       domain.Category        `gorm:"type:varchar(10);not null"`
	Read           bool                   `gorm:"not null;default:false"`
	Outcomes       []DispatchOutcomeModel `gorm:"foreignKey:RecordID"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AuditRecordModel) TableName() string {
	return "audit_records"
}

// DispatchOutcomeModel is the persistence model for dispatch_outcomes. Position
// preserves the canonical channel order of the parent record.
type DispatchOutcomeModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	RecordID          string               `gorm:"type:uuid;not null"`
	Position          int                  `gorm:"not null"`
	Channel           domain.Channel       `gorm:"type:varchar(10);not null"`
	Status            domain.OutcomeStatus `gorm:"type:varchar(10);not null"`
	ProviderReference *string              `gorm:"type:varchar(255)"`
	FailureReason     *domain.FailureKind  `gorm:"type:varchar(20)"`
	AttemptedAt       time.Time
}

func (DispatchOutcomeModel) TableName() string {
	return "dispatch_outcomes"
}

func recordModelFromDomain(r *domain.AuditRecord) *AuditRecordModel {
	if r == nil {
		return nil
	}

	outcomes := make([]DispatchOutcomeModel, 0, len(r.Outcomes))
	for i, outcome := range r.Outcomes {
		outcomes = append(outcomes, DispatchOutcomeModel{
			ID:                uuid.NewString(),
			RecordID:          r.ID,
			Position:          i,
			Channel:           outcome.Channel,
			Status:            outcome.Status,
			ProviderReference: outcome.ProviderReference,
			FailureReason:     outcome.FailureReason,
			AttemptedAt:       outcome.AttemptedAt,
		})
	}

	return &AuditRecordModel{
		ID:             r.ID,
		TenantID:       r.TenantID,
		IdempotencyKey: r.IdempotencyKey,
		Category:       r.Category,
		Read:           r.Read,
		Outcomes:       outcomes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func recordModelToDomain(m *AuditRecordModel) *domain.AuditRecord {
	if m == nil {
		return nil
	}

	outcomes := make([]domain.DispatchOutcome, 0, len(m.Outcomes))
	for _, outcome := range m.Outcomes {
		outcomes = append(outcomes, domain.DispatchOutcome{
			Channel:           outcome.Channel,
			Status:            outcome.Status,
			ProviderReference: outcome.ProviderReference,
			FailureReason:     outcome.FailureReason,
			AttemptedAt:       outcome.AttemptedAt,
		})
	}

	return &domain.AuditRecord{
		ID:             m.ID,
		TenantID:       m.TenantID,
		IdempotencyKey: m.IdempotencyKey,
		Category:       m.Category,
		Read:           m.Read,
		Outcomes:       outcomes,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
