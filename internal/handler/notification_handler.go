package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/foodbridge/notify-gateway/internal/repository"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100

	tenantHeader = "X-Tenant-ID"
)

type DispatchService interface {
	Dispatch(ctx context.Context, intent *domain.NotificationIntent) (*domain.DispatchResult, error)
}

// NotificationFeed is the read side exposed to dashboard clients.
type NotificationFeed interface {
	List(ctx context.Context, tenantID string, params repository.ListParams) ([]domain.AuditRecord, int64, error)
	GetByID(ctx context.Context, tenantID, id string) (*domain.AuditRecord, error)
	MarkRead(ctx context.Context, tenantID, id string) error
	MarkAllRead(ctx context.Context, tenantID string) error
	CountUnread(ctx context.Context, tenantID string) (int64, error)
}

type NotificationHandler struct {
	dispatcher DispatchService
	feed       NotificationFeed
}

func NewNotificationHandler(dispatcher DispatchService, feed NotificationFeed) (*NotificationHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if feed == nil {
		return nil, fmt.Errorf("notification feed is required")
	}
	return &NotificationHandler{dispatcher: dispatcher, feed: feed}, nil
}

func RegisterNotificationRoutes(router fiber.Router, dispatcher DispatchService, feed NotificationFeed) error {
	h, err := NewNotificationHandler(dispatcher, feed)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications/dispatch", h.DispatchNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/unread-count", h.UnreadCount)
	v1.Post("/notifications/read-all", h.MarkAllRead)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/read", h.MarkRead)

	return nil
}

type recipientRequest struct {
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	UserID string `json:"userId,omitempty"`
}

type dispatchRequest struct {
	Channels       []string         `json:"channels"`
	Recipient      recipientRequest `json:"recipient"`
	Subject        string           `json:"subject,omitempty"`
	Body           string           `json:"body"`
	Category       string           `json:"category,omitempty"`
	IdempotencyKey *string          `json:"idempotencyKey,omitempty"`
}

type outcomeResponse struct {
	Channel           string    `json:"channel"`
	Status            string    `json:"status"`
	ProviderReference *string   `json:"providerReference,omitempty"`
	FailureReason     *string   `json:"failureReason,omitempty"`
	AttemptedAt       time.Time `json:"attemptedAt"`
}

type dispatchResponse struct {
	Accepted bool              `json:"accepted"`
	RecordID string            `json:"recordId"`
	Replayed bool              `json:"replayed"`
	Outcomes []outcomeResponse `json:"outcomes"`
}

type recordResponse struct {
	ID        string            `json:"id"`
	Category  string            `json:"category"`
	Read      bool              `json:"read"`
	Outcomes  []outcomeResponse `json:"outcomes"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type listRecordsResponse struct {
	Data []recordResponse `json:"data"`
	Meta listMeta         `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) DispatchNotification(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	intent, err := requestToIntent(req, tenantID)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.dispatcher.Dispatch(c.UserContext(), intent)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(dispatchResponse{
		Accepted: result.Accepted,
		RecordID: result.RecordID,
		Replayed: result.Replayed,
		Outcomes: toOutcomeResponses(result.Outcomes),
	})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return toHTTPError(err)
	}

	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	records, total, err := h.feed.List(c.UserContext(), tenantID, params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listRecordsResponse{
		Data: toRecordResponses(records),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return toHTTPError(err)
	}

	record, err := h.feed.GetByID(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRecordResponse(record))
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return toHTTPError(err)
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.feed.MarkRead(c.UserContext(), tenantID, id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"read":           true,
	})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.feed.MarkAllRead(c.UserContext(), tenantID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"read": true,
	})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return toHTTPError(err)
	}

	count, err := h.feed.CountUnread(c.UserContext(), tenantID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"unread": count,
	})
}

func requestTenantID(c *fiber.Ctx) (string, error) {
	tenantID := strings.TrimSpace(c.Get(tenantHeader))
	if tenantID == "" {
		return "", fmt.Errorf("%w: %s header is required", domain.ErrValidation, tenantHeader)
	}
	return tenantID, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	page, err := parseIntQuery(c.Query("page"), "page", defaultPage)
	if err != nil {
		return repository.ListParams{}, err
	}
	pageSize, err := parseIntQuery(c.Query("pageSize"), "pageSize", defaultPageSize)
	if err != nil {
		return repository.ListParams{}, err
	}
	params := repository.ListParams{
		Page:     page,
		PageSize: pageSize,
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawCategory := strings.TrimSpace(c.Query("category")); rawCategory != "" {
		category, err := domain.ParseCategoryFromString(rawCategory)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Category = &category
	}

	if rawUnread := strings.TrimSpace(c.Query("unread")); rawUnread != "" {
		unread, err := strconv.ParseBool(rawUnread)
		if err != nil {
			return repository.ListParams{}, fmt.Errorf("%w: unread must be a boolean", domain.ErrValidation)
		}
		params.Unread = &unread
	}

	return params, nil
}

func parseIntQuery(raw, field string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, field)
	}
	return value, nil
}

func requestToIntent(req dispatchRequest, tenantID string) (*domain.NotificationIntent, error) {
	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}

	category := domain.CategoryInfo
	if strings.TrimSpace(req.Category) != "" {
		parsed, err := domain.ParseCategoryFromString(req.Category)
		if err != nil {
			return nil, err
		}
		category = parsed
	}

	return &domain.NotificationIntent{
		TenantID: tenantID,
		Channels: channels,
		Recipient: domain.Recipient{
			Email:  req.Recipient.Email,
			Phone:  req.Recipient.Phone,
			UserID: req.Recipient.UserID,
		},
		Subject:        req.Subject,
		Body:           req.Body,
		Category:       category,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

func toOutcomeResponses(outcomes []domain.DispatchOutcome) []outcomeResponse {
	responses := make([]outcomeResponse, 0, len(outcomes))
	for _, outcome := range outcomes {
		responses = append(responses, toOutcomeResponse(outcome))
	}
	return responses
}

func toOutcomeResponse(outcome domain.DispatchOutcome) outcomeResponse {
	response := outcomeResponse{
		Channel:           outcome.Channel.String(),
		Status:            outcome.Status.String(),
		ProviderReference: outcome.ProviderReference,
		AttemptedAt:       outcome.AttemptedAt,
	}
	if outcome.FailureReason != nil {
		reason := outcome.FailureReason.String()
		response.FailureReason = &reason
	}
	return response
}

func toRecordResponses(records []domain.AuditRecord) []recordResponse {
	responses := make([]recordResponse, 0, len(records))
	for i := range records {
		responses = append(responses, toRecordResponse(&records[i]))
	}
	return responses
}

func toRecordResponse(record *domain.AuditRecord) recordResponse {
	return recordResponse{
		ID:        record.ID,
		Category:  record.Category.String(),
		Read:      record.Read,
		Outcomes:  toOutcomeResponses(record.Outcomes),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
