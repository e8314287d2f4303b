package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foodbridge/notify-gateway/internal/service"
	"github.com/gofiber/fiber/v2"
)

type AccountVerifier interface {
	Verify(ctx context.Context, accountNumber, bankName string) (json.RawMessage, error)
}

type VerificationHandler struct {
	verifier AccountVerifier
}

func NewVerificationHandler(verifier AccountVerifier) (*VerificationHandler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("account verifier is required")
	}
	return &VerificationHandler{verifier: verifier}, nil
}

func RegisterVerificationRoutes(router fiber.Router, verifier AccountVerifier) error {
	h, err := NewVerificationHandler(verifier)
	if err != nil {
		return err
	}

	router.Group("/v1").Get("/accounts/verify", h.VerifyAccount)
	return nil
}

// VerifyAccount proxies the lookup upstream and echoes its JSON body on
// success. Upstream failures come back with the upstream's status and a
// normalized error message.
func (h *VerificationHandler) VerifyAccount(c *fiber.Ctx) error {
	body, err := h.verifier.Verify(
		c.UserContext(),
		c.Query("account_number"),
		c.Query("bank_name"),
	)
	if err != nil {
		var verr *service.VerificationError
		if errors.As(err, &verr) {
			return fiber.NewError(verr.StatusCode, verr.Message)
		}
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(body)
}
