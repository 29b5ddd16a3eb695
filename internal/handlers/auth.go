package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/errors"
)

// AuthHandler serves both the admin bearer-token login and the chat-session
// auth state machine's externally-driven steps (§6's `/auth/*` group).
type AuthHandler struct {
	admin  *chatsession.AdminAuth
	client *chatsession.Client
}

func NewAuthHandler(admin *chatsession.AdminAuth, client *chatsession.Client) *AuthHandler {
	return &AuthHandler{admin: admin, client: client}
}

type loginRequest struct {
	Password string `json:"password"`
}

// HandleLogin exchanges the single operator password for a bearer token.
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return errors.New(errors.ErrMissingRequiredField, "password is required")
	}

	token, err := h.admin.Login(req.Password)
	if err != nil {
		return err
	}

	slog.Info("admin login succeeded")
	return c.JSON(fiber.Map{"token": token})
}

// HandleLogout revokes the presented bearer token.
func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	token, err := chatsession.ExtractBearerToken(c.Get("Authorization"))
	if err != nil {
		return err
	}
	if err := h.admin.Logout(token); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "logged out"})
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

// HandlePhone maps to POST /auth/phone, starting the login flow.
func (h *AuthHandler) HandlePhone(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if req.Phone == "" {
		return errors.New(errors.ErrMissingRequiredField, "phone is required")
	}
	if err := h.client.SetPhoneNumber(c.Context(), req.Phone); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"state": h.client.State()})
}

type codeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// HandleCode maps to POST /auth/code.
func (h *AuthHandler) HandleCode(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if req.Phone == "" || req.Code == "" {
		return errors.New(errors.ErrMissingRequiredField, "phone and code are required")
	}
	if err := h.client.CheckCode(c.Context(), req.Phone, req.Code); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"state": h.client.State()})
}

type passwordRequest struct {
	Password string `json:"password"`
}

// HandlePassword maps to POST /auth/password, the 2FA step.
func (h *AuthHandler) HandlePassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return errors.New(errors.ErrMissingRequiredField, "password is required")
	}
	if err := h.client.CheckPassword(c.Context(), req.Password); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"state": h.client.State()})
}

// HandleResend maps to POST /auth/resend.
func (h *AuthHandler) HandleResend(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if req.Phone == "" {
		return errors.New(errors.ErrMissingRequiredField, "phone is required")
	}
	if err := h.client.ResendCode(c.Context(), req.Phone); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"state": h.client.State()})
}
