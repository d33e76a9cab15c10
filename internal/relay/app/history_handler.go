package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/internal/relay/repository"
	"chat_relay_service/pkg/logger"
	"chat_relay_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

// HistoryHandler REST side of the relay: history pull, unread, presence, user check
type HistoryHandler struct {
	relay     *Relay
	directory repository.UserDirectory
}

// NewHistoryHandler create HistoryHandler, directory nil disables /api/users/check
func NewHistoryHandler(relay *Relay, directory repository.UserDirectory) *HistoryHandler {
	return &HistoryHandler{
		relay:     relay,
		directory: directory,
	}
}

// PresenceResponse GET /api/presence response
type PresenceResponse struct {
	User   string `json:"user"`
	Online bool   `json:"online"`
}

// UserCheckResponse GET /api/users/check response; profile fields only when exists
type UserCheckResponse struct {
	Exists bool `json:"exists"`
	*domain.UserProfile
}

// UnreadResponse GET /api/unread response
type UnreadResponse struct {
	Receiver string `json:"receiver"`
	Sender   string `json:"sender"`
	Unread   int64  `json:"unread"`
}

// PostMessage godoc
// @Summary Send a message without a websocket
// @Description Persists the message and forwards it to the receiver when connected.
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body domain.SendMessageRequest true "message"
// @Success 201 {object} domain.Message
// @Param auth query string false "token, required when auth is enabled"
// @Failure 400 {object} string "Bad Request"
// @Failure 401 {object} string "Missing or invalid token"
// @Failure 403 {object} string "Sender differs from token identity"
// @Failure 500 {object} string "Persistence failure"
// @Router /api/messages [post]
func (h *HistoryHandler) PostMessage(c *fiber.Ctx) error {
	var req domain.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": domain.ErrMalformedRequest.Error()})
	}
	// 有 token 時只能以 token 的 identity 發送
	if verified, _ := c.Locals(middlewares.TokenIdentity).(string); verified != "" && verified != req.Sender {
		return c.Status(statusOf(domain.ErrUnauthorized)).JSON(fiber.Map{"error": domain.ErrUnauthorized.Error()})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	msg, err := h.relay.SendMessage(ctx, req)
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// GetConversation godoc
// @Summary Messages between two users
// @Description Both directions, oldest first.
// @Tags Messages
// @Produce json
// @Param sender path string true "user A"
// @Param receiver path string true "user B"
// @Success 200 {array} domain.Message
// @Failure 500 {object} string "Persistence failure"
// @Router /api/messages/{sender}/{receiver} [get]
func (h *HistoryHandler) GetConversation(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	msgs, err := h.relay.ConversationMessages(ctx, c.Params("sender"), c.Params("receiver"))
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(msgs)
}

// GetIncoming godoc
// @Summary Conversation list of a user
// @Description Latest message and unread count per counterpart, newest first.
// @Tags Messages
// @Produce json
// @Param user path string true "identity"
// @Success 200 {array} domain.Conversation
// @Failure 500 {object} string "Persistence failure"
// @Router /messages/incoming/{user} [get]
func (h *HistoryHandler) GetIncoming(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	convs, err := h.relay.Conversations(ctx, c.Params("user"))
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(convs)
}

// GetUnread godoc
// @Summary Unread count of a pair
// @Tags Messages
// @Produce json
// @Param receiver path string true "reader"
// @Param sender path string true "original sender"
// @Success 200 {object} UnreadResponse
// @Failure 500 {object} string "Persistence failure"
// @Router /api/unread/{receiver}/{sender} [get]
func (h *HistoryHandler) GetUnread(c *fiber.Ctx) error {
	receiver, sender := c.Params("receiver"), c.Params("sender")
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	n, err := h.relay.UnreadCount(ctx, receiver, sender)
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(UnreadResponse{Receiver: receiver, Sender: sender, Unread: n})
}

// GetPresence godoc
// @Summary Online state of a user
// @Tags Presence
// @Produce json
// @Param user path string true "identity"
// @Success 200 {object} PresenceResponse
// @Router /api/presence/{user} [get]
func (h *HistoryHandler) GetPresence(c *fiber.Ctx) error {
	user := c.Params("user")
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	return c.JSON(PresenceResponse{User: user, Online: h.relay.IsOnline(ctx, user)})
}

// CheckUser godoc
// @Summary Look up a user by email or phone number
// @Tags Users
// @Produce json
// @Param identifier path string true "email or phone number"
// @Success 200 {object} UserCheckResponse
// @Failure 404 {object} string "Directory disabled"
// @Failure 500 {object} string "Directory unavailable"
// @Router /api/users/check/{identifier} [get]
func (h *HistoryHandler) CheckUser(c *fiber.Ctx) error {
	if h.directory == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user directory disabled"})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	u, err := h.directory.Lookup(ctx, c.Params("identifier"))
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(UserCheckResponse{Exists: false})
	}
	if err != nil {
		logger.Log.Error("user directory lookup", zap.String("identifier", c.Params("identifier")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user directory unavailable"})
	}
	return c.JSON(UserCheckResponse{Exists: true, UserProfile: u})
}

// ConnectCheck godoc
// @Summary Liveness
// @Tags Comm
// @Produce plain
// @Success 200 {string} string "relay service ok"
// @Router / [get]
func ConnectCheck(c *fiber.Ctx) error {
	return c.SendString("relay service ok")
}

// DebugLogFlag godoc
// @Summary Toggle debug logging
// @Tags Comm
// @Produce json
// @Param status query bool true "debug on/off"
// @Success 200 {object} string "debug mode"
// @Failure 400 {object} string "Bad Request"
// @Router /debug [post]
func DebugLogFlag(c *fiber.Ctx) error {
	status, err := strconv.ParseBool(c.Query("status"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status must be true or false"})
	}
	logger.Log.SetDebugMode(status)
	return c.JSON(fiber.Map{"debug": logger.Log.IsDebugMode()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrMessageNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}
