package router

import (
	"context"

	"chat_relay_service/internal/relay/app"
	"chat_relay_service/pkg/middlewares"
	"chat_relay_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 注册 relay 的路由
// @title Chat Relay Service API
// @version 1.0
// @description Real-time one-to-one messaging relay
// @host localhost:8080
// @BasePath /
func RegisterRoutes(r *fiber.App, wsHandler *app.RelayWebsocketHandler, history *app.HistoryHandler, verifier *token.Verifier) {
	r.Get("/swagger/*", swagger.HandlerDefault)
	r.Get("/", app.ConnectCheck)
	r.Post("/debug", app.DebugLogFlag)

	r.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Get("/ws", middlewares.JWTMiddleware(verifier), websocket.New(func(c *websocket.Conn) {
		wsHandler.HandleConnection(context.Background(), c)
	}))

	api := r.Group("/api")
	api.Post("/messages", middlewares.JWTMiddleware(verifier), history.PostMessage)
	api.Get("/messages/:sender/:receiver", history.GetConversation)
	api.Get("/unread/:receiver/:sender", history.GetUnread)
	api.Get("/presence/:user", history.GetPresence)
	api.Get("/users/check/:identifier", history.CheckUser)

	r.Get("/messages/incoming/:user", history.GetIncoming)
}
