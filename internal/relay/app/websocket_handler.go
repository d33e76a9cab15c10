package app

import (
	"context"
	"encoding/json"
	"time"

	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/pkg/logger"
	"chat_relay_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// RelayWebsocketHandler websocket 入口, 每條連線一個 read loop
type RelayWebsocketHandler struct {
	relay         *Relay
	pingInterval  time.Duration
	outboundQueue int
}

// NewRelayWebsocketHandler create RelayWebsocketHandler
func NewRelayWebsocketHandler(relay *Relay, pingInterval time.Duration, outboundQueue int) *RelayWebsocketHandler {
	return &RelayWebsocketHandler{
		relay:         relay,
		pingInterval:  pingInterval,
		outboundQueue: outboundQueue,
	}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *RelayWebsocketHandler) HandleConnection(ctx context.Context, ws *websocket.Conn) {
	verified, _ := ws.Locals(middlewares.TokenIdentity).(string)
	conn := newWSConnection(ws, verified, h.outboundQueue)
	logger.Log.Info("websocket open", zap.String("conn", conn.ID()), zap.String("remote", ws.RemoteAddr().String()))

	ticker := time.NewTicker(h.pingInterval)
	ctxClose, cancel := context.WithCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Error("websocket handler panic", zap.String("conn", conn.ID()), zap.Any("panic", rec))
		}
		ticker.Stop()
		cancel()
		// 斷線一定要清 registry 與 presence
		h.relay.Disconnect(context.Background(), conn)
		conn.Close()
		logger.Log.Info("websocket close", zap.String("conn", conn.ID()))
	}()

	//server發出ping之後client連線正常會回pong
	//fiber會自動處理回傳pong,故需要SetPongHandler另外接出
	ws.SetPongHandler(func(appData string) error {
		logger.Log.Debug("received pong", zap.String("conn", conn.ID()))
		return nil
	})

	// 定期發送 Ping
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					logger.Log.Warn("ping error", zap.String("conn", conn.ID()), zap.Error(err))
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	for {
		// 1. 讀取前端訊息
		mt, message, err := ws.ReadMessage()
		if err != nil {
			// 檢查是否為 Close 正常結束
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info("connection closed", zap.String("conn", conn.ID()))
			} else {
				//直接斷線 1006
				logger.Log.Warn("websocket read error", zap.String("conn", conn.ID()), zap.Error(err))
			}
			return
		}

		if mt != websocket.TextMessage {
			h.sendError(conn, "unsupported frame type")
			continue
		}

		var req domain.WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			h.sendError(conn, domain.ErrMalformedRequest.Error())
			continue
		}
		h.relay.Dispatch(ctxClose, conn, req)
	}
}

func (h *RelayWebsocketHandler) sendError(conn Connection, errorMsg string) {
	resp := domain.WSResponse{
		Event: domain.ErrorEvent,
		Error: errorMsg,
	}
	if err := conn.Send(resp); err != nil {
		logger.Log.Warn("send error frame", zap.String("conn", conn.ID()), zap.Error(err))
	}
}
