package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/auth"
	"github.com/spec-kit/ticket-channel/internal/domain"
	"github.com/spec-kit/ticket-channel/internal/hub"
	"github.com/spec-kit/ticket-channel/internal/service"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

const channelPrincipalKey = "channel_principal"

// ChannelConfig tunes the live channel connection.
type ChannelConfig struct {
	PingPeriod       time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	MaxFrameBytes    int64
	SubscriberBuffer int
	RequestTimeout   time.Duration
}

// ChannelHandler serves the /ws live channel: one read and one write
// goroutine per connection, with outbound frames queued on a hub session.
type ChannelHandler struct {
	hub     *hub.Hub
	service *service.ConversationService
	logger  *zap.Logger
	cfg     ChannelConfig
}

// NewChannelHandler constructs handler.
func NewChannelHandler(h *hub.Hub, conversations *service.ConversationService, logger *zap.Logger, cfg ChannelConfig) *ChannelHandler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 16 * 1024
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelHandler{
		hub:     h,
		service: conversations,
		logger:  logger.With(zap.String("component", "channel")),
		cfg:     cfg,
	}
}

// Upgrade rejects plain HTTP requests and hands the authenticated principal
// to the websocket handler. It runs after the auth middleware.
func (h *ChannelHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return apperrors.NewDomainError("UPGRADE_REQUIRED", "websocket upgrade required", fiber.StatusUpgradeRequired, nil)
	}
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	c.Locals(channelPrincipalKey, principal)
	return c.Next()
}

// Handler returns the fiber handler performing the upgrade.
func (h *ChannelHandler) Handler() fiber.Handler {
	return websocket.New(h.Serve)
}

// Serve runs one live connection until either side closes it.
func (h *ChannelHandler) Serve(conn *websocket.Conn) {
	principal, ok := conn.Locals(channelPrincipalKey).(domain.Principal)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthenticated"))
		return
	}

	session := hub.NewSession(principal, h.cfg.SubscriberBuffer)
	h.hub.Subscribe(session)
	logger := h.logger.With(zap.String("session_id", session.ID()), zap.String("user_id", principal.UserID))
	logger.Info("channel connected")

	h.reply(session, dto.Frame{
		Type:      dto.FrameHello,
		SessionID: session.ID(),
		UserID:    principal.UserID,
		Role:      principal.Role,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, session)
	}()

	h.readPump(conn, session, logger)
	h.hub.Unsubscribe(session)
	<-done
	logger.Info("channel disconnected")
}

func (h *ChannelHandler) readPump(conn *websocket.Conn, session *hub.Session, logger *zap.Logger) {
	defer func() {
		_ = conn.Close()
	}()

	conn.SetReadLimit(h.cfg.MaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var frame dto.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.nack(session, "", apperrors.NewValidationError("malformed frame", nil))
			continue
		}
		h.handleFrame(session, frame)
	}
}

func (h *ChannelHandler) writePump(conn *websocket.Conn, session *hub.Session) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ChannelHandler) handleFrame(session *hub.Session, frame dto.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
	defer cancel()
	principal := session.Principal()

	switch frame.Type {
	case dto.FrameSend:
		result, err := h.service.Append(ctx, principal, frame.TicketID, frame.Body)
		if err != nil {
			h.nack(session, frame.RequestID, err)
			return
		}
		if principal.IsAdmin() {
			h.hub.Watch(session, frame.TicketID)
		}
		h.ack(session, frame.RequestID, &result.Message, result.Ticket.Status)

	case dto.FrameResolve:
		result, err := h.service.Resolve(ctx, principal, frame.TicketID, frame.ResolveID)
		if err != nil {
			h.nack(session, frame.RequestID, err)
			return
		}
		h.hub.Watch(session, frame.TicketID)
		h.ack(session, frame.RequestID, &result.Message, result.Ticket.Status)

	case dto.FrameWatch:
		if _, err := h.service.GetTicket(ctx, principal, frame.TicketID); err != nil {
			h.nack(session, frame.RequestID, err)
			return
		}
		// subscribe first: changes after the read below arrive as events
		h.hub.Watch(session, frame.TicketID)
		ticket, err := h.service.GetTicket(ctx, principal, frame.TicketID)
		if err != nil {
			h.hub.Unwatch(session, frame.TicketID)
			h.nack(session, frame.RequestID, err)
			return
		}
		at := ticket.UpdatedAt
		h.reply(session, dto.Frame{Type: dto.FrameAck, RequestID: frame.RequestID, TicketID: ticket.ID, Status: ticket.Status, StatusAt: &at})

	case dto.FrameUnwatch:
		h.hub.Unwatch(session, frame.TicketID)
		h.reply(session, dto.Frame{Type: dto.FrameAck, RequestID: frame.RequestID, TicketID: frame.TicketID})

	default:
		h.nack(session, frame.RequestID, apperrors.NewValidationError("unknown frame type", map[string]any{"type": frame.Type}))
	}
}

func (h *ChannelHandler) ack(session *hub.Session, requestID string, msg *domain.Message, status domain.TicketStatus) {
	payload := dto.NewMessageResponse(msg)
	h.reply(session, dto.Frame{
		Type:      dto.FrameAck,
		RequestID: requestID,
		TicketID:  msg.TicketID,
		Message:   &payload,
		Status:    status,
	})
}

func (h *ChannelHandler) nack(session *hub.Session, requestID string, err error) {
	domainErr := apperrors.ToDomainError(err)
	if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
		h.logger.Error("channel request failed", zap.String("session_id", session.ID()), zap.Error(err))
	}
	h.reply(session, dto.Frame{
		Type:      dto.FrameNack,
		RequestID: requestID,
		Error:     &dto.ErrorBody{Code: domainErr.Code, Message: domainErr.Message},
	})
}

func (h *ChannelHandler) reply(session *hub.Session, frame dto.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encode frame", zap.Error(err))
		return
	}
	if !session.SafeSend(data) {
		h.logger.Warn("reply dropped", zap.String("session_id", session.ID()), zap.String("type", string(frame.Type)))
	}
}
