package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/events"
)

// LivePublisher accepts events for delivery to connected sessions.
// Publish must not block.
type LivePublisher interface {
	Publish(event events.Event) bool
}

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	live       LivePublisher
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, live LivePublisher) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "notifications")),
		live:       live,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketOpened, n.handleTicketOpened)
	n.dispatcher.Subscribe(events.EventMessageAppended, n.handleMessageAppended)
	n.dispatcher.Subscribe(events.EventTicketResolved, n.handleTicketResolved)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
}

func (n *NotificationService) handleTicketOpened(_ context.Context, event events.Event) error {
	n.logger.Info("TicketOpened", zap.String("ticket_id", event.TicketID), zap.String("owner_id", event.OwnerID))
	return nil
}

func (n *NotificationService) handleMessageAppended(ctx context.Context, event events.Event) error {
	n.logger.Debug("MessageAppended", zap.String("ticket_id", event.TicketID))
	n.forward(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketResolved(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketResolved", zap.String("ticket_id", event.TicketID))
	n.forward(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketStatusChanged", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.forward(ctx, event)
	return nil
}

func (n *NotificationService) forward(_ context.Context, event events.Event) {
	if n.live == nil {
		return
	}
	if !n.live.Publish(event) {
		n.logger.Warn("live delivery dropped",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)))
	}
}
