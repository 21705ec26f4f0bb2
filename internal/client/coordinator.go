package client

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/domain"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

// DefaultAckTimeout bounds how long a send may stay pending.
const DefaultAckTimeout = 15 * time.Second

// Transport carries frames to the server.
type Transport interface {
	Send(frame dto.Frame) error
}

// SendResult reports the outcome of an optimistic send. On success Message
// is the confirmed message. On failure Err wraps ErrSendFailed, Message is
// the rolled back entry marked FAILED and Draft holds the text to restore.
type SendResult struct {
	TicketID string
	TempID   string
	Draft    string
	Message  *domain.Message
	Err      error
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	UserID        string
	Role          domain.SenderRole
	MaxBodyLength int
	AckTimeout    time.Duration
	Logger        *zap.Logger
	OnResult      func(SendResult)
	OnUpdate      func(ticketID string)
}

type pendingSend struct {
	ticketID string
	draft    string
	msg      domain.Message
	timer    *time.Timer
}

// Coordinator shows sends immediately as PENDING and reconciles them with
// the server's ack, nack or broadcast. Deduplication is keyed strictly by
// server id.
type Coordinator struct {
	transport Transport
	cfg       CoordinatorConfig
	logger    *zap.Logger

	mu      sync.Mutex
	counter uint64
	logs    map[string]*LocalLog
	pending map[string]*pendingSend
}

// NewCoordinator builds a coordinator sending through transport.
func NewCoordinator(transport Transport, cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = domain.DefaultMaxBodyLength
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Role == "" {
		cfg.Role = domain.SenderRoleUser
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "coordinator")),
		logs:      make(map[string]*LocalLog),
		pending:   make(map[string]*pendingSend),
	}
}

// Log returns the local view of ticketID, creating it on first use.
func (c *Coordinator) Log(ticketID string) *LocalLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logLocked(ticketID)
}

func (c *Coordinator) logLocked(ticketID string) *LocalLog {
	l, ok := c.logs[ticketID]
	if !ok {
		l = NewLocalLog(ticketID)
		c.logs[ticketID] = l
	}
	return l
}

// Send validates body, shows it as PENDING and transmits it. Validation
// errors leave no trace. A transport error rolls the send back and is
// returned wrapped in ErrSendFailed.
func (c *Coordinator) Send(ticketID, body string) (string, error) {
	normalized, err := domain.NormalizeBody(body, c.cfg.MaxBodyLength)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.counter++
	tempID := domain.LocalID(c.counter)
	senderID := c.cfg.UserID
	msg := domain.Message{
		ID:            tempID,
		TicketID:      ticketID,
		SenderID:      &senderID,
		SenderRole:    c.cfg.Role,
		Body:          normalized,
		CreatedAt:     time.Now().UTC(),
		DeliveryState: domain.DeliveryPending,
	}
	log := c.logLocked(ticketID)
	log.AddPending(msg)
	p := &pendingSend{ticketID: ticketID, draft: body, msg: msg}
	c.pending[tempID] = p
	p.timer = time.AfterFunc(c.cfg.AckTimeout, func() {
		c.fail(tempID, ErrAckTimeout)
	})
	c.mu.Unlock()
	c.notify(ticketID)

	if err := c.transport.Send(dto.Frame{Type: dto.FrameSend, RequestID: tempID, TicketID: ticketID, Body: normalized}); err != nil {
		c.mu.Lock()
		c.takeLocked(tempID)
		c.mu.Unlock()
		c.notify(ticketID)
		return "", fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return tempID, nil
}

// takeLocked removes a pending send and its optimistic entry.
func (c *Coordinator) takeLocked(tempID string) (*pendingSend, bool) {
	p, ok := c.pending[tempID]
	if !ok {
		return nil, false
	}
	delete(c.pending, tempID)
	p.timer.Stop()
	c.logLocked(p.ticketID).RemovePending(tempID)
	return p, true
}

func (c *Coordinator) fail(tempID string, cause error) {
	c.mu.Lock()
	p, ok := c.takeLocked(tempID)
	c.mu.Unlock()
	if !ok {
		return
	}
	failed := p.msg
	failed.DeliveryState = domain.DeliveryFailed
	err := fmt.Errorf("%w: %w", ErrSendFailed, cause)
	c.logger.Info("send failed", zap.String("temp_id", tempID), zap.Error(cause))
	c.notify(p.ticketID)
	c.report(SendResult{TicketID: p.ticketID, TempID: tempID, Draft: p.draft, Message: &failed, Err: err})
}

// HandleFrame applies a server frame to the local views.
func (c *Coordinator) HandleFrame(frame dto.Frame) {
	switch frame.Type {
	case dto.FrameAck:
		c.handleAck(frame)
	case dto.FrameNack:
		cause := apperrors.FromCode("", "rejected")
		if frame.Error != nil {
			cause = apperrors.FromCode(frame.Error.Code, frame.Error.Message)
		}
		c.fail(frame.RequestID, cause)
	case dto.FrameNewMessage, dto.FrameTicketResolved:
		if frame.Message == nil {
			return
		}
		msg := frame.Message.ToDomain()
		log := c.Log(msg.TicketID)
		log.ApplyStatus(frame.Status, msg.CreatedAt)
		log.Confirm(msg)
		c.notify(msg.TicketID)
	case dto.FrameStatusChanged:
		c.Log(frame.TicketID).ApplyStatus(frame.Status, statusAsOf(frame))
		c.notify(frame.TicketID)
	}
}

func (c *Coordinator) handleAck(frame dto.Frame) {
	if frame.Message == nil {
		// watch/unwatch acks carry no message
		if frame.TicketID != "" {
			c.Log(frame.TicketID).ApplyStatus(frame.Status, statusAsOf(frame))
		}
		return
	}
	msg := frame.Message.ToDomain()

	c.mu.Lock()
	p, ok := c.takeLocked(frame.RequestID)
	log := c.logLocked(msg.TicketID)
	c.mu.Unlock()

	log.ApplyStatus(frame.Status, msg.CreatedAt)
	log.Confirm(msg)
	c.notify(msg.TicketID)
	if ok {
		c.report(SendResult{TicketID: p.ticketID, TempID: frame.RequestID, Draft: p.draft, Message: &msg})
	}
}

// statusAsOf returns the read time of a status carried without a message.
// A zero time only wins while nothing newer has been seen.
func statusAsOf(frame dto.Frame) time.Time {
	if frame.StatusAt == nil {
		return time.Time{}
	}
	return *frame.StatusAt
}

// HandleDisconnect fails every send still waiting for an ack.
func (c *Coordinator) HandleDisconnect(cause error) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.fail(id, cause)
	}
}

// Reconcile merges an authoritative listing into the ticket's view.
func (c *Coordinator) Reconcile(ticketID string, msgs []domain.Message) {
	if c.Log(ticketID).Merge(msgs) > 0 {
		c.notify(ticketID)
	}
}

// Discard drops pending sends without reporting them. Used at teardown.
func (c *Coordinator) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.pending {
		c.takeLocked(id)
	}
}

func (c *Coordinator) notify(ticketID string) {
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(ticketID)
	}
}

func (c *Coordinator) report(result SendResult) {
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(result)
	}
}
