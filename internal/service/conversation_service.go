package service

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/domain"
	"github.com/spec-kit/ticket-channel/internal/events"
	"github.com/spec-kit/ticket-channel/internal/observability"
	"github.com/spec-kit/ticket-channel/internal/ratelimit"
	"github.com/spec-kit/ticket-channel/internal/repository"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

const maxSubjectLength = 200

// ConversationService owns ticket threads: it is the only place that mints
// message ids and moves tickets through their lifecycle.
type ConversationService struct {
	repo       repository.ConversationRepository
	limiter    ratelimit.Limiter
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	maxBody    int
	now        func() time.Time

	locks     *ticketLocks
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// ConversationDependencies bundles collaborators for the conversation service.
type ConversationDependencies struct {
	Repo          repository.ConversationRepository
	Limiter       ratelimit.Limiter
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	MaxBodyLength int
	Now           func() time.Time
}

// AppendResult is the outcome of an accepted append. Duplicate is set when
// a retried resolve matched an existing marker and nothing was written.
type AppendResult struct {
	Message   domain.Message
	Ticket    domain.Ticket
	Changed   bool
	Duplicate bool
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	maxBody := deps.MaxBodyLength
	if maxBody <= 0 {
		maxBody = domain.DefaultMaxBodyLength
	}
	return &ConversationService{
		repo:       deps.Repo,
		limiter:    deps.Limiter,
		dispatcher: deps.Dispatcher,
		logger:     logger.With(zap.String("component", "conversation")),
		metrics:    deps.Metrics,
		maxBody:    maxBody,
		now:        now,
		locks:      newTicketLocks(),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

// MaxBodyLength returns the configured body limit in characters.
func (s *ConversationService) MaxBodyLength() int {
	return s.maxBody
}

// OpenTicket creates an OPEN ticket owned by the caller with its first message.
func (s *ConversationService) OpenTicket(ctx context.Context, principal domain.Principal, subject, body string) (*domain.Ticket, *domain.Message, error) {
	if principal.IsAdmin() {
		return nil, nil, apperrors.NewForbidden("tickets are opened by customers")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, nil, apperrors.NewValidationError("subject required", nil)
	}
	if utf8.RuneCountInString(subject) > maxSubjectLength {
		return nil, nil, apperrors.NewValidationError("subject too long", map[string]any{"max_length": maxSubjectLength})
	}
	body, err := domain.NormalizeBody(body, s.maxBody)
	if err != nil {
		s.rejected(err)
		return nil, nil, err
	}
	if err := s.checkRate(ctx, principal); err != nil {
		return nil, nil, err
	}

	createdAt := s.timestamp(nil)
	id, err := s.mintID(createdAt)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}
	senderID := principal.UserID
	first := &domain.Message{
		ID:         id,
		SenderID:   &senderID,
		SenderRole: domain.SenderRoleUser,
		Body:       body,
		CreatedAt:  createdAt,
	}
	ticket := &domain.Ticket{
		OwnerID: principal.UserID,
		Subject: subject,
		Status:  domain.TicketStatusOpen,
	}
	if err := s.repo.CreateTicket(ctx, ticket, first); err != nil {
		return nil, nil, err
	}
	s.metrics.RecordMessage(string(first.SenderRole))

	s.publish(ctx, events.Event{
		Type:     events.EventTicketOpened,
		TicketID: ticket.ID,
		OwnerID:  ticket.OwnerID,
		Actor:    actorFor(principal),
		Payload:  events.TicketOpenedPayload{Subject: ticket.Subject, First: *first},
	})
	return ticket, first, nil
}

// GetTicket returns a ticket the caller may access.
func (s *ConversationService) GetTicket(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	if !principal.CanAccess(ticket) {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	return ticket, nil
}

// List returns the ticket thread ordered by (CreatedAt, ID).
func (s *ConversationService) List(ctx context.Context, principal domain.Principal, ticketID string) ([]domain.Message, error) {
	if _, err := s.GetTicket(ctx, principal, ticketID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, ticketID)
}

// History lists the status changes of a ticket.
func (s *ConversationService) History(ctx context.Context, principal domain.Principal, ticketID string) ([]domain.StatusChange, error) {
	if _, err := s.GetTicket(ctx, principal, ticketID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, ticketID)
}

// Append adds a message authored by principal. The message and any status
// change it triggers are stored in one repository call.
func (s *ConversationService) Append(ctx context.Context, principal domain.Principal, ticketID, body string) (*AppendResult, error) {
	body, err := domain.NormalizeBody(body, s.maxBody)
	if err != nil {
		s.rejected(err)
		return nil, err
	}
	ticket, err := s.GetTicket(ctx, principal, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.IsClosed() {
		err := apperrors.NewTicketClosed(ticketID)
		s.rejected(err)
		return nil, err
	}
	if err := s.checkRate(ctx, principal); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	senderID := principal.UserID
	msg := &domain.Message{
		TicketID:   ticketID,
		SenderID:   &senderID,
		SenderRole: principal.SenderRole(),
		Body:       body,
	}
	result, err := s.appendLocked(ctx, msg, &senderID)
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventMessageAppended,
		TicketID: ticketID,
		OwnerID:  result.Ticket.OwnerID,
		Actor:    actorFor(principal),
		Payload: events.MessageAppendedPayload{
			Message:       result.Message,
			Status:        result.Ticket.Status,
			StatusChanged: result.Changed,
		},
	})
	return result, nil
}

// Resolve appends the "Ticket Resolved" marker and moves the ticket to
// RESOLVED. Retrying with the same resolveID returns the existing marker.
// An empty resolveID gets a fresh one.
func (s *ConversationService) Resolve(ctx context.Context, principal domain.Principal, ticketID, resolveID string) (*AppendResult, error) {
	if !principal.IsAdmin() {
		return nil, apperrors.NewForbidden("only support staff can resolve tickets")
	}
	resolveID = strings.TrimSpace(resolveID)
	if resolveID == "" {
		resolveID = uuid.NewString()
	}
	if _, err := s.GetTicket(ctx, principal, ticketID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	existing, err := s.repo.FindByResolveID(ctx, ticketID, resolveID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		ticket, err := s.repo.GetTicket(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		return &AppendResult{Message: *existing, Ticket: *ticket, Duplicate: true}, nil
	}

	marker := &domain.Message{
		TicketID:   ticketID,
		SenderRole: domain.SenderRoleSystem,
		Body:       domain.ResolvedMarkerBody,
		ResolveID:  &resolveID,
	}
	adminID := principal.UserID
	result, err := s.appendLocked(ctx, marker, &adminID)
	if err != nil {
		s.rejected(err)
		return nil, err
	}

	s.logger.Info("ticket resolved", zap.String("ticket_id", ticketID), zap.String("resolve_id", resolveID))
	s.publish(ctx, events.Event{
		Type:     events.EventTicketResolved,
		TicketID: ticketID,
		OwnerID:  result.Ticket.OwnerID,
		Actor:    actorFor(principal),
		Payload:  events.TicketResolvedPayload{Marker: result.Message, Status: result.Ticket.Status},
	})
	return result, nil
}

// Close moves a ticket to the terminal CLOSED status.
func (s *ConversationService) Close(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error) {
	if _, err := s.GetTicket(ctx, principal, ticketID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	next, err := CloseStatus(ticket.Status, ticketID)
	if err != nil {
		return nil, err
	}
	changedBy := principal.UserID
	change := &domain.StatusChange{
		TicketID:    ticketID,
		FromStatus:  ticket.Status,
		ToStatus:    next,
		ChangedByID: &changedBy,
	}
	if err := s.repo.UpdateStatus(ctx, change); err != nil {
		return nil, mapRepoError(err, ticketID)
	}
	updated, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticketID,
		OwnerID:  updated.OwnerID,
		Actor:    actorFor(principal),
		Payload:  events.TicketStatusChangedPayload{OldStatus: change.FromStatus, NewStatus: change.ToStatus},
	})
	return updated, nil
}

// appendLocked mints the id, applies the state machine and stores msg.
// Callers hold the ticket lock.
func (s *ConversationService) appendLocked(ctx context.Context, msg *domain.Message, changedBy *string) (*AppendResult, error) {
	ticket, err := s.repo.GetTicket(ctx, msg.TicketID)
	if err != nil {
		return nil, mapRepoError(err, msg.TicketID)
	}
	next, changed, err := NextStatus(ticket.Status, msg)
	if err != nil {
		return nil, err
	}

	tail, err := s.repo.LastMessage(ctx, msg.TicketID)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = s.timestamp(tail)
	if msg.ID, err = s.mintID(msg.CreatedAt); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	var change *domain.StatusChange
	if changed {
		change = &domain.StatusChange{
			TicketID:         msg.TicketID,
			FromStatus:       ticket.Status,
			ToStatus:         next,
			TriggerMessageID: &msg.ID,
			ChangedByID:      changedBy,
		}
	}
	if err := s.repo.AppendMessage(ctx, msg, change); err != nil {
		return nil, mapRepoError(err, msg.TicketID)
	}
	s.metrics.RecordMessage(string(msg.SenderRole))

	ticket.Status = next
	ticket.UpdatedAt = msg.CreatedAt
	return &AppendResult{Message: *msg, Ticket: *ticket, Changed: changed}, nil
}

// timestamp returns a creation time strictly after the current tail,
// truncated to the precision Postgres stores.
func (s *ConversationService) timestamp(tail *domain.Message) time.Time {
	at := s.now().UTC().Truncate(time.Microsecond)
	if tail != nil && !at.After(tail.CreatedAt) {
		at = tail.CreatedAt.UTC().Add(time.Microsecond)
	}
	return at
}

func (s *ConversationService) mintID(at time.Time) (string, error) {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *ConversationService) checkRate(ctx context.Context, principal domain.Principal) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, principal.UserID)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		err := apperrors.NewRateLimited("too many messages, slow down")
		s.rejected(err)
		return err
	}
	return nil
}

func (s *ConversationService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("type", string(event.Type)), zap.String("ticket_id", event.TicketID), zap.Error(err))
	}
}

func (s *ConversationService) rejected(err error) {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		s.metrics.RecordAppendRejected(domainErr.Code)
	}
}

func mapRepoError(err error, ticketID string) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	case errors.Is(err, repository.ErrStatusConflict):
		return apperrors.NewConflict("ticket status changed concurrently", map[string]any{"ticket_id": ticketID})
	}
	return err
}

func actorFor(principal domain.Principal) events.Actor {
	userID := principal.UserID
	return events.Actor{Role: principal.SenderRole(), UserID: &userID}
}
