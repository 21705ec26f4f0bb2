package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/domain"
)

// SessionConfig configures a Session. Connection.URL defaults to the
// websocket endpoint of BaseURL.
type SessionConfig struct {
	BaseURL       string
	Credentials   Credentials
	UserID        string
	Role          domain.Role
	Connection    ConnectionConfig
	AckTimeout    time.Duration
	MaxBodyLength int
	HTTPClient    *http.Client
	Logger        *zap.Logger

	OnResult      func(SendResult)
	OnUpdate      func(ticketID string)
	OnStateChange func(State)
	OnFatal       func(error)
}

// Session owns one connection manager, its coordinator and the local
// views. Pending sends are discarded on Close.
type Session struct {
	api    *APIClient
	conn   *ConnectionManager
	coord  *Coordinator
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	open map[string]struct{}
}

// NewSession wires a session. Nothing connects until Start.
func NewSession(cfg SessionConfig) (*Session, error) {
	wsURL := cfg.Connection.URL
	if wsURL == "" {
		derived, err := channelURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		wsURL = derived
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:    NewAPIClient(cfg.BaseURL, cfg.Credentials, cfg.HTTPClient),
		logger: logger.With(zap.String("component", "session")),
		ctx:    ctx,
		cancel: cancel,
		open:   make(map[string]struct{}),
	}

	role := domain.SenderRoleUser
	if cfg.Role == domain.RoleAdmin {
		role = domain.SenderRoleAdmin
	}

	connCfg := cfg.Connection
	connCfg.URL = wsURL
	connCfg.Credentials = cfg.Credentials
	if connCfg.Logger == nil {
		connCfg.Logger = logger
	}
	s.conn = NewConnectionManager(connCfg, ConnectionHandlers{
		OnFrame: func(frame dto.Frame) {
			s.coord.HandleFrame(frame)
		},
		OnConnected: s.onConnected,
		OnDisconnected: func(err error) {
			s.coord.HandleDisconnect(err)
		},
		OnStateChange: cfg.OnStateChange,
		OnFatal:       cfg.OnFatal,
	})
	s.coord = NewCoordinator(s.conn, CoordinatorConfig{
		UserID:        cfg.UserID,
		Role:          role,
		MaxBodyLength: cfg.MaxBodyLength,
		AckTimeout:    cfg.AckTimeout,
		Logger:        logger,
		OnResult:      cfg.OnResult,
		OnUpdate:      cfg.OnUpdate,
	})
	return s, nil
}

func channelURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("client: invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported base url scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Start connects. A network failure is not an error here: the manager
// keeps retrying in the background. ErrUnauthenticated and ErrClosed are
// returned.
func (s *Session) Start(ctx context.Context) error {
	err := s.conn.Connect(ctx)
	if err != nil && IsNetworkError(err) {
		s.logger.Warn("initial connect failed, retrying in background", zap.Error(err))
		return nil
	}
	return err
}

// Open starts following ticketID and loads its thread.
func (s *Session) Open(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	s.open[ticketID] = struct{}{}
	s.mu.Unlock()

	ticket, err := s.api.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	s.coord.Log(ticketID).ApplyStatus(ticket.Status, ticket.UpdatedAt)
	if err := s.conn.Send(dto.Frame{Type: dto.FrameWatch, TicketID: ticketID}); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Warn("watch not sent", zap.String("ticket_id", ticketID), zap.Error(err))
	}
	msgs, err := s.api.ListMessages(ctx, ticketID)
	if err != nil {
		return err
	}
	s.coord.Reconcile(ticketID, msgs)
	return nil
}

// onConnected re-subscribes every open ticket, then re-fetches its thread.
func (s *Session) onConnected() {
	s.mu.Lock()
	tickets := make([]string, 0, len(s.open))
	for id := range s.open {
		tickets = append(tickets, id)
	}
	s.mu.Unlock()

	for _, ticketID := range tickets {
		if err := s.conn.Send(dto.Frame{Type: dto.FrameWatch, TicketID: ticketID}); err != nil {
			s.logger.Warn("re-watch failed", zap.String("ticket_id", ticketID), zap.Error(err))
		}
		s.wg.Add(1)
		go func(ticketID string) {
			defer s.wg.Done()
			msgs, err := s.api.ListMessages(s.ctx, ticketID)
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("reconcile failed", zap.String("ticket_id", ticketID), zap.Error(err))
				}
				return
			}
			s.coord.Reconcile(ticketID, msgs)
		}(ticketID)
	}
}

// Send sends body optimistically and returns its temporary id.
func (s *Session) Send(ticketID, body string) (string, error) {
	return s.coord.Send(ticketID, body)
}

// Messages renders the local view of ticketID with delivery states.
func (s *Session) Messages(ticketID string) []domain.Message {
	return s.coord.Log(ticketID).Messages()
}

// Status returns the last known status of ticketID.
func (s *Session) Status(ticketID string) domain.TicketStatus {
	return s.coord.Log(ticketID).Status()
}

// State returns the connection state.
func (s *Session) State() State {
	return s.conn.State()
}

// API exposes the REST client.
func (s *Session) API() *APIClient {
	return s.api
}

// Close tears the session down. Pending sends are dropped silently.
func (s *Session) Close() {
	s.cancel()
	s.conn.Close()
	s.coord.Discard()
	s.wg.Wait()
}
