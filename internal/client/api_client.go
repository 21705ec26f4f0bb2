package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/domain"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

// APIClient talks to the REST side of the service. It is the
// reconciliation path after reconnects.
type APIClient struct {
	baseURL     string
	credentials Credentials
	http        *http.Client
}

// NewAPIClient builds a client for baseURL (scheme://host[:port]).
func NewAPIClient(baseURL string, credentials Credentials, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		http:        httpClient,
	}
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *dto.ErrorBody  `json:"error"`
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credentials == nil {
		return ErrUnauthenticated
	}
	token, err := c.credentials.Token(ctx)
	if err != nil || token == "" {
		return ErrUnauthenticated
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return &NetworkError{Op: "decode " + path, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	if resp.StatusCode >= 400 {
		if env.Error != nil {
			return apperrors.FromCode(env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("client: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// OpenTicket creates a ticket with its first message.
func (c *APIClient) OpenTicket(ctx context.Context, subject, body string) (*dto.OpenTicketResponse, error) {
	var out dto.OpenTicketResponse
	if err := c.do(ctx, http.MethodPost, "/tickets", dto.CreateTicketRequest{Subject: subject, Body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTicket fetches ticket metadata.
func (c *APIClient) GetTicket(ctx context.Context, ticketID string) (*dto.TicketResponse, error) {
	var out dto.TicketResponse
	if err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(ticketID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches the authoritative thread.
func (c *APIClient) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	var out dto.MessageListResponse
	if err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(ticketID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, m.ToDomain())
	}
	return msgs, nil
}

// Resolve marks a ticket resolved. Reusing resolveID makes retries safe.
func (c *APIClient) Resolve(ctx context.Context, ticketID, resolveID string) (*dto.ResolveTicketResponse, error) {
	var out dto.ResolveTicketResponse
	if err := c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(ticketID)+"/resolve", dto.ResolveTicketRequest{ResolveID: resolveID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close closes a ticket.
func (c *APIClient) Close(ctx context.Context, ticketID string) (*dto.TicketResponse, error) {
	var out dto.TicketResponse
	if err := c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(ticketID)+"/close", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
