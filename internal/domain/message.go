package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

// SenderRole indicates who authored a message.
type SenderRole string

const (
	SenderRoleUser   SenderRole = "USER"
	SenderRoleAdmin  SenderRole = "ADMIN"
	SenderRoleSystem SenderRole = "SYSTEM"
)

// DeliveryState tracks an outgoing message on the client. It is never
// persisted server-side.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "PENDING"
	DeliveryAcked   DeliveryState = "ACKED"
	DeliveryFailed  DeliveryState = "FAILED"
)

// ResolvedMarkerBody is the body of the system message appended on resolve.
const ResolvedMarkerBody = "Ticket Resolved"

// DefaultMaxBodyLength bounds message bodies when no limit is configured.
const DefaultMaxBodyLength = 1000

// LocalIDPrefix namespaces client-side temporary ids. Server ids are ULIDs
// and can never start with it.
const LocalIDPrefix = "local-"

// Message is one entry of a ticket thread.
type Message struct {
	ID            string
	TicketID      string
	SenderID      *string
	SenderRole    SenderRole
	Body          string
	CreatedAt     time.Time
	ResolveID     *string
	DeliveryState DeliveryState
}

// Before reports whether m sorts before other by (CreatedAt, ID).
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// IsResolveMarker reports whether m is the system marker of a resolve event.
func (m *Message) IsResolveMarker() bool {
	return m.SenderRole == SenderRoleSystem && m.ResolveID != nil
}

// LocalID builds a temporary client id from a counter value.
func LocalID(n uint64) string {
	return LocalIDPrefix + strconv.FormatUint(n, 10)
}

// IsLocalID reports whether id is a client-side temporary id.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// NormalizeBody trims body and checks it against maxLen characters.
func NormalizeBody(body string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxBodyLength
	}
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", apperrors.NewValidationError("body required", nil)
	}
	if utf8.RuneCountInString(trimmed) > maxLen {
		return "", apperrors.NewBodyTooLong(maxLen)
	}
	return trimmed, nil
}
