package domain

// Role differentiates customers from support staff on the channel.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Principal is the authenticated caller as supplied by the session provider.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the principal is support staff.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// SenderRole maps the principal role to the message sender role.
func (p Principal) SenderRole() SenderRole {
	if p.IsAdmin() {
		return SenderRoleAdmin
	}
	return SenderRoleUser
}

// CanAccess reports whether the principal may read or write the ticket.
func (p Principal) CanAccess(ticket *Ticket) bool {
	if ticket == nil {
		return false
	}
	return p.IsAdmin() || ticket.OwnerID == p.UserID
}
