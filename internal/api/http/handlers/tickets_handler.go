package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/auth"
	"github.com/spec-kit/ticket-channel/internal/service"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

// TicketsHandler serves ticket and thread endpoints for customers and staff.
type TicketsHandler struct {
	service *service.ConversationService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(conversations *service.ConversationService) *TicketsHandler {
	return &TicketsHandler{service: conversations}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, first, err := h.service.OpenTicket(c.UserContext(), principal, req.Subject, req.Body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.OpenTicketResponse{
		Ticket:  dto.NewTicketResponse(ticket),
		Message: dto.NewMessageResponse(first),
	}})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.GetTicket(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListMessages GET /tickets/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	msgs, err := h.service.List(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageListResponse(msgs)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.service.Append(c.UserContext(), principal, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.AppendMessageResponse{
		Message: dto.NewMessageResponse(&result.Message),
		Status:  result.Ticket.Status,
	}})
}

// Resolve POST /tickets/:id/resolve.
func (h *TicketsHandler) Resolve(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ResolveTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	result, err := h.service.Resolve(c.UserContext(), principal, c.Params("id"), req.ResolveID)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.ResolveTicketResponse{
		Message:   dto.NewMessageResponse(&result.Message),
		Ticket:    dto.NewTicketResponse(&result.Ticket),
		Duplicate: result.Duplicate,
	}})
}

// Close POST /tickets/:id/close.
func (h *TicketsHandler) Close(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.service.Close(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	changes, err := h.service.History(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatusHistoryResponse(changes)})
}
