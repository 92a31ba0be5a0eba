package server

import (
	"sokoni/internal/models"
	"sokoni/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetConversations handles GET /api/messages/conversations
// @Summary List my conversations
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Conversation
// @Router /messages/conversations [get]
func (s *Server) GetConversations(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	convs, err := s.messageSvc.ListConversations(c.UserContext(), currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(convs)
}

// GetConversation handles GET /api/messages/conversations/:id
// @Summary Get a conversation with its messages
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset from the newest message"
// @Success 200 {object} object{conversation=models.Conversation,messages=[]models.Message}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /messages/conversations/{id} [get]
func (s *Server) GetConversation(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	page := parsePagination(c, 50)
	conv, msgs, err := s.messageSvc.GetConversation(c.UserContext(), currentUserID(c), id, page.Limit, page.Offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"conversation": conv,
		"messages":     msgs,
	})
}

// SendMessage handles POST /api/messages/send
// @Summary Send a direct message
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{conversationId=int,receiverId=int,content=string,type=string,attachments=[]models.Attachment} true "Message"
// @Success 201 {object} object{message=string,data=models.Message}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /messages/send [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	var req struct {
		ConversationID uint               `json:"conversationId"`
		ReceiverID     uint               `json:"receiverId"`
		Content        string             `json:"content"`
		Type           models.MessageType `json:"type"`
		Attachments    models.Attachments `json:"attachments"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	msg, err := s.messageSvc.Send(c.UserContext(), service.SendMessageInput{
		SenderID:       currentUserID(c),
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Type:           req.Type,
		Attachments:    req.Attachments,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Message sent successfully",
		"data":    msg,
	})
}

// MarkMessageRead handles PATCH /api/messages/:id/read
// @Summary Mark a message read
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Message ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /messages/{id}/read [patch]
func (s *Server) MarkMessageRead(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.messageSvc.MarkRead(c.UserContext(), currentUserID(c), id); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Message marked as read"})
}

// MarkConversationRead handles PATCH /api/messages/conversations/:id/read
// @Summary Mark a whole conversation read
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Success 200 {object} object{message=string,count=int}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /messages/conversations/{id}/read [patch]
func (s *Server) MarkConversationRead(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	n, err := s.messageSvc.MarkConversationRead(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Conversation marked as read", "count": n})
}
