package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartConversationRequest opens (or reopens) a thread with another user
type StartConversationRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,max=36"`
	ProductID   string `json:"product_id" validate:"omitempty,max=36"`
}

// SendMessageRequest posts a message
type SendMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// ListMessagesQuery pages through a conversation
type ListMessagesQuery struct {
	After string `form:"after" validate:"omitempty,max=36"`
}

// ListNotificationsQuery filters the caller's notifications
type ListNotificationsQuery struct {
	Unread bool `form:"unread"`
}

func (s *Server) listConversations(c *gin.Context) {
	conversations, err := s.messaging.ListConversations(c.Request.Context(), currentIdentity(c).ID)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (s *Server) startConversation(c *gin.Context) {
	var req StartConversationRequest
	if !s.bindJSON(c, &req) {
		return
	}

	conversation, err := s.messaging.StartConversation(c.Request.Context(), currentIdentity(c).ID, req.RecipientID, req.ProductID)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (s *Server) listMessages(c *gin.Context) {
	var query ListMessagesQuery
	if !s.bindQuery(c, &query) {
		return
	}

	messages, err := s.messaging.ListMessages(c.Request.Context(), c.Param("id"), query.After)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) sendMessage(c *gin.Context) {
	var req SendMessageRequest
	if !s.bindJSON(c, &req) {
		return
	}

	message, err := s.messaging.Send(c.Request.Context(), c.Param("id"), currentIdentity(c).ID, req.Body)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (s *Server) markConversationRead(c *gin.Context) {
	count, err := s.messaging.MarkRead(c.Request.Context(), c.Param("id"), currentIdentity(c).ID)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": count})
}

func (s *Server) listNotifications(c *gin.Context) {
	var query ListNotificationsQuery
	if !s.bindQuery(c, &query) {
		return
	}

	notifications, err := s.messaging.ListNotifications(c.Request.Context(), currentIdentity(c).ID, query.Unread)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (s *Server) markNotificationRead(c *gin.Context) {
	notification, err := s.messaging.MarkNotificationRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, notification)
}
