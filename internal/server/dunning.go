package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/kitchenbill/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
)

type sendReminderRequest struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	// RecordOnly logs a reminder that went out through another channel.
	RecordOnly bool `json:"record_only"`
}

func (s *Server) GetNextReminder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	next, err := s.dunningSvc.NextReminder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": next})
}

func (s *Server) SendReminder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req sendReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	reminderType := invoicedomain.ReminderType(strings.ToLower(strings.TrimSpace(req.Type)))

	var (
		invoice invoicedomain.Invoice
		err     error
	)
	if req.RecordOnly {
		invoice, err = s.dunningSvc.RecordReminderSent(c.Request.Context(), id, reminderType)
	} else {
		invoice, err = s.dunningSvc.Send(c.Request.Context(), dunningdomain.SendRequest{
			InvoiceID: id,
			Type:      reminderType,
			Recipient: strings.TrimSpace(req.Recipient),
		})
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) ListDueReminders(c *gin.Context) {
	due, err := s.dunningSvc.DueReminders(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": due})
}
