package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
)

type createInvoiceRequest struct {
	ProjectID    string           `json:"project_id"`
	Type         string           `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	TaxRate      *decimal.Decimal `json:"tax_rate"`
	InvoiceDate  string           `json:"invoice_date"`
	DueDate      string           `json:"due_date"`
	ScheduleType string           `json:"schedule_type"`
	Description  string           `json:"description"`
	Notes        string           `json:"notes"`
}

type markPaidRequest struct {
	PaidDate string `json:"paid_date"`
}

type issueCreditRequest struct {
	Reason string `json:"reason"`
}

type importLegacyRequest struct {
	Rows []map[string]any `json:"rows"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	projectID, err := parseOptionalSnowflakeID(req.ProjectID)
	if err != nil || projectID == nil {
		AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid project_id"))
		return
	}
	invoiceDate, err := parseOptionalTime(req.InvoiceDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_date", "invalid_invoice_date", "invalid invoice_date"))
		return
	}
	dueDate, err := parseOptionalTime(req.DueDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due_date"))
		return
	}

	create := invoicedomain.CreateInvoiceRequest{
		ProjectID:   *projectID,
		Type:        invoicedomain.InvoiceType(strings.ToLower(strings.TrimSpace(req.Type))),
		Amount:      req.Amount,
		TaxRate:     req.TaxRate,
		InvoiceDate: invoiceDate,
		DueDate:     dueDate,
		Description: strings.TrimSpace(req.Description),
		Notes:       req.Notes,
	}
	if scheduleType := strings.ToLower(strings.TrimSpace(req.ScheduleType)); scheduleType != "" {
		st := invoicedomain.ScheduleType(scheduleType)
		create.ScheduleType = &st
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	projectID, err := parseOptionalSnowflakeID(c.Query("project_id"))
	if err != nil {
		AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid project_id"))
		return
	}
	isPaid, err := parseOptionalBool(c.Query("is_paid"))
	if err != nil {
		AbortWithError(c, newValidationError("is_paid", "invalid_is_paid", "invalid is_paid"))
		return
	}
	overdue, err := parseOptionalBool(c.Query("overdue"))
	if err != nil {
		AbortWithError(c, newValidationError("overdue", "invalid_overdue", "invalid overdue"))
		return
	}
	pageSize, err := parseOptionalInt64(c.Query("page_size"))
	if err != nil || (pageSize != nil && *pageSize < 0) {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	req := invoicedomain.ListInvoiceRequest{
		ProjectID: projectID,
		IsPaid:    isPaid,
		Overdue:   overdue,
		PageToken: strings.TrimSpace(c.Query("page_token")),
	}
	if value := strings.ToLower(strings.TrimSpace(c.Query("type"))); value != "" {
		t := invoicedomain.InvoiceType(value)
		req.Type = &t
	}
	if pageSize != nil {
		req.PageSize = int(*pageSize)
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":            resp.Invoices,
		"next_page_token": resp.NextPageToken,
		"has_more":        resp.HasMore,
	})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) MarkInvoicePaid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	paidDate, err := parseOptionalTime(req.PaidDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("paid_date", "invalid_paid_date", "invalid paid_date"))
		return
	}

	var day time.Time
	if paidDate != nil {
		day = *paidDate
	}
	invoice, err := s.invoiceSvc.MarkPaid(c.Request.Context(), id, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) MarkInvoiceUnpaid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.MarkUnpaid(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) IssueCredit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req issueCreditRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	credit, err := s.invoiceSvc.IssueCredit(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": credit})
}

func (s *Server) GetInvoiceBreakdown(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	breakdown, err := s.taxSvc.FinalInvoiceBreakdown(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": breakdown})
}

func (s *Server) ImportLegacyInvoices(c *gin.Context) {
	var req importLegacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Rows) == 0 {
		AbortWithError(c, newValidationError("rows", "required", "rows is required"))
		return
	}

	invoices, err := s.invoiceSvc.ImportLegacy(c.Request.Context(), req.Rows)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoices})
}
