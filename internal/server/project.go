package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
)

type projectItemRequest struct {
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitNetPrice decimal.Decimal `json:"unit_net_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
}

type createProjectRequest struct {
	OrderNumber     string                    `json:"order_number"`
	CustomerName    string                    `json:"customer_name"`
	CustomerEmail   string                    `json:"customer_email"`
	DeliveryDate    string                    `json:"delivery_date"`
	PaymentSchedule *paymentschedule.Schedule `json:"payment_schedule"`
	Items           []projectItemRequest      `json:"items"`
	GrossTotal      decimal.Decimal           `json:"gross_total"`
	Notes           string                    `json:"notes"`
}

func (s *Server) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deliveryDate, err := parseOptionalTime(req.DeliveryDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("delivery_date", "invalid_delivery_date", "invalid delivery_date"))
		return
	}

	items := make([]projectdomain.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, projectdomain.ItemInput{
			Description:  strings.TrimSpace(item.Description),
			Quantity:     item.Quantity,
			UnitNetPrice: item.UnitNetPrice,
			TaxRate:      item.TaxRate,
		})
	}

	project, err := s.projectSvc.Create(c.Request.Context(), projectdomain.CreateProjectRequest{
		OrderNumber:     strings.TrimSpace(req.OrderNumber),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		DeliveryDate:    deliveryDate,
		PaymentSchedule: req.PaymentSchedule,
		Items:           items,
		GrossTotal:      req.GrossTotal,
		Notes:           req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": project})
}

func (s *Server) ListProjects(c *gin.Context) {
	secondCreated, err := parseOptionalBool(c.Query("second_payment_created"))
	if err != nil {
		AbortWithError(c, newValidationError("second_payment_created", "invalid_second_payment_created", "invalid second_payment_created"))
		return
	}
	hasDelivery, err := parseOptionalBool(c.Query("has_delivery_date"))
	if err != nil {
		AbortWithError(c, newValidationError("has_delivery_date", "invalid_has_delivery_date", "invalid has_delivery_date"))
		return
	}
	limit, err := parseOptionalInt64(c.Query("limit"))
	if err != nil || (limit != nil && *limit < 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := projectdomain.ListProjectRequest{
		SecondPaymentCreated: secondCreated,
		HasDeliveryDate:      hasDelivery,
	}
	if limit != nil {
		req.Limit = int(*limit)
	}

	projects, err := s.projectSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": projects})
}

func (s *Server) GetProjectByID(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	project, err := s.projectSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": project})
}

func (s *Server) GetPaymentPlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	plan, err := s.projectSvc.PaymentPlan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) ListDueSecondPayments(c *gin.Context) {
	projects, err := s.projectSvc.DueSecondPayments(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": projects})
}

func (s *Server) ListProjectInvoices(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	invoices, err := s.invoiceSvc.ListByProject(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func (s *Server) CreateScheduledPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	slot := paymentschedule.Slot(strings.ToLower(strings.TrimSpace(c.Param("slot"))))
	if slot != paymentschedule.SlotFirst && slot != paymentschedule.SlotSecond {
		AbortWithError(c, newValidationError("slot", "invalid_slot", "slot must be first or second"))
		return
	}

	invoice, err := s.invoiceSvc.CreateScheduledPayment(c.Request.Context(), id, slot)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) CreateFinalInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.CreateFinalInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := parseOptionalSnowflakeID(c.Param(name))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError(name, "invalid_"+name, "invalid "+name))
		return 0, false
	}
	return *id, true
}
