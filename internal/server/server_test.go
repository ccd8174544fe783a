package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	dunningdomain "github.com/smallbiznis/kitchenbill/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	"github.com/smallbiznis/kitchenbill/internal/money"
	"github.com/smallbiznis/kitchenbill/internal/observability"
	obscontext "github.com/smallbiznis/kitchenbill/internal/observability/context"
	obsmetrics "github.com/smallbiznis/kitchenbill/internal/observability/metrics"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	"github.com/smallbiznis/kitchenbill/internal/providers/email"
	taxdomain "github.com/smallbiznis/kitchenbill/internal/tax/domain"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeProjectService struct {
	projectdomain.Service

	createReq   projectdomain.CreateProjectRequest
	createActor string
	createErr   error
	getErr      error
}

func (f *fakeProjectService) Create(ctx context.Context, req projectdomain.CreateProjectRequest) (projectdomain.Project, error) {
	f.createReq = req
	f.createActor, _ = obscontext.ActorFromContext(ctx)
	if f.createErr != nil {
		return projectdomain.Project{}, f.createErr
	}
	return projectdomain.Project{ID: 10, OrderNumber: req.OrderNumber, CustomerName: req.CustomerName}, nil
}

func (f *fakeProjectService) GetByID(ctx context.Context, id snowflake.ID) (projectdomain.Project, error) {
	if f.getErr != nil {
		return projectdomain.Project{}, f.getErr
	}
	return projectdomain.Project{ID: id, OrderNumber: "A-1"}, nil
}

func (f *fakeProjectService) DueSecondPayments(ctx context.Context) ([]projectdomain.Project, error) {
	return []projectdomain.Project{{ID: 11, OrderNumber: "A-2"}}, nil
}

type fakeInvoiceService struct {
	invoicedomain.Service

	err         error
	slot        paymentschedule.Slot
	paidDate    time.Time
	listReq     invoicedomain.ListInvoiceRequest
	creditNote  string
	importedLen int
}

func (f *fakeInvoiceService) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.InvoiceView, error) {
	if f.err != nil {
		return invoicedomain.InvoiceView{}, f.err
	}
	return invoicedomain.InvoiceView{Invoice: invoicedomain.Invoice{ID: id, InvoiceNumber: "R-2026-0001"}}, nil
}

func (f *fakeInvoiceService) CreateScheduledPayment(ctx context.Context, projectID snowflake.ID, slot paymentschedule.Slot) (invoicedomain.Invoice, error) {
	f.slot = slot
	if f.err != nil {
		return invoicedomain.Invoice{}, f.err
	}
	return invoicedomain.Invoice{ID: 20, ProjectID: projectID, InvoiceNumber: "R-2026-0002"}, nil
}

func (f *fakeInvoiceService) MarkPaid(ctx context.Context, id snowflake.ID, paidDate time.Time) (invoicedomain.Invoice, error) {
	f.paidDate = paidDate
	if paidDate.IsZero() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidPaidDate
	}
	return invoicedomain.Invoice{ID: id, IsPaid: true, PaidDate: &paidDate}, f.err
}

func (f *fakeInvoiceService) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	f.listReq = req
	return invoicedomain.ListInvoiceResponse{}, f.err
}

func (f *fakeInvoiceService) IssueCredit(ctx context.Context, originalID snowflake.ID, reason string) (invoicedomain.Invoice, error) {
	f.creditNote = reason
	if f.err != nil {
		return invoicedomain.Invoice{}, f.err
	}
	return invoicedomain.Invoice{ID: 30, Type: invoicedomain.InvoiceTypeCredit}, nil
}

func (f *fakeInvoiceService) ImportLegacy(ctx context.Context, rows []map[string]any) ([]invoicedomain.Invoice, error) {
	f.importedLen = len(rows)
	return make([]invoicedomain.Invoice, len(rows)), f.err
}

type mockTaxService struct {
	mock.Mock
}

func (m *mockTaxService) FinalInvoiceBreakdown(ctx context.Context, invoiceID snowflake.ID) (taxdomain.FinalInvoiceBreakdown, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).(taxdomain.FinalInvoiceBreakdown), args.Error(1)
}

type fakeDunningService struct {
	dunningdomain.Service

	err          error
	sendReq      *dunningdomain.SendRequest
	recordedType invoicedomain.ReminderType
}

func (f *fakeDunningService) RecordReminderSent(ctx context.Context, id snowflake.ID, t invoicedomain.ReminderType) (invoicedomain.Invoice, error) {
	f.recordedType = t
	return invoicedomain.Invoice{ID: id}, f.err
}

func (f *fakeDunningService) Send(ctx context.Context, req dunningdomain.SendRequest) (invoicedomain.Invoice, error) {
	f.sendReq = &req
	if f.err != nil {
		return invoicedomain.Invoice{}, f.err
	}
	return invoicedomain.Invoice{ID: req.InvoiceID}, nil
}

type fakeAuditService struct {
	auditdomain.Service

	req auditdomain.ListAuditLogRequest
}

func (f *fakeAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	f.req = req
	return auditdomain.ListAuditLogResponse{}, nil
}

type testDeps struct {
	projects *fakeProjectService
	invoices *fakeInvoiceService
	tax      *mockTaxService
	dunning  *fakeDunningService
	audit    *fakeAuditService
}

func newTestEngine(t *testing.T) (*gin.Engine, *testDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := &testDeps{
		projects: &fakeProjectService{},
		invoices: &fakeInvoiceService{},
		tax:      &mockTaxService{},
		dunning:  &fakeDunningService{},
		audit:    &fakeAuditService{},
	}
	engine := NewEngine(observability.Config{Environment: "test"}, obsmetrics.NewHTTPMetricsForTest(prometheus.NewRegistry()))
	NewServer(ServerParams{
		Gin:        engine,
		AuditSvc:   deps.audit,
		ProjectSvc: deps.projects,
		InvoiceSvc: deps.invoices,
		TaxSvc:     deps.tax,
		DunningSvc: deps.dunning,
	})
	return engine, deps
}

func doRequest(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	engine, _ := newTestEngine(t)
	rec := doRequest(engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateProjectTrimsAndMarksActorAsUser(t *testing.T) {
	engine, deps := newTestEngine(t)

	rec := doRequest(engine, http.MethodPost, "/api/projects", map[string]any{
		"order_number":  "  K-100 ",
		"customer_name": " Muster ",
		"delivery_date": "2026-03-01",
		"gross_total":   "1000.00",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "K-100", deps.projects.createReq.OrderNumber)
	assert.Equal(t, "Muster", deps.projects.createReq.CustomerName)
	require.NotNil(t, deps.projects.createReq.DeliveryDate)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *deps.projects.createReq.DeliveryDate)
	assert.True(t, decimal.RequireFromString("1000").Equal(deps.projects.createReq.GrossTotal))
	assert.Equal(t, "user", deps.projects.createActor)
}

func TestCreateProjectRejectsMalformedDeliveryDate(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec := doRequest(engine, http.MethodPost, "/api/projects", map[string]any{
		"order_number":  "K-100",
		"delivery_date": "2026-13-45",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_delivery_date", payload.Errors[0].Code)
}

func TestCreateProjectAcceptsGermanDate(t *testing.T) {
	engine, deps := newTestEngine(t)

	rec := doRequest(engine, http.MethodPost, "/api/projects", map[string]any{
		"order_number":  "K-101",
		"delivery_date": "01.03.2026",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, deps.projects.createReq.DeliveryDate)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *deps.projects.createReq.DeliveryDate)
}

func TestParseOptionalBoolAcceptsNumericFlags(t *testing.T) {
	for value, want := range map[string]bool{"1": true, "TRUE": true, "0": false, "f": false} {
		got, err := parseOptionalBool(value)
		require.NoError(t, err, value)
		require.NotNil(t, got, value)
		assert.Equal(t, want, *got, value)
	}

	got, err := parseOptionalBool(" ")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseOptionalBool("maybe")
	assert.Error(t, err)
}

func TestDuplicateOrderIsConflict(t *testing.T) {
	engine, deps := newTestEngine(t)
	deps.projects.createErr = projectdomain.ErrDuplicateOrder

	rec := doRequest(engine, http.MethodPost, "/api/projects", map[string]any{"order_number": "K-1", "customer_name": "A"})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_order_number", decodeError(t, rec).Code)
}

func TestDueSecondPaymentsRouteDoesNotShadowProjectID(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec := doRequest(engine, http.MethodGet, "/api/projects/due-second-payments", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "A-2")
}

func TestGetInvoiceRejectsInvalidID(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec := doRequest(engine, http.MethodGet, "/api/invoices/abc", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_id", payload.Errors[0].Code)
}

func TestGetInvoiceNotFound(t *testing.T) {
	engine, deps := newTestEngine(t)
	deps.invoices.err = invoicedomain.ErrInvoiceNotFound

	rec := doRequest(engine, http.MethodGet, "/api/invoices/42", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invoice_not_found", decodeError(t, rec).Code)
}

func TestCreateScheduledPayment(t *testing.T) {
	t.Run("second slot", func(t *testing.T) {
		engine, deps := newTestEngine(t)
		rec := doRequest(engine, http.MethodPost, "/api/projects/10/scheduled-payments/second", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, paymentschedule.SlotSecond, deps.invoices.slot)
	})

	t.Run("already billed", func(t *testing.T) {
		engine, deps := newTestEngine(t)
		deps.invoices.err = fmt.Errorf("project 10: %w", invoicedomain.ErrScheduledPaymentExists)
		rec := doRequest(engine, http.MethodPost, "/api/projects/10/scheduled-payments/first", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "scheduled_payment_exists", decodeError(t, rec).Code)
	})

	t.Run("final slot is not schedulable", func(t *testing.T) {
		engine, deps := newTestEngine(t)
		rec := doRequest(engine, http.MethodPost, "/api/projects/10/scheduled-payments/final", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, deps.invoices.slot)
	})
}

func TestMarkInvoicePaid(t *testing.T) {
	engine, deps := newTestEngine(t)

	rec := doRequest(engine, http.MethodPost, "/api/invoices/42/paid", map[string]any{"paid_date": "2026-03-05"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), deps.invoices.paidDate)

	rec = doRequest(engine, http.MethodPost, "/api/invoices/42/paid", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_paid_date", payload.Errors[0].Code)
	assert.Equal(t, "paid_date", payload.Errors[0].Field)
}

func TestIssueCreditConflicts(t *testing.T) {
	for _, sentinel := range []error{invoicedomain.ErrAlreadyCredited, invoicedomain.ErrCreditOfCredit} {
		engine, deps := newTestEngine(t)
		deps.invoices.err = sentinel

		rec := doRequest(engine, http.MethodPost, "/api/invoices/42/credit", map[string]any{"reason": "Storno"})

		require.Equal(t, http.StatusConflict, rec.Code, sentinel.Error())
		assert.Equal(t, sentinel.Error(), decodeError(t, rec).Code)
		assert.Equal(t, "Storno", deps.invoices.creditNote)
	}
}

func TestListInvoicesPassesFilters(t *testing.T) {
	engine, deps := newTestEngine(t)

	rec := doRequest(engine, http.MethodGet, "/api/invoices?project_id=10&is_paid=false&overdue=true&type=partial&page_size=5", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	req := deps.invoices.listReq
	require.NotNil(t, req.ProjectID)
	assert.Equal(t, snowflake.ID(10), *req.ProjectID)
	require.NotNil(t, req.IsPaid)
	assert.False(t, *req.IsPaid)
	require.NotNil(t, req.Overdue)
	assert.True(t, *req.Overdue)
	require.NotNil(t, req.Type)
	assert.Equal(t, invoicedomain.InvoiceTypePartial, *req.Type)
	assert.Equal(t, 5, req.PageSize)
}

func TestImportLegacyInvoices(t *testing.T) {
	engine, deps := newTestEngine(t)

	rec := doRequest(engine, http.MethodPost, "/api/invoices/import", map[string]any{
		"rows": []map[string]any{{"invoice_number": "R-2024-0001"}, {"invoice_number": "R-2024-0002"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, deps.invoices.importedLen)

	rec = doRequest(engine, http.MethodPost, "/api/invoices/import", map[string]any{"rows": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetInvoiceBreakdown(t *testing.T) {
	engine, deps := newTestEngine(t)
	deps.tax.On("FinalInvoiceBreakdown", mock.Anything, snowflake.ID(42)).
		Return(taxdomain.FinalInvoiceBreakdown{
			InvoiceID: 42,
			Warning:   &taxdomain.ReconciliationWarning{Difference: decimal.RequireFromString("0.01")},
		}, nil).Once()
	deps.tax.On("FinalInvoiceBreakdown", mock.Anything, snowflake.ID(43)).
		Return(taxdomain.FinalInvoiceBreakdown{}, taxdomain.ErrNotFinalInvoice).Once()

	rec := doRequest(engine, http.MethodGet, "/api/invoices/42/breakdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"warning"`)

	rec = doRequest(engine, http.MethodGet, "/api/invoices/43/breakdown", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "not_final_invoice", payload.Errors[0].Code)

	deps.tax.AssertExpectations(t)
}

func TestSendReminder(t *testing.T) {
	t.Run("transmits", func(t *testing.T) {
		engine, deps := newTestEngine(t)
		rec := doRequest(engine, http.MethodPost, "/api/invoices/42/reminders", map[string]any{
			"type":      "First",
			"recipient": " kunde@example.com ",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.NotNil(t, deps.dunning.sendReq)
		assert.Equal(t, invoicedomain.ReminderFirst, deps.dunning.sendReq.Type)
		assert.Equal(t, "kunde@example.com", deps.dunning.sendReq.Recipient)
	})

	t.Run("record only", func(t *testing.T) {
		engine, deps := newTestEngine(t)
		rec := doRequest(engine, http.MethodPost, "/api/invoices/42/reminders", map[string]any{
			"type":        "second",
			"record_only": true,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Nil(t, deps.dunning.sendReq)
		assert.Equal(t, invoicedomain.ReminderSecond, deps.dunning.recordedType)
	})

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"out of order", invoicedomain.ErrIllegalTransition, http.StatusConflict},
		{"unknown stage", invoicedomain.ErrInvalidReminderType, http.StatusBadRequest},
		{"no recipient", email.ErrNoRecipient, http.StatusUnprocessableEntity},
		{"smtp failure", &email.TransmissionError{Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"store timeout", fmt.Errorf("%w: %w", db.ErrStoreUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, deps := newTestEngine(t)
			deps.dunning.err = tc.err
			rec := doRequest(engine, http.MethodPost, "/api/invoices/42/reminders", map[string]any{"type": "first"})
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestListAuditLogsParsesDayBounds(t *testing.T) {
	engine, deps := newTestEngine(t)

	rec := doRequest(engine, http.MethodGet, "/api/audit-logs?target_type=invoice&start_at=2026-03-01&end_at=2026-03-01", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	req := deps.audit.req
	assert.Equal(t, "invoice", req.TargetType)
	require.NotNil(t, req.StartAt)
	require.NotNil(t, req.EndAt)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *req.StartAt)
	assert.True(t, req.EndAt.After(*req.StartAt))
	assert.Equal(t, 1, req.EndAt.Day())
}

func TestMapErrorValidationSentinels(t *testing.T) {
	status, payload := mapError(fmt.Errorf("item 2: %w", money.ErrInvalidTaxRate))
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_tax_rate", payload.Errors[0].Code)
	assert.Equal(t, "tax_rate", payload.Errors[0].Field)

	status, payload = mapError(paymentschedule.ErrInvalidSchedule)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "schedule", payload.Errors[0].Field)

	status, _ = mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(invoicedomain.ErrAlreadyCredited)
	assert.Equal(t, "illegal_transition", typ)
	assert.Equal(t, "already_credited", code)

	typ, code = classifyErrorForLog(invoicedomain.ErrInvalidAmount)
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_amount", code)

	typ, code = classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "internal_error", typ)
	assert.Equal(t, "internal_error", code)
}
