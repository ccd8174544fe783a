package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	"github.com/smallbiznis/kitchenbill/internal/invoice/format"
	"github.com/smallbiznis/kitchenbill/internal/money"
	obscontext "github.com/smallbiznis/kitchenbill/internal/observability/context"
	obsmetrics "github.com/smallbiznis/kitchenbill/internal/observability/metrics"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	taxdomain "github.com/smallbiznis/kitchenbill/internal/tax/domain"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"github.com/smallbiznis/kitchenbill/pkg/db/option"
	"github.com/smallbiznis/kitchenbill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxNumberAttempts = 5
	defaultPageSize   = 50
	maxPageSize       = 200
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Dunning     *config.DunningConfigHolder `optional:"true"`
	Repo        invoicedomain.Repository
	ProjectRepo projectdomain.Repository
	AuditSvc    auditdomain.Service
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	numberTemplate string
	defaultTaxRate decimal.Decimal
	dunning        *config.DunningConfigHolder

	repo        invoicedomain.Repository
	projectRepo projectdomain.Repository
	auditSvc    auditdomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	rate := p.Config.DefaultTaxRate
	if rate == 0 {
		rate = taxdomain.AggregateTaxRate
	}
	dunning := p.Dunning
	if dunning == nil {
		dunning = config.NewStaticDunningConfigHolder(config.DefaultDunningConfig())
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		numberTemplate: format.TemplateForPrefix(p.Config.InvoicePrefix),
		defaultTaxRate: money.Percent(rate),
		dunning:        dunning,

		repo:        p.Repo,
		projectRepo: p.ProjectRepo,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	if err := invoicedomain.ValidateAmount(req.Type, req.Amount); err != nil {
		return invoicedomain.Invoice{}, err
	}
	if req.ScheduleType != nil && !req.ScheduleType.Valid() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidScheduleType
	}

	rate := s.defaultTaxRate
	if req.TaxRate != nil {
		rate = *req.TaxRate
	}
	split, err := money.GrossToNet(req.Amount, rate)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	now := s.clock.Now().UTC()
	invoiceDate := clock.Day(now)
	if req.InvoiceDate != nil && !req.InvoiceDate.IsZero() {
		invoiceDate = clock.Day(*req.InvoiceDate)
	}

	invoice := invoicedomain.Invoice{
		ID:           s.genID.Generate(),
		ProjectID:    req.ProjectID,
		Type:         req.Type,
		Amount:       split.Gross,
		NetAmount:    split.Net,
		TaxAmount:    split.Tax,
		TaxRate:      rate,
		InvoiceDate:  invoiceDate,
		ScheduleType: req.ScheduleType,
		Description:  strings.TrimSpace(req.Description),
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.DueDate != nil && !req.DueDate.IsZero() {
		due := clock.Day(*req.DueDate)
		invoice.DueDate = &due
	}

	err = s.createInTx(ctx, &invoice, func(tx *gorm.DB) error {
		project, err := s.projectRepo.FindByIDForUpdate(ctx, tx, req.ProjectID)
		if err != nil {
			return err
		}
		if project == nil {
			return projectdomain.ErrProjectNotFound
		}
		if slot, ok := flaggedSlot(invoice.ScheduleType); ok {
			return s.markSlot(ctx, tx, project, slot, now)
		}
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.metrics.RecordInvoiceCreated(ctx, string(invoice.Type))
	return invoice, nil
}

func (s *Service) CreateScheduledPayment(ctx context.Context, projectID snowflake.ID, slot paymentschedule.Slot) (invoicedomain.Invoice, error) {
	if slot != paymentschedule.SlotFirst && slot != paymentschedule.SlotSecond {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidScheduleType
	}

	now := s.clock.Now().UTC()
	scheduleType := invoicedomain.ScheduleType(slot)
	invoice := invoicedomain.Invoice{
		ID:           s.genID.Generate(),
		ProjectID:    projectID,
		Type:         invoicedomain.InvoiceTypePartial,
		TaxRate:      s.defaultTaxRate,
		InvoiceDate:  clock.Day(now),
		ScheduleType: &scheduleType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.createInTx(ctx, &invoice, func(tx *gorm.DB) error {
		project, err := s.projectRepo.FindByIDForUpdate(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return projectdomain.ErrProjectNotFound
		}
		if project.SlotCreated(slot) {
			return invoicedomain.ErrScheduledPaymentExists
		}

		schedule := project.Schedule()
		if !paymentschedule.IsValid(schedule) {
			return paymentschedule.ErrInvalidSchedule
		}
		amounts, ok := paymentschedule.CalculateAmounts(project.Terms())
		if !ok || !amounts.For(slot).IsPositive() {
			return invoicedomain.ErrNothingToInvoice
		}

		split, err := money.GrossToNet(amounts.For(slot), s.defaultTaxRate)
		if err != nil {
			return err
		}
		invoice.Amount = split.Gross
		invoice.NetAmount = split.Net
		invoice.TaxAmount = split.Tax
		invoice.Description = depositDescription(slot, schedule, project.OrderNumber)

		return s.markSlot(ctx, tx, project, slot, now)
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.metrics.RecordInvoiceCreated(ctx, string(invoice.Type))
	s.metrics.RecordScheduledPayment(ctx, string(slot), paymentSource(ctx))
	s.log.Info("scheduled payment created",
		zap.String("project_id", projectID.String()),
		zap.String("slot", string(slot)),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("amount", invoice.Amount.StringFixed(2)),
	)
	return invoice, nil
}

func depositDescription(slot paymentschedule.Slot, schedule paymentschedule.Schedule, orderNumber string) string {
	switch slot {
	case paymentschedule.SlotFirst:
		return fmt.Sprintf("1. Anzahlung (%d%%) zu Auftrag %s", schedule.FirstPercent, orderNumber)
	case paymentschedule.SlotSecond:
		return fmt.Sprintf("2. Anzahlung (%d%%) zu Auftrag %s", schedule.SecondPercent, orderNumber)
	default:
		return fmt.Sprintf("Schlussrechnung zu Auftrag %s", orderNumber)
	}
}

func (s *Service) CreateFinalInvoice(ctx context.Context, projectID snowflake.ID) (invoicedomain.Invoice, error) {
	now := s.clock.Now().UTC()
	scheduleType := invoicedomain.ScheduleTypeFinal
	invoice := invoicedomain.Invoice{
		ID:           s.genID.Generate(),
		ProjectID:    projectID,
		Type:         invoicedomain.InvoiceTypeFinal,
		TaxRate:      money.Percent(taxdomain.AggregateTaxRate),
		InvoiceDate:  clock.Day(now),
		ScheduleType: &scheduleType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.createInTx(ctx, &invoice, func(tx *gorm.DB) error {
		project, err := s.projectRepo.FindByIDForUpdate(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return projectdomain.ErrProjectNotFound
		}

		existing, err := s.repo.ListByProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		partials, finals, err := s.openInvoices(ctx, tx, existing)
		if err != nil {
			return err
		}
		if len(finals) > 0 {
			return invoicedomain.ErrScheduledPaymentExists
		}

		refs := make([]taxdomain.InvoiceRef, 0, len(partials))
		billed := decimal.Zero
		for _, p := range partials {
			refs = append(refs, taxdomain.InvoiceRef{ID: p.ID, Number: p.InvoiceNumber, Amount: p.Amount})
			billed = billed.Add(p.Amount)
		}
		amount := money.Round2(project.GrossTotal.Sub(billed))
		if !amount.IsPositive() {
			return invoicedomain.ErrNothingToInvoice
		}

		itemGross := make([]decimal.Decimal, 0, len(project.Items))
		for _, item := range project.Items {
			itemGross = append(itemGross, item.GrossTotal)
		}
		breakdown, warning, err := taxdomain.Decompose(taxdomain.InvoiceRef{ID: invoice.ID, Amount: amount}, refs, itemGross)
		if err != nil {
			return err
		}
		if warning != nil {
			s.log.Warn("final invoice does not reconcile with line items",
				zap.String("project_id", projectID.String()),
				zap.String("expected", warning.Expected.StringFixed(2)),
				zap.String("actual", warning.Actual.StringFixed(2)),
			)
			s.metrics.RecordReconciliationWarning(ctx)
		}

		invoice.Amount = breakdown.RestGross
		invoice.NetAmount = breakdown.RestNet
		invoice.TaxAmount = breakdown.RestTax
		invoice.Description = depositDescription(paymentschedule.SlotFinal, project.Schedule(), project.OrderNumber)
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.metrics.RecordInvoiceCreated(ctx, string(invoice.Type))
	return invoice, nil
}

// openInvoices returns the partial and final invoices of a project that no
// credit reverses.
func (s *Service) openInvoices(ctx context.Context, tx *gorm.DB, invoices []*invoicedomain.Invoice) ([]*invoicedomain.Invoice, []*invoicedomain.Invoice, error) {
	ids := make([]snowflake.ID, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	credited, err := s.repo.CreditedIDs(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}

	var partials, finals []*invoicedomain.Invoice
	for _, inv := range invoices {
		if _, ok := credited[inv.ID]; ok {
			continue
		}
		switch inv.Type {
		case invoicedomain.InvoiceTypePartial:
			partials = append(partials, inv)
		case invoicedomain.InvoiceTypeFinal:
			finals = append(finals, inv)
		}
	}
	return partials, finals, nil
}

func flaggedSlot(scheduleType *invoicedomain.ScheduleType) (paymentschedule.Slot, bool) {
	if scheduleType == nil {
		return "", false
	}
	switch *scheduleType {
	case invoicedomain.ScheduleTypeFirst:
		return paymentschedule.SlotFirst, true
	case invoicedomain.ScheduleTypeSecond:
		return paymentschedule.SlotSecond, true
	}
	return "", false
}

// paymentSource labels who asked for a scheduled payment.
func paymentSource(ctx context.Context) string {
	if actorType, _ := obscontext.ActorFromContext(ctx); actorType == string(auditdomain.ActorTypeSystem) {
		return "scheduler"
	}
	return "api"
}

// markSlot flips the project flag inside tx. Losing the flip means another
// writer billed the slot first.
func (s *Service) markSlot(ctx context.Context, tx *gorm.DB, project *projectdomain.Project, slot paymentschedule.Slot, now time.Time) error {
	flipped, err := s.projectRepo.MarkSlotCreated(ctx, tx, project.ID, slot, now)
	if err != nil {
		return err
	}
	if !flipped {
		return invoicedomain.ErrScheduledPaymentExists
	}
	return s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionScheduledPayment, auditdomain.TargetProject, project.ID.String(), map[string]any{
		"slot":         string(slot),
		"order_number": project.OrderNumber,
	})
}

// createInTx runs prepare, assigns the next yearly number and inserts
// invoice in one transaction. A number taken by a concurrent writer is
// retried; other unique violations map to their domain errors.
func (s *Service) createInTx(ctx context.Context, invoice *invoicedomain.Invoice, prepare func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if prepare != nil {
				if err := prepare(tx); err != nil {
					return err
				}
			}
			if err := s.assignNumber(ctx, tx, invoice); err != nil {
				return err
			}
			if err := s.repo.Insert(ctx, tx, invoice); err != nil {
				return err
			}
			return s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionInvoiceCreated, auditdomain.TargetInvoice, invoice.ID.String(), map[string]any{
				"invoice_number": invoice.InvoiceNumber,
				"type":           string(invoice.Type),
				"amount":         invoice.Amount.StringFixed(2),
				"project_id":     invoice.ProjectID.String(),
			})
		})
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return db.WrapStoreErr(err)
		}
		if conflict := s.classifyConflict(ctx, invoice); conflict != nil {
			return conflict
		}

		lastErr = err
		s.log.Warn("invoice number taken, retrying",
			zap.Int("attempt", attempt),
			zap.String("invoice_number", invoice.InvoiceNumber),
		)
	}
	return fmt.Errorf("assign invoice number: %w", lastErr)
}

func (s *Service) assignNumber(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	year := invoice.InvoiceDate.Year()
	seq, err := s.repo.MaxSequence(ctx, tx, year)
	if err != nil {
		return err
	}
	seq++
	number, err := format.FormatInvoiceNumber(s.numberTemplate, invoice.InvoiceDate, seq)
	if err != nil {
		return err
	}
	invoice.NumberYear = year
	invoice.NumberSeq = seq
	invoice.InvoiceNumber = number
	return nil
}

// classifyConflict tells which unique index rejected invoice. It returns
// nil for a number collision.
func (s *Service) classifyConflict(ctx context.Context, invoice *invoicedomain.Invoice) error {
	if invoice.HasScheduleType(invoicedomain.ScheduleTypeSecond) {
		existing, err := s.repo.FindByProjectSchedule(ctx, s.db, invoice.ProjectID, invoicedomain.ScheduleTypeSecond)
		if err != nil {
			return db.WrapStoreErr(err)
		}
		if existing != nil {
			return invoicedomain.ErrScheduledPaymentExists
		}
	}
	if invoice.OriginalInvoiceID != nil {
		existing, err := s.repo.FindCreditFor(ctx, s.db, *invoice.OriginalInvoiceID)
		if err != nil {
			return db.WrapStoreErr(err)
		}
		if existing != nil {
			return invoicedomain.ErrAlreadyCredited
		}
	}
	return nil
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, paidDate time.Time) (invoicedomain.Invoice, error) {
	if paidDate.IsZero() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidPaidDate
	}
	day := clock.Day(paidDate)
	now := s.clock.Now().UTC()

	var result invoicedomain.Invoice
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.IsCredit() {
			return invoicedomain.ErrCreditNotPayable
		}
		if invoice.IsPaid && invoice.PaidDate != nil && clock.Day(*invoice.PaidDate).Equal(day) {
			result = *invoice
			return nil
		}

		if err := s.repo.UpdatePayment(ctx, tx, id, true, &day, now); err != nil {
			return err
		}
		metadata := map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"paid_date":      day.Format(time.DateOnly),
		}
		if invoice.PaidDate != nil {
			metadata["previous_paid_date"] = invoice.PaidDate.Format(time.DateOnly)
		}
		if err := s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionInvoicePaid, auditdomain.TargetInvoice, id.String(), metadata); err != nil {
			return err
		}

		invoice.IsPaid = true
		invoice.PaidDate = &day
		invoice.UpdatedAt = now
		result = *invoice
		changed = true
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, db.WrapStoreErr(err)
	}

	if changed {
		s.metrics.RecordInvoicePayment(ctx, "paid")
	}
	return result, nil
}

func (s *Service) MarkUnpaid(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	now := s.clock.Now().UTC()

	var result invoicedomain.Invoice
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !invoice.IsPaid && invoice.PaidDate == nil {
			result = *invoice
			return nil
		}

		if err := s.repo.UpdatePayment(ctx, tx, id, false, nil, now); err != nil {
			return err
		}
		if err := s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionInvoiceUnpaid, auditdomain.TargetInvoice, id.String(), map[string]any{
			"invoice_number": invoice.InvoiceNumber,
		}); err != nil {
			return err
		}

		invoice.IsPaid = false
		invoice.PaidDate = nil
		invoice.UpdatedAt = now
		result = *invoice
		changed = true
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, db.WrapStoreErr(err)
	}

	if changed {
		s.metrics.RecordInvoicePayment(ctx, "unpaid")
	}
	return result, nil
}

func (s *Service) IssueCredit(ctx context.Context, originalID snowflake.ID, reason string) (invoicedomain.Invoice, error) {
	now := s.clock.Now().UTC()
	credit := invoicedomain.Invoice{
		ID:          s.genID.Generate(),
		Type:        invoicedomain.InvoiceTypeCredit,
		InvoiceDate: clock.Day(now),
		Notes:       strings.TrimSpace(reason),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	origID := originalID
	credit.OriginalInvoiceID = &origID

	err := s.createInTx(ctx, &credit, func(tx *gorm.DB) error {
		original, err := s.repo.FindByIDForUpdate(ctx, tx, originalID)
		if err != nil {
			return err
		}
		if original == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if original.IsCredit() {
			return invoicedomain.ErrCreditOfCredit
		}
		existing, err := s.repo.FindCreditFor(ctx, tx, originalID)
		if err != nil {
			return err
		}
		if existing != nil {
			return invoicedomain.ErrAlreadyCredited
		}

		number := original.InvoiceNumber
		credit.ProjectID = original.ProjectID
		credit.OriginalInvoiceNumber = &number
		credit.Amount = original.Amount.Neg()
		credit.NetAmount = original.NetAmount.Neg()
		credit.TaxAmount = original.TaxAmount.Neg()
		credit.TaxRate = original.TaxRate
		credit.Description = "Storno zu Rechnung " + original.InvoiceNumber

		return s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionInvoiceCredited, auditdomain.TargetInvoice, original.ID.String(), map[string]any{
			"invoice_number": original.InvoiceNumber,
			"credit_id":      credit.ID.String(),
			"reason":         credit.Notes,
		})
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.metrics.RecordInvoiceCreated(ctx, string(credit.Type))
	s.metrics.RecordCreditIssued(ctx)
	return credit, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.InvoiceView, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return invoicedomain.InvoiceView{}, db.WrapStoreErr(err)
	}
	if invoice == nil {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvoiceNotFound
	}
	credited, err := s.repo.CreditedIDs(ctx, s.db, []snowflake.ID{invoice.ID})
	if err != nil {
		return invoicedomain.InvoiceView{}, db.WrapStoreErr(err)
	}
	_, isCredited := credited[invoice.ID]
	return s.view(*invoice, isCredited, s.clock.Now()), nil
}

func (s *Service) view(invoice invoicedomain.Invoice, credited bool, now time.Time) invoicedomain.InvoiceView {
	due := invoice.EffectiveDueDate(s.dunning.Get().DefaultTermsDays)
	overdue := clock.DaysBetween(due, now)
	if overdue < 0 || invoice.IsPaid || invoice.IsCredit() {
		overdue = 0
	}
	if invoice.Reminders == nil {
		invoice.Reminders = []invoicedomain.Reminder{}
	}
	return invoicedomain.InvoiceView{
		Invoice:          invoice,
		EffectiveDueDate: due,
		Status:           invoicedomain.StatusOf(invoice, now, due, credited),
		OverdueDays:      overdue,
	}
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	if req.Type != nil && !req.Type.Valid() {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidInvoiceType
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filter := invoicedomain.ListFilter{
		ProjectID: req.ProjectID,
		Type:      req.Type,
		IsPaid:    req.IsPaid,
		Limit:     pageSize + 1,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		after, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		filter.AfterID = &after
	}

	now := s.clock.Now()
	views := make([]invoicedomain.InvoiceView, 0, pageSize)
	var lastScanned *snowflake.ID
	exhausted := false
	for len(views) <= pageSize && !exhausted {
		items, err := s.repo.List(ctx, s.db, filter)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, db.WrapStoreErr(err)
		}
		exhausted = len(items) < filter.Limit

		ids := make([]snowflake.ID, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		credited, err := s.repo.CreditedIDs(ctx, s.db, ids)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, db.WrapStoreErr(err)
		}

		for _, item := range items {
			id := item.ID
			lastScanned = &id
			_, isCredited := credited[item.ID]
			v := s.view(*item, isCredited, now)
			if req.Overdue != nil && *req.Overdue != isOverdue(v) {
				continue
			}
			views = append(views, v)
			if len(views) > pageSize {
				break
			}
		}
		filter.AfterID = lastScanned
	}

	resp := invoicedomain.ListInvoiceResponse{Invoices: views}
	if len(views) > pageSize {
		resp.Invoices = views[:pageSize]
		resp.HasMore = true
		resp.NextPageToken = option.NextCursor(resp.Invoices[pageSize-1].ID)
	}
	return resp, nil
}

func isOverdue(v invoicedomain.InvoiceView) bool {
	if v.IsPaid || v.IsCredit() || v.Status == invoicedomain.StatusCredited {
		return false
	}
	return v.OverdueDays > 0
}

func (s *Service) ListByProject(ctx context.Context, projectID snowflake.ID) ([]invoicedomain.Invoice, error) {
	items, err := s.repo.ListByProject(ctx, s.db, projectID)
	if err != nil {
		return nil, db.WrapStoreErr(err)
	}
	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}
	return invoices, nil
}

// ImportLegacy validates every row before writing any of them, then stores
// the batch in one transaction.
func (s *Service) ImportLegacy(ctx context.Context, rows []map[string]any) ([]invoicedomain.Invoice, error) {
	now := s.clock.Now().UTC()
	invoices := make([]invoicedomain.Invoice, 0, len(rows))
	for i, row := range rows {
		invoice, err := invoicedomain.ParseLegacyRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if invoice.TaxRate.IsZero() {
			invoice.TaxRate = s.defaultTaxRate
		}
		split, err := money.GrossToNet(invoice.Amount, invoice.TaxRate)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		invoice.ID = s.genID.Generate()
		invoice.NetAmount = split.Net
		invoice.TaxAmount = split.Tax
		invoice.NumberYear = invoice.InvoiceDate.Year()
		if year, seq, ok := format.ParseInvoiceNumber(s.numberTemplate, invoice.InvoiceNumber); ok {
			invoice.NumberYear = year
			invoice.NumberSeq = seq
		}
		invoice.CreatedAt = now
		invoice.UpdatedAt = now
		invoices = append(invoices, invoice)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		byNumber := make(map[string]snowflake.ID, len(invoices))
		for i := range invoices {
			project, err := s.projectRepo.FindByIDForUpdate(ctx, tx, invoices[i].ProjectID)
			if err != nil {
				return err
			}
			if project == nil {
				return fmt.Errorf("row %d: %w", i+1, projectdomain.ErrProjectNotFound)
			}
			if slot, ok := flaggedSlot(invoices[i].ScheduleType); ok {
				if err := s.markSlot(ctx, tx, project, slot, now); err != nil {
					return fmt.Errorf("row %d: %w", i+1, err)
				}
			}
			if err := s.linkLegacyCredit(ctx, tx, &invoices[i], byNumber); err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			if err := s.repo.Insert(ctx, tx, &invoices[i]); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return fmt.Errorf("row %d: %w: duplicate invoice", i+1, invoicedomain.ErrInvalidLegacyRow)
				}
				return err
			}
			byNumber[invoices[i].InvoiceNumber] = invoices[i].ID
		}
		return s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionInvoiceCreated, auditdomain.TargetInvoice, "", map[string]any{
			"source": "legacy_import",
			"count":  len(invoices),
		})
	})
	if err != nil {
		return nil, db.WrapStoreErr(err)
	}

	s.log.Info("legacy invoices imported", zap.Int("count", len(invoices)))
	return invoices, nil
}

// linkLegacyCredit resolves the original of an imported credit, first in
// the batch and then in the store, so the one-credit-per-invoice rule
// covers imported history too.
func (s *Service) linkLegacyCredit(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, byNumber map[string]snowflake.ID) error {
	if !invoice.IsCredit() || invoice.OriginalInvoiceNumber == nil {
		return nil
	}
	number := *invoice.OriginalInvoiceNumber
	if id, ok := byNumber[number]; ok {
		invoice.OriginalInvoiceID = &id
		return nil
	}

	original, err := s.repo.FindByNumber(ctx, tx, number)
	if err != nil {
		return err
	}
	if original == nil {
		return fmt.Errorf("%w: unknown original invoice %s", invoicedomain.ErrInvalidLegacyRow, number)
	}
	if original.IsCredit() {
		return invoicedomain.ErrCreditOfCredit
	}
	existing, err := s.repo.FindCreditFor(ctx, tx, original.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return invoicedomain.ErrAlreadyCredited
	}
	id := original.ID
	invoice.OriginalInvoiceID = &id
	return nil
}
