package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	"github.com/smallbiznis/kitchenbill/internal/audit/masking"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	dunningdomain "github.com/smallbiznis/kitchenbill/internal/dunning/domain"
	"github.com/smallbiznis/kitchenbill/internal/dunning/render"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/kitchenbill/internal/observability/metrics"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	"github.com/smallbiznis/kitchenbill/internal/providers/email"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const scanBatchSize = 200

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Dunning     *config.DunningConfigHolder `optional:"true"`
	InvoiceRepo invoicedomain.Repository
	ProjectRepo projectdomain.Repository
	AuditSvc    auditdomain.Service
	Email       email.Provider
	Renderer    render.Renderer     `optional:"true"`
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	companyName string
	dunning     *config.DunningConfigHolder

	invoiceRepo invoicedomain.Repository
	projectRepo projectdomain.Repository
	auditSvc    auditdomain.Service
	email       email.Provider
	renderer    render.Renderer
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) dunningdomain.Service {
	dunning := p.Dunning
	if dunning == nil {
		dunning = config.NewStaticDunningConfigHolder(config.DefaultDunningConfig())
	}
	renderer := p.Renderer
	if renderer == nil {
		renderer = render.NewRenderer()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("dunning.service"),
		genID: p.GenID,
		clock: p.Clock,

		companyName: p.Config.CompanyName,
		dunning:     dunning,

		invoiceRepo: p.InvoiceRepo,
		projectRepo: p.ProjectRepo,
		auditSvc:    p.AuditSvc,
		email:       p.Email,
		renderer:    renderer,
		metrics:     p.Metrics,
	}
}

func (s *Service) policy() dunningdomain.Policy {
	cfg := s.dunning.Get()
	return dunningdomain.Policy{
		DefaultTermsDays: cfg.DefaultTermsDays,
		MinGapDaysSecond: cfg.MinGapDaysSecond,
		MinGapDaysFinal:  cfg.MinGapDaysFinal,
		LateInterestRate: decimal.NewFromFloat(cfg.LateInterestRate),
	}
}

func (s *Service) NextReminder(ctx context.Context, invoiceID snowflake.ID) (dunningdomain.NextReminder, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return dunningdomain.NextReminder{}, db.WrapStoreErr(err)
	}
	if invoice == nil {
		return dunningdomain.NextReminder{}, invoicedomain.ErrInvoiceNotFound
	}
	credited, err := s.isCredited(ctx, s.db, invoice.ID)
	if err != nil {
		return dunningdomain.NextReminder{}, db.WrapStoreErr(err)
	}
	return s.evaluate(*invoice, credited, s.policy(), s.clock.Now().UTC()), nil
}

// isCredited reports whether a credit note reverses the invoice.
func (s *Service) isCredited(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (bool, error) {
	credit, err := s.invoiceRepo.FindCreditFor(ctx, tx, invoiceID)
	if err != nil {
		return false, err
	}
	return credit != nil, nil
}

// evaluate describes the next stage for invoice. Credits, paid invoices and
// invoices reversed by a credit note are never dunned.
func (s *Service) evaluate(invoice invoicedomain.Invoice, credited bool, policy dunningdomain.Policy, now time.Time) dunningdomain.NextReminder {
	due := dunningdomain.DueDate(invoice, policy.DefaultTermsDays)
	out := dunningdomain.NextReminder{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		DueDate:       due,
		OverdueDays:   dunningdomain.OverdueDays(due, now),
		LateInterest:  decimal.Zero,
	}
	if invoice.IsCredit() || invoice.IsPaid || credited {
		return out
	}
	if out.OverdueDays != nil {
		out.LateInterest = dunningdomain.LateInterest(invoice.Amount, *out.OverdueDays, policy.LateInterestRate)
	}
	next, ok := dunningdomain.NextReminderType(invoice.Reminders)
	if !ok {
		return out
	}
	out.Type = &next
	out.CanSend = dunningdomain.CanSendWithPolicy(invoice, next, policy, now)
	return out
}

func (s *Service) RecordReminderSent(ctx context.Context, invoiceID snowflake.ID, t invoicedomain.ReminderType) (invoicedomain.Invoice, error) {
	return s.record(ctx, invoiceID, t, nil)
}

// Send renders the stage letter, transmits it and records the reminder in
// one transaction. A failed transmission records nothing.
func (s *Service) Send(ctx context.Context, req dunningdomain.SendRequest) (invoicedomain.Invoice, error) {
	deliver := func(tx *gorm.DB, invoice invoicedomain.Invoice, overdueDays int, policy dunningdomain.Policy) (map[string]any, error) {
		project, err := s.projectRepo.FindByID(ctx, tx, invoice.ProjectID)
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, projectdomain.ErrProjectNotFound
		}

		recipient := strings.TrimSpace(req.Recipient)
		if recipient == "" {
			recipient = strings.TrimSpace(project.CustomerEmail)
		}
		if recipient == "" {
			return nil, email.ErrNoRecipient
		}

		letter, err := s.renderer.Render(render.RenderInput{
			Stage:         string(req.Type),
			InvoiceNumber: invoice.InvoiceNumber,
			InvoiceDate:   invoice.InvoiceDate,
			DueDate:       invoice.EffectiveDueDate(policy.DefaultTermsDays),
			OverdueDays:   overdueDays,
			Amount:        invoice.Amount,
			LateInterest:  dunningdomain.LateInterest(invoice.Amount, overdueDays, policy.LateInterestRate),
			CustomerName:  project.CustomerName,
			OrderNumber:   project.OrderNumber,
			CompanyName:   s.companyName,
		})
		if err != nil {
			return nil, err
		}

		if err := s.email.Send(ctx, []string{recipient}, letter.Subject, letter.HTML); err != nil {
			s.log.Warn("reminder transmission failed",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("stage", string(req.Type)),
				zap.Error(err),
			)
			return nil, err
		}
		return map[string]any{"recipient": masking.MaskEmail(recipient)}, nil
	}
	return s.record(ctx, req.InvoiceID, req.Type, deliver)
}

type deliverFunc func(tx *gorm.DB, invoice invoicedomain.Invoice, overdueDays int, policy dunningdomain.Policy) (map[string]any, error)

func (s *Service) record(ctx context.Context, invoiceID snowflake.ID, t invoicedomain.ReminderType, deliver deliverFunc) (invoicedomain.Invoice, error) {
	if !t.Valid() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidReminderType
	}
	now := s.clock.Now().UTC()
	policy := s.policy()

	var result invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		credited, err := s.isCredited(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if credited || !dunningdomain.CanSendWithPolicy(*invoice, t, policy, now) {
			return invoicedomain.ErrIllegalTransition
		}

		reminder := invoicedomain.Reminder{
			ID:        s.genID.Generate(),
			InvoiceID: invoice.ID,
			Type:      t,
			SentAt:    now,
		}
		if err := s.invoiceRepo.InsertReminder(ctx, tx, &reminder); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrIllegalTransition
			}
			return err
		}

		overdueDays := 0
		if overdue := dunningdomain.OverdueDays(dunningdomain.DueDate(*invoice, policy.DefaultTermsDays), now); overdue != nil {
			overdueDays = *overdue
		}

		metadata := map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"stage":          string(t),
			"overdue_days":   overdueDays,
			"transmitted":    deliver != nil,
		}
		if deliver != nil {
			extra, err := deliver(tx, *invoice, overdueDays, policy)
			if err != nil {
				return err
			}
			for k, v := range extra {
				metadata[k] = v
			}
		}
		if err := s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionReminderSent, auditdomain.TargetInvoice, invoice.ID.String(), metadata); err != nil {
			return err
		}

		invoice.Reminders = append(invoice.Reminders, reminder)
		result = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, db.WrapStoreErr(err)
	}

	s.metrics.RecordReminderSent(ctx, string(t))
	s.log.Info("reminder recorded",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("invoice_number", result.InvoiceNumber),
		zap.String("stage", string(t)),
	)
	return result, nil
}

// DueReminders scans unpaid invoices and returns those with a sendable stage.
func (s *Service) DueReminders(ctx context.Context) ([]dunningdomain.NextReminder, error) {
	now := s.clock.Now().UTC()
	policy := s.policy()
	unpaid := false

	var (
		due     []dunningdomain.NextReminder
		afterID *snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, db.WrapStoreErr(err)
		}
		batch, err := s.invoiceRepo.List(ctx, s.db, invoicedomain.ListFilter{
			IsPaid:  &unpaid,
			AfterID: afterID,
			Limit:   scanBatchSize,
		})
		if err != nil {
			return nil, db.WrapStoreErr(err)
		}
		ids := make([]snowflake.ID, 0, len(batch))
		for _, invoice := range batch {
			ids = append(ids, invoice.ID)
		}
		credited, err := s.invoiceRepo.CreditedIDs(ctx, s.db, ids)
		if err != nil {
			return nil, db.WrapStoreErr(err)
		}
		for _, invoice := range batch {
			if invoice.IsCredit() {
				continue
			}
			_, reversed := credited[invoice.ID]
			next := s.evaluate(*invoice, reversed, policy, now)
			if next.CanSend {
				due = append(due, next)
			}
		}
		if len(batch) < scanBatchSize {
			break
		}
		last := batch[len(batch)-1].ID
		afterID = &last
	}
	return due, nil
}
