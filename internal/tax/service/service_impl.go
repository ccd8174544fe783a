package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/kitchenbill/internal/observability/metrics"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	taxdomain "github.com/smallbiznis/kitchenbill/internal/tax/domain"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	InvoiceRepo invoicedomain.Repository
	ProjectRepo projectdomain.Repository
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	invoiceRepo invoicedomain.Repository
	projectRepo projectdomain.Repository
}

func NewService(p ServiceParam) taxdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tax.service"),
		metrics: p.Metrics,

		invoiceRepo: p.InvoiceRepo,
		projectRepo: p.ProjectRepo,
	}
}

// FinalInvoiceBreakdown decomposes a final invoice against the project line
// items and every partial invoice of the project that no credit reverses.
func (s *Service) FinalInvoiceBreakdown(ctx context.Context, invoiceID snowflake.ID) (taxdomain.FinalInvoiceBreakdown, error) {
	final, err := s.invoiceRepo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return taxdomain.FinalInvoiceBreakdown{}, db.WrapStoreErr(err)
	}
	if final == nil {
		return taxdomain.FinalInvoiceBreakdown{}, invoicedomain.ErrInvoiceNotFound
	}
	if final.Type != invoicedomain.InvoiceTypeFinal {
		return taxdomain.FinalInvoiceBreakdown{}, taxdomain.ErrNotFinalInvoice
	}

	project, err := s.projectRepo.FindByID(ctx, s.db, final.ProjectID)
	if err != nil {
		return taxdomain.FinalInvoiceBreakdown{}, db.WrapStoreErr(err)
	}
	if project == nil {
		return taxdomain.FinalInvoiceBreakdown{}, projectdomain.ErrProjectNotFound
	}

	partials, err := s.priorPartials(ctx, final.ProjectID)
	if err != nil {
		return taxdomain.FinalInvoiceBreakdown{}, db.WrapStoreErr(err)
	}

	itemGross := make([]decimal.Decimal, 0, len(project.Items))
	for _, item := range project.Items {
		itemGross = append(itemGross, item.GrossTotal)
	}

	breakdown, warning, err := taxdomain.Decompose(
		taxdomain.InvoiceRef{ID: final.ID, Number: final.InvoiceNumber, Amount: final.Amount},
		partials,
		itemGross,
	)
	if err != nil {
		return taxdomain.FinalInvoiceBreakdown{}, err
	}
	if warning != nil {
		s.log.Warn("final invoice does not reconcile",
			zap.String("invoice_id", final.ID.String()),
			zap.String("invoice_number", final.InvoiceNumber),
			zap.String("expected", warning.Expected.StringFixed(2)),
			zap.String("actual", warning.Actual.StringFixed(2)),
		)
		s.metrics.RecordReconciliationWarning(ctx)
	}

	return taxdomain.FinalInvoiceBreakdown{
		InvoiceID: final.ID,
		ProjectID: final.ProjectID,
		Breakdown: breakdown,
		Warning:   warning,
	}, nil
}

func (s *Service) priorPartials(ctx context.Context, projectID snowflake.ID) ([]taxdomain.InvoiceRef, error) {
	invoices, err := s.invoiceRepo.ListByProject(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	credited, err := s.invoiceRepo.CreditedIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	refs := make([]taxdomain.InvoiceRef, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Type != invoicedomain.InvoiceTypePartial {
			continue
		}
		if _, ok := credited[inv.ID]; ok {
			continue
		}
		refs = append(refs, taxdomain.InvoiceRef{ID: inv.ID, Number: inv.InvoiceNumber, Amount: inv.Amount})
	}
	return refs, nil
}
