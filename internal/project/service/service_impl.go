package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	"github.com/smallbiznis/kitchenbill/internal/money"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     projectdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	defaultTaxRate decimal.Decimal

	repo     projectdomain.Repository
	auditSvc auditdomain.Service
}

func NewService(p ServiceParam) projectdomain.Service {
	rate := p.Config.DefaultTaxRate
	if rate == 0 {
		rate = 20
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("project.service"),
		genID: p.GenID,
		clock: p.Clock,

		defaultTaxRate: money.Percent(rate),

		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req projectdomain.CreateProjectRequest) (projectdomain.Project, error) {
	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderNumber == "" {
		return projectdomain.Project{}, projectdomain.ErrInvalidOrderNumber
	}
	customerName := strings.TrimSpace(req.CustomerName)
	if customerName == "" {
		return projectdomain.Project{}, projectdomain.ErrInvalidCustomerName
	}

	now := s.clock.Now().UTC()
	project := projectdomain.Project{
		ID:              s.genID.Generate(),
		OrderNumber:     orderNumber,
		CustomerName:    customerName,
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		PaymentSchedule: req.PaymentSchedule,
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.DeliveryDate != nil && !req.DeliveryDate.IsZero() {
		day := clock.Day(*req.DeliveryDate)
		project.DeliveryDate = &day
	}

	if len(req.Items) > 0 {
		items, err := s.buildItems(project.ID, req.Items)
		if err != nil {
			return projectdomain.Project{}, err
		}
		project.Items = items
		var net, tax, gross []decimal.Decimal
		for _, item := range items {
			net = append(net, item.NetTotal)
			tax = append(tax, item.TaxTotal)
			gross = append(gross, item.GrossTotal)
		}
		project.NetTotal = money.Sum(net...)
		project.TaxTotal = money.Sum(tax...)
		project.GrossTotal = money.Sum(gross...)
	} else {
		if !req.GrossTotal.IsPositive() {
			return projectdomain.Project{}, projectdomain.ErrInvalidGrossTotal
		}
		split, err := money.GrossToNet(req.GrossTotal, s.defaultTaxRate)
		if err != nil {
			return projectdomain.Project{}, err
		}
		project.GrossTotal = split.Gross
		project.NetTotal = split.Net
		project.TaxTotal = split.Tax
	}

	if project.PaymentSchedule != nil && !paymentschedule.IsValid(*project.PaymentSchedule) {
		// stored as entered; deposit creation refuses it until corrected
		s.log.Warn("project schedule does not sum to 100",
			zap.String("order_number", orderNumber),
			zap.Any("schedule", project.PaymentSchedule),
		)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &project); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return projectdomain.ErrDuplicateOrder
			}
			return db.WrapStoreErr(err)
		}
		return s.auditSvc.AuditLog(ctx, tx, auditdomain.ActionProjectCreated, auditdomain.TargetProject, project.ID.String(), map[string]any{
			"order_number": project.OrderNumber,
			"gross_total":  project.GrossTotal.StringFixed(2),
		})
	})
	if err != nil {
		return projectdomain.Project{}, err
	}

	return project, nil
}

func (s *Service) buildItems(projectID snowflake.ID, inputs []projectdomain.ItemInput) ([]projectdomain.Item, error) {
	items := make([]projectdomain.Item, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.Description) == "" || !in.Quantity.IsPositive() || in.UnitNetPrice.IsNegative() {
			return nil, projectdomain.ErrInvalidItem
		}
		totals, err := money.ItemTotalsFromNet(in.Quantity, in.UnitNetPrice, in.TaxRate)
		if err != nil {
			return nil, err
		}
		items = append(items, projectdomain.Item{
			ID:           s.genID.Generate(),
			ProjectID:    projectID,
			Position:     i + 1,
			Description:  strings.TrimSpace(in.Description),
			Quantity:     in.Quantity,
			UnitNetPrice: money.Round2(in.UnitNetPrice),
			TaxRate:      in.TaxRate,
			NetTotal:     totals.Net,
			TaxTotal:     totals.Tax,
			GrossTotal:   totals.Gross,
		})
	}
	return items, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (projectdomain.Project, error) {
	project, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return projectdomain.Project{}, db.WrapStoreErr(err)
	}
	if project == nil {
		return projectdomain.Project{}, projectdomain.ErrProjectNotFound
	}
	return *project, nil
}

func (s *Service) List(ctx context.Context, req projectdomain.ListProjectRequest) ([]projectdomain.Project, error) {
	items, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, db.WrapStoreErr(err)
	}
	projects := make([]projectdomain.Project, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		projects = append(projects, *item)
	}
	return projects, nil
}

func (s *Service) PaymentPlan(ctx context.Context, id snowflake.ID) (projectdomain.PaymentPlan, error) {
	project, err := s.GetByID(ctx, id)
	if err != nil {
		return projectdomain.PaymentPlan{}, err
	}
	return BuildPaymentPlan(project, s.clock.Now()), nil
}

// BuildPaymentPlan evaluates the schedule of project at now.
func BuildPaymentPlan(project projectdomain.Project, now time.Time) projectdomain.PaymentPlan {
	terms := project.Terms()
	schedule := project.Schedule()
	plan := projectdomain.PaymentPlan{
		ProjectID:            project.ID,
		Schedule:             schedule,
		DefaultSchedule:      project.PaymentSchedule == nil,
		Valid:                paymentschedule.IsValid(schedule),
		SecondPaymentDueDate: paymentschedule.SecondPaymentDueDate(terms),
		DaysUntilSecondDue:   paymentschedule.DaysUntilSecondPaymentDue(terms, now),
		SecondPaymentDue:     paymentschedule.IsSecondPaymentDue(terms, now),
		FirstPaymentCreated:  project.FirstPaymentCreated,
		SecondPaymentCreated: project.SecondPaymentCreated,
	}
	if amounts, ok := paymentschedule.CalculateAmounts(terms); ok {
		plan.Amounts = amounts
	}
	return plan
}

// DueSecondPayments lists projects whose second deposit should be invoiced
// now. The predicate is re-evaluated on every call.
func (s *Service) DueSecondPayments(ctx context.Context) ([]projectdomain.Project, error) {
	notCreated := false
	hasDelivery := true
	candidates, err := s.List(ctx, projectdomain.ListProjectRequest{
		SecondPaymentCreated: &notCreated,
		HasDeliveryDate:      &hasDelivery,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	due := make([]projectdomain.Project, 0, len(candidates))
	for _, project := range candidates {
		if paymentschedule.IsSecondPaymentDue(project.Terms(), now) {
			due = append(due, project)
		}
	}
	return due, nil
}
