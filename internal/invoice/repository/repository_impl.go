package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	"github.com/smallbiznis/kitchenbill/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func withReminders(db *gorm.DB) *gorm.DB {
	return db.Preload("Reminders", func(db *gorm.DB) *gorm.DB {
		return db.Order("sent_at asc, id asc")
	})
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Omit("Reminders").Create(invoice).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, withReminders(db.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	stmt := withReminders(db.WithContext(ctx)).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id)
	return r.findOne(ctx, stmt)
}

func (r *repo) FindCreditFor(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (*domain.Invoice, error) {
	stmt := db.WithContext(ctx).
		Where("type = ? AND original_invoice_id = ?", domain.InvoiceTypeCredit, originalID)
	return r.findOne(ctx, stmt)
}

func (r *repo) FindByNumber(ctx context.Context, db *gorm.DB, number string) (*domain.Invoice, error) {
	return r.findOne(ctx, db.WithContext(ctx).Where("invoice_number = ?", number))
}

func (r *repo) FindByProjectSchedule(ctx context.Context, db *gorm.DB, projectID snowflake.ID, scheduleType domain.ScheduleType) (*domain.Invoice, error) {
	stmt := db.WithContext(ctx).
		Where("project_id = ? AND schedule_type = ?", projectID, scheduleType)
	return r.findOne(ctx, stmt)
}

func (r *repo) findOne(_ context.Context, stmt *gorm.DB) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := stmt.Order("id asc").First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) ListByProject(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := withReminders(db.WithContext(ctx)).
		Where("project_id = ?", projectID).
		Order("invoice_date asc, id asc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := withReminders(db.WithContext(ctx)).Model(&domain.Invoice{})

	conditions := make([]option.Condition, 0, 4)
	if filter.ProjectID != nil {
		conditions = append(conditions, option.Condition{Field: "project_id", Operator: option.EQ, Value: *filter.ProjectID})
	}
	if filter.Type != nil {
		conditions = append(conditions, option.Condition{Field: "type", Operator: option.EQ, Value: *filter.Type})
	}
	if filter.IsPaid != nil {
		conditions = append(conditions, option.Condition{Field: "is_paid", Operator: option.EQ, Value: *filter.IsPaid})
	}
	if filter.AfterID != nil {
		conditions = append(conditions, option.Condition{Field: "id", Operator: option.GT, Value: *filter.AfterID})
	}
	for _, cond := range conditions {
		stmt = option.ApplyOperator(cond).Apply(stmt)
	}

	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) CreditedIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]struct{}, error) {
	out := make(map[snowflake.ID]struct{})
	if len(ids) == 0 {
		return out, nil
	}
	var originals []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("type = ? AND original_invoice_id IN ?", domain.InvoiceTypeCredit, ids).
		Pluck("original_invoice_id", &originals).Error
	if err != nil {
		return nil, err
	}
	for _, id := range originals {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *repo) MaxSequence(ctx context.Context, db *gorm.DB, year int) (int64, error) {
	var seq int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(number_seq), 0) FROM invoices WHERE number_year = ?`,
		year,
	).Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *repo) UpdatePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, paid bool, paidDate *time.Time, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_paid":    paid,
			"paid_date":  paidDate,
			"updated_at": now,
		}).Error
}

func (r *repo) InsertReminder(ctx context.Context, db *gorm.DB, reminder *domain.Reminder) error {
	return db.WithContext(ctx).Create(reminder).Error
}
