package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	"github.com/smallbiznis/kitchenbill/internal/project/domain"
	"github.com/smallbiznis/kitchenbill/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, project *domain.Project) error {
	return db.WithContext(ctx).Create(project).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Project, error) {
	return r.findByID(ctx, db, id, false)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Project, error) {
	return r.findByID(ctx, db, id, true)
}

func (r *repo) findByID(ctx context.Context, db *gorm.DB, id snowflake.ID, lock bool) (*domain.Project, error) {
	var project domain.Project
	stmt := db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		})
	if lock {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("id = ?", id).First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListProjectRequest) ([]*domain.Project, error) {
	var projects []*domain.Project
	stmt := db.WithContext(ctx).Model(&domain.Project{})

	if filter.SecondPaymentCreated != nil {
		stmt = option.ApplyOperator(option.Condition{
			Field:    "second_payment_created",
			Operator: option.EQ,
			Value:    *filter.SecondPaymentCreated,
		}).Apply(stmt)
	}
	if filter.HasDeliveryDate != nil {
		op := option.ISNULL
		if *filter.HasDeliveryDate {
			op = option.NOTNULL
		}
		stmt = option.ApplyOperator(option.Condition{Field: "delivery_date", Operator: op}).Apply(stmt)
	}

	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *repo) MarkSlotCreated(ctx context.Context, db *gorm.DB, id snowflake.ID, slot paymentschedule.Slot, now time.Time) (bool, error) {
	var column string
	switch slot {
	case paymentschedule.SlotFirst:
		column = "first_payment_created"
	case paymentschedule.SlotSecond:
		column = "second_payment_created"
	default:
		return false, fmt.Errorf("slot %q has no flag", slot)
	}

	result := db.WithContext(ctx).
		Model(&domain.Project{}).
		Where("id = ?", id).
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: false}).
		Updates(map[string]any{
			column:       true,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
