package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/spf13/cast"
)

// ValidateAmount enforces the sign rule: credits are negative, every other
// type is positive.
func ValidateAmount(t InvoiceType, amount decimal.Decimal) error {
	if !t.Valid() {
		return ErrInvalidInvoiceType
	}
	if t == InvoiceTypeCredit {
		if !amount.IsNegative() {
			return ErrInvalidAmount
		}
		return nil
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// ParseLegacyRow turns a loosely typed row exported by the previous CRM into
// an Invoice. Numbers may arrive as strings, flags as "true", "1" or 1. The
// returned invoice carries no ID and no number sequence.
func ParseLegacyRow(row map[string]any) (Invoice, error) {
	var inv Invoice

	projectID, err := cast.ToInt64E(row["project_id"])
	if err != nil || projectID <= 0 {
		return Invoice{}, legacyErr("project_id", err)
	}
	inv.ProjectID = snowflake.ID(projectID)

	inv.InvoiceNumber = strings.TrimSpace(cast.ToString(row["invoice_number"]))
	if inv.InvoiceNumber == "" {
		return Invoice{}, legacyErr("invoice_number", nil)
	}

	inv.Type = InvoiceType(strings.ToLower(strings.TrimSpace(cast.ToString(row["type"]))))
	if !inv.Type.Valid() {
		return Invoice{}, fmt.Errorf("%w: %w", ErrInvalidLegacyRow, ErrInvalidInvoiceType)
	}

	rawAmount, err := cast.ToStringE(row["amount"])
	if err != nil {
		return Invoice{}, legacyErr("amount", err)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
	if err != nil {
		return Invoice{}, legacyErr("amount", err)
	}
	if err := ValidateAmount(inv.Type, amount); err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ErrInvalidLegacyRow, err)
	}
	inv.Amount = amount

	if raw := row["tax_rate"]; !isBlank(raw) {
		rate, err := cast.ToFloat64E(raw)
		if err != nil {
			return Invoice{}, legacyErr("tax_rate", err)
		}
		inv.TaxRate = decimal.NewFromFloat(rate)
	}

	invoiceDate, err := cast.ToTimeE(row["invoice_date"])
	if err != nil || invoiceDate.IsZero() {
		return Invoice{}, legacyErr("invoice_date", err)
	}
	inv.InvoiceDate = clock.Day(invoiceDate)

	if inv.DueDate, err = optionalDay(row, "due_date"); err != nil {
		return Invoice{}, err
	}

	if raw := row["is_paid"]; !isBlank(raw) {
		paid, err := cast.ToBoolE(raw)
		if err != nil {
			return Invoice{}, legacyErr("is_paid", err)
		}
		inv.IsPaid = paid
	}
	if inv.IsPaid {
		if inv.PaidDate, err = optionalDay(row, "paid_date"); err != nil {
			return Invoice{}, err
		}
		if inv.PaidDate == nil {
			day := inv.InvoiceDate
			inv.PaidDate = &day
		}
	}
	if inv.IsPaid && inv.IsCredit() {
		return Invoice{}, fmt.Errorf("%w: %w", ErrInvalidLegacyRow, ErrCreditNotPayable)
	}

	if raw := strings.TrimSpace(cast.ToString(row["schedule_type"])); raw != "" {
		st := ScheduleType(strings.ToLower(raw))
		if !st.Valid() {
			return Invoice{}, fmt.Errorf("%w: %w", ErrInvalidLegacyRow, ErrInvalidScheduleType)
		}
		inv.ScheduleType = &st
	}

	inv.Description = strings.TrimSpace(cast.ToString(row["description"]))
	inv.Notes = strings.TrimSpace(cast.ToString(row["notes"]))
	if original := strings.TrimSpace(cast.ToString(row["original_invoice_number"])); original != "" {
		inv.OriginalInvoiceNumber = &original
	}

	return inv, nil
}

func optionalDay(row map[string]any, key string) (*time.Time, error) {
	raw := row[key]
	if isBlank(raw) {
		return nil, nil
	}
	value, err := cast.ToTimeE(raw)
	if err != nil {
		return nil, legacyErr(key, err)
	}
	day := clock.Day(value)
	return &day, nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func legacyErr(field string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrInvalidLegacyRow, field)
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalidLegacyRow, field, cause)
}
