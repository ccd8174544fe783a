package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/kitchenbill/internal/audit/repository"
	auditservice "github.com/smallbiznis/kitchenbill/internal/audit/service"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	dunningdomain "github.com/smallbiznis/kitchenbill/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/kitchenbill/internal/invoice/repository"
	obsmetrics "github.com/smallbiznis/kitchenbill/internal/observability/metrics"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	projectrepository "github.com/smallbiznis/kitchenbill/internal/project/repository"
	"github.com/smallbiznis/kitchenbill/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type recordingProvider struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (p *recordingProvider) Send(_ context.Context, to []string, subject, htmlBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func day(n int) time.Time {
	return time.Date(2026, time.January, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

type fixture struct {
	svc   *Service
	clock *clock.FakeClock
	db    *gorm.DB
	node  *snowflake.Node
	mail  *recordingProvider
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&projectdomain.Project{},
		&projectdomain.Item{},
		&invoicedomain.Invoice{},
		&invoicedomain.Reminder{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(now)
	log := zaptest.NewLogger(t)
	mail := &recordingProvider{}

	audit := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(ServiceParam{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Config:      config.Config{CompanyName: "Küchenstudio Berger"},
		Dunning:     config.NewStaticDunningConfigHolder(config.DefaultDunningConfig()),
		InvoiceRepo: invoicerepository.Provide(),
		ProjectRepo: projectrepository.Provide(),
		AuditSvc:    audit,
		Email:       mail,
		Metrics:     obsmetrics.NewNoop(),
	}).(*Service)

	return &fixture{svc: svc, clock: fake, db: conn, node: node, mail: mail}
}

// invoice stores an unpaid partial invoice dated day 1 and due on day 5.
func (f *fixture) invoice(t *testing.T, customerEmail string) invoicedomain.Invoice {
	t.Helper()
	ctx := context.Background()
	project := projectdomain.Project{
		ID:            f.node.Generate(),
		OrderNumber:   "A-" + f.node.Generate().String(),
		CustomerName:  "Familie Huber",
		CustomerEmail: customerEmail,
		GrossTotal:    decimal.NewFromInt(1000),
		CreatedAt:     day(1),
		UpdatedAt:     day(1),
	}
	require.NoError(t, projectrepository.Provide().Insert(ctx, f.db, &project))

	due := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	id := f.node.Generate()
	invoice := invoicedomain.Invoice{
		ID:            id,
		ProjectID:     project.ID,
		InvoiceNumber: "R-2026-" + id.String(),
		NumberYear:    2026,
		NumberSeq:     int64(id),
		Type:          invoicedomain.InvoiceTypePartial,
		Amount:        decimal.RequireFromString("300.00"),
		NetAmount:     decimal.RequireFromString("250.00"),
		TaxAmount:     decimal.RequireFromString("50.00"),
		TaxRate:       decimal.NewFromInt(20),
		InvoiceDate:   time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       &due,
		CreatedAt:     day(1),
		UpdatedAt:     day(1),
	}
	require.NoError(t, invoicerepository.Provide().Insert(ctx, f.db, &invoice))
	return invoice
}

func (f *fixture) reminderCount(t *testing.T, invoiceID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&invoicedomain.Reminder{}).Where("invoice_id = ?", invoiceID).Count(&n).Error)
	return n
}

func TestRecordReminderSentEnforcesGap(t *testing.T) {
	f := newFixture(t, day(10))
	ctx := context.Background()
	inv := f.invoice(t, "")

	updated, err := f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderFirst)
	require.NoError(t, err)
	require.Len(t, updated.Reminders, 1)
	assert.Equal(t, invoicedomain.ReminderFirst, updated.Reminders[0].Type)

	f.clock.Set(day(15))
	_, err = f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderSecond)
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition)

	next, err := f.svc.NextReminder(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, next.Type)
	assert.Equal(t, invoicedomain.ReminderSecond, *next.Type)
	assert.False(t, next.CanSend)

	f.clock.Set(day(18))
	updated, err = f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderSecond)
	require.NoError(t, err)
	assert.Len(t, updated.Reminders, 2)
	assert.Equal(t, int64(2), f.reminderCount(t, inv.ID))
}

func TestRecordReminderSentRejectsOutOfOrderAndDuplicates(t *testing.T) {
	f := newFixture(t, day(10))
	ctx := context.Background()
	inv := f.invoice(t, "")

	_, err := f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderSecond)
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition)

	_, err = f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderType("fourth"))
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidReminderType)

	_, err = f.svc.RecordReminderSent(ctx, f.node.Generate(), invoicedomain.ReminderFirst)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	_, err = f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderFirst)
	require.NoError(t, err)
	_, err = f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderFirst)
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition)
	assert.Equal(t, int64(1), f.reminderCount(t, inv.ID))
}

func TestReminderUniqueIndexRejectsRace(t *testing.T) {
	f := newFixture(t, day(10))
	inv := f.invoice(t, "")

	err := invoicerepository.Provide().InsertReminder(context.Background(), f.db, &invoicedomain.Reminder{
		ID: f.node.Generate(), InvoiceID: inv.ID, Type: invoicedomain.ReminderFirst, SentAt: day(10),
	})
	require.NoError(t, err)
	err = invoicerepository.Provide().InsertReminder(context.Background(), f.db, &invoicedomain.Reminder{
		ID: f.node.Generate(), InvoiceID: inv.ID, Type: invoicedomain.ReminderFirst, SentAt: day(10),
	})
	assert.Error(t, err)
}

func TestRecordReminderSentSkipsPaidAndNotYetDue(t *testing.T) {
	f := newFixture(t, day(4))
	ctx := context.Background()
	inv := f.invoice(t, "")

	_, err := f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderFirst)
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition, "not yet due")

	f.clock.Set(day(20))
	paid := day(19)
	require.NoError(t, invoicerepository.Provide().UpdatePayment(ctx, f.db, inv.ID, true, &paid, day(19)))
	_, err = f.svc.RecordReminderSent(ctx, inv.ID, invoicedomain.ReminderFirst)
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition)
}

func TestSendTransmitsAndRecords(t *testing.T) {
	f := newFixture(t, day(15))
	ctx := context.Background()
	inv := f.invoice(t, "huber@example.com")

	updated, err := f.svc.Send(ctx, dunningdomain.SendRequest{InvoiceID: inv.ID, Type: invoicedomain.ReminderFirst})
	require.NoError(t, err)
	assert.Len(t, updated.Reminders, 1)

	require.Len(t, f.mail.sent, 1)
	mail := f.mail.sent[0]
	assert.Equal(t, []string{"huber@example.com"}, mail.to)
	assert.Equal(t, "Erste Mahnung - Rechnung "+inv.InvoiceNumber, mail.subject)
	assert.Contains(t, mail.body, "300,00 €")
	assert.Contains(t, mail.body, "10 Tage überfällig")
	assert.Contains(t, mail.body, "Küchenstudio Berger")

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", auditdomain.ActionReminderSent).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "first", logs[0].Metadata["stage"])
	assert.Equal(t, "h****@example.com", logs[0].Metadata["recipient"])
}

func TestSendRecipientOverride(t *testing.T) {
	f := newFixture(t, day(15))
	inv := f.invoice(t, "")

	_, err := f.svc.Send(context.Background(), dunningdomain.SendRequest{InvoiceID: inv.ID, Type: invoicedomain.ReminderFirst})
	assert.ErrorIs(t, err, email.ErrNoRecipient)
	assert.Equal(t, int64(0), f.reminderCount(t, inv.ID))

	_, err = f.svc.Send(context.Background(), dunningdomain.SendRequest{
		InvoiceID: inv.ID,
		Type:      invoicedomain.ReminderFirst,
		Recipient: "buchhaltung@example.com",
	})
	require.NoError(t, err)
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, []string{"buchhaltung@example.com"}, f.mail.sent[0].to)
}

func TestSendFailureRecordsNothing(t *testing.T) {
	f := newFixture(t, day(15))
	inv := f.invoice(t, "huber@example.com")
	f.mail.err = &email.TransmissionError{Err: errors.New("connection refused")}

	_, err := f.svc.Send(context.Background(), dunningdomain.SendRequest{InvoiceID: inv.ID, Type: invoicedomain.ReminderFirst})
	var transmission *email.TransmissionError
	require.ErrorAs(t, err, &transmission)
	assert.Equal(t, int64(0), f.reminderCount(t, inv.ID))

	f.mail.err = nil
	_, err = f.svc.Send(context.Background(), dunningdomain.SendRequest{InvoiceID: inv.ID, Type: invoicedomain.ReminderFirst})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.reminderCount(t, inv.ID))
}

func TestDueReminders(t *testing.T) {
	f := newFixture(t, day(15))
	ctx := context.Background()
	overdue := f.invoice(t, "")
	reminded := f.invoice(t, "")
	paid := f.invoice(t, "")

	_, err := f.svc.RecordReminderSent(ctx, reminded.ID, invoicedomain.ReminderFirst)
	require.NoError(t, err)
	paidDate := day(14)
	require.NoError(t, invoicerepository.Provide().UpdatePayment(ctx, f.db, paid.ID, true, &paidDate, day(14)))

	due, err := f.svc.DueReminders(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, overdue.ID, due[0].InvoiceID)
	require.NotNil(t, due[0].Type)
	assert.Equal(t, invoicedomain.ReminderFirst, *due[0].Type)
	assert.Equal(t, 10, *due[0].OverdueDays)
	// 300 * 9.2% / 365 * 10
	assert.Equal(t, "0.76", due[0].LateInterest.StringFixed(2))

	f.clock.Set(day(22))
	due, err = f.svc.DueReminders(ctx)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestCreditedInvoiceIsNotDunned(t *testing.T) {
	f := newFixture(t, day(10))
	ctx := context.Background()
	original := f.invoice(t, "huber@example.com")

	originalID := original.ID
	originalNumber := original.InvoiceNumber
	creditID := f.node.Generate()
	credit := invoicedomain.Invoice{
		ID:                    creditID,
		ProjectID:             original.ProjectID,
		InvoiceNumber:         "GS-2026-" + creditID.String(),
		NumberYear:            2026,
		NumberSeq:             int64(creditID),
		Type:                  invoicedomain.InvoiceTypeCredit,
		Amount:                original.Amount.Neg(),
		NetAmount:             original.NetAmount.Neg(),
		TaxAmount:             original.TaxAmount.Neg(),
		TaxRate:               original.TaxRate,
		InvoiceDate:           time.Date(2026, time.January, 8, 0, 0, 0, 0, time.UTC),
		OriginalInvoiceID:     &originalID,
		OriginalInvoiceNumber: &originalNumber,
		CreatedAt:             day(8),
		UpdatedAt:             day(8),
	}
	require.NoError(t, invoicerepository.Provide().Insert(ctx, f.db, &credit))

	due, err := f.svc.DueReminders(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	next, err := f.svc.NextReminder(ctx, original.ID)
	require.NoError(t, err)
	assert.False(t, next.CanSend)
	assert.Nil(t, next.Type)

	_, err = f.svc.Send(ctx, dunningdomain.SendRequest{InvoiceID: original.ID, Type: invoicedomain.ReminderFirst})
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition)
	_, err = f.svc.RecordReminderSent(ctx, original.ID, invoicedomain.ReminderFirst)
	assert.ErrorIs(t, err, invoicedomain.ErrIllegalTransition)

	assert.Empty(t, f.mail.sent)
	assert.Equal(t, int64(0), f.reminderCount(t, original.ID))
}
