package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	"github.com/smallbiznis/kitchenbill/internal/audit/repository"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	obscontext "github.com/smallbiznis/kitchenbill/internal/observability/context"
	"github.com/smallbiznis/kitchenbill/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	}).(*Service)
	return svc, db
}

func TestAuditLogRecordsActorAndRequest(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithActor(ctx, "user", "clerk")
	require.NoError(t, svc.AuditLog(ctx, nil, auditdomain.ActionInvoicePaid, auditdomain.TargetInvoice, "42", map[string]any{"paid_date": "2026-02-01"}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetID: "42"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "clerk", *entry.ActorID)
	assert.Equal(t, "req-9", entry.Metadata["request_id"])
	assert.Equal(t, "2026-02-01", entry.Metadata["paid_date"])
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.AuditLog(context.Background(), nil, auditdomain.ActionScheduledPayment, auditdomain.TargetProject, "7", nil))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	assert.ErrorIs(t, svc.AuditLog(context.Background(), nil, " ", "invoice", "1", nil), auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(context.Background(), nil, auditdomain.ActionInvoiceCreated, auditdomain.TargetInvoice, "1", nil))
	}

	page, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	assert.Len(t, page.AuditLogs, 3)
	assert.False(t, page.HasMore)

	first, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Pagination: paginationOf(2, "")})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)

	second, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Pagination: paginationOf(2, first.NextPageToken)})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
}

func paginationOf(size int, token string) pagination.Pagination {
	return pagination.Pagination{PageSize: size, PageToken: token}
}
