package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/kitchenbill/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "user", "anna")
	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "anna", fields["actor_id"])
}

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(GinMiddleware(MiddlewareConfig{}))

	var seen string
	engine.GET("/ping", func(c *gin.Context) {
		seen = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
}

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{`SELECT * FROM "invoices" WHERE id = $1`, "SELECT", "invoices"},
		{"INSERT INTO `invoice_reminders` (`id`) VALUES (?)", "INSERT", "invoice_reminders"},
		{`UPDATE "projects" SET "second_payment_created"=$1`, "UPDATE", "projects"},
		{`DELETE FROM public.audit_logs`, "DELETE", "audit_logs"},
		{`WITH x AS (SELECT 1) SELECT * FROM x`, "SELECT", "x"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		operation, table := describeSQL(tc.sql)
		assert.Equal(t, tc.operation, operation, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig())
	query := func() (string, int64) { return `SELECT * FROM "projects"`, 0 }

	l.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.Trace(context.Background(), time.Now(), query, assert.AnError)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.ErrorLevel, entry.Level)
	assert.Equal(t, "projects", entry.ContextMap()["table"])
}

func TestGormLoggerReportsSlowQueries(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Millisecond})
	query := func() (string, int64) { return `UPDATE "invoices" SET is_paid = true`, 1 }

	l.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zap.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "UPDATE", logs.All()[0].ContextMap()["operation"])

	l.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	assert.Equal(t, 1, logs.Len())
}
