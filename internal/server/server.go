package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/kitchenbill/internal/audit"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	"github.com/smallbiznis/kitchenbill/internal/config"
	"github.com/smallbiznis/kitchenbill/internal/dunning"
	dunningdomain "github.com/smallbiznis/kitchenbill/internal/dunning/domain"
	"github.com/smallbiznis/kitchenbill/internal/invoice"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	"github.com/smallbiznis/kitchenbill/internal/observability"
	obsmiddleware "github.com/smallbiznis/kitchenbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/kitchenbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/kitchenbill/internal/observability/tracing"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	"github.com/smallbiznis/kitchenbill/internal/project"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	"github.com/smallbiznis/kitchenbill/internal/providers/email"
	"github.com/smallbiznis/kitchenbill/internal/tax"
	taxdomain "github.com/smallbiznis/kitchenbill/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Domains holds every billing module the HTTP API and the scheduler share.
var Domains = fx.Options(
	audit.Module,
	project.Module,
	invoice.Module,
	tax.Module,
	dunning.Module,
	paymentschedule.Module,
	email.Module,
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	Domains,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config

	auditSvc   auditdomain.Service
	projectSvc projectdomain.Service
	invoiceSvc invoicedomain.Service
	taxSvc     taxdomain.Service
	dunningSvc dunningdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	AuditSvc   auditdomain.Service
	ProjectSvc projectdomain.Service
	InvoiceSvc invoicedomain.Service
	TaxSvc     taxdomain.Service
	DunningSvc dunningdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		auditSvc:   p.AuditSvc,
		projectSvc: p.ProjectSvc,
		invoiceSvc: p.InvoiceSvc,
		taxSvc:     p.TaxSvc,
		dunningSvc: p.DunningSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorContext())

	projects := api.Group("/projects")
	{
		projects.POST("", s.CreateProject)
		projects.GET("", s.ListProjects)
		projects.GET("/due-second-payments", s.ListDueSecondPayments)
		projects.GET("/:id", s.GetProjectByID)
		projects.GET("/:id/payment-plan", s.GetPaymentPlan)
		projects.GET("/:id/invoices", s.ListProjectInvoices)
		projects.POST("/:id/scheduled-payments/:slot", s.CreateScheduledPayment)
		projects.POST("/:id/final-invoice", s.CreateFinalInvoice)
	}

	invoices := api.Group("/invoices")
	{
		invoices.POST("", s.CreateInvoice)
		invoices.GET("", s.ListInvoices)
		invoices.POST("/import", s.ImportLegacyInvoices)
		invoices.GET("/:id", s.GetInvoiceByID)
		invoices.POST("/:id/paid", s.MarkInvoicePaid)
		invoices.DELETE("/:id/paid", s.MarkInvoiceUnpaid)
		invoices.POST("/:id/credit", s.IssueCredit)
		invoices.GET("/:id/breakdown", s.GetInvoiceBreakdown)
		invoices.GET("/:id/reminders/next", s.GetNextReminder)
		invoices.POST("/:id/reminders", s.SendReminder)
	}

	api.GET("/reminders/due", s.ListDueReminders)
	api.GET("/audit-logs", s.ListAuditLogs)
}
