package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"statuscert-backend/internal/billing"
	"statuscert-backend/internal/events"
	"statuscert-backend/internal/jobs"
	"statuscert-backend/internal/reviews"
	"statuscert-backend/internal/shared/config"
	"statuscert-backend/internal/shared/metrics"
	"statuscert-backend/internal/shared/server/middleware"
	"statuscert-backend/internal/shared/server/respond"
	"statuscert-backend/internal/shared/storage/object"
)

// Deps carries everything the HTTP surface needs. The caller (bootstrap)
// owns construction and lifecycle.
type Deps struct {
	Config    config.Config
	Reviews   reviews.Repo
	Jobs      jobs.Repo
	Events    events.Repo
	Billing   *billing.Service
	Store     object.ObjectStore
	Runner    jobs.Runner
	Extractor reviews.ExtractRunner
}

// NewRouter constructs the gin engine with middleware and routes registered.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	authed := api.Group("", middleware.FirmAuth(deps.Config.ServiceToken))

	reviewHandler := reviews.NewHandler(deps.Reviews, deps.Store, deps.Extractor)
	reviewHandler.RegisterRoutes(authed)

	jobHandler := &jobs.Handler{
		Jobs:               deps.Jobs,
		Reviews:            deps.Reviews,
		Billing:            deps.Billing,
		Events:             deps.Events,
		Runner:             deps.Runner,
		InlineExecution:    deps.Config.ExecutionMode == "inline",
		StaleAfter:         deps.Config.StaleRunningAfter,
		QueueWarnAfter:     deps.Config.QueueWarnAfter,
		QueueCriticalAfter: deps.Config.QueueCriticalAfter,
	}
	jobHandler.RegisterRoutes(authed)

	billingHandler := &billing.Handler{Service: deps.Billing}
	billingHandler.RegisterRoutes(authed)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
