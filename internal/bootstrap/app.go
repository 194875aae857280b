package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"statuscert-backend/internal/billing"
	"statuscert-backend/internal/events"
	"statuscert-backend/internal/extract"
	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/firms"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/jobs"
	"statuscert-backend/internal/llm"
	"statuscert-backend/internal/llm/openai"
	"statuscert-backend/internal/pipeline"
	"statuscert-backend/internal/render"
	"statuscert-backend/internal/reviews"
	"statuscert-backend/internal/server"
	"statuscert-backend/internal/shared/config"
	"statuscert-backend/internal/shared/storage/db"
	"statuscert-backend/internal/shared/storage/object"
	localstore "statuscert-backend/internal/shared/storage/object/local"
	s3store "statuscert-backend/internal/shared/storage/object/s3"
	"statuscert-backend/internal/templates"
)

// App holds shared dependencies for the api and worker processes.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore

	Reviews   reviews.Repo
	Jobs      jobs.Repo
	Events    events.Repo
	Firms     firms.Repo
	Templates *templates.Resolver
	Billing   *billing.Service
	Pipeline  *pipeline.Pipeline
}

// Build prepares shared dependencies. Dev-like environments fall back to
// in-memory repositories when no database is configured.
func Build(cfg config.Config, dbDefaults db.Options) (*App, error) {
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, dbDefaults)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, DB: sqlDB, Store: store}
	if sqlDB != nil {
		app.Reviews = &reviews.PGRepo{DB: sqlDB}
		app.Jobs = &jobs.PGRepo{DB: sqlDB}
		app.Events = &events.PGRepo{DB: sqlDB}
		app.Firms = &firms.PGRepo{DB: sqlDB}
		app.Templates = &templates.Resolver{Repo: &templates.PGRepo{DB: sqlDB}}
		app.Billing = &billing.Service{Repo: &billing.PGRepo{DB: sqlDB}, DefaultTrial: cfg.FreeTrialReviews}
	} else {
		app.Reviews = reviews.NewMemoryRepo()
		app.Jobs = jobs.NewMemoryRepo()
		app.Events = &events.MemoryRepo{}
		app.Firms = firms.NewMemoryRepo()
		app.Templates = &templates.Resolver{Repo: templates.NewMemoryRepo()}
		app.Billing = &billing.Service{Repo: billing.NewMemoryRepo(), DefaultTrial: cfg.FreeTrialReviews}
	}

	client := buildLLM(cfg)
	app.Pipeline = &pipeline.Pipeline{
		Jobs:      app.Jobs,
		Reviews:   app.Reviews,
		Events:    app.Events,
		Firms:     app.Firms,
		Billing:   app.Billing,
		Templates: app.Templates,
		Store:     app.Store,
		Extract:   extract.New(client, cfg.ParseMinChars, cfg.OCRFallback),
		Facts:     &facts.Extractor{LLM: client, Model: cfg.ExtractModel},
		Generate:  &generate.Generator{LLM: client, Model: cfg.GenerateModel},
		Docx: &render.Builder{
			PrecedentMode: cfg.PrecedentMode,
			TemplatePath:  cfg.PrecedentTemplatePath,
		},
		ParseConcurrency: cfg.ParseConcurrency,
	}

	app.Router = server.NewRouter(server.Deps{
		Config:    cfg,
		Reviews:   app.Reviews,
		Jobs:      app.Jobs,
		Events:    app.Events,
		Billing:   app.Billing,
		Store:     app.Store,
		Runner:    app.Pipeline,
		Extractor: app.Pipeline,
	})

	return app, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildDB(ctx context.Context, cfg config.Config, defaults db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(defaults)
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if err := db.Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, "")
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildLLM(cfg config.Config) llm.Client {
	client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OCRModel)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: openai client unavailable; using placeholder: %v", err)
			return llm.PlaceholderClient{}
		}
		log.Fatalf("bootstrap: openai client: %v", err)
	}
	return client
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
