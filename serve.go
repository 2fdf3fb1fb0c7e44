package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"pagelens/api/attribution"
	"pagelens/api/config"
	"pagelens/api/database"
	"pagelens/api/handlers"
	"pagelens/api/llm"
	"pagelens/api/mailer"
	"pagelens/api/membership"
	"pagelens/api/middleware"
	"pagelens/api/oauth"
	"pagelens/api/pagespeed"
	"pagelens/api/pipeline"
	"pagelens/api/reports"
	"pagelens/api/scraper"
	"pagelens/api/screenshot"
	"pagelens/api/store"
	"pagelens/api/utils"
)

func serveCmd() *cobra.Command {
	var pipelineFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if pipelineFile != "" {
				if err := config.LoadPipelineFile(pipelineFile, &cfg.Pipeline); err != nil {
					return err
				}
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&pipelineFile, "pipeline-config", "", "YAML file overriding the pipeline settings")
	return cmd
}

func serve(cfg *config.Config) error {
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Initialize PostgreSQL Database ---
	dbClient, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL database: %w", err)
	}
	defer dbClient.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	err = database.Migrate(migrateCtx, dbClient.DB)
	cancelMigrate()
	if err != nil {
		return err
	}

	// --- Initialize ClickHouse Database (tracking events) ---
	chClient, err := database.NewClickHouseDB(cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to initialize ClickHouse database: %w", err)
	}
	defer chClient.Close()
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	err = chClient.EnsureSchema(schemaCtx)
	cancelSchema()
	if err != nil {
		return err
	}

	// --- Initialize Stores ---
	userStore := store.NewUserStore(dbClient.DB)
	analysisStore := store.NewAnalysisStore(dbClient.DB)
	sessionStore := store.NewSessionStore(dbClient.DB)
	templateStore := store.NewTemplateStore(dbClient.DB)
	adminStore := store.NewAdminStore(dbClient.DB)
	eventStore := store.NewEventStore(chClient)

	seedAdmins(userStore, cfg.AdminEmails)

	// --- Analysis pipeline ---
	deps := pipeline.Deps{
		Store:   analysisStore,
		Scraper: scraper.New(cfg.Pipeline.ScrapeTimeout, cfg.Pipeline.MaxContentChars),
		LLM: llm.NewClient(llm.Options{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey,
			Model:          cfg.LLM.Model,
			RequestsPerMin: cfg.LLM.RequestsPerMin,
			Retries:        cfg.Pipeline.LLMRetries,
			Backoff:        cfg.Pipeline.LLMBackoff,
			HTTPClient:     &http.Client{Timeout: cfg.Pipeline.LLMTimeout},
		}),
	}
	capturer, err := screenshot.New(cfg.ScreenshotDir, cfg.Pipeline.ScreenshotTimeout, cfg.ChromePath)
	if err != nil {
		log.Printf("WARNING: screenshots disabled: %v", err)
	} else {
		defer capturer.Close()
		deps.Screenshots = capturer
	}
	if cfg.PageSpeedAPIKey != "" {
		deps.Performance = pagespeed.NewClient(cfg.PageSpeedAPIKey)
	}
	p, err := pipeline.New(cfg.Pipeline, deps)
	if err != nil {
		return err
	}

	// --- Domain services ---
	tokens := utils.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	gate := membership.NewGate(tokens, userStore)
	reportService := reports.NewService(analysisStore, p, eventStore)
	engine := attribution.NewEngine(sessionStore, sessionStore, attribution.DefaultWindow)
	thriveCart := membership.NewThriveCart(cfg.ThriveCartSecret, userStore)
	providers := oauth.NewRegistry(cfg.OAuth, cfg.PublicURL)
	mail := mailer.New(templateStore, mailer.LogSender{})
	anonymous := middleware.NewIPRateLimiter(cfg.AnonymousPerHour)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go anonymous.RunCleanup(bgCtx, 10*time.Minute, 2*time.Hour)
	go p.Progress().RunSweeper(bgCtx, time.Minute)

	// --- Initialize Handlers ---
	routes := handlers.Routes{
		Auth: middleware.NewAuthenticator(tokens),
		AuthH: handlers.NewAuthHandlers(userStore, tokens, mail, providers, gate, handlers.AuthConfig{
			FrontendURL:  cfg.FrontendURL,
			MagicLinkTTL: cfg.MagicLinkTTL,
			AdminEmails:  cfg.AdminEmails,
		}),
		Track:         handlers.NewTrackHandlers(sessionStore, eventStore, analysisStore, cfg.PublicURL),
		Analysis:      handlers.NewAnalysisHandlers(p, gate, reportService, anonymous),
		Reports:       handlers.NewReportHandlers(reportService, gate, sessionStore, eventStore, screenshot.Dir(cfg.ScreenshotDir), anonymous),
		Webhooks:      handlers.NewWebhookHandlers(engine, analysisStore, thriveCart),
		Admin:         handlers.NewAdminHandlers(userStore, adminStore, templateStore),
		ScreenshotDir: cfg.ScreenshotDir,
		Health:        map[string]handlers.Pinger{"postgres": dbClient, "clickhouse": chClient},
	}

	r := gin.Default()
	r.Use(middleware.CORSMiddleware(cfg.FrontendURL))
	routes.Register(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Go API server starting on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Go API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exiting.")
	return nil
}

// seedAdmins promotes the configured admin accounts that already exist.
func seedAdmins(users *store.UserStore, emails []string) {
	for _, email := range emails {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := users.PromoteAdmin(ctx, email); err != nil {
			log.Printf("ERROR: promote admin %s: %v", email, err)
		}
		cancel()
	}
	if len(emails) > 0 {
		log.Printf("Admin accounts: %s", strings.Join(emails, ", "))
	}
}
