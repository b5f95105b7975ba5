package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/internal/audit"
	auditPostgres "github.com/frahmantamala/access-management/internal/audit/postgres"
	"github.com/frahmantamala/access-management/internal/auth"
	authPostgres "github.com/frahmantamala/access-management/internal/auth/postgres"
	"github.com/frahmantamala/access-management/internal/core/events"
	"github.com/frahmantamala/access-management/internal/rbac"
	rbacPostgres "github.com/frahmantamala/access-management/internal/rbac/postgres"
	"github.com/frahmantamala/access-management/internal/transport/rest"
	"github.com/frahmantamala/access-management/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config       *internal.Config
	DB           *sqlx.DB
	GormDB       *gorm.DB
	Router       *chi.Mux
	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	AuditHandler *audit.Handler
	Logger       *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.AuthHandler, deps.RBACHandler, deps.AuditHandler, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	env := "development"
	if config.Observability.Logging.Format == "json" {
		env = "production"
	}
	logger.Init(env)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm over pgx connection: %w", err)
	}

	auditRepo := auditPostgres.NewRepository(gormDB)
	auditService := audit.NewService(auditRepo, lg)

	rbacRepo := rbacPostgres.NewRepository(gormDB)
	rbacService := rbac.NewService(rbacRepo, auditService, lg)
	resolver := rbac.NewResolver(rbacRepo, lg)

	bus := events.NewEventBus(lg)
	bus.Subscribe(events.EventTypeSecurityAlert, func(ctx context.Context, event events.Event) error {
		lg.WarnContext(ctx, "security alert", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
	bus.Subscribe(events.EventTypeSessionSuperseded, func(ctx context.Context, event events.Event) error {
		lg.InfoContext(ctx, "session superseded", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
	notifier := auth.NewEventNotifier(bus, lg)

	tokens := auth.NewJWTTokenGenerator(
		config.Security.AccessTokenSecret,
		config.Security.RefreshTokenSecret,
		config.Security.AccessTokenTTL,
		config.Security.RefreshTokenTTL,
	)

	sessionRepo := authPostgres.NewSessionRepository(gormDB)
	sessions := auth.NewSessionManager(sessionRepo, auditService, notifier, lg,
		config.Security.InactivityTimeout, config.Security.RefreshTokenTTL)

	lockoutRepo := authPostgres.NewLockoutRepository(gormDB)
	lockouts := auth.NewLockoutMachine(lockoutRepo, auditService, notifier, lg,
		auth.LockoutStagesFromConfig(config.Lockout.BaseThreshold, config.Lockout.StageStep))

	identities := authPostgres.NewIdentityStore(gormDB)
	authService := auth.NewService(identities, sessions, lockouts, resolver, tokens, auditService, lg)
	authHandler := auth.NewHandler(authService, resolver)

	rbacHandler := rbac.NewHandler(rbacService, actorExtractor(rbacRepo))
	auditHandler := audit.NewHandler(auditService)

	return &Dependencies{
		Config:       config,
		Logger:       lg,
		DB:           db,
		GormDB:       gormDB,
		Router:       chi.NewRouter(),
		AuthHandler:  authHandler,
		RBACHandler:  rbacHandler,
		AuditHandler: auditHandler,
	}, nil
}

// actorExtractor bridges the verified principal into the administrative
// Actor shape, loading the actor's currently-valid role ids for hierarchy
// checks.
func actorExtractor(repo rbac.RepositoryAPI) rbac.ActorFunc {
	return func(r *http.Request) (rbac.Actor, bool) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			return rbac.Actor{}, false
		}

		actor := rbac.Actor{
			UserID:    principal.UserID,
			IPAddress: auth.MetaFromRequest(r).IPAddress,
			SuperTier: principal.Snapshot.Tier == rbac.TierSuper,
		}

		if !actor.SuperTier {
			assignments, err := repo.ListValidAssignments(r.Context(), principal.UserID, time.Now())
			if err != nil {
				return rbac.Actor{}, false
			}
			for _, a := range assignments {
				actor.RoleIDs = append(actor.RoleIDs, a.Role.ID)
			}
		}

		return actor, true
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
