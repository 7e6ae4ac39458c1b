// Command stacks runs the knowledge-base admin backend: the
// permission-resolution core, the authorization guard, and the admin
// APIs for users, teams, buckets, and grants.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/knowledgeops/stacks/pkg/audit"
	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/buckets"
	"github.com/knowledgeops/stacks/pkg/config"
	"github.com/knowledgeops/stacks/pkg/grants"
	"github.com/knowledgeops/stacks/pkg/guard"
	"github.com/knowledgeops/stacks/pkg/httputil"
	"github.com/knowledgeops/stacks/pkg/login"
	"github.com/knowledgeops/stacks/pkg/observability"
	"github.com/knowledgeops/stacks/pkg/perm"
	"github.com/knowledgeops/stacks/pkg/resolver"
	"github.com/knowledgeops/stacks/pkg/storage"
	"github.com/knowledgeops/stacks/pkg/teams"
	"github.com/knowledgeops/stacks/pkg/users"
	"github.com/knowledgeops/stacks/pkg/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *observability.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.OTel, log)
	if err != nil {
		return err
	}
	if shutdownTracing != nil {
		defer shutdownTracing(context.Background())
	}

	db, err := storage.OpenPostgres(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	var migrations []storage.Migration
	migrations = append(migrations, users.Migrations()...)
	migrations = append(migrations, teams.Migrations()...)
	migrations = append(migrations, grants.Migrations()...)
	migrations = append(migrations, buckets.Migrations()...)
	if err := storage.Apply(ctx, db, migrations); err != nil {
		return err
	}

	redisClient, err := storage.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	userStore := users.NewPostgresStore(db)
	grantStore := grants.NewPostgresStore(db)
	teamStore := teams.NewPostgresStore(db, userStore)
	bucketStore := buckets.NewPostgresStore(db)

	if cfg.Auth.RootPassword != "" {
		if err := ensureRootUser(ctx, userStore, log); err != nil {
			return err
		}
	}

	capabilities := auth.DefaultCapabilityTable()
	if path := cfg.Auth.CapabilityOverridesPath; path != "" {
		if err := capabilities.LoadOverrides(path); err != nil {
			return err
		}
		if err := capabilities.WatchOverrides(ctx, path, log); err != nil {
			return err
		}
	}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.Auth.OIDC.Enabled() {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.Auth.OIDC)
		if err != nil {
			return err
		}
	}

	var auditLog audit.Logger = audit.NopLogger{}
	if cfg.Audit.Enabled {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return err
		}
		auditLog = audit.NewAsyncLogger(dbLogger, log)
		defer auditLog.Close()

		retention := audit.NewRetention(db, cfg.Audit.RetentionMaxAge, log)
		if err := retention.Start(); err != nil {
			return err
		}
		defer retention.Stop()
	}

	sessions := auth.NewSessionStore(redisClient, cfg.Auth.SessionTTL)
	validator := validation.NewEmailValidator(userStore, redisClient, log)
	permResolver := resolver.New(grantStore, teamStore)
	g := guard.New(sessions, userStore, capabilities, permResolver, auditLog, log)

	router := buildRouter(cfg, g, guardedHandlers{
		login:   login.NewHandlers(userStore, sessions, oidcAuth, validator, cfg.Auth.RootPassword, log),
		users:   users.NewHandlers(userStore, log),
		teams:   teams.NewHandlers(teamStore, log),
		grants:  grants.NewHandlers(grantStore, log),
		buckets: buckets.NewHandlers(bucketStore, grantStore, log),
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "stacks"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux(db),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	healthServer.Shutdown(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

type guardedHandlers struct {
	login   *login.Handlers
	users   *users.Handlers
	teams   *teams.Handlers
	grants  *grants.Handlers
	buckets *buckets.Handlers
}

func buildRouter(cfg *config.Config, g *guard.Guard, h guardedHandlers, log *observability.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.RecoveryMiddleware(log))
	router.Use(httputil.LoggingMiddleware(log))

	h.login.Register(router)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(g.RequireAuthenticated)

	reauth := g.RequireRecentAuthentication(cfg.Auth.ReauthWindow)

	// Buckets: creation is a coarse capability; per-bucket access goes
	// through the resolver, and deletion needs a fresh credential.
	api.Handle("/buckets",
		g.RequireCapability(auth.CapStorageWrite)(http.HandlerFunc(h.buckets.Create)),
	).Methods(http.MethodPost)
	api.Handle("/buckets",
		g.RequireGlobalRole(auth.RoleAdmin)(http.HandlerFunc(h.buckets.List)),
	).Methods(http.MethodGet)
	api.Handle("/buckets/{bucketID}",
		g.RequirePermission(perm.View, "bucketID")(http.HandlerFunc(h.buckets.Get)),
	).Methods(http.MethodGet)
	api.Handle("/buckets/{bucketID}",
		g.RequirePermission(perm.Full, "bucketID")(reauth(http.HandlerFunc(h.buckets.Delete))),
	).Methods(http.MethodDelete)

	// Users: profile reads are ownership-guarded; role changes and
	// deletions are admin capabilities behind re-authentication.
	api.Handle("/users/{userID}",
		g.RequireOwnership("userID", nil)(http.HandlerFunc(h.users.Get)),
	).Methods(http.MethodGet)
	api.Handle("/users/{userID}/role",
		g.RequireCapability(auth.CapManageUsers)(reauth(http.HandlerFunc(h.users.UpdateRole))),
	).Methods(http.MethodPatch)
	api.Handle("/users/{userID}",
		g.RequireCapability(auth.CapManageUsers)(reauth(http.HandlerFunc(h.users.Delete))),
	).Methods(http.MethodDelete)

	teamsRouter := api.NewRoute().Subrouter()
	teamsRouter.Use(g.RequireCapability(auth.CapManageTeams))
	h.teams.Register(teamsRouter)

	grantsRouter := api.NewRoute().Subrouter()
	grantsRouter.Use(g.RequireCapability(auth.CapManageGrants))
	h.grants.Register(grantsRouter)

	return router
}

func healthMux(db interface{ PingContext(context.Context) error }) http.Handler {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	m.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
	})
	return m
}

func ensureRootUser(ctx context.Context, store users.Store, log *observability.Logger) error {
	_, err := store.GetByEmail(ctx, login.RootEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return err
	}

	root := &users.User{
		Email:       login.RootEmail,
		DisplayName: "Root",
		Role:        auth.RoleAdmin,
	}
	if err := store.Create(ctx, root); err != nil {
		return err
	}
	log.WithField("user_id", root.ID).Info("bootstrapped root account")
	return nil
}
