package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/axiombridge/credential-gateway/internal/api"
	"github.com/axiombridge/credential-gateway/internal/authdata"
	"github.com/axiombridge/credential-gateway/internal/axiomlogin"
	"github.com/axiombridge/credential-gateway/internal/config"
	"github.com/axiombridge/credential-gateway/internal/data"
	"github.com/axiombridge/credential-gateway/internal/mailreader"
	"github.com/axiombridge/credential-gateway/internal/oauthexchange"
	"github.com/axiombridge/credential-gateway/internal/oauthstate"
	"github.com/axiombridge/credential-gateway/internal/sessionsvc"
	"github.com/go-chi/chi/v5"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// zerologMiddleware logs each HTTP request using zerolog
func zerologMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("http request")
	})
}

func main() {
	cfg := mustLoadConfig()
	setupLogger(cfg)

	buildSHA := os.Getenv("GIT_COMMIT")
	if buildSHA == "" {
		buildSHA = "unknown"
	}
	versionMsg := "*** BACKEND VERSION INFO *** sha=" + buildSHA + " go=" + runtime.Version() + " time=" + time.Now().Format(time.RFC3339)
	log.Info().Str("build_sha", buildSHA).
		Str("go_version", runtime.Version()).
		Time("startup_time", time.Now()).
		Msg(versionMsg)
	fmt.Println(versionMsg)
	fmt.Fprintln(os.Stderr, versionMsg)

	log.Info().Msg("Starting credential gateway server")

	db := mustConnectDB(cfg)
	defer db.Close()
	log.Info().Msg("Database connection established")

	runMigrations(cfg)

	r := setupRouter(db, cfg)
	srv := setupServer(cfg, r)

	setupGracefulShutdown(srv)

	log.Info().Msgf("Server is ready to handle requests at :%s", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Could not listen")
	}
}

func mustLoadConfig() *config.AppConfig {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
		os.Exit(1)
	}
	return cfg
}

func setupLogger(cfg *config.AppConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if cfg != nil && cfg.Server.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		} else {
			log.Warn().Str("level", cfg.Server.LogLevel).Msg("Invalid log level, using default")
		}
	}
}

// mustConnectDB connects to Postgres or exits. There is no disabled-store
// fallback wired into the production binary: OQ1 (SPEC_FULL.md §9) requires
// the gateway to refuse to start rather than run with oauthstate.MemoryStore
// and no persisted sessions. MemoryStore exists only for local development
// tooling, never reached from this entrypoint's normal startup path.
func mustConnectDB(cfg *config.AppConfig) *data.DB {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := data.New(ctx, cfg.Server.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	return db
}

// runMigrations applies any pending schema migrations from ./migrations. A
// database already at the latest version (migrate.ErrNoChange) is not an
// error; anything else is fatal, matching mustConnectDB's refuse-to-start
// posture.
func runMigrations(cfg *config.AppConfig) {
	m, err := migrate.New("file://migrations", cfg.Server.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize migration runner")
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	log.Info().Msg("Database migrations applied")
}

func googleOAuthConfig(cfg *config.AppConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.readonly",
			"openid", "profile", "email",
		},
		Endpoint: googleoauth.Endpoint,
	}
}

func setupRouter(db *data.DB, cfg *config.AppConfig) http.Handler {
	oauthCfg := googleOAuthConfig(cfg)

	repo := authdata.New(db.Pool)
	stateStore := oauthstate.NewPostgresStore(db.Pool)
	broker := oauthstate.NewBroker(stateStore, oauthstate.ProviderConfig{
		AuthEndpoint: googleoauth.Endpoint.AuthURL,
		ClientID:     cfg.Google.ClientID,
		RedirectURI:  cfg.Google.RedirectURL,
		Scope:        "https://www.googleapis.com/auth/gmail.readonly openid profile email",
		ExtraParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	}, time.Duration(cfg.OAuthStateTTL())*time.Second)

	exchange := oauthexchange.NewService(oauthCfg)
	sessions := sessionsvc.NewService(repo, exchange, time.Duration(cfg.SessionTTL())*time.Hour)
	extended := sessionsvc.NewExtendedStore(db.Pool)

	axiomClient := axiomlogin.NewClient(cfg.Axiom.Hosts)
	mailLog := log.Logger.With().Str("component", "mailreader").Logger()
	mailReader := mailreader.NewReader(oauthCfg, sessions, mailLog)

	authHandler := api.NewAuthHandler(cfg, broker, exchange, sessions)
	axiomHandler := api.NewAxiomHandler(axiomClient, mailReader, extended)

	r := chi.NewRouter()
	r.Use(zerologMiddleware)

	csrf := api.NewCSRF(!cfg.IsDevelopment())
	r.Use(csrf.Handler)

	api.RegisterAuthRoutes(r, authHandler)

	r.With(api.AuthMiddleware(sessions)).Group(func(r chi.Router) {
		api.RegisterAxiomRoutes(r, axiomHandler)
		if cfg.IsDevelopment() {
			api.RegisterDevRoutes(r, api.NewDevHandler(repo))
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return r
}

func setupServer(cfg *config.AppConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		Addr:         ":" + cfg.Server.Port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
}

func setupGracefulShutdown(srv *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}()
}
