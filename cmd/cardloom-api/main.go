package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/cardloom/internal/auth"
	"github.com/MarcoPoloResearchLab/cardloom/internal/config"
	"github.com/MarcoPoloResearchLab/cardloom/internal/database"
	"github.com/MarcoPoloResearchLab/cardloom/internal/flashcards"
	"github.com/MarcoPoloResearchLab/cardloom/internal/generations"
	"github.com/MarcoPoloResearchLab/cardloom/internal/identity"
	"github.com/MarcoPoloResearchLab/cardloom/internal/logging"
	"github.com/MarcoPoloResearchLab/cardloom/internal/openrouter"
	"github.com/MarcoPoloResearchLab/cardloom/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/cardloom/internal/server"
	"github.com/MarcoPoloResearchLab/cardloom/internal/storage/memstore"
	"github.com/MarcoPoloResearchLab/cardloom/internal/storage/sqlstore"
	"github.com/MarcoPoloResearchLab/cardloom/internal/users"
	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cardloom-api",
		Short: "Cardloom flashcard generation service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().String("public-origin", "", "Externally visible origin used in emailed links")
	cmd.PersistentFlags().String("environment", defaults.GetString("app.environment"), "Runtime environment (development, production)")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Storage driver (sqlite, postgres, memory)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("openrouter-model", defaults.GetString("openrouter.model"), "Default OpenRouter model")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "http.public_origin", "public-origin")
	bindFlag(cmd, "app.environment", "environment")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "openrouter.model", "openrouter-model")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type stores struct {
	generations generations.Repository
	flashcards  flashcards.Repository
	accounts    *gorm.DB
}

// openStores returns the domain repositories and the database holding accounts.
// The memory driver keeps domain data in process and accounts in a shared in-memory SQLite database.
func openStores(appConfig config.AppConfig, logger *zap.Logger) (stores, error) {
	if appConfig.StorageDriver == config.StorageMemory {
		db, err := database.OpenSQLite(database.InMemorySQLitePath, logger)
		if err != nil {
			return stores{}, err
		}
		store := memstore.New()
		logger.Warn("using in-memory storage; data is lost on restart")
		return stores{generations: store, flashcards: store, accounts: db}, nil
	}

	db, err := database.Open(database.Options{
		Driver: appConfig.StorageDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return stores{}, err
	}
	store, err := sqlstore.New(db)
	if err != nil {
		return stores{}, err
	}
	return stores{generations: store, flashcards: store, accounts: db}, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Development())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	storage, err := openStores(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := storage.accounts.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	rules, err := validation.New()
	if err != nil {
		return err
	}

	accounts, err := users.NewService(users.ServiceConfig{
		Database:   storage.accounts,
		IDProvider: users.NewUUIDProvider(),
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}

	signingSecret := []byte(appConfig.SessionSigningSecret)
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: signingSecret,
		Issuer:        appConfig.SessionIssuer,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: signingSecret,
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	identityProvider, err := identity.NewLocalProvider(identity.LocalProviderConfig{
		Users:       accounts,
		Issuer:      tokenIssuer,
		Validator:   sessionValidator,
		Mailer:      identity.NewLogMailer(logger),
		Rules:       rules,
		SessionTTL:  appConfig.SessionTTL,
		RecoveryTTL: appConfig.RecoveryTTL,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxRequests: appConfig.OpenRouter.RateLimitMax,
		Window:      appConfig.OpenRouter.RateLimitWindow,
		Buffer:      appConfig.OpenRouter.RateLimitBuffer,
	})
	if err != nil {
		return err
	}

	modelClient, err := openrouter.NewClient(appConfig.OpenRouter.APIKey,
		openrouter.WithBaseURL(appConfig.OpenRouter.BaseURL),
		openrouter.WithTimeout(appConfig.OpenRouter.Timeout),
		openrouter.WithRetryAttempts(appConfig.OpenRouter.RetryAttempts),
		openrouter.WithRetryDelay(appConfig.OpenRouter.RetryDelay),
		openrouter.WithDefaultModel(appConfig.OpenRouter.Model),
		openrouter.WithHTTPReferer(appConfig.OpenRouter.HTTPReferer),
		openrouter.WithAppTitle(appConfig.OpenRouter.AppTitle),
		openrouter.WithRateLimiter(limiter),
		openrouter.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer modelClient.Close() //nolint:errcheck

	generationService, err := generations.NewService(generations.ServiceConfig{
		Generator:  modelClient,
		Repository: storage.generations,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	flashcardService, err := flashcards.NewService(flashcards.ServiceConfig{
		Repository: storage.flashcards,
		Validator:  rules,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Generations:           generationService,
		Flashcards:            flashcardService,
		Identity:              identityProvider,
		Sessions:              sessionValidator,
		Validator:             rules,
		AllowedOrigins:        appConfig.AllowedOrigins,
		PasswordResetRedirect: appConfig.PasswordResetRedirect,
		PublicOrigin:          appConfig.PublicOrigin,
		SecureCookies:         !appConfig.Development(),
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage", appConfig.StorageDriver),
			zap.String("model", modelClient.DefaultModel()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
