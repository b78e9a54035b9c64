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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mprlab/accountd/internal/authkit"
	"github.com/mprlab/accountd/internal/cleanup"
	"github.com/mprlab/accountd/internal/userstore"
	"github.com/mprlab/accountd/internal/userstorepg"
	"github.com/mprlab/accountd/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildIdentityVerifier = func(ctx context.Context) (authkit.IdentityVerifier, error) {
	return authkit.NewGoogleIdentityVerifier(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "accountd",
		Short:   "Account service with Google OAuth sign-in, rotating JWT refresh tokens, and role-gated APIs",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("oauth_redirect_url", "", "This service's OAuth callback URL")
	rootCmd.Flags().String("frontend_callback_url", "", "Frontend route that receives tokens after sign-in")
	rootCmd.Flags().String("access_signing_key", "", "HS256 signing secret for access tokens")
	rootCmd.Flags().String("refresh_signing_key", "", "HS256 signing secret for refresh tokens (must differ from access key)")
	rootCmd.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 7*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Duration("state_ttl", 5*time.Minute, "OAuth state lifetime")
	rootCmd.Flags().String("database_url", "", "Database URL for users (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("store_driver", "gorm", "User store driver for postgres URLs (gorm or pgx)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for the SPA origin")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().Duration("cleanup_interval", 24*time.Hour, "Expired refresh token sweep interval (0 disables)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("google_client_id", rootCmd.Flags().Lookup("google_client_id"))
	_ = viper.BindPFlag("google_client_secret", rootCmd.Flags().Lookup("google_client_secret"))
	_ = viper.BindPFlag("oauth_redirect_url", rootCmd.Flags().Lookup("oauth_redirect_url"))
	_ = viper.BindPFlag("frontend_callback_url", rootCmd.Flags().Lookup("frontend_callback_url"))
	_ = viper.BindPFlag("access_signing_key", rootCmd.Flags().Lookup("access_signing_key"))
	_ = viper.BindPFlag("refresh_signing_key", rootCmd.Flags().Lookup("refresh_signing_key"))
	_ = viper.BindPFlag("access_ttl", rootCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", rootCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("state_ttl", rootCmd.Flags().Lookup("state_ttl"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("store_driver", rootCmd.Flags().Lookup("store_driver"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))
	_ = viper.BindPFlag("cleanup_interval", rootCmd.Flags().Lookup("cleanup_interval"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingGoogleClientID     = "config.missing_google_client_id"
	configCodeMissingGoogleClientSecret = "config.missing_google_client_secret"
	configCodeMissingRedirectURL        = "config.missing_oauth_redirect_url"
	configCodeMissingFrontendCallback   = "config.missing_frontend_callback_url"
	configCodeMissingAccessKey          = "config.missing_access_signing_key"
	configCodeMissingRefreshKey         = "config.missing_refresh_signing_key"
	configCodeSharedSigningKeys         = "config.shared_signing_keys"
	configCodeInvalidAccessTTL          = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL         = "config.invalid_refresh_ttl"
	configCodeUninitializedServerConf   = "config.uninitialized_server_config"
	configCodeIdentityVerifierInit      = "config.identity_verifier_init"
	configCodeUnknownStoreDriver        = "config.unknown_store_driver"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates configuration from viper.
func LoadServerConfig() (authkit.ServerConfig, error) {
	googleClientID := viper.GetString("google_client_id")
	if googleClientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}
	googleClientSecret := viper.GetString("google_client_secret")
	if googleClientSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientSecret, "google_client_secret must be provided")
	}
	oauthRedirectURL := viper.GetString("oauth_redirect_url")
	if oauthRedirectURL == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingRedirectURL, "oauth_redirect_url must be provided")
	}
	frontendCallbackURL := viper.GetString("frontend_callback_url")
	if frontendCallbackURL == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingFrontendCallback, "frontend_callback_url must be provided")
	}

	accessSigningKey := viper.GetString("access_signing_key")
	if accessSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingAccessKey, "access_signing_key must be provided")
	}
	refreshSigningKey := viper.GetString("refresh_signing_key")
	if refreshSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingRefreshKey, "refresh_signing_key must be provided")
	}
	if accessSigningKey == refreshSigningKey {
		return authkit.ServerConfig{}, configError(configCodeSharedSigningKeys, "access and refresh signing keys must differ")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}
	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	stateTTL := 5 * time.Minute
	if configuredStateTTL := viper.GetDuration("state_ttl"); configuredStateTTL > 0 {
		stateTTL = configuredStateTTL
	}

	return authkit.ServerConfig{
		GoogleClientID:      googleClientID,
		GoogleClientSecret:  googleClientSecret,
		OAuthRedirectURL:    oauthRedirectURL,
		FrontendCallbackURL: frontendCallbackURL,
		AccessSigningKey:    []byte(accessSigningKey),
		RefreshSigningKey:   []byte(refreshSigningKey),
		Issuer:              "accountd",
		AccessTTL:           accessTTL,
		RefreshTTL:          refreshTTL,
		StateTTL:            stateTTL,
	}, nil
}

func buildUserStore(ctx context.Context, logger *zap.Logger) (authkit.UserStore, error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		logger.Info("using in-memory user store")
		return userstore.NewMemoryUserStore(), nil
	}

	storeDriver := viper.GetString("store_driver")
	switch storeDriver {
	case "", "gorm":
		persistentStore, storeErr := userstore.NewDatabaseUserStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, storeErr
		}
		logger.Info("using persistent user store", zap.String("driver", persistentStore.Driver()))
		return persistentStore, nil
	case "pgx":
		pool, poolErr := userstorepg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := userstorepg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, schemaErr
		}
		logger.Info("using persistent user store", zap.String("driver", "pgx"))
		return userstorepg.NewPostgresUserStore(pool), nil
	default:
		return nil, configError(configCodeUnknownStoreDriver, "store_driver must be gorm or pgx")
	}
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	cleanupInterval := viper.GetDuration("cleanup_interval")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	userStore, storeErr := buildUserStore(context.Background(), logger)
	if storeErr != nil {
		return storeErr
	}

	verifier, verifierErr := buildIdentityVerifier(command.Context())
	if verifierErr != nil {
		return fmt.Errorf("%s: %w", configCodeIdentityVerifierInit, verifierErr)
	}

	clock := authkit.NewSystemClock()
	metricsRecorder := authkit.NewCounterMetrics()
	service := authkit.NewService(serverConfig, userStore, clock, logger, metricsRecorder)
	oauthFlow := authkit.NewGoogleOAuthFlow(serverConfig.GoogleClientID, serverConfig.GoogleClientSecret, serverConfig.OAuthRedirectURL)
	stateStore := authkit.NewMemoryStateStore(serverConfig.StateTTL)

	authkit.MountAuthRoutes(router, serverConfig, service, oauthFlow, verifier, stateStore, logger)

	api := router.Group("/api")
	api.Use(authkit.RequireAccessToken(serverConfig, userStore, clock))

	api.GET("/profile", web.HandleGetProfile())
	api.PUT("/profile", web.HandleUpdateProfile(userStore, logger))

	adminUsers := api.Group("/users")
	adminUsers.Use(authkit.RequireRoles(authkit.RoleAdmin))
	adminUsers.GET("", web.HandleListUsers(userStore, logger))
	adminUsers.GET("/:id", web.HandleGetUser(userStore, logger))
	adminUsers.PATCH("/:id/role", web.HandleAssignRole(service, logger))

	content := api.Group("/content")
	content.GET("/free", authkit.RequireRoles(), web.HandleFreeContent())
	content.GET("/premium", authkit.RequireRoles(authkit.RolePremium, authkit.RoleAdmin), web.HandlePremiumContent())
	content.GET("/admin", authkit.RequireRoles(authkit.RoleAdmin), web.HandleAdminContent())

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	if cleanupInterval > 0 {
		sweeper := cleanup.NewSweeper(serverConfig, userStore, clock, logger, cleanupInterval)
		go sweeper.Run(shutdownCtx)
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
