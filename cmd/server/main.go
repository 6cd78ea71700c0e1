package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tusers/internal/authkit"
	"github.com/tyemirov/tusers/internal/gateway"
	"github.com/tyemirov/tusers/internal/localauth"
	"github.com/tyemirov/tusers/internal/metrics"
	"github.com/tyemirov/tusers/internal/profiles"
	"github.com/tyemirov/tusers/internal/supabase"
	"github.com/tyemirov/tusers/internal/usersync"
	"github.com/tyemirov/tusers/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGateways = openGateways

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "tusers",
		Short:   "User service keeping identities and profiles in sync, with cookie sessions",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8000", "HTTP listen address")
	rootCmd.Flags().String("environment", "development", "Deployment environment; production marks cookies Secure")
	rootCmd.Flags().StringSlice("client_url", []string{}, "Browser origins allowed to call the API with credentials")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Duration("access_ttl", authkit.DefaultAccessTTL, "Access cookie lifetime")
	rootCmd.Flags().Duration("refresh_ttl", authkit.DefaultRefreshTTL, "Refresh cookie lifetime")
	rootCmd.Flags().Duration("gateway_timeout", 10*time.Second, "Deadline for each identity or profile store call")
	rootCmd.Flags().Int("auth_rate_per_minute", 20, "Signup and login attempts allowed per client IP per minute; 0 disables")
	rootCmd.Flags().StringSlice("trusted_proxies", []string{}, "Proxy IPs or CIDRs allowed to set X-Forwarded-For; empty trusts none")
	rootCmd.Flags().String("identity_backend", identityBackendSupabase, "Identity store: supabase or local")
	rootCmd.Flags().String("profile_backend", profileBackendSupabase, "Profile store: supabase, postgres, or memory")
	rootCmd.Flags().String("supabase_url", "", "Supabase project URL")
	rootCmd.Flags().String("supabase_key", "", "Supabase service role key")
	rootCmd.Flags().String("supabase_profiles_table", "users", "PostgREST table holding profiles")
	rootCmd.Flags().String("database_url", "", "Local identity database (postgres:// or sqlite://)")
	rootCmd.Flags().String("profile_database_url", "", "PostgreSQL URL for the postgres profile store")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 secret for local access tokens")
	rootCmd.Flags().String("jwt_issuer", "tusers", "Issuer claim for local access tokens")
	rootCmd.Flags().Bool("auto_confirm", true, "Local backend: activate identities at signup")

	for _, flagName := range []string{
		"listen_addr", "environment", "client_url", "cookie_domain", "access_ttl", "refresh_ttl",
		"gateway_timeout", "auth_rate_per_minute", "trusted_proxies", "identity_backend", "profile_backend",
		"supabase_url", "supabase_key", "supabase_profiles_table", "database_url",
		"profile_database_url", "jwt_signing_key", "jwt_issuer", "auto_confirm",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	identityBackendSupabase = "supabase"
	identityBackendLocal    = "local"
	profileBackendSupabase  = "supabase"
	profileBackendPostgres  = "postgres"
	profileBackendMemory    = "memory"

	configCodeMissingSupabaseURL      = "config.missing_supabase_url"
	configCodeMissingSupabaseKey      = "config.missing_supabase_key"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeMissingProfileDatabase  = "config.missing_profile_database_url"
	configCodeInvalidIdentityBackend  = "config.invalid_identity_backend"
	configCodeInvalidProfileBackend   = "config.invalid_profile_backend"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeInvalidGatewayTimeout   = "config.invalid_gateway_timeout"
	configCodeInvalidTrustedProxies   = "config.invalid_trusted_proxies"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGatewayInit             = "config.gateway_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// backendConfig selects and configures the identity and profile stores.
type backendConfig struct {
	IdentityBackend       string
	ProfileBackend        string
	SupabaseURL           string
	SupabaseKey           string
	SupabaseProfilesTable string
	DatabaseURL           string
	ProfileDatabaseURL    string
	JWTSigningKey         []byte
	JWTIssuer             string
	AutoConfirm           bool
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	GatewayTimeout        time.Duration
}

type serviceConfig struct {
	Server            authkit.ServerConfig
	Backends          backendConfig
	ListenAddr        string
	ClientOrigins     []string
	AuthRatePerMinute int
	TrustedProxies    []string
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	configuration, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, configuration))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates the configuration from viper.
func LoadServerConfig() (serviceConfig, error) {
	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return serviceConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}
	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return serviceConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}
	gatewayTimeout := viper.GetDuration("gateway_timeout")
	if gatewayTimeout <= 0 {
		return serviceConfig{}, configError(configCodeInvalidGatewayTimeout, "gateway_timeout must be greater than zero")
	}

	backends := backendConfig{
		IdentityBackend:       strings.ToLower(strings.TrimSpace(viper.GetString("identity_backend"))),
		ProfileBackend:        strings.ToLower(strings.TrimSpace(viper.GetString("profile_backend"))),
		SupabaseURL:           strings.TrimSpace(viper.GetString("supabase_url")),
		SupabaseKey:           strings.TrimSpace(viper.GetString("supabase_key")),
		SupabaseProfilesTable: viper.GetString("supabase_profiles_table"),
		DatabaseURL:           strings.TrimSpace(viper.GetString("database_url")),
		ProfileDatabaseURL:    strings.TrimSpace(viper.GetString("profile_database_url")),
		JWTSigningKey:         []byte(viper.GetString("jwt_signing_key")),
		JWTIssuer:             viper.GetString("jwt_issuer"),
		AutoConfirm:           viper.GetBool("auto_confirm"),
		AccessTTL:             accessTTL,
		RefreshTTL:            refreshTTL,
		GatewayTimeout:        gatewayTimeout,
	}
	if backends.IdentityBackend == "" {
		backends.IdentityBackend = identityBackendSupabase
	}
	if backends.ProfileBackend == "" {
		backends.ProfileBackend = profileBackendSupabase
	}
	if strings.TrimSpace(backends.JWTIssuer) == "" {
		backends.JWTIssuer = "tusers"
	}

	needsSupabase := false
	switch backends.IdentityBackend {
	case identityBackendSupabase:
		needsSupabase = true
	case identityBackendLocal:
		if backends.DatabaseURL == "" {
			return serviceConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided for the local identity backend")
		}
		if len(backends.JWTSigningKey) == 0 {
			return serviceConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided for the local identity backend")
		}
	default:
		return serviceConfig{}, configError(configCodeInvalidIdentityBackend, fmt.Sprintf("identity_backend %q is not supported", backends.IdentityBackend))
	}
	switch backends.ProfileBackend {
	case profileBackendSupabase:
		needsSupabase = true
	case profileBackendPostgres:
		if backends.ProfileDatabaseURL == "" {
			return serviceConfig{}, configError(configCodeMissingProfileDatabase, "profile_database_url must be provided for the postgres profile backend")
		}
	case profileBackendMemory:
	default:
		return serviceConfig{}, configError(configCodeInvalidProfileBackend, fmt.Sprintf("profile_backend %q is not supported", backends.ProfileBackend))
	}
	if needsSupabase {
		if backends.SupabaseURL == "" {
			return serviceConfig{}, configError(configCodeMissingSupabaseURL, "supabase_url must be provided")
		}
		if backends.SupabaseKey == "" {
			return serviceConfig{}, configError(configCodeMissingSupabaseKey, "supabase_key must be provided")
		}
	}

	server := authkit.DefaultServerConfig(strings.EqualFold(strings.TrimSpace(viper.GetString("environment")), "production"))
	server.CookieDomain = viper.GetString("cookie_domain")
	server.AccessTTL = accessTTL
	server.RefreshTTL = refreshTTL

	trustedProxies := make([]string, 0)
	for _, proxy := range viper.GetStringSlice("trusted_proxies") {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}
		if net.ParseIP(proxy) == nil {
			if _, _, cidrErr := net.ParseCIDR(proxy); cidrErr != nil {
				return serviceConfig{}, configError(configCodeInvalidTrustedProxies, fmt.Sprintf("trusted_proxies entry %q is not an IP or CIDR", proxy))
			}
		}
		trustedProxies = append(trustedProxies, proxy)
	}

	listenAddr := viper.GetString("listen_addr")
	if strings.TrimSpace(listenAddr) == "" {
		listenAddr = ":8000"
	}

	return serviceConfig{
		Server:            server,
		Backends:          backends,
		ListenAddr:        listenAddr,
		ClientOrigins:     viper.GetStringSlice("client_url"),
		AuthRatePerMinute: viper.GetInt("auth_rate_per_minute"),
		TrustedProxies:    trustedProxies,
	}, nil
}

// openGateways builds the configured stores. The returned close function
// releases database handles.
func openGateways(ctx context.Context, backends backendConfig, logger *zap.Logger) (gateway.IdentityGateway, gateway.ProfileStore, func(), error) {
	var closers []func()
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			closers[index]()
		}
	}

	var supabaseClient *supabase.Client
	if backends.IdentityBackend == identityBackendSupabase || backends.ProfileBackend == profileBackendSupabase {
		client, clientErr := supabase.NewClient(backends.SupabaseURL, backends.SupabaseKey, &http.Client{}, logger)
		if clientErr != nil {
			return nil, nil, closeAll, clientErr
		}
		supabaseClient = client
	}

	var identities gateway.IdentityGateway
	switch backends.IdentityBackend {
	case identityBackendLocal:
		db, driverLabel, openErr := localauth.OpenDatabase(ctx, backends.DatabaseURL)
		if openErr != nil {
			return nil, nil, closeAll, openErr
		}
		if sqlDB, sqlErr := db.DB(); sqlErr == nil {
			closers = append(closers, func() { _ = sqlDB.Close() })
		}
		localGateway, gatewayErr := localauth.NewGateway(db, localauth.Config{
			SigningKey:  backends.JWTSigningKey,
			Issuer:      backends.JWTIssuer,
			AccessTTL:   backends.AccessTTL,
			RefreshTTL:  backends.RefreshTTL,
			AutoConfirm: backends.AutoConfirm,
		}, logger)
		if gatewayErr != nil {
			return nil, nil, closeAll, gatewayErr
		}
		identities = localGateway
		logger.Info("using local identity store", zap.String("driver", driverLabel))
	default:
		identities = supabase.NewIdentityGateway(supabaseClient)
		logger.Info("using supabase identity store")
	}

	var profileStore gateway.ProfileStore
	switch backends.ProfileBackend {
	case profileBackendPostgres:
		pool, poolErr := profiles.BuildPool(ctx, backends.ProfileDatabaseURL)
		if poolErr != nil {
			return nil, nil, closeAll, poolErr
		}
		closers = append(closers, pool.Close)
		if schemaErr := profiles.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, nil, closeAll, schemaErr
		}
		profileStore = profiles.NewPostgresStore(pool)
		logger.Info("using postgres profile store")
	case profileBackendMemory:
		profileStore = profiles.NewMemoryStore()
		logger.Warn("using in-memory profile store; profiles are lost on restart",
			zap.String("code", "config.profile_backend.memory"))
	default:
		profileStore = supabase.NewProfileStore(supabaseClient, backends.SupabaseProfilesTable)
		logger.Info("using supabase profile store", zap.String("table", backends.SupabaseProfilesTable))
	}

	return identities, profileStore, closeAll, nil
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
	configuration, ok := contextValue.(serviceConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	identities, profileStore, closeGateways, gatewayErr := buildGateways(commandContext, configuration.Backends, logger)
	if closeGateways != nil {
		defer closeGateways()
	}
	if gatewayErr != nil {
		return fmt.Errorf("%s: %w", configCodeGatewayInit, gatewayErr)
	}

	recorder := metrics.NewPrometheusRecorder()
	service := usersync.NewService(
		gateway.WithIdentityDeadline(identities, configuration.Backends.GatewayTimeout),
		gateway.WithProfileDeadline(profileStore, configuration.Backends.GatewayTimeout),
		logger,
		recorder,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if proxyErr := authkit.TrustProxies(router, configuration.TrustedProxies); proxyErr != nil {
		return configError(configCodeInvalidTrustedProxies, proxyErr.Error())
	}
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if len(configuration.ClientOrigins) > 0 {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, configuration.ClientOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.String(http.StatusOK, "pong")
	})
	router.GET("/metrics", gin.WrapH(recorder.Handler()))

	api := router.Group("/api")
	limiter := authkit.NewAttemptLimiter(configuration.AuthRatePerMinute)
	authkit.MountAuthRoutes(api, configuration.Server, service, limiter, logger)
	web.MountUserRoutes(api, configuration.Server, service, logger)

	server := &http.Server{
		Addr:              configuration.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", configuration.ListenAddr),
		zap.String("identity_backend", configuration.Backends.IdentityBackend),
		zap.String("profile_backend", configuration.Backends.ProfileBackend))
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
