package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/classlane/idp/pkg/authcode"
	"github.com/classlane/idp/pkg/backchannel"
	"github.com/classlane/idp/pkg/bootstrap"
	"github.com/classlane/idp/pkg/client"
	"github.com/classlane/idp/pkg/config"
	"github.com/classlane/idp/pkg/emailcode"
	"github.com/classlane/idp/pkg/jwks"
	"github.com/classlane/idp/pkg/login"
	"github.com/classlane/idp/pkg/login/loginapi"
	"github.com/classlane/idp/pkg/notification"
	"github.com/classlane/idp/pkg/oidc"
	oidcapi "github.com/classlane/idp/pkg/oidc/api"
	"github.com/classlane/idp/pkg/pending"
	"github.com/classlane/idp/pkg/ratelimit"
	"github.com/classlane/idp/pkg/router"
	"github.com/classlane/idp/pkg/session"
	"github.com/classlane/idp/pkg/token"
	"github.com/classlane/idp/pkg/user"
	"github.com/classlane/idp/pkg/wellknown"
)

// Config aggregates all environment-driven settings
type Config struct {
	AppConfig         app.AppConfig
	DatabaseConfig    config.DatabaseConfig
	OAuth2Config      config.OAuth2Config
	JWKSConfig        config.JWKSConfig
	SessionConfig     config.SessionConfig
	EmailConfig       config.EmailConfig
	BackchannelConfig config.BackchannelConfig
	BootstrapConfig   config.BootstrapConfig
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Unable to load .env file", "err", err)
	}

	cfg := Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	pool, err := dbutils.NewDbPool(context.Background(), cfg.DatabaseConfig.ToDbConfig())
	if err != nil {
		slog.Error("Failed to create database pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	accessTTL := mustDuration(cfg.OAuth2Config.ParseAccessTokenExpiry, "IDP_ACCESS_TOKEN_EXPIRY")
	refreshTTL := mustDuration(cfg.OAuth2Config.ParseRefreshTokenExpiry, "IDP_REFRESH_TOKEN_EXPIRY")
	codeTTL := mustDuration(cfg.OAuth2Config.ParseAuthCodeExpiry, "IDP_AUTH_CODE_EXPIRY")
	retention := mustDuration(cfg.JWKSConfig.ParseRetentionWindow, "IDP_JWKS_RETENTION_WINDOW")
	idleTTL := mustDuration(cfg.SessionConfig.ParseIdleExpiry, "IDP_SESSION_IDLE_EXPIRY")
	maxTTL := mustDuration(cfg.SessionConfig.ParseMaxExpiry, "IDP_SESSION_MAX_EXPIRY")
	rememberTTL := mustDuration(cfg.SessionConfig.ParseRememberMeExpiry, "IDP_SESSION_REMEMBER_ME_EXPIRY")
	backchannelTimeout := mustDuration(cfg.BackchannelConfig.ParseRequestTimeout, "IDP_BACKCHANNEL_REQUEST_TIMEOUT")
	logoutTokenTTL := mustDuration(cfg.BackchannelConfig.ParseLogoutTokenExpiry, "IDP_BACKCHANNEL_LOGOUT_TOKEN_EXPIRY")

	// Signing keys. The server refuses to start without an active key.
	encryptor, err := jwks.NewKeyEncryptor(cfg.JWKSConfig.EncryptionSecret)
	if err != nil {
		slog.Error("Failed to create key encryptor", "err", err)
		os.Exit(1)
	}
	jwksRepo, err := jwks.NewPostgresRepository(pool)
	if err != nil {
		slog.Error("Failed to create JWKS repository", "err", err)
		os.Exit(1)
	}
	jwksService := jwks.NewJWKSService(jwksRepo, encryptor,
		jwks.WithKeySize(cfg.JWKSConfig.KeySize),
		jwks.WithRetentionWindow(retention),
		// Keys must stay resolvable while refresh JWTs they signed live
		jwks.WithPruneWindow(refreshTTL+retention),
	)
	if err := jwksService.EnsureActiveKey(context.Background()); err != nil {
		slog.Error("Failed to provision signing key", "err", err)
		os.Exit(1)
	}

	clientRepo, err := client.NewPostgresRepository(pool)
	if err != nil {
		slog.Error("Failed to create client repository", "err", err)
		os.Exit(1)
	}
	clientService := client.NewClientService(clientRepo)

	sessionRepo, err := session.NewPostgresRepository(pool)
	if err != nil {
		slog.Error("Failed to create session repository", "err", err)
		os.Exit(1)
	}
	sessionService := session.NewSessionService(sessionRepo,
		session.WithIdleTTL(idleTTL),
		session.WithMaxTTL(maxTTL),
		session.WithRememberMeTTL(rememberTTL),
	)
	cookies := session.NewCookieWriter(cfg.SessionConfig.CookieName,
		cfg.SessionConfig.CookieHttpOnly, cfg.SessionConfig.CookieSecure)

	notifier := backchannel.NewNotifier(clientRepo, jwksService, cfg.OAuth2Config.Issuer,
		backchannel.WithRequestTimeout(backchannelTimeout),
		backchannel.WithTokenTTL(logoutTokenTTL),
	)

	userService := user.NewUserService(user.NewPostgresRepository(pool))

	tokenService := token.NewTokenService(token.NewPostgresRepository(pool),
		jwksService, sessionService, cfg.OAuth2Config.Issuer,
		token.WithAccessTTL(accessTTL),
		token.WithRefreshTTL(refreshTTL),
		token.WithLogoutNotifier(notifier),
		token.WithProfileLookup(func(ctx context.Context, userID uuid.UUID) (token.Profile, error) {
			u, err := userService.GetUser(ctx, userID)
			if err != nil {
				return token.Profile{}, err
			}
			return token.Profile{
				Email:             u.Email,
				EmailVerified:     u.EmailVerified,
				PreferredUsername: u.Username,
			}, nil
		}),
	)

	codeService := authcode.NewAuthCodeService(authcode.NewPostgresRepository(pool),
		authcode.WithTTL(codeTTL))

	emailCodes := emailcode.NewCodeService(emailcode.NewPostgresRepository(pool))

	seedInitialData(context.Background(), cfg.BootstrapConfig, userService, clientRepo)

	emailNotifier, err := notification.NewEmailNotifier(notification.SMTPConfig{
		Host:     cfg.EmailConfig.Host,
		Port:     cfg.EmailConfig.Port,
		TLS:      cfg.EmailConfig.TLS,
		Username: cfg.EmailConfig.Username,
		Password: cfg.EmailConfig.Password,
		From:     cfg.EmailConfig.From,
	})
	if err != nil {
		slog.Error("Failed to create email notifier", "err", err)
		os.Exit(1)
	}

	loginService := login.NewLoginService(userService, sessionService, tokenService, emailCodes,
		login.WithNotifier(emailNotifier))

	pendingStore := pending.NewStore(codeTTL)
	defer pendingStore.Close()

	oidcService := oidc.NewOIDCService(oidc.Config{
		Clients:  clientService,
		Codes:    codeService,
		Tokens:   tokenService,
		Sessions: sessionService,
		Users:    userService,
		Pending:  pendingStore,
		Notifier: notifier,
		Keys:     jwksService,
		Issuer:   cfg.OAuth2Config.Issuer,
		LoginURL: cfg.OAuth2Config.LoginURL,
	})

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)

	rateLimitConfig := ratelimit.DefaultConfig()
	rateLimitConfig.EndpointLimits = router.AuthEndpointLimits()

	router.SetupRoutes(server.R, router.Config{
		OAuth2Handle: oidcapi.NewHandle(
			oidcapi.WithOIDCService(oidcService),
			oidcapi.WithClientService(clientService),
			oidcapi.WithTokenService(tokenService),
			oidcapi.WithCookieWriter(cookies),
		),
		AuthHandle: loginapi.NewHandle(
			loginapi.WithLoginService(loginService),
			loginapi.WithSessionService(sessionService),
			loginapi.WithCookieWriter(cookies),
			loginapi.WithAuthorizeCompleter(oidcService),
			loginapi.WithBackchannelNotifier(notifier),
		),
		WellKnownHandle: wellknown.NewHandle(cfg.OAuth2Config.Issuer, jwksService),
		RateLimit:       ratelimit.NewMiddleware(rateLimitConfig),
	})

	go sweepExpired(context.Background(), oidcService, jwksService, sessionService)

	server.Run()
}

// seedInitialData provisions the admin account and initial client on a
// fresh deployment. Failures are fatal so a misconfigured seed does not
// go unnoticed.
func seedInitialData(ctx context.Context, cfg config.BootstrapConfig, users *user.UserService, clients client.Repository) {
	admin, err := bootstrap.SeedAdminUser(ctx, users, bootstrap.AdminConfig{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	})
	if err != nil {
		slog.Error("Failed to seed admin user", "err", err)
		os.Exit(1)
	}
	if admin.Password != "" {
		slog.Warn("Generated admin password, store it now; it will not be shown again",
			"username", admin.Username, "password", admin.Password)
	}

	if _, err := bootstrap.SeedClient(ctx, clients, bootstrap.ClientSeed{
		ClientID:               cfg.ClientID,
		ClientName:             cfg.ClientName,
		Secret:                 cfg.ClientSecret,
		RedirectURIs:           cfg.ClientRedirectURIs,
		PostLogoutRedirectURIs: cfg.ClientPostLogoutRedirectURIs,
		BackchannelLogoutURI:   cfg.ClientBackchannelLogoutURI,
		Scopes:                 cfg.ClientScopes,
		RequirePKCE:            cfg.ClientRequirePKCE,
	}); err != nil {
		slog.Error("Failed to seed OAuth2 client", "err", err)
		os.Exit(1)
	}
}

// sweepExpired periodically deletes expired codes, tokens, sessions,
// and retired signing keys.
func sweepExpired(ctx context.Context, oidcService *oidc.OIDCService, jwksService *jwks.JWKSService, sessions *session.SessionService) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			oidcService.DeleteExpiredArtifacts(ctx)
			if err := jwksService.PruneRetiredKeys(ctx); err != nil {
				slog.Error("Failed to prune retired keys", "err", err)
			}
			if err := sessions.DeleteExpired(ctx); err != nil {
				slog.Error("Failed to sweep expired sessions", "err", err)
			}
		}
	}
}

func mustDuration(parse func() (time.Duration, error), name string) time.Duration {
	d, err := parse()
	if err != nil {
		slog.Error("Invalid duration", "env", name, "err", err)
		os.Exit(1)
	}
	return d
}
