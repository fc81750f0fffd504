package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jslitzker/forgeboard/internal/auth/apikey"
	"github.com/jslitzker/forgeboard/internal/auth/audit"
	"github.com/jslitzker/forgeboard/internal/auth/database"
	"github.com/jslitzker/forgeboard/internal/auth/handlers"
	authmw "github.com/jslitzker/forgeboard/internal/auth/middleware"
	"github.com/jslitzker/forgeboard/internal/auth/provider"
	"github.com/jslitzker/forgeboard/internal/auth/ratelimit"
	"github.com/jslitzker/forgeboard/internal/auth/session"
	"github.com/jslitzker/forgeboard/internal/auth/token"
	"github.com/jslitzker/forgeboard/internal/auth/validation"
	"github.com/jslitzker/forgeboard/internal/config"
	"github.com/jslitzker/forgeboard/internal/notify"
	"github.com/jslitzker/forgeboard/internal/server"
)

const cleanupInterval = time.Hour

// ServerBuilder constructs the auth core and the HTTP server around it.
type ServerBuilder struct {
	config    *config.Forgeboard
	bootstrap bool
	logger    *zap.Logger
}

func NewServerBuilder(cfg *config.Forgeboard, bootstrap bool, logger *zap.Logger) *ServerBuilder {
	return &ServerBuilder{
		config:    cfg,
		bootstrap: bootstrap,
		logger:    logger,
	}
}

// BuildServer constructs the server with all necessary components
func (sb *ServerBuilder) BuildServer(ctx context.Context, errChan chan<- error) (*server.Server, error) {
	cfg := sb.config

	db, err := database.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	validator := validation.NewPasswordValidator(sb.buildPasswordPolicy())
	recorder := audit.NewDBRecorder(db, sb.logger)
	notifier := sb.buildNotifier()

	codec := token.NewCodec([]byte(cfg.Auth.JWTSecret))
	sessions := session.NewManager(db, codec, session.Config{
		AccessTTL:      cfg.Auth.SessionTTL,
		RefreshTTL:     cfg.Auth.RefreshTTL,
		RefreshEnabled: cfg.Auth.RefreshOn(),
		ExtendWithin:   cfg.Auth.ExtendWithin,
	}, sb.logger)

	apiKeys := apikey.NewManager(db, apikey.Config{
		Enabled:           cfg.Auth.APIKeysOn(),
		MaxPerUser:        cfg.Auth.APIKeys.MaxPerUser,
		DefaultExpiryDays: cfg.Auth.APIKeys.DefaultExpiryDays,
	}, sb.logger)

	local := provider.NewLocal(db, provider.Config{
		MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
		LockoutDuration:  cfg.Auth.LockoutDuration,
		ResetTokenTTL:    cfg.Auth.ResetTokenTTL,
	}, validator, notifier, recorder, sb.logger)

	limiter := ratelimit.NewLimiter()
	gateway := authmw.NewGateway(sessions, apiKeys, limiter, sb.logger)
	handler := handlers.New(db, local, sessions, apiKeys, recorder, sb.logger)

	if sb.bootstrap {
		if err := sb.bootstrapAdmin(db, local); err != nil {
			db.Close()
			return nil, err
		}
	}

	go sb.runCleanup(ctx, sessions, apiKeys, db)

	return server.NewServer(ctx, errChan, cfg, handler, gateway, sb.logger), nil
}

func (sb *ServerBuilder) buildPasswordPolicy() validation.PasswordPolicy {
	rules := sb.config.Auth.Password
	return validation.PasswordPolicy{
		MinLength:        rules.MinLength,
		MaxLength:        rules.MaxLength,
		RequireUppercase: config.Rule(rules.RequireUppercase, true),
		RequireLowercase: config.Rule(rules.RequireLowercase, true),
		RequireNumbers:   config.Rule(rules.RequireNumbers, true),
		RequireSpecial:   config.Rule(rules.RequireSpecial, false),
	}
}

func (sb *ServerBuilder) buildNotifier() notify.Notifier {
	email := sb.config.Email
	if !email.Enabled {
		sb.logger.Info("Email notifications disabled")
		return notify.NopNotifier{}
	}

	notifier, err := notify.NewMailer(notify.Config{
		Enabled:   email.Enabled,
		SMTPHost:  email.SMTPHost,
		SMTPPort:  email.SMTPPort,
		Username:  email.Username,
		Password:  email.Password,
		FromEmail: email.FromEmail,
		BaseURL:   email.BaseURL,
	}, sb.logger)
	if err != nil {
		sb.logger.Warn("Mailer initialization failed, email notifications disabled", zap.Error(err))
		return notify.NopNotifier{}
	}
	return notifier
}

// bootstrapAdmin creates the first admin account when the user table is
// empty. The generated password is printed once; it must be changed on
// first login.
func (sb *ServerBuilder) bootstrapAdmin(db *database.SQLiteDB, local *provider.Local) error {
	count, err := db.CountUsers()
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	suffix, err := token.RandomToken(12)
	if err != nil {
		return fmt.Errorf("failed to generate bootstrap password: %w", err)
	}
	// Prefix guarantees the generated password passes the policy.
	password := "Fb9-" + suffix

	res, err := local.Register("admin", "admin@forgeboard.local", password, "Administrator", true)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	user, err := db.GetUserByID(res.UserID)
	if err == nil {
		user.PasswordChangeRequired = true
		if err := db.UpdateUser(user); err != nil {
			sb.logger.Warn("Failed to flag bootstrap admin for password change", zap.Error(err))
		}
	}

	fmt.Printf("Bootstrap admin created.\n  username: admin\n  password: %s\nChange this password after the first login.\n", password)
	sb.logger.Warn("Bootstrap admin account created", zap.String("username", "admin"))
	return nil
}

// runCleanup periodically sweeps expired sessions, API keys and reset tokens.
func (sb *ServerBuilder) runCleanup(
	ctx context.Context,
	sessions *session.Manager,
	apiKeys *apikey.Manager,
	db *database.SQLiteDB,
) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sessions.CleanupExpired(); err != nil {
				sb.logger.Error("Session cleanup failed", zap.Error(err))
			} else if n > 0 {
				sb.logger.Info("Expired sessions cleaned", zap.Int("count", n))
			}
			if n, err := apiKeys.CleanupExpired(); err != nil {
				sb.logger.Error("API key cleanup failed", zap.Error(err))
			} else if n > 0 {
				sb.logger.Info("Expired API keys cleaned", zap.Int("count", n))
			}
			if n, err := db.CleanupExpiredResets(); err != nil {
				sb.logger.Error("Reset token cleanup failed", zap.Error(err))
			} else if n > 0 {
				sb.logger.Info("Expired reset tokens cleaned", zap.Int("count", n))
			}
		}
	}
}

func initializeServer(
	ctx context.Context,
	cfg *config.Forgeboard,
	bootstrap bool,
	errChan chan error,
	logger *zap.Logger,
) *server.Server {
	builder := NewServerBuilder(cfg, bootstrap, logger)
	srv, err := builder.BuildServer(ctx, errChan)
	if err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	return srv
}
