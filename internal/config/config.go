package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Forgeboard represents the main configuration structure for the ForgeBoard
// control plane. It aggregates the server listener, the auth database,
// authentication policy, outbound email and global middleware configurations.
type Forgeboard struct {
	Server     Server       `yaml:"server"`     // HTTP listener settings.
	Database   Database     `yaml:"database"`   // Auth database settings.
	Auth       Auth         `yaml:"auth"`       // Authentication policy.
	Email      Email        `yaml:"email"`      // Outbound email (password resets, welcome mail).
	Middleware []Middleware `yaml:"middleware"` // Global middleware configurations.
}

// Server holds the HTTP listener configuration.
type Server struct {
	Host       string   `yaml:"host"`        // Bind address, defaults to 0.0.0.0.
	Port       int      `yaml:"port"`        // Listen port, defaults to 5000.
	TLS        *TLS     `yaml:"tls"`         // Optional TLS configuration.
	AllowedIPs []string `yaml:"allowed_ips"` // Optional allowlist; empty admits everyone.
	Debug      bool     `yaml:"debug"`       // Enables console logging and verbose errors.
}

// TLS holds configuration settings related to TLS (HTTPS) for the server.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`   // Indicates whether TLS is enabled.
	CertFile string `yaml:"cert_file"` // Path to the TLS certificate file.
	KeyFile  string `yaml:"key_file"`  // Path to the TLS private key file.
}

// Database points at the SQLite file backing users, sessions, API keys,
// password resets and audit logs.
type Database struct {
	Path string `yaml:"path"`
}

// Auth defines authentication policy: token lifetimes, lockout behavior,
// password rules, API keys and per-subject rate limits.
type Auth struct {
	JWTSecret        string        `yaml:"jwt_secret"`         // HMAC secret for token signing. Required.
	SessionTTL       time.Duration `yaml:"session_ttl"`        // Access token and session lifetime.
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`        // Refresh token lifetime.
	RefreshEnabled   *bool         `yaml:"refresh_enabled"`    // Whether refresh tokens are issued at all.
	ExtendWithin     time.Duration `yaml:"extend_within"`      // Sliding extension threshold before expiry.
	MaxLoginAttempts int           `yaml:"max_login_attempts"` // Failed logins before lockout.
	LockoutDuration  time.Duration `yaml:"lockout_duration"`   // Lockout length after too many failures.
	ResetTokenTTL    time.Duration `yaml:"reset_token_ttl"`    // Password reset token lifetime.
	Password         PasswordRules `yaml:"password_policy"`    // Password complexity rules.
	APIKeys          APIKeys       `yaml:"api_keys"`           // API key policy.
	RateLimit        RateLimits    `yaml:"rate_limit"`         // Per-subject sliding-window limits.
}

// PasswordRules configures the password validator. Booleans are pointers so
// an omitted rule falls back to the default instead of false.
type PasswordRules struct {
	MinLength        int   `yaml:"min_length"`
	MaxLength        int   `yaml:"max_length"`
	RequireUppercase *bool `yaml:"require_uppercase"`
	RequireLowercase *bool `yaml:"require_lowercase"`
	RequireNumbers   *bool `yaml:"require_numbers"`
	RequireSpecial   *bool `yaml:"require_special"`
}

// APIKeys configures the API key registry.
type APIKeys struct {
	Enabled           *bool `yaml:"enabled"`             // Whether API key auth is accepted.
	MaxPerUser        int   `yaml:"max_per_user"`        // Active key cap per user.
	DefaultExpiryDays int   `yaml:"default_expiry_days"` // 0 means keys never expire by default.
}

// RateLimits configures the per-subject sliding-window limiter. The login
// window is keyed by client IP, the API window by authenticated user.
type RateLimits struct {
	LoginLimit  int           `yaml:"login_limit"`
	LoginWindow time.Duration `yaml:"login_window"`
	APILimit    int           `yaml:"api_limit"`
	APIWindow   time.Duration `yaml:"api_window"`
}

// Email holds SMTP settings for password reset and welcome mail.
type Email struct {
	Enabled   bool   `yaml:"enabled"`
	SMTPHost  string `yaml:"smtp_host"`
	SMTPPort  int    `yaml:"smtp_port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
	BaseURL   string `yaml:"base_url"` // Base URL used in reset links.
}

// RateLimit defines the configuration for the global rate limiting middleware.
// It specifies the number of requests allowed per second and the burst size.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Number of allowed requests per second.
	Burst             int     `yaml:"burst"`               // Maximum number of burst requests allowed.
}

// Middleware defines the configuration for various middleware components.
// Each field corresponds to a different type of middleware that can be applied.
type Middleware struct {
	RateLimit      *RateLimit      `yaml:"rate_limit"`      // Rate limiting configuration.
	CircuitBreaker *CircuitBreaker `yaml:"circuit_breaker"` // Circuit breaker configuration.
	Security       *Security       `yaml:"security"`        // Security headers configuration.
	CORS           *CORS           `yaml:"cors"`            // CORS (Cross-Origin Resource Sharing) configuration.
	Compression    bool            `yaml:"compression"`     // Enables compression if true.
}

// CircuitBreaker defines the configuration for a circuit breaker middleware.
// It sets thresholds for failures and the timeout before attempting to reset the circuit.
type CircuitBreaker struct {
	FailureThreshold int           `yaml:"failure_threshold"` // Number of consecutive failures to trigger the circuit breaker.
	ResetTimeout     time.Duration `yaml:"reset_timeout"`     // Duration to wait before attempting to reset the circuit after it has been tripped.
}

// Security holds configuration settings for security-related HTTP headers.
type Security struct {
	HSTS                  bool   `yaml:"hsts"`                    // Enables HTTP Strict Transport Security (HSTS).
	HSTSMaxAge            int    `yaml:"hsts_max_age"`            // Duration (in seconds) for the HSTS policy.
	HSTSIncludeSubDomains bool   `yaml:"hsts_include_subdomains"` // Applies HSTS policy to all subdomains if true.
	HSTSPreload           bool   `yaml:"hsts_preload"`            // Includes the site in browsers' HSTS preload lists if true.
	FrameOptions          string `yaml:"frame_options"`           // Value for the X-Frame-Options header.
	ContentTypeOptions    bool   `yaml:"content_type_options"`    // Enables the X-Content-Type-Options header to prevent MIME type sniffing.
	XSSProtection         bool   `yaml:"xss_protection"`          // Enables the X-XSS-Protection header to activate the browser's XSS protection.
}

// CORS defines the configuration for Cross-Origin Resource Sharing.
type CORS struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`   // List of origins allowed to access the resources.
	AllowedMethods   []string `yaml:"allowed_methods"`   // HTTP methods allowed for CORS requests.
	AllowedHeaders   []string `yaml:"allowed_headers"`   // HTTP headers allowed in CORS requests.
	ExposedHeaders   []string `yaml:"exposed_headers"`   // HTTP headers exposed to the browser.
	AllowCredentials bool     `yaml:"allow_credentials"` // Indicates whether credentials are allowed in CORS requests.
	MaxAge           int      `yaml:"max_age"`           // Duration (in seconds) for which the results of a preflight request can be cached.
}

// DefaultAuth provides fallback authentication policy for any setting not
// present in the configuration file.
var DefaultAuth = Auth{
	SessionTTL:       24 * time.Hour,
	RefreshTTL:       7 * 24 * time.Hour,
	ExtendWithin:     time.Hour,
	MaxLoginAttempts: 5,
	LockoutDuration:  5 * time.Minute,
	ResetTokenTTL:    time.Hour,
	Password: PasswordRules{
		MinLength: 8,
		MaxLength: 128,
	},
	APIKeys: APIKeys{
		MaxPerUser: 5,
	},
	RateLimit: RateLimits{
		LoginLimit:  5,
		LoginWindow: time.Minute,
		APILimit:    100,
		APIWindow:   time.Minute,
	},
}

func Load(path string) (*Forgeboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Forgeboard
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks required settings and fills defaults, logging each applied
// default so a surprising effective configuration can be traced.
func (cfg *Forgeboard) Validate(logger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters, got %d", len(cfg.Auth.JWTSecret))
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls requires cert_file and key_file when enabled")
		}
	}

	if cfg.Database.Path == "" {
		logger.Warn("database.path not set, using default", zap.String("path", "data/forgeboard.db"))
		cfg.Database.Path = "data/forgeboard.db"
	}

	applyAuthDefaults(&cfg.Auth)

	if cfg.Email.Enabled {
		if cfg.Email.SMTPHost == "" || cfg.Email.FromEmail == "" {
			return fmt.Errorf("email requires smtp_host and from_email when enabled")
		}
		if cfg.Email.SMTPPort == 0 {
			cfg.Email.SMTPPort = 587
		}
	}

	return nil
}

func applyAuthDefaults(a *Auth) {
	if a.SessionTTL <= 0 {
		a.SessionTTL = DefaultAuth.SessionTTL
	}
	if a.RefreshTTL <= 0 {
		a.RefreshTTL = DefaultAuth.RefreshTTL
	}
	if a.ExtendWithin <= 0 {
		a.ExtendWithin = DefaultAuth.ExtendWithin
	}
	if a.MaxLoginAttempts <= 0 {
		a.MaxLoginAttempts = DefaultAuth.MaxLoginAttempts
	}
	if a.LockoutDuration <= 0 {
		a.LockoutDuration = DefaultAuth.LockoutDuration
	}
	if a.ResetTokenTTL <= 0 {
		a.ResetTokenTTL = DefaultAuth.ResetTokenTTL
	}
	if a.Password.MinLength <= 0 {
		a.Password.MinLength = DefaultAuth.Password.MinLength
	}
	if a.Password.MaxLength <= 0 {
		a.Password.MaxLength = DefaultAuth.Password.MaxLength
	}
	if a.APIKeys.MaxPerUser <= 0 {
		a.APIKeys.MaxPerUser = DefaultAuth.APIKeys.MaxPerUser
	}
	if a.RateLimit.LoginLimit <= 0 {
		a.RateLimit.LoginLimit = DefaultAuth.RateLimit.LoginLimit
	}
	if a.RateLimit.LoginWindow <= 0 {
		a.RateLimit.LoginWindow = DefaultAuth.RateLimit.LoginWindow
	}
	if a.RateLimit.APILimit <= 0 {
		a.RateLimit.APILimit = DefaultAuth.RateLimit.APILimit
	}
	if a.RateLimit.APIWindow <= 0 {
		a.RateLimit.APIWindow = DefaultAuth.RateLimit.APIWindow
	}
}

// RefreshOn reports whether refresh tokens are enabled; the default is on.
func (a *Auth) RefreshOn() bool {
	return a.RefreshEnabled == nil || *a.RefreshEnabled
}

// APIKeysOn reports whether API key authentication is enabled; the default is on.
func (a *Auth) APIKeysOn() bool {
	return a.APIKeys.Enabled == nil || *a.APIKeys.Enabled
}

// Rule reports a tri-state password rule with its default.
func Rule(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
