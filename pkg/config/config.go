// Package config loads the service configuration from environment
// variables and validates the cross-field constraints before anything else
// starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Catalog backend selectors.
const (
	CatalogPolicyAnalyzer = "PolicyAnalyzer"
	CatalogAssetInventory = "AssetInventory"
)

// Defaults for the activation limits, in minutes.
const (
	defaultActivationTimeout        = 120
	minActivationTimeout            = 5
	defaultActivationRequestTimeout = 60
	defaultMaxRoles                 = 10
	defaultMinReviewers             = 1
	defaultMaxReviewers             = 10
)

// Config holds the full service configuration.
type Config struct {
	Port     string
	LogLevel string

	// ResourceScope is the organization, folder, or project path the
	// deployment manages (for example organizations/123).
	ResourceScope string
	// ResourceCatalog selects the discovery backend.
	ResourceCatalog string
	// AvailableProjectsQuery optionally replaces per-user project discovery
	// with a resource-manager search query.
	AvailableProjectsQuery string

	// ActivationTimeout bounds self-approval activations.
	ActivationTimeout time.Duration
	// ActivationRequestTimeout bounds how long a multi-party approval token
	// stays valid.
	ActivationRequestTimeout time.Duration
	MaxRolesPerRequest       int
	MinReviewers             int
	MaxReviewers             int

	JustificationPattern string
	JustificationHint    string

	// ServiceAccount is the signing identity for approval tokens. Empty
	// selects a locally generated key (development only).
	ServiceAccount string
	// IAPAudience is the expected audience of inbound identity assertions.
	// Empty selects unverified header authentication (development only).
	IAPAudience string
	// BaseURL is the external address used in reviewer notification links.
	BaseURL string

	// NotificationTopic is the Pub/Sub topic for activation events
	// (projects/<id>/topics/<name>). Empty disables event publication.
	NotificationTopic string
	// NotificationTemplates optionally overrides the embedded message
	// templates with a YAML file.
	NotificationTemplates string
	// SMTP relay for reviewer mail. Empty host logs notifications instead.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string

	// AuditStoreDSN enables the relational audit store. The scheme selects
	// the driver: postgres://... or a sqlite file path.
	AuditStoreDSN string
	// AuditBucket optionally enables evidence-pack export to a storage
	// bucket.
	AuditBucket string

	// RedisAddr enables group-membership caching. Empty disables it.
	RedisAddr     string
	RedisGroupTTL time.Duration

	// RateLimitPerMinute bounds per-principal request rates at the edge.
	RateLimitPerMinute int
	RateLimitBurst     int

	// OTelEndpoint enables OTLP export of traces and metrics when set.
	OTelEndpoint string
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	c := &Config{
		Port:                   envOr("PORT", "8080"),
		LogLevel:               envOr("LOG_LEVEL", "INFO"),
		ResourceScope:          os.Getenv("RESOURCE_SCOPE"),
		ResourceCatalog:        envOr("RESOURCE_CATALOG", CatalogPolicyAnalyzer),
		AvailableProjectsQuery: os.Getenv("AVAILABLE_PROJECTS_QUERY"),
		JustificationPattern:   os.Getenv("JUSTIFICATION_PATTERN"),
		JustificationHint:      os.Getenv("JUSTIFICATION_HINT"),
		ServiceAccount:         os.Getenv("SERVICE_ACCOUNT"),
		IAPAudience:            os.Getenv("IAP_AUDIENCE"),
		BaseURL:                envOr("BASE_URL", "http://localhost:8080"),
		NotificationTopic:      os.Getenv("NOTIFICATION_TOPIC"),
		NotificationTemplates:  os.Getenv("NOTIFICATION_TEMPLATES"),
		SMTPHost:               os.Getenv("SMTP_HOST"),
		SMTPUser:               os.Getenv("SMTP_USER"),
		SMTPPassword:           os.Getenv("SMTP_PASSWORD"),
		SMTPSender:             os.Getenv("SMTP_SENDER"),
		AuditStoreDSN:          os.Getenv("AUDIT_STORE_DSN"),
		AuditBucket:            os.Getenv("AUDIT_BUCKET"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		OTelEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if c.ResourceScope == "" {
		return nil, fmt.Errorf("RESOURCE_SCOPE is required")
	}
	if c.ResourceCatalog != CatalogPolicyAnalyzer && c.ResourceCatalog != CatalogAssetInventory {
		return nil, fmt.Errorf("RESOURCE_CATALOG must be %s or %s, got %q",
			CatalogPolicyAnalyzer, CatalogAssetInventory, c.ResourceCatalog)
	}

	activationTimeout, err := envMinutes("ACTIVATION_TIMEOUT", defaultActivationTimeout)
	if err != nil {
		return nil, err
	}
	if activationTimeout < minActivationTimeout*time.Minute {
		return nil, fmt.Errorf("ACTIVATION_TIMEOUT must be at least %d minutes", minActivationTimeout)
	}
	c.ActivationTimeout = activationTimeout

	requestTimeout, err := envMinutes("ACTIVATION_REQUEST_TIMEOUT", defaultActivationRequestTimeout)
	if err != nil {
		return nil, err
	}
	if requestTimeout > activationTimeout {
		return nil, fmt.Errorf("ACTIVATION_REQUEST_TIMEOUT must not exceed ACTIVATION_TIMEOUT")
	}
	c.ActivationRequestTimeout = requestTimeout

	if c.MaxRolesPerRequest, err = envInt("ACTIVATION_REQUEST_MAX_ROLES", defaultMaxRoles); err != nil {
		return nil, err
	}
	if c.MinReviewers, err = envInt("ACTIVATION_REQUEST_MIN_REVIEWERS", defaultMinReviewers); err != nil {
		return nil, err
	}
	if c.MaxReviewers, err = envInt("ACTIVATION_REQUEST_MAX_REVIEWERS", defaultMaxReviewers); err != nil {
		return nil, err
	}
	if c.MinReviewers < 1 {
		return nil, fmt.Errorf("ACTIVATION_REQUEST_MIN_REVIEWERS must be at least 1")
	}
	if c.MaxReviewers < c.MinReviewers {
		return nil, fmt.Errorf("ACTIVATION_REQUEST_MAX_REVIEWERS must not be below ACTIVATION_REQUEST_MIN_REVIEWERS")
	}

	if c.SMTPPort, err = envInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if c.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if c.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}

	groupTTL, err := envMinutes("REDIS_GROUP_TTL", 5)
	if err != nil {
		return nil, err
	}
	c.RedisGroupTTL = groupTTL

	return c, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func envMinutes(name string, fallbackMinutes int) (time.Duration, error) {
	n, err := envInt(name, fallbackMinutes)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return time.Duration(n) * time.Minute, nil
}
