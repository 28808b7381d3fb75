package amocrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/metrics"
	"github.com/spigell/hh-screener/internal/utils"
)

const (
	apiURLTemplate = "https://%s.amocrm.ru"
	userAgent      = "spigell/hh-screener"

	defaultStageName = "первичный контакт"
	defaultDealName  = "Сделка с %s"
)

var (
	ErrInvalidCredentials = errors.New("invalid amocrm credentials")
	ErrMissingPhone       = errors.New("contact has no phone")
	ErrNoDealStatus       = errors.New("deal status is not resolved")
	ErrRequestFailed      = errors.New("amocrm request failed")
	ErrRateLimited        = errors.New("amocrm rate limit wait exhausted")
	ErrCircuitOpen        = errors.New("amocrm circuit breaker is open")
)

// Credentials mirror the credentials.json issued for an amoCRM integration.
type Credentials struct {
	Subdomain    string `mapstructure:"subdomain" json:"subdomain" validate:"required"`
	AccessToken  string `mapstructure:"access_token" json:"access_token" validate:"required"`
	RefreshToken string `mapstructure:"refresh_token" json:"refresh_token,omitempty"`
	ClientID     string `mapstructure:"client_id" json:"client_id,omitempty"`
	ClientSecret string `mapstructure:"client_secret" json:"client_secret,omitempty"`
	RedirectURI  string `mapstructure:"redirect_uri" json:"redirect_uri,omitempty" validate:"omitempty,url"`
}

func (c Credentials) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

// canRefresh reports whether an OAuth refresh_token grant is possible.
func (c Credentials) canRefresh() bool {
	return c.RefreshToken != "" && c.ClientID != "" && c.ClientSecret != ""
}

func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials

	data, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("reading credentials: %w", err)
	}

	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	return creds, nil
}

func SaveCredentials(path string, creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

type RateLimit struct {
	// DefaultWait applies when a 429 carries no usable Retry-After header.
	DefaultWait  time.Duration `mapstructure:"default-wait"`
	MaxRetries   int           `mapstructure:"max-retries"`
	MaxTotalWait time.Duration `mapstructure:"max-total-wait"`
}

type Breaker struct {
	MaxFailures uint32        `mapstructure:"max-failures"`
	OpenTimeout time.Duration `mapstructure:"open-timeout"`
}

type Config struct {
	Credentials Credentials `mapstructure:"credentials"`
	// CredentialsFile receives rotated tokens after a refresh when set.
	CredentialsFile string `mapstructure:"credentials-file"`

	APIURL      string        `mapstructure:"api-url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max-attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Throttle    time.Duration `mapstructure:"throttle"`
	RateLimit   RateLimit     `mapstructure:"rate-limit"`
	Breaker     Breaker       `mapstructure:"breaker"`

	StageName  string            `mapstructure:"stage-name"`
	DealName   string            `mapstructure:"deal-name"`
	FieldNames map[string]string `mapstructure:"field-names"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
		Throttle:    6 * time.Second,
		RateLimit: RateLimit{
			DefaultWait:  5 * time.Second,
			MaxRetries:   10,
			MaxTotalWait: 2 * time.Minute,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		StageName: defaultStageName,
		DealName:  defaultDealName,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = d.Backoff
	}
	if c.Throttle < 0 {
		c.Throttle = 0
	}
	if c.RateLimit.DefaultWait <= 0 {
		c.RateLimit.DefaultWait = d.RateLimit.DefaultWait
	}
	if c.RateLimit.MaxRetries <= 0 {
		c.RateLimit.MaxRetries = d.RateLimit.MaxRetries
	}
	if c.RateLimit.MaxTotalWait <= 0 {
		c.RateLimit.MaxTotalWait = d.RateLimit.MaxTotalWait
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = d.Breaker.MaxFailures
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = d.Breaker.OpenTimeout
	}
	if strings.TrimSpace(c.StageName) == "" {
		c.StageName = d.StageName
	}
	if !strings.Contains(c.DealName, "%s") {
		c.DealName = d.DealName
	}

	return c
}

type Client struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string

	cfg Config

	// mu serializes every call; the CRM allows a handful of requests per second.
	mu      sync.Mutex
	creds   Credentials
	breaker *gobreaker.CircuitBreaker[*Response]
	wait    func(context.Context, time.Duration) error

	fields     FieldMap
	dealStatus int
}

// New validates the credentials and resolves the deal status and custom
// field ids. Only invalid credentials are fatal; unresolved metadata is logged.
func New(ctx context.Context, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	c, err := newClient(cfg, logger, m)
	if err != nil {
		return nil, err
	}

	c.resolve(ctx)

	return c, nil
}

func newClient(cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = fmt.Sprintf(apiURLTemplate, cfg.Credentials.Subdomain)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		logger:  logger.With(zap.String("subdomain", cfg.Credentials.Subdomain)),
		metrics: m,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		UserAgent: userAgent,
		APIURL:    apiURL,
		cfg:       cfg,
		creds:     cfg.Credentials,
		wait:      utils.WaitFor,
		fields:    make(FieldMap),
	}

	c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:    "amocrm",
		Timeout: cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c, nil
}

// Fields returns the resolved custom field ids.
func (c *Client) Fields() FieldMap {
	return c.fields
}

// DealStatus returns the resolved stage id, zero when unresolved.
func (c *Client) DealStatus() int {
	return c.dealStatus
}
