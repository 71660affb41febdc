package instamojo

import (
	"net/http"
	"strings"
	"time"

	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
)

// DefaultBaseURL is the production Instamojo API
const DefaultBaseURL = "https://www.instamojo.com/api/1.1"

// Client представляет клиент для работы с API Instamojo
type Client struct {
	baseURL    string
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
}

// Config конфигурация для клиента Instamojo
type Config struct {
	BaseURL string
	// AuthToken is sent as a bearer token. When empty the legacy
	// APIKey/APIToken header pair is used.
	AuthToken string
	APIKey    string
	APIToken  string
	Timeout   time.Duration

	// Checkout parameters for new payment requests
	Purpose     string
	Amount      string
	RedirectURL string
	WebhookURL  string
	// IdentityMetadataKey names the metadata field carrying the payer identity
	IdentityMetadataKey string
}

// NewClient создает новый клиент Instamojo
func NewClient(cfg Config, log *logger.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Purpose == "" {
		cfg.Purpose = "Premium Membership"
	}

	return &Client{
		baseURL:    baseURL,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// GetBaseURL возвращает базовый URL для API Instamojo
func (c *Client) GetBaseURL() string {
	return c.baseURL
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
		return
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Auth-Token", c.cfg.APIToken)
}
