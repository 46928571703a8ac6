package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/botsmith/botsmith/internal/models"
)

// APIError reports a third-party service call that failed at the HTTP
// level. Command paths surface it as a generic user-facing failure;
// scheduler polls log and skip it.
type APIError struct {
	Service models.Service
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned status %d", e.Service, e.Status)
}

// Client is the uniform REST shape every integration collaborator uses:
// one base URL, one credential, GET with query params, decoded JSON out.
// Per-service auth quirks (header vs. query param, API path prefix) are
// folded in here so handlers deal only in endpoints.
type Client struct {
	service models.Service
	http    *resty.Client
	limiter *rate.Limiter
	// tautulli passes its key as a query parameter instead of a header
	apiKeyParam string
}

// NewClient builds a client for one integration record. The base URL is
// normalized (no trailing slash) and service-specific API prefixes and
// auth are applied.
func NewClient(in *models.Integration) *Client {
	base := strings.TrimRight(in.Config.APIURL, "/")

	c := &Client{
		service: in.Service,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		http: resty.New().
			SetTimeout(15 * time.Second).
			SetHeader("Accept", "application/json"),
	}

	switch in.Service {
	case models.ServicePlex:
		c.http.SetBaseURL(base).SetHeader("X-Plex-Token", in.Config.APIKey)
	case models.ServiceJellyfin:
		c.http.SetBaseURL(base).SetHeader("X-Emby-Token", in.Config.APIKey)
	case models.ServiceSonarr, models.ServiceRadarr:
		c.http.SetBaseURL(base + "/api/v3").SetHeader("X-Api-Key", in.Config.APIKey)
	case models.ServiceLidarr, models.ServiceReadarr, models.ServiceProwlarr:
		c.http.SetBaseURL(base + "/api/v1").SetHeader("X-Api-Key", in.Config.APIKey)
	case models.ServiceOverseerr:
		c.http.SetBaseURL(base + "/api/v1").SetHeader("X-Api-Key", in.Config.APIKey)
	case models.ServiceTautulli:
		c.http.SetBaseURL(base + "/api/v2")
		c.apiKeyParam = in.Config.APIKey
	default:
		c.http.SetBaseURL(base)
	}

	return c
}

// Request performs a GET against the service and decodes the JSON body
// into out. Non-2xx responses become *APIError.
func (c *Client) Request(ctx context.Context, endpoint string, params map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	if c.apiKeyParam != "" {
		req.SetQueryParam("apikey", c.apiKeyParam)
	}

	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.service, err)
	}
	if resp.IsError() {
		return &APIError{Service: c.service, Status: resp.StatusCode()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s response: %w", c.service, err)
	}
	return nil
}
