// Package gateway issues the pipeline's outbound calls: the external
// authority's health probe and authenticate endpoint, and the folder
// service's presigned-URL endpoint.
//
// The URL-fetch and authenticate calls each run through their own
// circuit breaker so a failing dependency never suspends calls to the
// other. The health probe is a best-effort existence check and stays
// outside breaker protection: it degrades to "unhealthy" on any error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
	"github.com/edwaraco/carpetaCiudadana/pkg/breaker"
	"github.com/edwaraco/carpetaCiudadana/pkg/observability"
)

// Dependency names used for breakers, metrics, and logs.
const (
	DependencyFolderService = "folder-service"
	DependencyAuthority     = "authority"
)

// Config holds the gateway configuration.
type Config struct {
	// FolderServiceURL is the base URL of the folder service that
	// resolves presigned document URLs.
	FolderServiceURL string

	// AuthorityURL is the base URL of the external authentication
	// authority.
	AuthorityURL string

	// HealthTimeout bounds the health probe. Default: 5s.
	HealthTimeout time.Duration

	// CallTimeout bounds the URL-fetch and authenticate calls.
	// Default: 30s.
	CallTimeout time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for
	// testing). If nil, a client without its own timeout is used;
	// per-call timeouts come from the request contexts.
	HTTPClient *http.Client

	// Logger receives call logs. If nil, slog.Default is used.
	Logger *slog.Logger
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Gateway performs the pipeline's outbound HTTP calls.
type Gateway struct {
	config         Config
	fetchBreaker   *breaker.Breaker
	authentBreaker *breaker.Breaker
}

// New creates a gateway. The two breakers are owned by the caller and
// injected so tests can substitute deterministic clocks and thresholds;
// they must be distinct instances.
func New(cfg Config, fetchBreaker, authentBreaker *breaker.Breaker) *Gateway {
	cfg.applyDefaults()
	cfg.FolderServiceURL = strings.TrimRight(cfg.FolderServiceURL, "/")
	cfg.AuthorityURL = strings.TrimRight(cfg.AuthorityURL, "/")
	return &Gateway{
		config:         cfg,
		fetchBreaker:   fetchBreaker,
		authentBreaker: authentBreaker,
	}
}

// CheckHealth probes the authority's API root. Any transport error or a
// server error status means "unhealthy"; no error is ever returned to
// the caller.
func (g *Gateway) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.config.AuthorityURL+"/apis/", nil)
	if err != nil {
		return false
	}

	resp, err := g.config.HTTPClient.Do(req)
	if err != nil {
		g.config.Logger.Error("authority health check failed", "error", err)
		observability.ExternalRequestsTotal.WithLabelValues(DependencyAuthority, "error").Inc()
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode < http.StatusInternalServerError
	observability.ExternalRequestsTotal.WithLabelValues(DependencyAuthority, strconv.Itoa(resp.StatusCode)).Inc()
	return healthy
}

// FetchPresignedURL asks the folder service for a presigned download
// URL, through the URL-fetch circuit breaker.
//
// The endpoint is inconsistent across deployments and may answer with a
// bare JSON string, a flat object carrying a download-URL field, or an
// envelope {success, data: {downloadUrl}}. All three are accepted.
func (g *Gateway) FetchPresignedURL(ctx context.Context, folderID, documentID, token string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/carpetas/%s/documentos/%s/descargar",
		g.config.FolderServiceURL, folderID, documentID)

	var presigned string
	err := g.fetchBreaker.Do(func() error {
		url, err := g.fetchPresignedURL(ctx, endpoint, token)
		if err != nil {
			observability.ExternalRequestsTotal.WithLabelValues(DependencyFolderService, "error").Inc()
			return err
		}
		observability.ExternalRequestsTotal.WithLabelValues(DependencyFolderService, "ok").Inc()
		presigned = url
		return nil
	})
	if err != nil {
		if api.IsKind(err, api.ErrorKindCircuitOpen) {
			return "", err
		}
		return "", api.NewExternalServiceError("failed to get presigned URL", err)
	}

	g.config.Logger.Info("presigned URL retrieved", "document_id", documentID)
	return presigned, nil
}

// fetchPresignedURL performs the single HTTP exchange.
func (g *Gateway) fetchPresignedURL(ctx context.Context, endpoint, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.config.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling folder service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("folder service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading folder service response: %w", err)
	}

	url, err := parseDownloadURL(body)
	if err != nil {
		return "", err
	}
	return url, nil
}

// parseDownloadURL extracts the presigned URL from the three accepted
// response shapes.
func parseDownloadURL(body []byte) (string, error) {
	// Shape 1: bare JSON string.
	var direct string
	if err := json.Unmarshal(body, &direct); err == nil {
		return cleanURL(direct), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", fmt.Errorf("unexpected response format from folder service: %s", strings.TrimSpace(string(body)))
	}

	// Shape 2: flat object with a download-URL field.
	for _, field := range []string{"urlDescarga", "downloadUrl"} {
		if raw, ok := obj[field]; ok {
			var url string
			if err := json.Unmarshal(raw, &url); err == nil && url != "" {
				return cleanURL(url), nil
			}
		}
	}

	// Shape 3: envelope {success, data: {downloadUrl}}.
	if raw, ok := obj["data"]; ok {
		var data struct {
			DownloadURL string `json:"downloadUrl"`
			URLDescarga string `json:"urlDescarga"`
		}
		if err := json.Unmarshal(raw, &data); err == nil {
			if data.DownloadURL != "" {
				return cleanURL(data.DownloadURL), nil
			}
			if data.URLDescarga != "" {
				return cleanURL(data.URLDescarga), nil
			}
		}
	}

	return "", fmt.Errorf("unexpected response format from folder service: %s", strings.TrimSpace(string(body)))
}

// cleanURL trims surrounding whitespace and quote characters that some
// folder service deployments include in the URL value.
func cleanURL(url string) string {
	return strings.Trim(strings.TrimSpace(url), `"'`)
}

// AuthenticateDocument submits the document to the authority, through
// the authenticate circuit breaker, and maps the authority's status
// codes to fixed semantic outcomes.
func (g *Gateway) AuthenticateDocument(ctx context.Context, citizenID int64, documentURL, title string) (api.Status, string, error) {
	var status api.Status
	var message string

	err := g.authentBreaker.Do(func() error {
		s, m, err := g.authenticateDocument(ctx, citizenID, documentURL, title)
		if err != nil {
			observability.ExternalRequestsTotal.WithLabelValues(DependencyAuthority, "error").Inc()
			return err
		}
		observability.ExternalRequestsTotal.WithLabelValues(DependencyAuthority, string(s)).Inc()
		status, message = s, m
		return nil
	})
	if err != nil {
		if api.IsKind(err, api.ErrorKindCircuitOpen) {
			return "", "", err
		}
		return "", "", api.NewExternalServiceError("failed to authenticate with authority", err)
	}

	g.config.Logger.Info("authority authentication completed",
		"status", string(status), "message", message)
	return status, message, nil
}

// authorityRequest is the authority's authenticateDocument body. The
// UrlDocument casing is part of the authority's contract.
type authorityRequest struct {
	IDCitizen     int64  `json:"idCitizen"`
	URLDocument   string `json:"UrlDocument"`
	DocumentTitle string `json:"documentTitle"`
}

// authenticateDocument performs the single HTTP exchange and maps the
// response.
func (g *Gateway) authenticateDocument(ctx context.Context, citizenID int64, documentURL, title string) (api.Status, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
	defer cancel()

	payload, err := json.Marshal(authorityRequest{
		IDCitizen:     citizenID,
		URLDocument:   documentURL,
		DocumentTitle: title,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshaling authority request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		g.config.AuthorityURL+"/apis/authenticateDocument", bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.config.HTTPClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("calling authority: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("reading authority response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return api.StatusSuccess, messageFromBody(body), nil
	case http.StatusNoContent:
		return api.StatusNoContent, api.MessageNoContent, nil
	case http.StatusInternalServerError:
		return api.StatusInternalError, api.MessageApplicationError, nil
	case http.StatusNotImplemented:
		return api.StatusWrongParameters, api.MessageWrongParameters, nil
	default:
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = "Unknown error"
		}
		return api.Status(strconv.Itoa(resp.StatusCode)), message, nil
	}
}

// messageFromBody renders a 200 response body as the outcome message:
// a JSON string verbatim, anything else stringified.
func messageFromBody(body []byte) string {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSpace(string(body))
}
