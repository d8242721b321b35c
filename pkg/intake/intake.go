// Package intake serves the HTTP boundary of the pipeline. It accepts
// authentication requests, verifies the caller's bearer token
// synchronously, and publishes one request event per accepted call. All
// actual processing happens asynchronously behind the request queue, so
// the only success response is 202 Accepted.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
	"github.com/edwaraco/carpetaCiudadana/pkg/auth"
	"github.com/edwaraco/carpetaCiudadana/pkg/broker"
	"github.com/edwaraco/carpetaCiudadana/pkg/observability"
)

// Config holds configuration for the intake handler.
type Config struct {
	// MaxBodySize limits request body size in bytes. Default: 1 MB.
	MaxBodySize int64

	// Logger receives request logs. If nil, slog.Default is used.
	Logger *slog.Logger
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Handler routes intake requests to the publisher.
type Handler struct {
	publisher broker.RequestPublisher
	extractor *auth.Extractor
	config    Config
	mux       *http.ServeMux
}

// New creates an intake handler.
func New(publisher broker.RequestPublisher, extractor *auth.Extractor, cfg Config) *Handler {
	cfg.applyDefaults()
	h := &Handler{
		publisher: publisher,
		extractor: extractor,
		config:    cfg,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /api/v1/authenticateDocument", h.handleAuthenticate)
	h.mux.HandleFunc("GET /api/v1/health", h.handleHealth)

	return h
}

// ServeHTTP implements http.Handler with panic recovery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.config.Logger.Error("recovered panic in intake handler",
				"method", r.Method, "path", r.URL.Path, "panic", rec)
			h.writeStatus(w, http.StatusInternalServerError, "Internal Server Error")
		}
	}()
	h.mux.ServeHTTP(w, r)
}

// statusResponse is the uniform intake response body.
type statusResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// handleAuthenticate handles POST /api/v1/authenticateDocument.
//
// The bearer token is verified synchronously so the caller learns about
// bad credentials immediately. Everything downstream of the queue is
// asynchronous, so acceptance is the terminal HTTP outcome.
func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.writeStatus(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		h.writeStatus(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodySize)

	var req api.AuthenticationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeStatus(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body too large (max %d bytes)", h.config.MaxBodySize))
			return
		}
		h.writeStatus(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.DocumentID == "" || req.DocumentTitle == "" {
		h.writeStatus(w, http.StatusBadRequest, "documentId and documentTitle are required")
		return
	}

	claims, err := h.extractor.ExtractClaims(token, req.BypassSignatureCheck)
	if err != nil {
		h.config.Logger.Warn("rejecting request with bad token",
			"document_id", req.DocumentID, "error", err)
		h.writeStatus(w, http.StatusUnauthorized, tokenErrorMessage(err))
		return
	}

	// Verified extraction already rejects expired tokens; bypass skips
	// that check, so surface expiry in the log without refusing the
	// request.
	if req.BypassSignatureCheck && auth.Expired(claims, time.Now()) {
		h.config.Logger.Warn("accepting request with expired bypass token",
			"document_id", req.DocumentID, "folder_id", claims.FolderID,
			"expiry", claims.Expiry)
	}

	event := api.RequestEvent{
		DocumentID:           req.DocumentID,
		DocumentTitle:        req.DocumentTitle,
		FolderID:             claims.FolderID,
		CitizenID:            claims.CitizenID,
		BypassSignatureCheck: req.BypassSignatureCheck,
		OverridePresignedURL: req.OverridePresignedURL,
		RawToken:             token,
	}

	if err := h.publisher.PublishRequest(r.Context(), event); err != nil {
		h.config.Logger.Error("failed to publish request event",
			"document_id", req.DocumentID, "error", err)
		h.writeStatus(w, http.StatusServiceUnavailable, "request could not be queued")
		return
	}

	h.config.Logger.Info("request accepted",
		"document_id", req.DocumentID, "folder_id", claims.FolderID)
	h.writeStatus(w, http.StatusAccepted, api.MessageAccepted)
}

// handleHealth handles GET /api/v1/health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeStatus writes the uniform status body and counts the request.
func (h *Handler) writeStatus(w http.ResponseWriter, code int, message string) {
	observability.IntakeRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(statusResponse{Status: code, Message: message})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// tokenErrorMessage maps an extraction error to the caller-visible text.
// Verification failures carry the fixed "invalid credentials" message;
// malformed tokens report the structural problem.
func tokenErrorMessage(err error) string {
	var pe *api.PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return "invalid credentials"
}
