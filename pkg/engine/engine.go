package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
	"github.com/edwaraco/carpetaCiudadana/pkg/broker"
	"github.com/edwaraco/carpetaCiudadana/pkg/observability"
)

// ExternalGateway is the orchestrator's view of the outbound calls.
// Implemented by gateway.Gateway; tests substitute deterministic fakes.
type ExternalGateway interface {
	CheckHealth(ctx context.Context) bool
	FetchPresignedURL(ctx context.Context, folderID, documentID, token string) (string, error)
	AuthenticateDocument(ctx context.Context, citizenID int64, documentURL, title string) (api.Status, string, error)
}

// ClaimExtractor decodes a bearer token into a claim set. Implemented
// by auth.Extractor.
type ClaimExtractor interface {
	ExtractClaims(token string, bypassSignatureCheck bool) (api.ClaimSet, error)
}

// Config holds the orchestrator configuration.
type Config struct {
	// Clock allows injecting a deterministic time source in tests.
	// If nil, time.Now is used.
	Clock func() time.Time

	// Logger receives processing logs. If nil, slog.Default is used.
	Logger *slog.Logger
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine orchestrates one authentication attempt per consumed request
// event.
type Engine struct {
	gateway   ExternalGateway
	publisher broker.OutcomePublisher
	extractor ClaimExtractor
	config    Config
}

// New creates an orchestrator.
func New(gw ExternalGateway, publisher broker.OutcomePublisher, extractor ClaimExtractor, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		gateway:   gw,
		publisher: publisher,
		extractor: extractor,
		config:    cfg,
	}
}

// Handler adapts Process to the broker's consumer callback.
func (e *Engine) Handler() broker.Handler {
	return e.Process
}

// Process runs the full orchestration for one request event.
//
// The returned error is non-nil only for structurally invalid events,
// wrapped with broker.ErrReject so the consumer routes the message to
// the dead-letter path. Every other failure is converted into a
// published outcome and Process returns nil.
func (e *Engine) Process(ctx context.Context, event api.RequestEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrReject, err)
	}

	start := time.Now()
	outcome := e.run(ctx, event)
	observability.ProcessingDuration.Observe(time.Since(start).Seconds())

	e.publish(ctx, outcome)
	return nil
}

// run executes the pipeline steps and returns the terminal outcome.
// It never fails: a panic in any step is recovered into the catch-all
// outcome.
func (e *Engine) run(ctx context.Context, event api.RequestEvent) (outcome api.AuthenticationOutcome) {
	// The recovery defer is installed before any step runs, identity
	// resolution included, so a panicking claim extractor still yields
	// an outcome. Until resolution completes the folder falls back to
	// the neutral identity.
	folderID := event.FolderID
	if folderID == "" {
		folderID = "unknown"
	}
	var citizenID int64

	defer func() {
		if r := recover(); r != nil {
			e.config.Logger.Error("recovered panic during orchestration",
				"document_id", event.DocumentID, "panic", r)
			outcome = e.newOutcome(event.DocumentID, folderID,
				api.StatusInternalError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	folderID, citizenID = e.resolveIdentity(event)

	log := e.config.Logger.With(
		"document_id", event.DocumentID,
		"folder_id", folderID)

	log.Info("starting authentication",
		"override_url", event.OverridePresignedURL != "",
		"bypass_signature", event.BypassSignatureCheck)

	// Step 1: fail-fast health gate. No further external calls when the
	// authority is down.
	if !e.gateway.CheckHealth(ctx) {
		log.Warn("authority unavailable, aborting")
		return e.newOutcome(event.DocumentID, folderID,
			api.StatusInternalError, api.MessageServiceUnavailable)
	}

	// Step 2: URL resolution. An override bypasses the folder service
	// and its breaker entirely.
	documentURL := event.OverridePresignedURL
	if documentURL == "" {
		url, err := e.gateway.FetchPresignedURL(ctx, folderID, event.DocumentID, event.RawToken)
		if err != nil {
			log.Error("presigned URL resolution failed", "error", err)
			return e.newOutcome(event.DocumentID, folderID,
				api.StatusInternalError, fmt.Sprintf("failed to retrieve document url: %v", err))
		}
		documentURL = url
	} else {
		log.Warn("using override presigned URL, folder service bypassed")
	}

	// Step 3: external authentication. A mapped authority response is
	// published verbatim; transport failures become the failure outcome.
	status, message, err := e.gateway.AuthenticateDocument(ctx, citizenID, documentURL, event.DocumentTitle)
	if err != nil {
		log.Error("authority authentication failed", "error", err)
		return e.newOutcome(event.DocumentID, folderID,
			api.StatusInternalError, fmt.Sprintf("authentication failed: %v", err))
	}

	log.Info("authentication completed", "status", string(status))
	return e.newOutcome(event.DocumentID, folderID, status, message)
}

// resolveIdentity returns the folder and citizen identifiers for the
// event. Claims carried on the event win; otherwise they are
// re-extracted from the raw token. Extraction failures fall back to the
// neutral identity rather than aborting: the outcome must still be
// published under some folder.
func (e *Engine) resolveIdentity(event api.RequestEvent) (string, int64) {
	if event.FolderID != "" || event.CitizenID != 0 {
		folderID := event.FolderID
		if folderID == "" {
			folderID = "unknown"
		}
		return folderID, event.CitizenID
	}

	claims, err := e.extractor.ExtractClaims(event.RawToken, event.BypassSignatureCheck)
	if err != nil {
		e.config.Logger.Error("claim extraction failed, using neutral identity",
			"document_id", event.DocumentID, "error", err)
		return "unknown", 0
	}
	return claims.FolderID, claims.CitizenID
}

// newOutcome stamps an outcome with the current time.
func (e *Engine) newOutcome(documentID, folderID string, status api.Status, message string) api.AuthenticationOutcome {
	return api.AuthenticationOutcome{
		DocumentID: documentID,
		FolderID:   folderID,
		StatusCode: status,
		Message:    message,
		RecordedAt: e.config.Clock(),
	}
}

// publish sends the outcome event. A publish failure is logged at
// error level and swallowed: propagating it would make the consumption
// loop redeliver the message indefinitely.
func (e *Engine) publish(ctx context.Context, outcome api.AuthenticationOutcome) {
	event := api.NewOutcomeEvent(outcome)

	if err := e.publisher.PublishOutcome(ctx, event); err != nil {
		e.config.Logger.Error("failed to publish outcome event",
			"document_id", outcome.DocumentID,
			"status", string(outcome.StatusCode),
			"error", err)
		return
	}

	observability.OutcomesTotal.WithLabelValues(string(outcome.StatusCode)).Inc()
	e.config.Logger.Info("outcome published",
		"document_id", outcome.DocumentID,
		"status", string(outcome.StatusCode))
}
