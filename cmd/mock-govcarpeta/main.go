// Command mock-govcarpeta runs a deterministic stand-in for the two
// external services the pipeline calls: the government authentication
// authority and the citizen folder service. The authority's verdict is
// selected from the document title so every outcome path can be
// exercised end to end without the real services.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("HEAD /apis/", handleHealth)
	mux.HandleFunc("GET /apis/", handleHealth)
	mux.HandleFunc("PUT /apis/authenticateDocument", handleAuthenticate)
	mux.HandleFunc("GET /api/v1/carpetas/{folderId}/documentos/{documentId}/descargar", handleDownload)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock govcarpeta starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock govcarpeta failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock govcarpeta shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// authenticateRequest mirrors the authority's wire contract.
type authenticateRequest struct {
	IDCitizen     int64  `json:"idCitizen"`
	URLDocument   string `json:"UrlDocument"`
	DocumentTitle string `json:"documentTitle"`
}

// handleAuthenticate selects the verdict from the document title so
// test scenarios can force each outcome:
//
//	"reject"  -> 500 Application Error
//	"invalid" -> 501 Wrong Parameters
//	"empty"   -> 204 No Content
//	anything else -> 200 authenticated
func handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URLDocument == "" || req.IDCitizen == 0 {
		writeMessage(w, http.StatusNotImplemented, "Wrong Parameters")
		return
	}

	title := strings.ToLower(req.DocumentTitle)
	switch {
	case strings.Contains(title, "reject"):
		writeMessage(w, http.StatusInternalServerError, "Application Error")
	case strings.Contains(title, "invalid"):
		writeMessage(w, http.StatusNotImplemented, "Wrong Parameters")
	case strings.Contains(title, "empty"):
		w.WriteHeader(http.StatusNoContent)
	default:
		// The authority's 200 body is a bare JSON string.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode("Document authenticated")
	}
}

// handleDownload returns a presigned-style URL for the requested
// document, using the same flat JSON shape the folder service emits.
func handleDownload(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	folderID := r.PathValue("folderId")
	documentID := r.PathValue("documentId")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"urlDescarga": "https://storage.mock-govcarpeta.local/" + folderID + "/" + documentID + "?sig=mock",
	})
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
