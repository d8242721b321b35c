package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
)

const testSecret = "test-signing-secret"

// signedToken creates an HS256 token signed with testSecret.
func signedToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return s
}

// unverifiedToken builds a structurally valid token with an arbitrary
// payload and a garbage signature, for the bypass path.
func unverifiedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshaling claims: %v", err)
	}
	segment := strings.TrimRight(base64.URLEncoding.EncodeToString(payload), "=")
	return "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." + segment + ".not-a-signature"
}

func newTestExtractor() *Extractor {
	return New(Config{Secret: testSecret})
}

func TestExtractVerifiedToken(t *testing.T) {
	token := signedToken(t, jwtlib.MapClaims{
		"folderId":  "f-100",
		"citizenId": float64(42),
		"sub":       "user-1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	cs, err := newTestExtractor().ExtractClaims(token, false)
	if err != nil {
		t.Fatalf("ExtractClaims: %v", err)
	}
	if cs.FolderID != "f-100" {
		t.Errorf("folderId = %q, want %q", cs.FolderID, "f-100")
	}
	if cs.CitizenID != 42 {
		t.Errorf("citizenId = %d, want 42", cs.CitizenID)
	}
	if cs.Subject != "user-1" {
		t.Errorf("subject = %q, want %q", cs.Subject, "user-1")
	}
}

func TestExtractTamperedSignature(t *testing.T) {
	token := signedToken(t, jwtlib.MapClaims{"folderId": "f-100"})
	tampered := token[:len(token)-4] + "AAAA"

	_, err := newTestExtractor().ExtractClaims(tampered, false)
	if err == nil {
		t.Fatal("expected error for tampered signature")
	}
	if !api.IsKind(err, api.ErrorKindAuthenticationFailure) {
		t.Errorf("error kind = %v, want authentication_failure", err)
	}

	var pe *api.PipelineError
	if !errors.As(err, &pe) {
		t.Fatal("expected *api.PipelineError")
	}
	if pe.Message != "invalid credentials" {
		t.Errorf("message = %q, internal detail must not leak", pe.Message)
	}
}

func TestExtractExpiredToken(t *testing.T) {
	token := signedToken(t, jwtlib.MapClaims{
		"folderId": "f-100",
		"exp":      time.Now().Add(-time.Hour).Unix(),
	})

	_, err := newTestExtractor().ExtractClaims(token, false)
	if !api.IsKind(err, api.ErrorKindAuthenticationFailure) {
		t.Errorf("expired token: error = %v, want authentication_failure", err)
	}
}

func TestExtractWrongAlgorithmRejected(t *testing.T) {
	// Token asserting alg "none" must be rejected even with a valid shape.
	header := strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)), "=")
	payload := strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(`{"folderId":"f"}`)), "=")
	token := header + "." + payload + "."

	_, err := newTestExtractor().ExtractClaims(token, false)
	if !api.IsKind(err, api.ErrorKindAuthenticationFailure) {
		t.Errorf("alg=none token: error = %v, want authentication_failure", err)
	}
}

func TestBypassFieldFallbacks(t *testing.T) {
	tests := []struct {
		name        string
		claims      map[string]any
		wantFolder  string
		wantCitizen int64
	}{
		{
			name:        "primary names",
			claims:      map[string]any{"folderId": "f1", "citizenId": 42},
			wantFolder:  "f1",
			wantCitizen: 42,
		},
		{
			name:        "alternate names",
			claims:      map[string]any{"carpetaId": "c9", "idCitizen": 7},
			wantFolder:  "c9",
			wantCitizen: 7,
		},
		{
			name:        "primary wins over alternate",
			claims:      map[string]any{"folderId": "f1", "carpetaId": "c9", "citizenId": 1, "idCitizen": 2},
			wantFolder:  "f1",
			wantCitizen: 1,
		},
		{
			name:        "subject as folder fallback",
			claims:      map[string]any{"sub": "user-3"},
			wantFolder:  "user-3",
			wantCitizen: 0,
		},
		{
			name:        "nothing present",
			claims:      map[string]any{"foo": "bar"},
			wantFolder:  "unknown",
			wantCitizen: 0,
		},
		{
			name:        "numeric string citizen id",
			claims:      map[string]any{"folderId": "f1", "citizenId": "1234567890"},
			wantFolder:  "f1",
			wantCitizen: 1234567890,
		},
	}

	ex := newTestExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := ex.ExtractClaims(unverifiedToken(t, tt.claims), true)
			if err != nil {
				t.Fatalf("ExtractClaims: %v", err)
			}
			if cs.FolderID != tt.wantFolder {
				t.Errorf("folderId = %q, want %q", cs.FolderID, tt.wantFolder)
			}
			if cs.CitizenID != tt.wantCitizen {
				t.Errorf("citizenId = %d, want %d", cs.CitizenID, tt.wantCitizen)
			}
		})
	}
}

func TestBypassMalformedTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"two segments", "only.two"},
		{"four segments", "a.b.c.d"},
		{"payload not base64", "h.!!!not-base64!!!.s"},
		{"payload not json", "h." + base64.URLEncoding.EncodeToString([]byte("not json")) + ".s"},
	}

	ex := newTestExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.ExtractClaims(tt.token, true)
			if !api.IsKind(err, api.ErrorKindMalformedToken) {
				t.Errorf("error = %v, want malformed_token", err)
			}
		})
	}
}

func TestBypassRestoresPadding(t *testing.T) {
	// A payload whose base64 form needs two padding characters.
	claims := map[string]any{"folderId": "f", "citizenId": 1}
	payload, _ := json.Marshal(claims)
	segment := strings.TrimRight(base64.URLEncoding.EncodeToString(payload), "=")
	if len(segment)%4 == 0 {
		t.Skip("payload does not exercise padding restoration")
	}

	cs, err := newTestExtractor().ExtractClaims("h."+segment+".s", true)
	if err != nil {
		t.Fatalf("ExtractClaims: %v", err)
	}
	if cs.FolderID != "f" {
		t.Errorf("folderId = %q, want %q", cs.FolderID, "f")
	}
}

func TestExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	if Expired(api.ClaimSet{Expiry: 2000}, now) {
		t.Error("future expiry reported as expired")
	}
	if !Expired(api.ClaimSet{Expiry: 500}, now) {
		t.Error("past expiry not reported as expired")
	}
	if Expired(api.ClaimSet{}, now) {
		t.Error("zero expiry must never be expired")
	}
}
