package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aegisx/aegisx/internal/credential"
	"github.com/aegisx/aegisx/internal/model"
)

// ---------------------------------------------------------------------------
// queryBool tests
// ---------------------------------------------------------------------------

func TestQueryBool(t *testing.T) {
	tests := []struct {
		name string
		url  string
		key  string
		want bool
	}{
		{"true for 'true'", "/test?active=true", "active", true},
		{"true for '1'", "/test?active=1", "active", true},
		{"false for 'false'", "/test?active=false", "active", false},
		{"false for missing", "/test", "active", false},
		{"false for '0'", "/test?active=0", "active", false},
		{"false for garbage", "/test?active=yes please", "active", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", strings.ReplaceAll(tt.url, " ", "%20"), nil)
			if got := queryBool(r, tt.key); got != tt.want {
				t.Errorf("queryBool(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// readJSON tests
// ---------------------------------------------------------------------------

func TestReadJSONEmptyBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(""))
	v := struct{ Label string }{Label: "unchanged"}
	if err := readJSON(r, &v); err != nil {
		t.Fatalf("readJSON on empty body: %v", err)
	}
	if v.Label != "unchanged" {
		t.Errorf("Label = %q, want unchanged", v.Label)
	}
}

func TestReadJSONInvalid(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader("{not json"))
	var v map[string]any
	if err := readJSON(r, &v); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// error envelope tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusNotFound, "nothing here")

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != http.StatusNotFound || resp.Error.Message != "nothing here" {
		t.Errorf("unexpected envelope %+v", resp.Error)
	}
}

func TestWriteCredentialError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeCredentialError(rr, http.StatusForbidden, fmt.Errorf("%w: write on users", credential.ErrInsufficientScope))

	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Reason != "insufficient_scope" {
		t.Errorf("reason = %q", resp.Error.Reason)
	}
	if resp.Error.Remediation != credential.Remediation(credential.ErrInsufficientScope) {
		t.Errorf("remediation = %q", resp.Error.Remediation)
	}
}
