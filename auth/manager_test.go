package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kisflow/config"
)

func testManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	cfg := config.BrokerConfig{
		Mode:              "virtual",
		VirtualBaseURL:    baseURL,
		RealBaseURL:       baseURL,
		AppKey:            "key",
		AppSecret:         "secret",
		TokenFile:         filepath.Join(t.TempDir(), "access_token.json"),
		RequestTimeoutSec: 2,
	}
	return NewManager(cfg)
}

func TestTokenExchangeAndCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/tokenP" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-1",
			"expires_in":   86400,
			"token_type":   "Bearer",
		})
	}))
	defer srv.Close()

	m := testManager(t, srv.URL)

	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %s, want tok-1", tok)
	}

	// Second call must come from the cache.
	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("cached Token failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("exchange calls = %d, want 1", calls)
	}
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-new",
			"expires_in":   86400,
		})
	}))
	defer srv.Close()

	m := testManager(t, srv.URL)

	// Seed a token expiring inside the safety margin.
	rec := Record{
		AccessToken:  "tok-old",
		TokenExpired: time.Now().Add(5 * time.Minute).Format(timeFormat),
	}
	if err := m.writeRecord(rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "tok-new" {
		t.Errorf("token = %s, want refresh to tok-new", tok)
	}
	if calls != 1 {
		t.Errorf("exchange calls = %d, want 1", calls)
	}
}

func TestMergeWriteKeepsUnrelatedFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok-1",
				"expires_in":   86400,
			})
		case "/oauth2/Approval":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"approval_key": "appr-1",
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := testManager(t, srv.URL)
	ctx := context.Background()

	if _, err := m.Token(ctx); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if _, err := m.ApprovalKey(ctx); err != nil {
		t.Fatalf("ApprovalKey failed: %v", err)
	}

	data, err := os.ReadFile(m.file)
	if err != nil {
		t.Fatalf("read credential file: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal credential file: %v", err)
	}
	if rec.AccessToken != "tok-1" {
		t.Errorf("access token lost after approval update: %q", rec.AccessToken)
	}
	if rec.ApprovalKey != "appr-1" {
		t.Errorf("approval key missing: %q", rec.ApprovalKey)
	}
	if rec.TokenExpired == "" || rec.ApprovalExpired == "" {
		t.Errorf("expiry fields incomplete: %+v", rec)
	}
}

func TestTokenExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	m := testManager(t, srv.URL)
	if _, err := m.Token(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestValidRejectsGarbageExpiry(t *testing.T) {
	m := testManager(t, "http://unused")
	if m.valid("") {
		t.Errorf("empty expiry treated as valid")
	}
	if m.valid("not-a-time") {
		t.Errorf("malformed expiry treated as valid")
	}
	if !m.valid(time.Now().Add(time.Hour).Format(timeFormat)) {
		t.Errorf("hour-away expiry treated as invalid")
	}
}
