package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"kisflow/config"
	"kisflow/logger"
)

const timeFormat = "2006-01-02 15:04:05"

// A credential within this margin of its expiry is treated as expired
// and re-issued.
const safetyMargin = 10 * time.Minute

// The broker does not declare a lifetime for the websocket approval
// key; 23 hours is the conservative working assumption.
const approvalKeyLifetime = 23 * time.Hour

// ErrAuth marks a failed credential exchange with the broker. It is
// fatal at startup and recoverable on the next call otherwise.
var ErrAuth = errors.New("credential exchange failed")

// Record is the persisted credential file. Both the REST bearer token
// and the websocket approval key live in the same file; updates to one
// pair must never clobber the other.
type Record struct {
	AccessToken     string `json:"access_token,omitempty"`
	TokenExpired    string `json:"token_expired_time,omitempty"`
	TokenType       string `json:"token_type,omitempty"`
	ApprovalKey     string `json:"approval_key,omitempty"`
	ApprovalExpired string `json:"approval_expired_time,omitempty"`
}

// Manager lazily acquires and caches the two broker credentials. There
// is no background refresh loop: every consumer asks on use, so a
// failed exchange is naturally retried on the next call.
type Manager struct {
	cfg    config.BrokerConfig
	file   string
	client *http.Client
	mu     sync.Mutex
	now    func() time.Time
	log    *logger.Log
}

func NewManager(cfg config.BrokerConfig) *Manager {
	return &Manager{
		cfg:  cfg,
		file: cfg.TokenFile,
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		},
		now: time.Now,
		log: logger.GetLogger(),
	}
}

// Token returns a valid REST bearer token, exchanging a new one with
// the broker when the cached token is expired or near expiry.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.readRecord()
	if rec.AccessToken != "" && m.valid(rec.TokenExpired) {
		return rec.AccessToken, nil
	}

	log := m.log.WithComponent("auth").WithFields(logger.Fields{"operation": "token"})
	log.Info("requesting new access token")

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     m.cfg.AppKey,
		"appsecret":  m.cfg.AppSecret,
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := m.post(ctx, m.cfg.BaseURL()+"/oauth2/tokenP", body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token in response", ErrAuth)
	}

	expiresIn := resp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 86400
	}
	// Shave a minute off the declared lifetime so a token is never
	// used right at its edge.
	expiry := m.now().Add(time.Duration(expiresIn-60) * time.Second)

	rec.AccessToken = resp.AccessToken
	rec.TokenExpired = expiry.Format(timeFormat)
	if resp.TokenType != "" {
		rec.TokenType = resp.TokenType
	} else {
		rec.TokenType = "Bearer"
	}
	if err := m.writeRecord(rec); err != nil {
		log.WithError(err).Warn("failed to persist token record")
	}

	log.WithFields(logger.Fields{"expires": rec.TokenExpired}).Info("access token refreshed")
	return rec.AccessToken, nil
}

// ApprovalKey returns a valid websocket subscription key, exchanging a
// new one when the cached key is expired or near expiry.
func (m *Manager) ApprovalKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.readRecord()
	if rec.ApprovalKey != "" && m.valid(rec.ApprovalExpired) {
		return rec.ApprovalKey, nil
	}

	log := m.log.WithComponent("auth").WithFields(logger.Fields{"operation": "approval_key"})
	log.Info("requesting new websocket approval key")

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     m.cfg.AppKey,
		"secretkey":  m.cfg.AppSecret,
	}
	var resp struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := m.post(ctx, m.cfg.BaseURL()+"/oauth2/Approval", body, &resp); err != nil {
		return "", err
	}
	if resp.ApprovalKey == "" {
		return "", fmt.Errorf("%w: empty approval key in response", ErrAuth)
	}

	rec.ApprovalKey = resp.ApprovalKey
	rec.ApprovalExpired = m.now().Add(approvalKeyLifetime).Format(timeFormat)
	if err := m.writeRecord(rec); err != nil {
		log.WithError(err).Warn("failed to persist approval key record")
	}

	log.WithFields(logger.Fields{"expires": rec.ApprovalExpired}).Info("approval key refreshed")
	return rec.ApprovalKey, nil
}

func (m *Manager) post(ctx context.Context, url string, body map[string]string, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.Header.Set("content-type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d from %s", ErrAuth, res.StatusCode, url)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return nil
}

// valid reports whether the expiry timestamp is more than the safety
// margin away from now.
func (m *Manager) valid(expiry string) bool {
	if expiry == "" {
		return false
	}
	t, err := time.ParseInLocation(timeFormat, expiry, time.Local)
	if err != nil {
		return false
	}
	return t.Sub(m.now()) > safetyMargin
}

// readRecord loads the persisted credential file. A missing or
// unreadable file yields an empty record; the caller re-issues what it
// needs.
func (m *Manager) readRecord() Record {
	var rec Record
	data, err := os.ReadFile(m.file)
	if err != nil {
		return rec
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		m.log.WithComponent("auth").WithError(err).Warn("credential file unreadable, reissuing")
		return Record{}
	}
	return rec
}

// writeRecord overwrites the credential file with the merged record.
// Callers always read-modify-write, so fields belonging to the other
// credential survive the update.
func (m *Manager) writeRecord(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.file, data, 0600)
}
