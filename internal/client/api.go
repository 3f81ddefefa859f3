package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server. For a device
// session that means the grant is gone: rejected, revoked, or cancelled.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// API is an HTTP client for the covault server.
type API struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *common.Logger
}

// NewAPI creates a client for the server at baseURL.
func NewAPI(baseURL string, logger *common.Logger) *API {
	if logger == nil {
		logger = common.NewDefaultLogger()
	}
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// SetToken sets the bearer token used on subsequent requests.
func (a *API) SetToken(token string) {
	a.token = token
}

// envelope is the server's standard response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// doJSON issues a request with an optional JSON body and decodes the data
// envelope into out when out is non-nil.
func (a *API) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// Login authenticates with username and password and returns a session JWT.
func (a *API) Login(ctx context.Context, username, password string) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	err := a.doJSON(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &data)
	if err != nil {
		return "", err
	}
	return data.Token, nil
}

// DeviceSession is the result of a token login.
type DeviceSession struct {
	GrantID     string `json:"grant_id"`
	State       string `json:"state"`
	DeviceToken string `json:"device_token"`
}

// DeviceLogin presents an owner's email and share token, creating a pending
// access grant. Requires a primary session token to be set.
func (a *API) DeviceLogin(ctx context.Context, ownerEmail, shareToken, device string) (*DeviceSession, error) {
	var data DeviceSession
	err := a.doJSON(ctx, http.MethodPost, "/api/devices/login", map[string]string{
		"owner_email": ownerEmail,
		"token":       shareToken,
		"device":      device,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// GrantStatus is the device's view of its access grant.
type GrantStatus struct {
	GrantID     string     `json:"grant_id"`
	State       string     `json:"state"`
	OwnerEmail  string     `json:"owner_email"`
	RequestedAt time.Time  `json:"requested_at"`
	ApprovedAt  *time.Time `json:"approved_at"`
	DeviceToken string     `json:"device_token"`
}

// Status fetches the current grant state. The response carries a refreshed
// device token which the caller should adopt.
func (a *API) Status(ctx context.Context) (*GrantStatus, error) {
	var data GrantStatus
	if err := a.doJSON(ctx, http.MethodGet, "/api/devices/status", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Vault fetches the owner's shared folder projection.
func (a *API) Vault(ctx context.Context) ([]models.FolderListing, error) {
	var data struct {
		Folders []models.FolderListing `json:"folders"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/devices/vault", nil, &data); err != nil {
		return nil, err
	}
	return data.Folders, nil
}

// FetchFile streams a shared file's body. The caller must close the reader.
func (a *API) FetchFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/devices/vault/files/"+fileID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		var env envelope
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp.Body, nil
}

// GrantSummary is the owner's view of one device grant.
type GrantSummary struct {
	GrantID     string    `json:"grant_id"`
	RequesterID string    `json:"requester_id"`
	Device      string    `json:"device"`
	Origin      string    `json:"origin"`
	State       string    `json:"state"`
	RequestedAt time.Time `json:"requested_at"`
}

// Grants lists the authenticated owner's device grants, optionally
// filtered by state.
func (a *API) Grants(ctx context.Context, state string) ([]GrantSummary, error) {
	path := "/api/devices"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	var data struct {
		Grants []GrantSummary `json:"grants"`
	}
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Grants, nil
}

// PendingGrants lists grants waiting on the owner's approval.
func (a *API) PendingGrants(ctx context.Context) ([]GrantSummary, error) {
	var data struct {
		Grants []GrantSummary `json:"grants"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/devices/pending", nil, &data); err != nil {
		return nil, err
	}
	return data.Grants, nil
}

// Logout cancels every grant the authenticated user holds as requester.
func (a *API) Logout(ctx context.Context) error {
	return a.doJSON(ctx, http.MethodPost, "/api/devices/logout", nil, nil)
}
