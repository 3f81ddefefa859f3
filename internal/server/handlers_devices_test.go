package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bobmcallan/covault/internal/app"
	"github.com/bobmcallan/covault/internal/clients/mail"
	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/services/tokenauth"
	"github.com/bobmcallan/covault/internal/services/vault"
	"github.com/bobmcallan/covault/internal/storage"
)

// newTestServer creates a server backed by file storage and a local blob
// store, with the full middleware chain attached.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := common.NewSilentLogger()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Engine = "file"
	cfg.Storage.DataPath = t.TempDir()
	cfg.Blob.Backend = "file"
	cfg.Blob.File.Path = t.TempDir()
	cfg.Auth.JWTSecret = "test-jwt-secret"
	cfg.Auth.TokenSealKey = "test-seal-key"

	mgr, err := storage.NewFileManager(logger, cfg)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	blobs, err := storage.NewFileBlobStore(logger, &cfg.Blob.File)
	if err != nil {
		t.Fatalf("NewFileBlobStore failed: %v", err)
	}
	t.Cleanup(func() { blobs.Close() })

	codec, err := tokenauth.NewSecretCodec(cfg.Auth.TokenSealKey)
	if err != nil {
		t.Fatalf("NewSecretCodec failed: %v", err)
	}

	mailer := mail.NewClient(cfg.Mail, logger)
	a := &app.App{
		Config:    cfg,
		Logger:    logger,
		Storage:   mgr,
		Blobs:     blobs,
		Mailer:    mailer,
		TokenAuth: tokenauth.NewService(mgr, codec, mailer, logger),
		Vault:     vault.NewService(mgr, blobs, logger),
	}
	return NewServer(a)
}

// doJSON drives a request through the full handler chain.
func doJSON(t *testing.T, srv *Server, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// decodeData asserts an envelope response and returns its data object.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status 'ok', got %v", resp)
	}
	data, _ := resp["data"].(map[string]interface{})
	return data
}

// createAccount registers a user and returns the share token minted for it.
func createAccount(t *testing.T, srv *Server, username string) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/users", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secretpass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s: expected 201, got %d: %s", username, rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	token, _ := data["access_token"].(string)
	if token == "" {
		t.Fatalf("create %s: no access token in response", username)
	}
	return token
}

// loginJWT logs an account in and returns its session credential.
func loginJWT(t *testing.T, srv *Server, username string) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": "secretpass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", username, rec.Code, rec.Body.String())
	}
	token, _ := decodeData(t, rec)["token"].(string)
	if token == "" {
		t.Fatalf("login %s: no token in response", username)
	}
	return token
}

// deviceLogin performs a token login and returns the grant ID and the
// device credential.
func deviceLogin(t *testing.T, srv *Server, jwt, ownerEmail, accessToken string) (string, string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/devices/login", jwt, map[string]string{
		"owner_email": ownerEmail,
		"token":       accessToken,
		"device":      "test-laptop",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("device login: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	grantID, _ := data["grant_id"].(string)
	deviceToken, _ := data["device_token"].(string)
	if grantID == "" || deviceToken == "" {
		t.Fatalf("device login: incomplete response: %v", data)
	}
	if data["state"] != "pending" {
		t.Errorf("device login: state = %v, want pending", data["state"])
	}
	return grantID, deviceToken
}

// makeFolderWithFile sets up a folder holding one text file and returns
// both IDs.
func makeFolderWithFile(t *testing.T, srv *Server, jwt, folderName, fileName, content string) (string, string) {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/api/vault/folders", jwt, map[string]string{"name": folderName})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create folder: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	folderID, _ := decodeData(t, rec)["folder_id"].(string)
	if folderID == "" {
		t.Fatal("create folder: no folder_id in response")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("multipart: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/vault/folders/"+folderID+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+jwt)
	urec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(urec, req)
	if urec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", urec.Code, urec.Body.String())
	}
	fileID, _ := decodeData(t, urec)["file_id"].(string)
	if fileID == "" {
		t.Fatal("upload: no file_id in response")
	}

	return folderID, fileID
}

func setSelection(t *testing.T, srv *Server, jwt string, folderIDs []string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPut, "/api/vault/selection", jwt, map[string]interface{}{
		"folder_ids": folderIDs,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set selection: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeviceAccessFlow(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	aliceJWT := loginJWT(t, srv, "alice")
	bobJWT := loginJWT(t, srv, "bob")

	folderID, fileID := makeFolderWithFile(t, srv, aliceJWT, "taxes", "return.txt", "hello vault")
	setSelection(t, srv, aliceJWT, []string{folderID})

	grantID, deviceToken := deviceLogin(t, srv, bobJWT, "alice@example.com", aliceToken)

	// The vault stays closed while the grant is pending.
	rec := doJSON(t, srv, http.MethodGet, "/api/devices/vault", deviceToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pending vault access: expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	// The owner sees the request in their pending list.
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/pending", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending list: expected 200, got %d", rec.Code)
	}
	grants, _ := decodeData(t, rec)["grants"].([]interface{})
	if len(grants) != 1 {
		t.Fatalf("pending list: %d grants, want 1", len(grants))
	}

	// Approve and check the status poll flips.
	rec = doJSON(t, srv, http.MethodPost, "/api/devices/"+grantID+"/approve", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/status", deviceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	status := decodeData(t, rec)
	if status["state"] != "approved" {
		t.Errorf("status state = %v, want approved", status["state"])
	}
	if refreshed, _ := status["device_token"].(string); refreshed == "" {
		t.Error("status poll did not refresh the device token")
	}

	// The shared folder and its file are now visible.
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/vault", deviceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("vault: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	folders, _ := decodeData(t, rec)["folders"].([]interface{})
	if len(folders) != 1 {
		t.Fatalf("vault: %d folders, want 1", len(folders))
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/devices/vault/files/"+fileID, deviceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("file fetch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello vault" {
		t.Errorf("file content = %q", rec.Body.String())
	}

	// Deselecting the folder hides its files on the very next request.
	setSelection(t, srv, aliceJWT, nil)
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/vault/files/"+fileID, deviceToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deselected file fetch: expected 404, got %d", rec.Code)
	}

	// Revocation closes everything and the status poll reads 404.
	rec = doJSON(t, srv, http.MethodDelete, "/api/devices/"+grantID, aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/vault", deviceToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("revoked vault access: expected 404, got %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/status", deviceToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("revoked status poll: expected 404, got %d", rec.Code)
	}
}

func TestDeviceLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)

	createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	bobJWT := loginJWT(t, srv, "bob")

	// Wrong token and unknown email both read the same way.
	rec := doJSON(t, srv, http.MethodPost, "/api/devices/login", bobJWT, map[string]string{
		"owner_email": "alice@example.com",
		"token":       "AAAAA-BBBBB-CCCCC-DDDDD",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/devices/login", bobJWT, map[string]string{
		"owner_email": "nobody@example.com",
		"token":       "AAAAA-BBBBB-CCCCC-DDDDD",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown email: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/devices/login", bobJWT, map[string]string{
		"owner_email": "alice@example.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing token: expected 400, got %d", rec.Code)
	}
}

func TestDeviceLoginRejectsSelfAccess(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	aliceJWT := loginJWT(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/api/devices/login", aliceJWT, map[string]string{
		"owner_email": "alice@example.com",
		"token":       aliceToken,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("self access: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeviceSessionCannotReachOwnerEndpoints(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	bobJWT := loginJWT(t, srv, "bob")

	_, deviceToken := deviceLogin(t, srv, bobJWT, "alice@example.com", aliceToken)

	paths := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/devices/login"},
		{http.MethodGet, "/api/devices/pending"},
		{http.MethodGet, "/api/vault/folders"},
		{http.MethodPost, "/api/vault/token/regenerate"},
	}
	for _, p := range paths {
		rec := doJSON(t, srv, p.method, p.path, deviceToken, map[string]string{})
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s with device token: expected 403, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestDeviceRejectIsOpaque(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	aliceJWT := loginJWT(t, srv, "alice")
	bobJWT := loginJWT(t, srv, "bob")

	grantID, deviceToken := deviceLogin(t, srv, bobJWT, "alice@example.com", aliceToken)

	rec := doJSON(t, srv, http.MethodPost, "/api/devices/"+grantID+"/reject", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The requester cannot tell a rejection from a grant that never existed.
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/status", deviceToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after reject: expected 404, got %d", rec.Code)
	}
}

func TestExpiredDeviceCredentialRejected(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	aliceJWT := loginJWT(t, srv, "alice")
	bobJWT := loginJWT(t, srv, "bob")

	folderID, _ := makeFolderWithFile(t, srv, aliceJWT, "taxes", "return.txt", "hello vault")
	setSelection(t, srv, aliceJWT, []string{folderID})

	// Mint the device credential already expired.
	srv.app.Config.Auth.DeviceTokenExpiry = "-1h"
	grantID, deviceToken := deviceLogin(t, srv, bobJWT, "alice@example.com", aliceToken)

	rec := doJSON(t, srv, http.MethodPost, "/api/devices/"+grantID+"/approve", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The ledger says approved, but the dead credential decides first.
	for _, path := range []string{"/api/devices/vault", "/api/devices/status"} {
		rec := doJSON(t, srv, http.MethodGet, path, deviceToken, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with expired credential: expected 401, got %d: %s",
				path, rec.Code, rec.Body.String())
		}
	}

	// The grant itself survives: the owner still sees it approved.
	rec = doJSON(t, srv, http.MethodGet, "/api/devices?state=approved", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list approved: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	grants, _ := decodeData(t, rec)["grants"].([]interface{})
	if len(grants) != 1 {
		t.Errorf("approved grants = %d, want 1", len(grants))
	}
}

func TestGrantOperationsRequireOwnership(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	createAccount(t, srv, "mallory")
	bobJWT := loginJWT(t, srv, "bob")
	malloryJWT := loginJWT(t, srv, "mallory")

	grantID, _ := deviceLogin(t, srv, bobJWT, "alice@example.com", aliceToken)

	rec := doJSON(t, srv, http.MethodPost, "/api/devices/"+grantID+"/approve", malloryJWT, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign approve: expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/api/devices/"+grantID, malloryJWT, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign revoke: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/devices/missing/approve", malloryJWT, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("approve missing grant: expected 404, got %d", rec.Code)
	}
}

func TestDeviceLogoutRemovesGrants(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	aliceJWT := loginJWT(t, srv, "alice")
	bobJWT := loginJWT(t, srv, "bob")

	grantID, deviceToken := deviceLogin(t, srv, bobJWT, "alice@example.com", aliceToken)
	rec := doJSON(t, srv, http.MethodPost, "/api/devices/"+grantID+"/approve", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/devices/logout", deviceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if removed, _ := data["removed"].(float64); removed != 1 {
		t.Errorf("removed = %v, want 1", data["removed"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/devices/status", deviceToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after logout: expected 404, got %d", rec.Code)
	}
}

func TestDeviceLoginRateLimited(t *testing.T) {
	srv := newTestServer(t)

	createAccount(t, srv, "bob")
	bobJWT := loginJWT(t, srv, "bob")

	// Burn through the per-IP burst with bad attempts; httptest requests
	// all share one remote address.
	got429 := false
	for i := 0; i < 10; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/devices/login", bobJWT, map[string]string{
			"owner_email": "alice@example.com",
			"token":       fmt.Sprintf("AAAAA-BBBBB-CCCCC-%05d", i),
		})
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401 or 429, got %d", i, rec.Code)
		}
	}
	if !got429 {
		t.Error("rate limiter never engaged")
	}
}

func TestTokenRegenerateRevokesExistingGrants(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := createAccount(t, srv, "alice")
	createAccount(t, srv, "bob")
	aliceJWT := loginJWT(t, srv, "alice")
	bobJWT := loginJWT(t, srv, "bob")

	grantID, deviceToken := deviceLogin(t, srv, bobJWT, "alice@example.com", aliceToken)
	rec := doJSON(t, srv, http.MethodPost, "/api/devices/"+grantID+"/approve", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/vault/token/regenerate", aliceJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("regenerate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	newToken, _ := decodeData(t, rec)["access_token"].(string)
	if newToken == "" || newToken == aliceToken {
		t.Fatalf("regenerate did not mint a fresh token")
	}

	// The approved grant died with the old token.
	rec = doJSON(t, srv, http.MethodGet, "/api/devices/vault", deviceToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("vault after rotation: expected 404, got %d", rec.Code)
	}

	// Old token no longer opens a grant; the new one does.
	rec = doJSON(t, srv, http.MethodPost, "/api/devices/login", bobJWT, map[string]string{
		"owner_email": "alice@example.com",
		"token":       aliceToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("old token: expected 401, got %d", rec.Code)
	}
	deviceLogin(t, srv, bobJWT, "alice@example.com", newToken)
}
