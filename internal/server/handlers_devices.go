package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/bobmcallan/covault/internal/interfaces"
	"github.com/bobmcallan/covault/internal/models"
	"github.com/bobmcallan/covault/internal/services/tokenauth"
	"golang.org/x/time/rate"
)

// ipLimiter throttles token login attempts per client IP so the share token
// cannot be brute-forced online.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newIPLimiter(r rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Bound memory under address churn. Resetting grants every IP a fresh
	// burst, which is acceptable at this threshold.
	if len(l.limiters) > 4096 {
		l.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}

// clientIP resolves the client address, honoring X-Forwarded-For from a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- Device access handlers ---

// handleDeviceLogin handles POST /api/devices/login. An authenticated user on
// a second device presents an owner's email and share token; on match a
// pending grant is created and a device-scoped JWT bound to it is returned.
// The device can use that token immediately for status polling, but vault
// access stays closed until the owner approves.
func (s *Server) handleDeviceLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if !s.loginLimiter.allow(clientIP(r)) {
		WriteError(w, http.StatusTooManyRequests, "too many login attempts, slow down")
		return
	}

	var req struct {
		OwnerEmail string `json:"owner_email"`
		Token      string `json:"token"`
		Device     string `json:"device"`
		Origin     string `json:"origin"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.OwnerEmail == "" || req.Token == "" {
		WriteError(w, http.StatusBadRequest, "owner_email and token are required")
		return
	}

	ctx := r.Context()
	origin := req.Origin
	if origin == "" {
		origin = clientIP(r)
	}

	grant, err := s.app.TokenAuth.TokenLogin(ctx, interfaces.TokenLoginRequest{
		RequesterID: uc.UserID,
		OwnerEmail:  req.OwnerEmail,
		Token:       req.Token,
		Device:      req.Device,
		Origin:      origin,
	})
	if err != nil {
		switch {
		case errors.Is(err, tokenauth.ErrInvalidOwnerToken):
			WriteError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, tokenauth.ErrSelfAccess):
			WriteError(w, http.StatusConflict, "cannot request device access to your own vault")
		default:
			s.logger.Error().Err(err).Msg("Token login failed")
			WriteError(w, http.StatusInternalServerError, "failed to process token login")
		}
		return
	}

	requester, err := s.app.Storage.InternalStore().GetUser(ctx, uc.UserID)
	if err != nil || requester == nil {
		WriteError(w, http.StatusInternalServerError, "failed to load requester")
		return
	}
	deviceToken, err := signDeviceJWT(requester, grant.GrantID, &s.app.Config.Auth)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to sign device token")
		WriteError(w, http.StatusInternalServerError, "failed to sign device token")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "ok",
		"data": map[string]interface{}{
			"grant_id":     grant.GrantID,
			"state":        grant.State,
			"device_token": deviceToken,
		},
	})
}

// handleDeviceStatus handles GET /api/devices/status. Polled by the second
// device. A missing grant reads as 404 whether it never existed, was
// rejected, or was revoked; the requester cannot tell those apart.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	uc, ok := requireUser(w, r)
	if !ok {
		return
	}

	grantID := uc.GrantID
	if grantID == "" {
		grantID = r.URL.Query().Get("grant_id")
	}
	if grantID == "" {
		WriteError(w, http.StatusBadRequest, "grant_id is required")
		return
	}

	ctx := r.Context()
	status, err := s.app.TokenAuth.Status(ctx, uc.UserID, grantID)
	if err != nil {
		if errors.Is(err, tokenauth.ErrGrantNotFound) {
			WriteError(w, http.StatusNotFound, "grant not found")
			return
		}
		s.logger.Error().Err(err).Str("grant_id", grantID).Msg("Failed to load grant status")
		WriteError(w, http.StatusInternalServerError, "failed to load grant status")
		return
	}

	data := map[string]interface{}{
		"grant_id":     status.GrantID,
		"state":        status.State,
		"owner_email":  status.OwnerEmail,
		"requested_at": status.RequestedAt,
		"approved_at":  status.ApprovedAt,
	}

	// Device tokens are short-lived; hand the poller a fresh one while the
	// grant is still alive.
	if requester, err := s.app.Storage.InternalStore().GetUser(ctx, uc.UserID); err == nil && requester != nil {
		if deviceToken, err := signDeviceJWT(requester, status.GrantID, &s.app.Config.Auth); err == nil {
			data["device_token"] = deviceToken
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data":   data,
	})
}

// handleDevicePending handles GET /api/devices/pending for the owner.
func (s *Server) handleDevicePending(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}
	s.writeGrantList(w, r, uc.UserID, models.GrantStatePending)
}

// handleDeviceList handles GET /api/devices for the owner, optionally
// filtered with ?state=pending|approved.
func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}
	s.writeGrantList(w, r, uc.UserID, r.URL.Query().Get("state"))
}

func (s *Server) writeGrantList(w http.ResponseWriter, r *http.Request, ownerID, state string) {
	grants, err := s.app.TokenAuth.Grants(r.Context(), ownerID, state)
	if err != nil {
		s.logger.Error().Err(err).Str("owner_id", ownerID).Msg("Failed to list grants")
		WriteError(w, http.StatusInternalServerError, "failed to list grants")
		return
	}

	items := make([]map[string]interface{}, 0, len(grants))
	for _, g := range grants {
		items = append(items, grantResponse(g))
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data": map[string]interface{}{
			"grants": items,
		},
	})
}

// routeDevices dispatches /api/devices/{id} and /api/devices/{id}/{action}.
func (s *Server) routeDevices(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if path == "" {
		s.handleDeviceList(w, r)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	grantID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "":
		if !RequireMethod(w, r, http.MethodDelete) {
			return
		}
		s.handleDeviceRemove(w, r, grantID)
	case "approve":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleDeviceApprove(w, r, grantID)
	case "reject":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleDeviceRemove(w, r, grantID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// handleDeviceApprove approves a pending grant. Repeating an approval is a
// no-op and returns the grant unchanged.
func (s *Server) handleDeviceApprove(w http.ResponseWriter, r *http.Request, grantID string) {
	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	grant, err := s.app.TokenAuth.Approve(r.Context(), uc.UserID, grantID)
	if err != nil {
		s.writeGrantError(w, err, grantID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data":   grantResponse(grant),
	})
}

// handleDeviceRemove rejects a pending grant or revokes an approved one.
// Both are the same storage operation: the grant is deleted and the second
// device sees 404 from its next request onward.
func (s *Server) handleDeviceRemove(w http.ResponseWriter, r *http.Request, grantID string) {
	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := s.app.TokenAuth.Remove(r.Context(), uc.UserID, grantID); err != nil {
		s.writeGrantError(w, err, grantID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// handleDeviceLogout handles POST /api/devices/logout. The requester walks
// away: every grant they hold, pending or approved, is deleted.
func (s *Server) handleDeviceLogout(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	uc, ok := requireUser(w, r)
	if !ok {
		return
	}

	removed, err := s.app.TokenAuth.Cancel(r.Context(), uc.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("requester_id", uc.UserID).Msg("Failed to cancel grants")
		WriteError(w, http.StatusInternalServerError, "failed to log out device")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data": map[string]interface{}{
			"removed": removed,
		},
	})
}

// handleDeviceVault handles GET /api/devices/vault. Returns the owner's
// shared folder projection for an approved grant.
func (s *Server) handleDeviceVault(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	grant, ok := s.requireApprovedGrant(w, r)
	if !ok {
		return
	}

	listing, err := s.app.Vault.Projection(r.Context(), grant.OwnerID)
	if err != nil {
		s.logger.Error().Err(err).Str("owner_id", grant.OwnerID).Msg("Failed to build vault projection")
		WriteError(w, http.StatusInternalServerError, "failed to load shared vault")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data": map[string]interface{}{
			"folders": listing,
		},
	})
}

// handleDeviceFile handles GET /api/devices/vault/files/{id}, streaming the
// file body for blob backends that cannot presign download URLs.
func (s *Server) handleDeviceFile(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	grant, ok := s.requireApprovedGrant(w, r)
	if !ok {
		return
	}

	fileID := strings.TrimPrefix(r.URL.Path, "/api/devices/vault/files/")
	if fileID == "" {
		WriteError(w, http.StatusBadRequest, "file id is required in path")
		return
	}

	ctx := r.Context()
	file, err := s.app.Storage.VaultStore().GetFile(ctx, fileID)
	if err != nil {
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to load file")
		WriteError(w, http.StatusInternalServerError, "failed to load file")
		return
	}
	if file == nil || file.OwnerID != grant.OwnerID {
		WriteError(w, http.StatusNotFound, "file not found")
		return
	}

	// The selection is read live: a folder the owner deselected after
	// approval is gone from the device's view immediately.
	owner, err := s.app.Storage.InternalStore().GetUser(ctx, grant.OwnerID)
	if err != nil || owner == nil || !owner.HasSelected(file.FolderID) {
		WriteError(w, http.StatusNotFound, "file not found")
		return
	}

	meta, body, err := s.app.Vault.OpenFile(ctx, fileID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "file not found")
		return
	}
	defer body.Close()

	writeFileStream(w, meta, body)
}

// requireApprovedGrant authorizes a device-scoped request against its grant.
// The grant is re-read from storage on every call: 404 when it is gone
// (revoked or rejected), 403 while it is still pending.
func (s *Server) requireApprovedGrant(w http.ResponseWriter, r *http.Request) (*models.DeviceGrant, bool) {
	uc, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	if !uc.DeviceScope || uc.GrantID == "" {
		WriteError(w, http.StatusForbidden, "a device session is required for this resource")
		return nil, false
	}

	grant, err := s.app.Storage.GrantStore().Get(r.Context(), uc.GrantID)
	if err != nil {
		s.logger.Error().Err(err).Str("grant_id", uc.GrantID).Msg("Failed to load grant")
		WriteError(w, http.StatusInternalServerError, "failed to load grant")
		return nil, false
	}
	if grant == nil || grant.RequesterID != uc.UserID {
		WriteError(w, http.StatusNotFound, "access has been revoked")
		return nil, false
	}
	if !grant.IsApproved() {
		WriteError(w, http.StatusForbidden, "access is pending owner approval")
		return nil, false
	}
	return grant, true
}

// writeGrantError maps grant service errors onto HTTP status codes.
func (s *Server) writeGrantError(w http.ResponseWriter, err error, grantID string) {
	switch {
	case errors.Is(err, tokenauth.ErrGrantNotFound):
		WriteError(w, http.StatusNotFound, "grant not found")
	case errors.Is(err, tokenauth.ErrNotOwner):
		WriteError(w, http.StatusForbidden, "grant belongs to another owner")
	default:
		s.logger.Error().Err(err).Str("grant_id", grantID).Msg("Grant operation failed")
		WriteError(w, http.StatusInternalServerError, "grant operation failed")
	}
}

// grantResponse builds a response map for a device grant.
func grantResponse(g *models.DeviceGrant) map[string]interface{} {
	return map[string]interface{}{
		"grant_id":       g.GrantID,
		"requester_id":   g.RequesterID,
		"device":         g.Device,
		"origin":         g.Origin,
		"state":          g.State,
		"requested_at":   g.RequestedAt,
		"approved_at":    g.ApprovedAt,
		"scope_override": g.ScopeOverride,
	}
}

// writeFileStream copies a blob body to the response with content headers.
func writeFileStream(w http.ResponseWriter, meta *models.FileObject, body io.Reader) {
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(meta.Name, `"`, "")+`"`)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}
