package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/covault/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Users
	mux.HandleFunc("/api/users/", s.routeUsers)
	mux.HandleFunc("/api/users", s.handleUserCreate)

	// Auth
	mux.HandleFunc("/api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("/api/auth/validate", s.handleAuthValidate)

	// Device access
	mux.HandleFunc("/api/devices/login", s.handleDeviceLogin)
	mux.HandleFunc("/api/devices/logout", s.handleDeviceLogout)
	mux.HandleFunc("/api/devices/status", s.handleDeviceStatus)
	mux.HandleFunc("/api/devices/pending", s.handleDevicePending)
	mux.HandleFunc("/api/devices/vault/files/", s.handleDeviceFile)
	mux.HandleFunc("/api/devices/vault", s.handleDeviceVault)
	mux.HandleFunc("/api/devices/", s.routeDevices)
	mux.HandleFunc("/api/devices", s.handleDeviceList)

	// Vault
	mux.HandleFunc("/api/vault/folders/", s.routeVaultFolders)
	mux.HandleFunc("/api/vault/folders", s.handleVaultFolders)
	mux.HandleFunc("/api/vault/files/", s.routeVaultFiles)
	mux.HandleFunc("/api/vault/selection", s.handleVaultSelection)
	mux.HandleFunc("/api/vault/token/regenerate", s.handleTokenRegenerate)
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
