// ABOUTME: HTTP route table for the chat gateway built on gorilla/mux
// ABOUTME: Mounts health, metrics, attachment files, the /api/v1 REST surface and the /ws live endpoint

package gateway

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/shopchat/internal/auth"
)

// newRouter builds the HTTP handler. Fixed /conversations paths are
// registered before /conversations/{id} so they are not captured as ids.
func (g *Gateway) newRouter() *mux.Router {
	r := mux.NewRouter()

	// Health endpoints - no auth required
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", g.handleReady).Methods(http.MethodGet)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	if g.files != nil {
		prefix := strings.TrimSuffix(filesPrefix(g.config.Attachments.PublicBaseURL), "/")
		r.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, g.files)).Methods(http.MethodGet, http.MethodHead)
	}

	authMiddleware := auth.HTTPAuthMiddleware(g.verifier, g.store, auth.MiddlewareOptions{
		AllowDevHeaders: g.config.Auth.DevHeadersEnabled(),
		Logger:          g.logger,
	})
	adminOnly := auth.RequireAdminHTTP()

	r.Handle("/ws", authMiddleware(http.HandlerFunc(g.handleLive))).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/conversations", g.handleStartChat).Methods(http.MethodPost)
	api.HandleFunc("/conversations", g.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/general", g.handleGeneralChat).Methods(http.MethodPost)
	api.Handle("/conversations/unassigned", adminOnly(http.HandlerFunc(g.handleListUnassigned))).Methods(http.MethodGet)

	api.HandleFunc("/conversations/{id}", g.handleGetConversation).Methods(http.MethodGet)
	api.Handle("/conversations/{id}", adminOnly(http.HandlerFunc(g.handleDeleteConversation))).Methods(http.MethodDelete)
	api.Handle("/conversations/{id}/assign", adminOnly(http.HandlerFunc(g.handleAssign))).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/close", g.handleClose).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/reopen", g.handleReopen).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", g.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", g.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/attachments", g.handleUploadAttachment).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/read", g.handleMarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/unread", g.handleUnread).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/latest", g.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/live", g.handleLiveCount).Methods(http.MethodGet)

	api.HandleFunc("/messages/{id}/read", g.handleMarkRead).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(adminOnly)
	admin.HandleFunc("/conversations", g.handleAdminConversations).Methods(http.MethodGet)

	return r
}
