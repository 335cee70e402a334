// Package webui serves the local dashboard: an embedded page, a JSON API over
// the current View, operator actions, and a WebSocket that pushes the View on
// every change.
package webui

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"

	"github.com/tobert/rdmwatch/internal/actions"
	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/feed"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/state"
	"github.com/tobert/rdmwatch/internal/view"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed static/index.html
var staticFiles embed.FS

// DefaultKeepalive is how often the WebSocket resends the View with no
// changes, so clients know the server is alive.
const DefaultKeepalive = 15 * time.Second

const maxRequestBody = 64 << 10

// Notifications is the part of notify.Center the server uses.
type Notifications interface {
	List() []notify.Notification
	Remove(id string) bool
	Subscribe() (<-chan struct{}, func())
}

// Config holds configuration for a Server.
type Config struct {
	Store         *state.Store
	Notifications Notifications
	Actions       *actions.Actions // nil disables the action endpoints
	Source        feed.Source
	Clock         clockwork.Clock
	Keepalive     time.Duration
}

// Server serves the embedded web UI and WebSocket updates.
type Server struct {
	store     *state.Store
	notes     Notifications
	actions   *actions.Actions
	source    feed.Source
	clock     clockwork.Clock
	keepalive time.Duration
}

// New creates a new web UI server.
func New(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		notes:     cfg.Notifications,
		actions:   cfg.Actions,
		source:    cfg.Source,
		clock:     cfg.Clock,
		keepalive: cfg.Keepalive,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.keepalive <= 0 {
		s.keepalive = DefaultKeepalive
	}
	return s
}

// RegisterRoutes attaches web UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /{$}", s.handleUIRedirect)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.handleDismiss)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	if s.actions != nil {
		mux.HandleFunc("GET /api/config", s.handleGetConfig)
		mux.HandleFunc("POST /api/config", s.handleUpdateConfig)
		mux.HandleFunc("POST /api/ports/{n}/blackout", s.handleBlackout)
		mux.HandleFunc("POST /api/ports/{n}/merge-mode", s.handleMergeMode)
		mux.HandleFunc("POST /api/ports/{n}/config", s.handlePortConfig)
		mux.HandleFunc("POST /api/network/config", s.handleNetworkConfig)
		mux.HandleFunc("POST /api/rdm/discover", s.handleDiscover)
		mux.HandleFunc("POST /api/system/restart", s.handleRestart)
		mux.HandleFunc("POST /api/system/factory-reset", s.handleFactoryReset)
	}
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// ListenAndServe starts a standalone HTTP server for the web UI.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// View renders the current dashboard.
func (s *Server) View() view.View {
	var notes []notify.Notification
	if s.notes != nil {
		notes = s.notes.List()
	}
	return view.Render(s.store.Snapshot(), notes, s.source, s.clock.Now())
}

// handleUIRedirect redirects to /ui/ for consistent routing.
func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

// handleUI serves the embedded index.html.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.View())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notes := []notify.Notification{}
	if s.notes != nil {
		notes = append(notes, s.notes.List()...)
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if s.notes == nil || !s.notes.Remove(r.PathValue("id")) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.actions.LoadConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch device.ConfigPatch
	if err := decodeBody(r, &patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ack, err := s.actions.UpdateConfig(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleBlackout(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	if err := s.actions.Blackout(r.Context(), port); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.Ack{Status: "ok"})
}

type mergeModeRequest struct {
	Mode int `json:"mode"`
}

func (s *Server) handleMergeMode(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req mergeModeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.actions.SetMergeMode(r.Context(), port, req.Mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.Ack{Status: "ok"})
}

func (s *Server) handlePortConfig(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req actions.PortSettings
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.actions.SavePortConfig(r.Context(), port, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.Ack{Status: "ok"})
}

func (s *Server) handleNetworkConfig(w http.ResponseWriter, r *http.Request) {
	var req actions.NetworkSettings
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.actions.SaveNetworkConfig(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.Ack{Status: "ok"})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	devices, err := s.actions.DiscoverRDM(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = []device.RDMDevice{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.actions.Restart(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.Ack{Status: "ok", Message: "restarting"})
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	if err := s.actions.FactoryReset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.Ack{Status: "ok"})
}

// wsControl is the client-sent control message on the WebSocket.
type wsControl struct {
	Paused bool `json:"paused"`
}

// handleWebSocket upgrades to WebSocket and streams the View on every store
// or notification change, plus a periodic keepalive.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	storeCh, unsubscribeStore := s.store.Subscribe()
	defer unsubscribeStore()

	var notesCh <-chan struct{}
	if s.notes != nil {
		var unsubscribeNotes func()
		notesCh, unsubscribeNotes = s.notes.Subscribe()
		defer unsubscribeNotes()
	}

	var control wsControl

	controlCh := make(chan wsControl, 4)
	go func() {
		defer close(controlCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var c wsControl
			if json.Unmarshal(data, &c) == nil {
				select {
				case controlCh <- c:
				default:
				}
			}
		}
	}()

	s.sendView(ctx, conn)

	keepalive := s.clock.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case c, ok := <-controlCh:
			if !ok {
				// Client disconnected
				return
			}
			control = c

		case <-storeCh:
			if !control.Paused {
				s.sendView(ctx, conn)
			}

		case <-notesCh:
			if !control.Paused {
				s.sendView(ctx, conn)
			}

		case <-keepalive.Chan():
			if !control.Paused {
				s.sendView(ctx, conn)
			}
		}
	}
}

func (s *Server) sendView(ctx context.Context, conn *websocket.Conn) {
	data, err := json.Marshal(s.View())
	if err != nil {
		log.Printf("webui: failed to marshal view: %v", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		// Connection closed; the main loop will handle cleanup.
		return
	}
}

func portParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	port, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || port < 1 || port > device.PortCount {
		http.Error(w, fmt.Sprintf("invalid port %q", r.PathValue("n")), http.StatusBadRequest)
		return 0, false
	}
	return port, true
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeError maps a device failure to a gateway error, keeping the device's
// status visible.
func writeError(w http.ResponseWriter, err error) {
	resp := map[string]any{"error": err.Error()}
	var se *device.StatusError
	if errors.As(err, &se) {
		resp["device_status"] = se.Code
	}
	writeJSON(w, http.StatusBadGateway, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}
