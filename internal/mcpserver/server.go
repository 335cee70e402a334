package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/rdmwatch/internal/actions"
	"github.com/tobert/rdmwatch/internal/feed"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/state"
	"github.com/tobert/rdmwatch/internal/view"
)

// Notifications is the part of the notification center the server reads.
type Notifications interface {
	List() []notify.Notification
	Remove(id string) bool
}

// Poller runs an on-demand poll tick.
type Poller interface {
	Tick(ctx context.Context) bool
}

// Server wraps the MCP server with the dashboard store so agents can read
// the device state and run device commands.
type Server struct {
	mcpServer *mcp.Server
	store     *state.Store
	notes     Notifications

	actions *actions.Actions
	poller  Poller
	source  feed.Source
	clock   clockwork.Clock
	verbose bool
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	Actions *actions.Actions // nil hides the command tools
	Poller  Poller           // nil disables refresh_dashboard
	Source  feed.Source      // channel levels, nil omits channel bars
	Clock   clockwork.Clock
	Verbose bool
}

// NewServer creates an MCP server over the dashboard store.
func NewServer(store *state.Store, notes Notifications, opts ...ServerOptions) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("dashboard store cannot be nil")
	}
	if notes == nil {
		return nil, fmt.Errorf("notifications cannot be nil")
	}

	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	s := &Server{
		store:   store,
		notes:   notes,
		actions: o.Actions,
		poller:  o.Poller,
		source:  o.Source,
		clock:   o.Clock,
		verbose: o.Verbose,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "rdmwatch",
		Title:   "ESP-NODE-2RDM Monitor",
		Version: "0.1.0",
	}, &mcp.ServerOptions{
		Instructions: `Live monitor for a two-port DMX/RDM node (Art-Net and sACN in, DMX out).

Workflow: get_dashboard -> inspect ports and notifications -> act (blackout_port, discover_rdm, ...).

Rates are derived from frame counters between polls; "--" means no data yet.
Destructive tools (restart_device, factory_reset) require confirm=true.
Resources: rdm://dashboard, rdm://notifications, rdm://events, rdm://ports/{port}.`,
		SubscribeHandler:   func(_ context.Context, _ *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(_ context.Context, _ *mcp.UnsubscribeRequest) error { return nil },
	})

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()

	return s, nil
}

// Run starts the MCP server on stdio transport and blocks until the context
// is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for use with alternative transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// HTTPHandler serves the MCP streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

// view renders the current dashboard.
func (s *Server) view() view.View {
	return view.Render(s.store.Snapshot(), s.notes.List(), s.source, s.clock.Now())
}
