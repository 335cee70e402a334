package mcpserver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/metrics"
	"github.com/tobert/rdmwatch/internal/view"
)

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "rdm://dashboard",
		Name:        "dashboard",
		Description: "The dashboard as plain text: device, network, protocol counters, ports and notifications.",
		MIMEType:    "text/plain",
	}, s.handleDashboardResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "rdm://notifications",
		Name:        "notifications",
		Description: "Visible notifications, oldest first.",
		MIMEType:    "text/plain",
	}, s.handleNotificationsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "rdm://events",
		Name:        "events",
		Description: "Recent events from the device push channel.",
		MIMEType:    "text/plain",
	}, s.handleEventsResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "rdm://ports/{port}",
		Name:        "port-detail",
		Description: "One port: mode, universe, counters, refresh rate history and channel levels.",
		MIMEType:    "text/plain",
	}, s.handlePortDetailResource)
}

func (s *Server) handleDashboardResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	var b strings.Builder
	if err := view.WriteText(&b, s.view()); err != nil {
		return nil, fmt.Errorf("render dashboard: %w", err)
	}
	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleNotificationsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	notes := s.notes.List()

	var b strings.Builder
	fmt.Fprintf(&b, "Notifications (%d)\n", len(notes))
	b.WriteString("══════════════════\n")
	if len(notes) == 0 {
		b.WriteString("  (none)\n")
	}
	now := s.clock.Now()
	for _, n := range notes {
		fmt.Fprintf(&b, "  %-8s %s  (%s)\n", n.Severity.Title(), n.Message, humanize.RelTime(n.CreatedAt, now, "ago", "from now"))
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleEventsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	events := s.store.Snapshot().Events

	var b strings.Builder
	fmt.Fprintf(&b, "Push Events (%d)\n", len(events))
	b.WriteString("════════════════\n")
	if len(events) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, ev := range events {
		data := string(ev.Data)
		if len(data) > 120 {
			data = data[:117] + "..."
		}
		fmt.Fprintf(&b, "  %s  %-16s %s\n", ev.At.Format("15:04:05.000"), ev.Type, data)
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Resource template handlers ─────────────────────────────────────────

func (s *Server) handlePortDetailResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	param, err := extractURIParam(req.Params.URI, "rdm://ports/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	n, err := strconv.Atoi(param)
	if err != nil || n < 1 || n > device.PortCount {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	v := s.view()
	pv := v.Ports[n-1]

	var b strings.Builder
	title := fmt.Sprintf("Port %d", n)
	fmt.Fprintf(&b, "%s\n%s\n", title, strings.Repeat("═", len(title)))
	fmt.Fprintf(&b, "  Mode:     %s\n", pv.Mode)
	fmt.Fprintf(&b, "  Universe: %s\n", pv.Universe)
	fmt.Fprintf(&b, "  Frames:   %s\n", pv.Frames)
	fmt.Fprintf(&b, "  Rate:     %s\n", pv.Rate)
	if pv.Signal.Class != "" {
		fmt.Fprintf(&b, "  Signal:   %d%% (%s)\n", pv.Signal.Percent, pv.Signal.Class)
	}

	if len(pv.Channels) > 0 {
		b.WriteString("\n  Channels:\n")
		for _, ch := range pv.Channels {
			marker := ""
			if ch.High {
				marker = " ▲"
			}
			fmt.Fprintf(&b, "    %2d  %3d  %3d%%%s\n", ch.Channel, ch.Value, ch.Percent, marker)
		}
	}

	if len(pv.History) > 0 {
		history := pv.History
		if len(history) > 10 {
			history = history[len(history)-10:]
		}
		fmt.Fprintf(&b, "\n  Rate History (last %d of %d):\n", len(history), len(pv.History))
		for _, p := range history {
			fmt.Fprintf(&b, "    %s  %s\n", p.At.Format(time.TimeOnly), metrics.FormatHz(p.Hz))
		}
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam extracts the parameter value from a URI by stripping the prefix
// and URL-decoding the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:  uri,
			Text: text,
		}},
	}
}
