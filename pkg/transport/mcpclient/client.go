// Package mcpclient calls the execute tool of a remote starbox server over
// streamable HTTP.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolName is the remote tool invoked by Execute.
const ToolName = "execute"

// ErrNotConnected is returned when the client has no session.
var ErrNotConnected = errors.New("mcpclient: not connected")

// ErrNoExecuteTool is returned by Connect when the server does not offer
// the execute tool.
var ErrNoExecuteTool = errors.New("mcpclient: server does not offer the execute tool")

// Config describes a remote starbox server.
type Config struct {
	// URL of the MCP endpoint, e.g. http://localhost:8080/mcp.
	URL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds each HTTP request. Default: 60s.
	Timeout time.Duration
}

// Report is the result of one remote execution.
type Report struct {
	Text    string
	IsError bool
}

// Client is a connected MCP client session.
type Client struct {
	cfg     Config
	session *mcp.ClientSession
}

// New creates a client for cfg. Call Connect before Execute.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect performs the MCP handshake with the configured server.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("mcpclient: URL is required")
	}
	return c.ConnectWithTransport(ctx, &mcp.StreamableClientTransport{
		Endpoint:   c.cfg.URL,
		HTTPClient: c.httpClient(),
	})
}

// ConnectWithTransport performs the handshake over transport and checks
// that the server offers the execute tool.
func (c *Client) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	client := mcp.NewClient(&mcp.Implementation{Name: "starbox-exec", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.target(), err)
	}

	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			session.Close()
			return fmt.Errorf("listing tools of %s: %w", c.target(), err)
		}
		if tool.Name == ToolName {
			c.session = session
			return nil
		}
	}
	session.Close()
	return ErrNoExecuteTool
}

func (c *Client) target() string {
	if c.cfg.URL == "" {
		return "MCP server"
	}
	return c.cfg.URL
}

// httpClient adds the API key and static headers to every request.
func (c *Client) httpClient() *http.Client {
	headers := make(map[string]string, len(c.cfg.Headers)+1)
	for k, v := range c.cfg.Headers {
		headers[k] = v
	}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}
}

// headerTransport is an http.RoundTripper that sets fixed headers.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// Execute runs code on the server. A failing snippet is not an error: it
// yields a Report with IsError set. Errors are transport or protocol
// failures.
func (c *Client) Execute(ctx context.Context, code string) (Report, error) {
	if c.session == nil {
		return Report{}, ErrNotConnected
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolName,
		Arguments: map[string]any{"code": code},
	})
	if err != nil {
		return Report{}, fmt.Errorf("calling %s: %w", ToolName, err)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return Report{Text: strings.Join(parts, "\n"), IsError: result.IsError}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
