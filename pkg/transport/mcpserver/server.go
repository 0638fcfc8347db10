// Package mcpserver exposes the sandbox as the MCP tool "execute" over
// stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/starbox/pkg/audit"
	"github.com/rhuss/starbox/pkg/auth"
	"github.com/rhuss/starbox/pkg/debug"
	"github.com/rhuss/starbox/pkg/sandbox"
	"github.com/rhuss/starbox/pkg/transport"
)

// ToolName is the name of the single tool the server offers.
const ToolName = "execute"

const toolDescription = `Execute a Python-like snippet in a restricted sandbox and return a text report.
The report contains the printed output, the error output, the top-level names the snippet defined with their values, or the error that stopped it.
Every call runs in a fresh environment: nothing defined in one call is visible in the next.
Available modules: math, statistics, decimal, fractions, random, string, time, datetime, json, re, functools, sys.
File, network, process and import access are not available.`

// inputSchema accepts any value for "code"; non-string values are reported
// as input errors by the sandbox rather than rejected by schema validation.
var inputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"code": map[string]any{
			"description": "The snippet to execute.",
		},
	},
}

// Executor runs snippets. *sandbox.Service is the production Executor.
type Executor interface {
	Run(ctx context.Context, code any) sandbox.Result
	Ready(ctx context.Context) error
	Store() audit.Store
}

// Options configures the MCP server implementation info.
type Options struct {
	Name    string // default: "starbox"
	Version string // default: "dev"
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "starbox"
	}
	if o.Version == "" {
		o.Version = "dev"
	}
}

// caller is the authenticated origin of an HTTP session. The SDK serves
// tool calls on its own context, so request-scoped values are carried over
// explicitly.
type caller struct {
	identity  *auth.Identity
	tenant    string
	requestID string
}

func callerFrom(ctx context.Context) caller {
	return caller{
		identity:  auth.IdentityFromContext(ctx),
		tenant:    audit.GetTenant(ctx),
		requestID: transport.RequestIDFromContext(ctx),
	}
}

func (c caller) bind(ctx context.Context) context.Context {
	if c.identity != nil {
		ctx = auth.SetIdentity(ctx, c.identity)
	}
	if c.tenant != "" {
		ctx = audit.SetTenant(ctx, c.tenant)
	}
	if c.requestID != "" {
		ctx = transport.ContextWithRequestID(ctx, c.requestID)
	}
	return ctx
}

// NewServer returns an MCP server offering the execute tool backed by exec.
func NewServer(exec Executor, opts Options) *mcp.Server {
	return newServer(exec, opts, caller{})
}

func newServer(exec Executor, opts Options, from caller) *mcp.Server {
	opts.defaults()
	server := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	server.AddTool(&mcp.Tool{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: inputSchema,
	}, executeHandler(exec, from))
	return server
}

func executeHandler(exec Executor, from caller) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = from.bind(ctx)
		code := codeArgument(req.Params.Arguments)

		res := exec.Run(ctx, code)
		debug.Log(debug.MCP, "tool call", "tool", ToolName, "id", res.ID, "status", res.Status.String())

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Text}},
			IsError: res.Failed(),
		}, nil
	}
}

// codeArgument extracts "code" from raw tool arguments. Anything that is not
// an object with a "code" member yields nil, which the sandbox reports as an
// input error.
func codeArgument(raw json.RawMessage) any {
	var args map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &args) != nil {
		return nil
	}
	v, ok := args["code"]
	if !ok {
		return nil
	}
	var code any
	if json.Unmarshal(v, &code) != nil {
		return nil
	}
	return code
}

// ServeStdio serves the execute tool over stdin/stdout until ctx is done or
// the client disconnects.
func ServeStdio(ctx context.Context, exec Executor, opts Options) error {
	return NewServer(exec, opts).Run(ctx, &mcp.StdioTransport{})
}
