// Package mcp exposes the tools of Model Context Protocol servers as
// canonical tool definitions and executes the tool calls a completion
// returns.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/i2y/llmgateway/provider"
)

// Client is a connected MCP session.
type Client struct {
	session *mcp.ClientSession
	timeout time.Duration
}

// Option configures the MCP client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout time.Duration
}

// WithTimeout sets the timeout for tool execution.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// Connect opens a session over t.
func Connect(ctx context.Context, t mcp.Transport, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "llmgateway",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server: %w", err)
	}
	return &Client{session: session, timeout: cfg.timeout}, nil
}

// NewStdioClient starts command and talks to it over stdio.
//
// Example:
//
//	client, err := mcp.NewStdioClient(ctx, "./weather-server", nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	tools, err := client.ToolDefinitions(ctx)
func NewStdioClient(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	return Connect(ctx, &mcp.CommandTransport{Command: exec.Command(command, args...)}, opts...)
}

// ToolDefinitions lists the server's tools as canonical tool definitions.
//
//	tools, err := client.ToolDefinitions(ctx)
//	req := gateway.CompletionRequest("gpt-4o", "Plan my trip", gateway.WithTools(tools...))
func (c *Client) ToolDefinitions(ctx context.Context) ([]provider.ToolDef, error) {
	var defs []provider.ToolDef
	var cursor string
	for {
		result, err := c.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("listing MCP tools: %w", err)
		}
		for _, t := range result.Tools {
			def, err := toolDef(t)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
		if result.NextCursor == "" {
			return defs, nil
		}
		cursor = result.NextCursor
	}
}

func toolDef(t *mcp.Tool) (provider.ToolDef, error) {
	params := json.RawMessage(`{"type":"object"}`)
	if t.InputSchema != nil {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return provider.ToolDef{}, fmt.Errorf("encoding input schema of MCP tool %q: %w", t.Name, err)
		}
		params = raw
	}
	return provider.ToolDef{Name: t.Name, Description: t.Description, Parameters: params}, nil
}

// Call executes a tool call from a completion and returns the tool message
// to append to the conversation. A tool that reports failure yields an
// error carrying its output.
func (c *Client) Call(ctx context.Context, call provider.ToolCall) (provider.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	arguments := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &arguments); err != nil {
			return provider.Message{}, fmt.Errorf("parsing arguments of %q: %w", call.Name, err)
		}
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      call.Name,
		Arguments: arguments,
	})
	if err != nil {
		return provider.Message{}, fmt.Errorf("calling MCP tool %q: %w", call.Name, err)
	}

	text := resultText(result.Content)
	if result.IsError {
		return provider.Message{}, fmt.Errorf("MCP tool %q failed: %s", call.Name, text)
	}
	return provider.Message{Role: provider.RoleTool, ToolID: call.ID, Content: text}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

// resultText flattens tool output. Text items are joined with newlines;
// images and resources are described.
func resultText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch item := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, item.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.EmbeddedResource:
			if item.Resource != nil {
				parts = append(parts, fmt.Sprintf("[Resource: %s]", item.Resource.URI))
			} else {
				parts = append(parts, "[Resource: embedded]")
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ToolDefinitionsFromCommand starts an MCP server, lists its tools and
// returns them with the client that can execute them.
func ToolDefinitionsFromCommand(ctx context.Context, command string, args []string, opts ...Option) ([]provider.ToolDef, *Client, error) {
	client, err := NewStdioClient(ctx, command, args, opts...)
	if err != nil {
		return nil, nil, err
	}

	defs, err := client.ToolDefinitions(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return defs, client, nil
}
