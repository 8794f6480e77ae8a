package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/tilemap-generator/api"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Tilemap Generator",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Tilemap Generator - MCP Interface

This is a thin client that proxies all requests to the REST API server.

A registry holds named tile-map configurations (name, width x, height y,
tiles, layers, areas). One configuration may be current. Adding or importing
makes the new configuration current and marks it unsaved; save_configs
persists the whole collection.

AVAILABLE TOOLS:
- registry_state: Names, current configuration and unsaved flag
- list_configs: Names, leaving out the current one while it is unsaved
- is_name_available: Check a name before adding
- add_config: Create an empty configuration and make it current
- load_config: Make an existing configuration current
- remove_config: Delete the current configuration (persists immediately)
- save_configs: Persist all configurations
- export_config: Render the current configuration as an export file
- import_config: Import an exported file under a new name`),
	)

	c.registerTools()
}

func (c *Client) registerTools() {
	empty := mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}}
	nameProp := map[string]interface{}{
		"type":        "string",
		"description": "Configuration name",
	}

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "registry_state",
		Description: "Get the registry state: names, current configuration and unsaved changes",
		InputSchema: empty,
	}, c.handleRegistryState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_configs",
		Description: "List configuration names. The current configuration is left out while it has unsaved changes",
		InputSchema: empty,
	}, c.handleListConfigs)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "is_name_available",
		Description: "Check whether no configuration uses a name",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"name": nameProp},
			Required:   []string{"name"},
		},
	}, c.handleIsNameAvailable)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "add_config",
		Description: "Create an empty configuration and make it current (unsaved)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": nameProp,
				"x": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Width in tiles",
				},
				"y": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Height in tiles",
				},
			},
			Required: []string{"name", "x", "y"},
		},
	}, c.handleAddConfig)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "load_config",
		Description: "Make an existing configuration current",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"name": nameProp},
			Required:   []string{"name"},
		},
	}, c.handleLoadConfig)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "remove_config",
		Description: "Delete the current configuration and persist the remaining collection",
		InputSchema: empty,
	}, c.handleRemoveConfig)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "save_configs",
		Description: "Persist all configurations and clear the unsaved flag",
		InputSchema: empty,
	}, c.handleSaveConfigs)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "export_config",
		Description: "Render the current configuration as an export file (filename and JSON content)",
		InputSchema: empty,
	}, c.handleExportConfig)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "import_config",
		Description: "Import the content of an export file under a new name and make it current",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": nameProp,
				"config": map[string]interface{}{
					"type":        "string",
					"description": "JSON content of an export file",
				},
			},
			Required: []string{"name", "config"},
		},
	}, c.handleImportConfig)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiCall performs a JSON request against the REST API and decodes the
// response into result when it is not nil.
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	data, _, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.Unmarshal(data, &errResp)
		if msg, ok := errResp["error"]; ok {
			return nil, nil, fmt.Errorf("%s", msg)
		}
		return nil, nil, fmt.Errorf("API error: %d", resp.StatusCode)
	}
	return data, resp.Header, nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), v == float64(int(v))
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		var n int
		_, err := fmt.Sscanf(v, "%d", &n)
		return n, err == nil
	}
	return 0, false
}

func (c *Client) stateResult(ctx context.Context, prefix string) (*mcp.CallToolResult, error) {
	var st api.StateResponse
	if err := c.apiCall(ctx, http.MethodGet, "/api/state", nil, &st); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(prefix + formatState(st)), nil
}

func (c *Client) handleRegistryState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.stateResult(ctx, "")
}

func (c *Client) handleListConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp struct {
		Names []string `json:"names"`
		Count int      `json:"count"`
	}
	if err := c.apiCall(ctx, http.MethodGet, "/api/configs", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(resp.Names) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No saved configurations listed (%d held).", resp.Count)), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Configurations (%d of %d listed):\n", len(resp.Names), resp.Count)
	for _, name := range resp.Names {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (c *Client) handleIsNameAvailable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, _ := arguments(request)["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	var resp struct {
		Available bool `json:"available"`
	}
	if err := c.apiCall(ctx, http.MethodGet, "/api/configs/available?name="+url.QueryEscape(name), nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if resp.Available {
		return mcp.NewToolResultText(fmt.Sprintf("Name %q is available.", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Name %q is already in use.", name)), nil
}

func (c *Client) handleAddConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name, _ := args["name"].(string)
	x, okX := intArg(args, "x")
	y, okY := intArg(args, "y")
	if !okX || !okY {
		return mcp.NewToolResultError("x and y must be integers"), nil
	}

	body := api.AddConfigRequest{Name: name, X: x, Y: y}
	if err := c.apiCall(ctx, http.MethodPost, "/api/configs", body, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.stateResult(ctx, fmt.Sprintf("Added %q (%dx%d). Remember to save.\n\n", name, x, y))
}

func (c *Client) handleLoadConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, _ := arguments(request)["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if err := c.apiCall(ctx, http.MethodPost, "/api/configs/"+url.PathEscape(name)+"/load", nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.stateResult(ctx, fmt.Sprintf("Loaded %q.\n\n", name))
}

func (c *Client) handleRemoveConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.apiCall(ctx, http.MethodDelete, "/api/current", nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.stateResult(ctx, "Removed current configuration.\n\n")
}

func (c *Client) handleSaveConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.apiCall(ctx, http.MethodPost, "/api/save", nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.stateResult(ctx, "Saved.\n\n")
}

func (c *Client) handleExportConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, header, err := c.do(ctx, http.MethodGet, "/api/export", nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filename := "export.json"
	if _, params, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return mcp.NewToolResultText(fmt.Sprintf("File: %s\n\n%s", filename, data)), nil
}

func (c *Client) handleImportConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name, _ := args["name"].(string)
	content, _ := args["config"].(string)
	if !json.Valid([]byte(content)) {
		return mcp.NewToolResultError("config must be the JSON content of an export file"), nil
	}

	body := api.ImportRequest{Name: name, Config: json.RawMessage(content)}
	if err := c.apiCall(ctx, http.MethodPost, "/api/import", body, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.stateResult(ctx, fmt.Sprintf("Imported as %q. Remember to save.\n\n", name))
}

func formatState(st api.StateResponse) string {
	var sb strings.Builder

	if !st.HasConfigs {
		sb.WriteString("Registry is empty.\n")
	} else {
		fmt.Fprintf(&sb, "Configurations: %s\n", strings.Join(st.AllNames, ", "))
	}

	if !st.HasCurrentConfig {
		sb.WriteString("Current: none\n")
		return sb.String()
	}

	status := "saved"
	if st.HasCurrentConfigChanges {
		status = "unsaved changes"
	}
	fmt.Fprintf(&sb, "Current: %s (%s)\n", st.Current, status)
	if st.CurrentConfig != nil {
		sb.WriteString(formatConfig(*st.CurrentConfig))
	}
	return sb.String()
}

func formatConfig(c registry.Configuration) string {
	return fmt.Sprintf("Size: %dx%d\nTiles: %d\nLayers: %d\nAreas: %d\n",
		c.X, c.Y, len(c.Tiles), len(c.Layers), len(c.Areas))
}
