// Package mcp exposes the configuration registry to AI agents over the
// Model Context Protocol.
//
// The Client is a thin proxy: every tool call becomes a request against the
// REST API served by package api, so the HTTP server stays the single owner
// of registry state.
//
// Tools:
//   - registry_state, list_configs, is_name_available
//   - add_config, load_config, remove_config, save_configs
//   - export_config, import_config
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer()) for local MCP clients
//   - HTTP: POST /mcp on the main server, handled by HandleMessage
package mcp
