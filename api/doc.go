// Package api provides the HTTP REST API over the configuration registry.
//
// Endpoints:
//
// Reads:
//   - GET /api/state - derived views, current configuration and tile selection
//   - GET /api/configs - names, leaving out the current one while unsaved
//   - GET /api/configs/available?name=forest - whether a name is free
//   - GET /api/current - the current configuration (404 when none)
//   - GET /api/export - download the current configuration as a file
//
// Mutations (rate limited per client IP):
//   - POST /api/configs - add {name, x, y} (409 duplicate, 400 invalid)
//   - POST /api/configs/{name}/load - make a configuration current
//   - PUT /api/current - replace tiles, layers and/or areas
//   - POST /api/current/touch - mark the current configuration changed
//   - DELETE /api/current - remove the current configuration and persist
//   - POST /api/save - persist the whole collection
//   - POST /api/export - write the export artifact to the configured sink
//   - POST /api/import - import {name, config} from an exported file
//   - PUT /api/selected-tile - set or clear {tile}
//
// Operational:
//   - GET /health
//   - GET /metrics - Prometheus exposition
//   - GET /ws - WebSocket stream of registry events
//
// Every response carries an X-Request-ID header. Errors are JSON:
//
//	{"error": "configuration name already in use: forest"}
package api
