package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/wricardo/tilemap-generator/tilemap/export"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
)

const maxBodyBytes = 8 << 20

// StateResponse is the payload of GET /api/state.
type StateResponse struct {
	Names                   []string                `json:"names"`
	AllNames                []string                `json:"all_names"`
	Current                 string                  `json:"current,omitempty"`
	HasConfigs              bool                    `json:"has_configs"`
	HasCurrentConfig        bool                    `json:"has_current_config"`
	HasCurrentConfigChanges bool                    `json:"has_current_config_changes"`
	CurrentConfig           *registry.Configuration `json:"current_config"`
	SelectedTile            json.RawMessage         `json:"selected_tile,omitempty"`
}

func newStateResponse(st registry.State) StateResponse {
	resp := StateResponse{
		Names:                   registry.NameListWithoutCurrentUnsaved(st),
		AllNames:                make([]string, 0, len(st.Configs)),
		Current:                 st.Current,
		HasConfigs:              registry.HasConfigs(st),
		HasCurrentConfig:        registry.HasCurrentConfig(st),
		HasCurrentConfigChanges: registry.HasCurrentConfigChanges(st),
		SelectedTile:            st.SelectedTile,
	}
	for _, c := range st.Configs {
		resp.AllNames = append(resp.AllNames, c.Name)
	}
	if c, ok := registry.CurrentConfig(st); ok {
		resp.CurrentConfig = &c
	}
	return resp
}

// AddConfigRequest is the body of POST /api/configs.
type AddConfigRequest struct {
	Name string `json:"name"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// EditRequest is the body of PUT /api/current. Omitted sequences are left
// unchanged.
type EditRequest struct {
	Tiles  *[]json.RawMessage `json:"tiles,omitempty"`
	Layers *[]json.RawMessage `json:"layers,omitempty"`
	Areas  *[]json.RawMessage `json:"areas,omitempty"`
}

// ImportRequest is the body of POST /api/import. Config holds the content
// of an exported file.
type ImportRequest struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

// SelectTileRequest is the body of PUT /api/selected-tile. A null or
// missing tile clears the selection.
type SelectTileRequest struct {
	Tile json.RawMessage `json:"tile"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	st := s.registry.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"names": registry.NameListWithoutCurrentUnsaved(st),
		"count": len(st.Configs),
	})
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "name query parameter required")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":      name,
		"available": s.registry.IsKeyAvailable(name),
	})
}

func (s *Server) handleAddConfig(w http.ResponseWriter, r *http.Request) {
	var req AddConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.registry.Add(req.Name, req.X, req.Y); err != nil {
		respondRegistryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleLoadConfig(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid name in path")
		return
	}
	if err := s.registry.Load(name); err != nil {
		respondRegistryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	c, ok := registry.CurrentConfig(s.registry.Snapshot())
	if !ok {
		respondError(w, http.StatusNotFound, registry.ErrNoCurrentConfig.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleEditCurrent(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.registry.Edit(func(c *registry.Configuration) error {
		if req.Tiles != nil {
			c.Tiles = *req.Tiles
		}
		if req.Layers != nil {
			c.Layers = *req.Layers
		}
		if req.Areas != nil {
			c.Areas = *req.Areas
		}
		return nil
	})
	if err != nil {
		respondRegistryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleTouchCurrent(w http.ResponseWriter, r *http.Request) {
	s.registry.Update()
	respondJSON(w, http.StatusOK, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleRemoveCurrent(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.Context()); err != nil {
		respondRegistryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Save(r.Context()); err != nil {
		respondRegistryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	a, err := s.registry.ExportConfig()
	if err != nil {
		respondRegistryError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(a.Data)
}

func (s *Server) handleDeliverExport(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		respondError(w, http.StatusNotImplemented, "no export destination configured")
		return
	}
	a, err := s.registry.Export(r.Context(), s.sink)
	if err != nil {
		respondRegistryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"filename": a.Filename,
		"bytes":    len(a.Data),
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Config) == 0 {
		respondError(w, http.StatusBadRequest, "config is required")
		return
	}
	cfg, err := registry.ParseImport(bytes.NewReader(req.Config))
	if err != nil {
		respondRegistryError(w, r, err)
		return
	}
	if err := s.registry.ImportConfig(req.Name, cfg); err != nil {
		respondRegistryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newStateResponse(s.registry.Snapshot()))
}

func (s *Server) handleSelectTile(w http.ResponseWriter, r *http.Request) {
	var req SelectTileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tile := req.Tile
	if bytes.Equal(bytes.TrimSpace(tile), []byte("null")) {
		tile = nil
	}
	s.registry.SelectTile(tile)
	respondJSON(w, http.StatusOK, map[string]interface{}{"selected_tile": tile})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "websocket updates disabled")
		return
	}
	s.hub.ServeWS(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
