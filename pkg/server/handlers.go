package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/resolver"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/telemetry"
)

// itemsEnvelope matches the list response shape the HTTP catalog client
// expects.
type itemsEnvelope struct {
	Items interface{} `json:"items"`
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Message string `json:"message"`
	Class   string `json:"error_class,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManagerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.catalog.ManagerInfo(r.Context())
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	filter := catalog.PluginFilter{
		PackageName:  r.URL.Query().Get("package_name"),
		Distribution: r.URL.Query().Get("distribution"),
	}

	plugins, err := s.catalog.ListPlugins(r.Context(), requestTenant(r), filter)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	if plugins == nil {
		plugins = []catalog.Plugin{}
	}
	writeJSON(w, http.StatusOK, itemsEnvelope{Items: plugins})
}

func (s *Server) handleUploadPlugin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	spec := catalog.UploadSpec{
		PackageName:         q.Get("package_name"),
		PackageVersion:      q.Get("package_version"),
		Distribution:        q.Get("distribution"),
		DistributionRelease: q.Get("distribution_release"),
		ArchiveName:         q.Get("archive_name"),
		Title:               q.Get("title"),
	}
	if spec.PackageName == "" || spec.PackageVersion == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Message: "package_name and package_version are required",
		})
		return
	}

	plugin, err := s.catalog.UploadPlugin(r.Context(), requestTenant(r), spec, r.Body)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plugin)
}

func (s *Server) handlePluginYAML(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "pluginID")
	dslVersion := r.URL.Query().Get("dsl_version")

	doc, err := s.catalog.GetPluginYAML(r.Context(), requestTenant(r), pluginID, dslVersion)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (s *Server) handleGetBlueprint(w http.ResponseWriter, r *http.Request) {
	blueprintID := chi.URLParam(r, "blueprintID")

	blueprint, err := s.catalog.GetBlueprint(r.Context(), requestTenant(r), blueprintID)
	if err != nil {
		s.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blueprint)
}

// resolveRequest is the body of the resolve endpoint.
type resolveRequest struct {
	ImportURL  string `json:"import_url"`
	DSLVersion string `json:"dsl_version"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Message: "import resolution is not available",
		})
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if req.ImportURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "import_url is required"})
		return
	}

	doc, err := s.resolver.ResolveImport(r.Context(), requestTenant(r), req.ImportURL, req.DSLVersion)
	if err != nil {
		s.writeResolutionError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// writeCatalogError maps catalog sentinel errors to HTTP statuses.
func (s *Server) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: err.Error()})
	case errors.Is(err, catalog.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Message: err.Error()})
	default:
		telemetry.FromContext(r.Context()).WithError(err).Error("catalog request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal error"})
	}
}

// writeResolutionError maps resolution error classes to HTTP statuses.
func (s *Server) writeResolutionError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *resolver.ResolutionError
	if !errors.As(err, &rerr) {
		telemetry.FromContext(r.Context()).WithError(err).Error("resolution failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch rerr.Class {
	case resolver.ErrorClassMalformed:
		status = http.StatusBadRequest
	case resolver.ErrorClassNotFound:
		status = http.StatusNotFound
	case resolver.ErrorClassConflict:
		status = http.StatusConflict
	case resolver.ErrorClassTransport:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Message: rerr.Message, Class: string(rerr.Class)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
