package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/collection"
	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/history"
	"github.com/platinummonkey/chronicle/pkg/httputil"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/codec"
	"github.com/platinummonkey/chronicle/pkg/versioning"
)

// collection resolves the {name} path variable. History collections are
// only reachable through the history routes.
func (s *Server) collection(w http.ResponseWriter, r *http.Request) (*collection.Collection, bool) {
	name, err := httputil.ParsePathString(r, "name")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	if s.db.Policy().IsHistory(name) {
		httputil.WriteBadRequest(w, fmt.Sprintf("%s is a history collection", name))
		return nil, false
	}
	return s.db.Collection(name), true
}

func (s *Server) documentID(w http.ResponseWriter, r *http.Request) (any, bool) {
	raw, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	id, err := httputil.ParseID(raw, httputil.ParseQueryString(r, "id_type", httputil.IDKindAuto))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	return id, true
}

func (s *Server) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, false
	}
	if limit <= 0 || limit > s.maxLimit {
		httputil.WriteBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", s.maxLimit))
		return 0, false
	}
	return limit, true
}

// getDocument handles GET /v1/collections/{name}/documents/{id}
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}

	doc, found, err := coll.FindID(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !found {
		httputil.WriteNotFound(w, fmt.Sprintf("document %v not found in %s", id, coll.Name()))
		return
	}

	body, err := codec.Marshal(doc)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	_ = httputil.WriteRaw(w, http.StatusOK, "application/json", body)
}

// getDocumentHistory handles GET /v1/collections/{name}/documents/{id}/history
func (s *Server) getDocumentHistory(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	format, ok := s.format(w, r)
	if !ok {
		return
	}

	rows, err := s.db.History(coll.Name()).Find(r.Context(), document.New(history.RefIDField, id), storage.FindOptions{
		Sort: document.New(versioning.VersionField, 1),
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeRows(w, r, rows, format)
}

// listHistory handles GET /v1/collections/{name}/history
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}
	format, ok := s.format(w, r)
	if !ok {
		return
	}

	rows, err := s.db.History(coll.Name()).Find(r.Context(), document.Document{}, storage.FindOptions{
		Sort:  document.New(versioning.LastChangeField, -1),
		Limit: int64(limit),
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeRows(w, r, rows, format)
}

// countDocuments handles GET /v1/collections/{name}/count
func (s *Server) countDocuments(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}
	n, err := coll.Count(r.Context(), document.Document{})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"collection": coll.Name(),
		"count":      n,
		"audited":    coll.Audited(),
	})
}

func (s *Server) format(w http.ResponseWriter, r *http.Request) (audit.ExportFormat, bool) {
	format, err := audit.ParseExportFormat(httputil.ParseQueryString(r, "format", string(audit.ExportFormatJSON)))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", false
	}
	return format, true
}

func (s *Server) writeRows(w http.ResponseWriter, r *http.Request, rows []document.Document, format audit.ExportFormat) {
	body, err := audit.Export(rows, format)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	_ = httputil.WriteRaw(w, http.StatusOK, format.ContentType(), body)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).Error("Request failed")
	httputil.WriteInternalError(w, err)
}
