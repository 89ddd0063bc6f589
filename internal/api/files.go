package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/harunnryd/sdd/internal/logger"
	"github.com/harunnryd/sdd/internal/sandbox"
)

func (s *Server) target(r *http.Request, kind sandbox.TargetKind) (sandbox.Target, error) {
	id, err := requiredParam(r, "id")
	if err != nil {
		return sandbox.Target{}, err
	}
	return sandbox.Target{Kind: kind, ID: id}, nil
}

func (s *Server) handleList(kind sandbox.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.target(r, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		entries, err := s.deps.Files.List(logger.WithContainerID(r.Context(), t.ID), t, pathParam(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleCat(kind sandbox.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.target(r, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := s.deps.Files.Cat(logger.WithContainerID(r.Context(), t.ID), t, pathParam(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (s *Server) handleDownload(kind sandbox.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.target(r, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		dl, err := s.deps.Files.Download(logger.WithContainerID(r.Context(), t.ID), t, pathParam(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
		w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(dl.Data)
	}
}

// handleResource serves the aggregate, or one container when ?id is given.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("id") != "" {
		s.handleContainerResource(w, r)
		return
	}
	usages, err := s.deps.Usage.Aggregate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usages)
}

func (s *Server) handleContainerResource(w http.ResponseWriter, r *http.Request) {
	id, err := requiredParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	usage, err := s.deps.Usage.Usage(logger.WithContainerID(r.Context(), id), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
