package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fppkit/calbridge/internal/pipeline"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := s.app.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, map[string]any{"status": rep})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	runs, err := s.app.Diagnostics(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, map[string]any{"runs": runs})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Preview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, res.Details())
}

type applyRequest struct {
	DryRun        bool `json:"dryRun"`
	FppOnly       bool `json:"fppOnly"`
	CalendarOnly  bool `json:"calendarOnly"`
	FailOnBlocked bool `json:"failOnBlocked"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	if req.FppOnly && req.CalendarOnly {
		badRequest(w, "fppOnly and calendarOnly are mutually exclusive")
		return
	}
	res, out, err := s.app.Apply(r.Context(), pipeline.ApplyOptions{
		DryRun:        req.DryRun,
		FppOnly:       req.FppOnly,
		CalendarOnly:  req.CalendarOnly,
		FailOnBlocked: req.FailOnBlocked,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	details := res.Details()
	details["outcome"] = out
	ok(w, details)
}

type calendarRequest struct {
	CalendarID string `json:"calendarId"`
}

func (s *Server) handleSetCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.CalendarID) == "" {
		badRequest(w, "calendarId must not be empty")
		return
	}
	if err := s.app.BindCalendar(req.CalendarID); err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, map[string]any{"calendarId": s.app.CalendarID()})
}

type syncModeRequest struct {
	SyncMode string `json:"syncMode"`
}

func (s *Server) handleSetSyncMode(w http.ResponseWriter, r *http.Request) {
	var req syncModeRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	mode, err := s.app.SetSyncMode(req.SyncMode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, map[string]any{"syncMode": string(mode)})
}

// handleUnknown answers everything outside the route table.
func (s *Server) handleUnknown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, pipeline.Envelope{
		OK:    false,
		Error: "unknown action",
		Code:  "unknown_action",
	})
}

// badRequest reports a malformed request without running it through
// the pipeline taxonomy.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, pipeline.Envelope{
		OK:    false,
		Error: msg,
		Code:  "bad_request",
	})
}

// decodeBody reads an optional JSON body. An empty body is the zero
// request.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
