// Package api exposes the job control operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"massmail/internal/dispatch"
)

type Handler struct {
	Dispatcher *dispatch.Dispatcher
	Log        *zap.Logger
}

// Router wires the job control endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/jobs", h.SubmitJob)
	r.Get("/jobs/{jobID}", h.GetJob)
	r.Delete("/jobs/{jobID}", h.CancelJob)
	r.Delete("/sent-log", h.PurgeSentLog)
	r.Get("/status", h.Status)

	return r
}

type submitRequest struct {
	CSVName  string `json:"csv_name"`
	NotifyTo string `json:"notify_to"`
}

// SubmitJob accepts either a JSON body naming a file already in the spool
// directory, or a multipart upload with the recipient file in the "csv"
// field.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, hdr, err := r.FormFile("csv")
		if err != nil {
			h.writeError(w, &dispatch.ValidationError{Msg: "multipart field \"csv\" is required"})
			return
		}
		defer file.Close()

		name, err := h.Dispatcher.SaveSpool(hdr.Filename, file)
		if err != nil {
			h.writeError(w, err)
			return
		}
		req.CSVName = name
		req.NotifyTo = r.FormValue("notify_to")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &dispatch.ValidationError{Msg: "bad request body: " + err.Error()})
		return
	}

	jobID, err := h.Dispatcher.Submit(r.Context(), req.CSVName, req.NotifyTo)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Dispatcher.Job(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Dispatcher.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) PurgeSentLog(w http.ResponseWriter, r *http.Request) {
	n, err := h.Dispatcher.PurgeSentLogBefore(r.Context(), r.URL.Query().Get("before"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"purged_jobs": n})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Dispatcher.Status())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Error("failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		ve *dispatch.ValidationError
		te *dispatch.TerminalStateError
		be *dispatch.BrokerError
	)
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.As(err, &te):
		status = http.StatusConflict
	case errors.As(err, &be):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]any{"error": err.Error()})
}
