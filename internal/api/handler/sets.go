package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"setcoach/internal/api/respond"
	"setcoach/internal/coach"
	"setcoach/internal/insight"
	"setcoach/internal/offer"
	"setcoach/internal/report"
	"setcoach/internal/repository"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// StartSet opens a new working set.
func (h *Handler) StartSet(w http.ResponseWriter, r *http.Request) {
	var cfg coach.SetConfig
	if err := decodeBody(w, r, &cfg, false); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "request body must be a set config", err.Error())
		return
	}

	s, err := h.hub.StartSet(cfg)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_SET", "set could not be started", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, s.Status())
}

// ListSets returns the running sets.
func (h *Handler) ListSets(w http.ResponseWriter, r *http.Request) {
	active := h.hub.Active()
	if active == nil {
		active = []coach.SetStatus{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"sets": active})
}

// PushSamples accepts one reading or an array of readings.
func (h *Handler) PushSamples(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")

	readings, err := decodeReadings(w, r)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "body must be a reading or an array of readings", err.Error())
		return
	}

	for i, rd := range readings {
		if err := h.hub.Push(r.Context(), setID, rd); err != nil {
			if i > 0 {
				h.logger.Warn("sample batch cut short", "set_id", setID, "accepted", i, "error", err)
			}
			h.writeSetError(w, err)
			return
		}
	}

	st, err := h.hub.Snapshot(setID)
	if err != nil {
		h.writeSetError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusAccepted, map[string]any{
		"accepted":  len(readings),
		"phase":     st.Estimator.Phase,
		"estimator": st.Estimator,
	})
}

// Checkpoint asks for an insight right now and waits for the answer.
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")

	in, err := h.hub.Checkpoint(r.Context(), setID)
	if err != nil {
		if errors.Is(err, insight.ErrCancelled) {
			// client went away or the set ended while waiting
			respond.WriteError(w, http.StatusConflict, "CANCELLED", "checkpoint was cancelled")
			return
		}
		h.writeSetError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"insight": in})
}

// EndSet closes a set and records the outcome, if any.
func (h *Handler) EndSet(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")

	var body struct {
		Outcome *offer.Outcome `json:"outcome"`
	}
	if err := decodeBody(w, r, &body, true); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "body must hold an optional outcome", err.Error())
		return
	}
	if body.Outcome != nil && (body.Outcome.Feedback < -1 || body.Outcome.Feedback > 1) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_OUTCOME", "feedback must be -1, 0 or 1")
		return
	}

	score, err := h.hub.EndSet(r.Context(), setID, body.Outcome)
	if err != nil && !errors.Is(err, coach.ErrSetNotFound) && !errors.Is(err, coach.ErrSetClosed) {
		// the set is closed; only persisting the outcome failed
		h.logger.Error("outcome not saved", "set_id", setID, "error", err)
		respond.WriteJSONObject(w, http.StatusOK, map[string]any{"set_id": setID, "score": score, "saved": false})
		return
	}
	if err != nil {
		h.writeSetError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"set_id": setID, "score": score, "saved": true})
}

// GetSet returns phase, time in phase and pipeline state.
func (h *Handler) GetSet(w http.ResponseWriter, r *http.Request) {
	st, err := h.hub.Snapshot(chi.URLParam(r, "setID"))
	if err != nil {
		h.writeSetError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, st)
}

// GetInsights returns every insight issued for the set.
// Sets already dropped from memory are read from the journal.
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")
	list, err := h.hub.Insights(setID)
	if errors.Is(err, coach.ErrSetNotFound) && h.archive != nil {
		list, err = h.archive.ListInsights(r.Context(), setID)
		if err == nil && len(list) == 0 {
			err = coach.ErrSetNotFound
		}
	}
	if err != nil {
		h.writeSetError(w, err)
		return
	}
	if list == nil {
		list = []*insight.Insight{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"insights": list})
}

// GetOutcome returns the recorded outcome and its score.
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")

	var (
		outcome *offer.Outcome
		score   float64
	)
	rep, err := h.hub.Report(setID)
	switch {
	case err == nil:
		outcome, score = rep.Outcome, rep.Score
	case errors.Is(err, coach.ErrSetNotFound) && h.archive != nil:
		outcome, score, err = h.archive.GetOutcome(r.Context(), setID)
		if err != nil {
			h.writeSetError(w, err)
			return
		}
	default:
		h.writeSetError(w, err)
		return
	}

	if outcome == nil {
		respond.WriteError(w, http.StatusNotFound, "OUTCOME_NOT_FOUND", "no outcome recorded for the set")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"set_id": setID, "outcome": outcome, "score": score})
}

// GetEvents returns the pipeline event journal of the set.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "event journal is not configured")
		return
	}
	setID := chi.URLParam(r, "setID")
	events, err := h.archive.ListEvents(r.Context(), setID)
	if err != nil {
		h.writeSetError(w, err)
		return
	}
	if events == nil {
		events = []repository.Event{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"set_id": setID, "events": events})
}

// GetReport streams the set report as an xlsx workbook.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")
	rep, err := h.hub.Report(setID)
	if err != nil {
		h.writeSetError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteSetReport(&buf, rep); err != nil {
		h.logger.Error("report failed", "set_id", setID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "REPORT_FAILED", "report could not be built")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="set-%s.xlsx"`, setID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) writeSetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coach.ErrSetNotFound):
		respond.WriteError(w, http.StatusNotFound, "SET_NOT_FOUND", "set not found")
	case errors.Is(err, coach.ErrSetClosed):
		respond.WriteError(w, http.StatusConflict, "SET_CLOSED", "set already ended")
	default:
		h.logger.Error("set request failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// decodeBody reads a JSON object; an empty body is allowed only when optional.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if optional {
			return nil
		}
		return errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func decodeReadings(w http.ResponseWriter, r *http.Request) ([]coach.Reading, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}

	if data[0] == '[' {
		var readings []coach.Reading
		if err := json.Unmarshal(data, &readings); err != nil {
			return nil, err
		}
		if len(readings) == 0 {
			return nil, errors.New("empty batch")
		}
		return readings, nil
	}

	var one coach.Reading
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []coach.Reading{one}, nil
}
