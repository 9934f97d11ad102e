package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SebastienMelki/pixel/internal/store"
)

// incomingEvent is one element of a pixel batch.
type incomingEvent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    string          `json:"created_at"`
	AlterationID string          `json:"alteration_id"`
}

// CollectResponse is the body of a 202 response.
type CollectResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCollect stores a pixel batch. Malformed events are counted as
// rejected rather than failing the batch, since the pixel would resend the
// same malformed events on every retry.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := GetRequestID(ctx)

	clientID := r.Header.Get(HeaderClientID)
	if clientID == "" {
		writeError(w, http.StatusBadRequest, ErrClientIDRequired.Error())
		return
	}
	visitorID := r.Header.Get(HeaderVisitorID)
	if visitorID == "" {
		writeError(w, http.StatusBadRequest, ErrVisitorIDRequired.Error())
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var batch []incomingEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidBody.Error())
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, ErrEmptyBatch.Error())
		return
	}
	if s.cfg.MaxBatchEvents > 0 && len(batch) > s.cfg.MaxBatchEvents {
		writeError(w, http.StatusRequestEntityTooLarge, ErrBatchTooLarge.Error())
		return
	}

	received := time.Now().UTC()
	resp := CollectResponse{}
	rows := make([]store.Row, 0, len(batch))
	keys := make([]string, 0, len(batch))

	for i, e := range batch {
		row, err := toRow(e)
		if err != nil {
			resp.Rejected++
			s.logger.Debug("event rejected",
				"request_id", requestID,
				"client_id", clientID,
				"index", i,
				"error", err,
			)
			continue
		}

		key := dedupKey(clientID, e.ID)
		if s.filter != nil && s.filter.Contains(key) {
			resp.Duplicates++
			continue
		}

		row.ClientID = clientID
		row.VisitorID = visitorID
		row.ReceivedAt = received
		row.RequestID = requestID
		rows = append(rows, row)
		keys = append(keys, key)
	}

	inserted, err := s.store.Insert(ctx, rows)
	if err != nil {
		s.logger.Error("failed to store batch",
			"request_id", requestID,
			"client_id", clientID,
			"events", len(rows),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to store events")
		return
	}

	if s.filter != nil {
		for _, k := range keys {
			s.filter.Add(k)
		}
	}

	resp.Accepted = inserted
	resp.Duplicates += len(rows) - inserted
	s.record(r, resp)

	s.logger.Info("batch collected",
		"request_id", requestID,
		"client_id", clientID,
		"visitor_id", visitorID,
		"events", len(batch),
		"accepted", resp.Accepted,
		"duplicates", resp.Duplicates,
		"rejected", resp.Rejected,
	)

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) record(r *http.Request, resp CollectResponse) {
	if s.metrics == nil {
		return
	}
	ctx := r.Context()
	s.metrics.CollectorAccepted.Add(ctx, int64(resp.Accepted))
	s.metrics.CollectorDuplicates.Add(ctx, int64(resp.Duplicates))
	s.metrics.CollectorRejected.Add(ctx, int64(resp.Rejected))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toRow validates one event and maps it to a store row without the batch
// context.
func toRow(e incomingEvent) (store.Row, error) {
	if e.Name == "" {
		return store.Row{}, ErrNameRequired
	}

	created, err := time.Parse(time.RFC3339Nano, e.CreatedAt)
	if err != nil {
		return store.Row{}, fmt.Errorf("%w: %q", ErrInvalidCreatedAt, e.CreatedAt)
	}

	payload := "{}"
	if p := bytes.TrimSpace(e.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, p); err != nil {
			return store.Row{}, fmt.Errorf("compact payload: %w", err)
		}
		payload = buf.String()
	}

	return store.Row{
		EventID:      e.ID,
		AlterationID: e.AlterationID,
		Name:         e.Name,
		PayloadJSON:  payload,
		CreatedAt:    created.UTC(),
	}, nil
}

// dedupKey scopes an event id to its client. Events without an id are
// never deduplicated.
func dedupKey(clientID, eventID string) string {
	if eventID == "" {
		return ""
	}
	return clientID + "/" + eventID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
