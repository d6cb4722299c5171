package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"outreach/internal/domain"
	"outreach/internal/service"
)

type API struct {
	Svc      *service.CampaignService
	Validate *Validator
}

func (a *API) Register(r *mux.Router) {
	if a.Validate == nil {
		a.Validate = NewValidator()
	}
	r.HandleFunc("/v1/campaigns/{id}/schedule", a.handleSchedule).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/{id}/preview", a.handlePreview).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns/{id}/pause", a.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/{id}/cancel", a.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/{id}/stats", a.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages", a.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/maintenance/retry-sweep", a.handleRetrySweep).Methods(http.MethodPost)
	r.HandleFunc("/v1/maintenance/purge", a.handlePurge).Methods(http.MethodPost)
}

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt"`
	TestMode    bool       `json:"testMode"`
}

type enqueueRequest struct {
	Messages []messageRequest `json:"messages" validate:"required,max=1000,dive"`
}

type messageRequest struct {
	TenantID    string            `json:"tenantId" validate:"required"`
	RecipientID string            `json:"recipientId" validate:"required"`
	Channel     string            `json:"channel" validate:"required,oneof=email sms whatsapp telegram"`
	Content     string            `json:"content" validate:"required"`
	Subject     string            `json:"subject"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
	Metadata    map[string]string `json:"metadata"`
}

type enqueueResponse struct {
	Queued int      `json:"queued"`
	IDs    []string `json:"ids"`
}

type purgeRequest struct {
	RetentionDays int `json:"retentionDays" validate:"required,min=1"`
}

type countResponse struct {
	Affected int64 `json:"affected"`
}

// decode reads an optional JSON body; an empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	res, err := a.Svc.Schedule(r.Context(), id, service.ScheduleOptions{
		ScheduledAt: req.ScheduledAt,
		TestMode:    req.TestMode,
	})
	if err != nil {
		writeServiceError(w, r, err, "campaign_id", id)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	items, err := a.Svc.Preview(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "campaign_id", id)
		return
	}
	if items == nil {
		items = []service.PreviewItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := a.Svc.Pause(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "campaign_id", id)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Affected: n})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := a.Svc.CancelCampaign(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "campaign_id", id)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Affected: n})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := a.Svc.Stats(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "campaign_id", id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	jobs := make([]domain.QueueMessage, len(req.Messages))
	for i, m := range req.Messages {
		jobs[i] = domain.QueueMessage{
			TenantID:    m.TenantID,
			RecipientID: m.RecipientID,
			Channel:     domain.Channel(m.Channel),
			Content:     m.Content,
			Subject:     m.Subject,
			Metadata:    m.Metadata,
		}
		if m.ScheduledAt != nil {
			jobs[i].ScheduledAt = m.ScheduledAt.UTC()
		}
	}

	out, err := a.Svc.Enqueue(r.Context(), jobs)
	if err != nil {
		writeServiceError(w, r, err, "count", len(jobs))
		return
	}
	ids := make([]string, len(out))
	for i, j := range out {
		ids[i] = j.ID
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Queued: len(out), IDs: ids})
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	msg, err := a.Svc.GetMessage(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "message_id", id)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) handleRetrySweep(w http.ResponseWriter, r *http.Request) {
	res, err := a.Svc.RetrySweep(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	n, err := a.Svc.PurgeOld(r.Context(), req.RetentionDays)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Affected: n})
}
