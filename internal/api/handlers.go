package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/pkg/httputil"
	"github.com/ignite/campaign-orchestrator/internal/service/campaign"
)

// Handlers holds the HTTP handlers for the campaign API.
type Handlers struct {
	campaigns *campaign.Service
}

// NewHandlers creates the handler set.
func NewHandlers(campaigns *campaign.Service) *Handlers {
	return &Handlers{campaigns: campaigns}
}

func (h *Handlers) createCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	c, err := h.campaigns.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (h *Handlers) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) sendCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.campaigns.StartSend(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{
		"campaign_id": id.String(),
		"status":      "sending",
	})
}

func (h *Handlers) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.campaigns.Pause(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{
		"campaign_id": id.String(),
		"status":      "paused",
	})
}

func (h *Handlers) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.campaigns.Resume(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{
		"campaign_id": id.String(),
		"status":      "sending",
	})
}

func (h *Handlers) cancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.campaigns.Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{
		"campaign_id": id.String(),
		"status":      "cancelled",
	})
}

func (h *Handlers) campaignProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	c, err := h.campaigns.Progress(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"campaign_id": c.ID,
		"status":      c.Status,
		"progress":    c.Progress,
	})
}

func (h *Handlers) campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, campaign.ErrMissingContent),
		errors.Is(err, campaign.ErrMissingTargeting):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
