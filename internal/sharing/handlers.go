package sharing

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medrex/rx-ledger/internal/gateway"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

// PrescriptionLoader assembles prescriptions for a resolved share link
type PrescriptionLoader interface {
	GetByIDs(ctx context.Context, prescriptionIDs []int64) ([]*types.Prescription, error)
}

// Handler serves the share grant endpoints
type Handler struct {
	manager       *Manager
	prescriptions PrescriptionLoader
	logger        *logger.Logger
}

// NewHandler creates a new share grant handler
func NewHandler(manager *Manager, prescriptions PrescriptionLoader, log *logger.Logger) *Handler {
	return &Handler{
		manager:       manager,
		prescriptions: prescriptions,
		logger:        log,
	}
}

type prescriptionIDsResponse struct {
	PrescriptionIDs []int64 `json:"prescription_ids"`
}

// RegisterRoutes mounts the share grant routes on api
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/shared-access", h.createHandler).Methods("POST")
	api.HandleFunc("/shared-access", h.listHandler).Methods("GET")
	api.HandleFunc("/shared-access/{id}", h.resolveHandler).Methods("GET")
	api.HandleFunc("/shared-access/{id}", h.revokeHandler).Methods("DELETE")
	api.HandleFunc("/shared-access/{id}/link", h.issueLinkHandler).Methods("GET")

	// The path segment after shared-entity is ignored; older clients send one.
	api.HandleFunc("/shared-entity", h.recipientHandler).Methods("GET")
	api.HandleFunc("/shared-entity/{entity}", h.recipientHandler).Methods("GET")

	api.HandleFunc("/shared/{token}", h.linkHandler).Methods("GET")
}

func (h *Handler) createHandler(w http.ResponseWriter, r *http.Request) {
	var req types.ShareGrantRequest
	if err := gateway.DecodeJSON(r, &req); err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	id, err := h.manager.Create(r.Context(), &req)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

func (h *Handler) listHandler(w http.ResponseWriter, r *http.Request) {
	var ownerID *int64
	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.logger.WithContext(r.Context()).WithField("owner_id", raw).Warn("Ignoring share listing with a non-numeric owner_id")
			gateway.WriteJSON(w, http.StatusOK, []*types.ShareGrantSummary{})
			return
		}
		ownerID = &id
	}

	gateway.WriteJSON(w, http.StatusOK, h.manager.List(r.Context(), ownerID))
}

func (h *Handler) resolveHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := h.manager.Resolve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, prescriptionIDsResponse{PrescriptionIDs: ids})
}

func (h *Handler) revokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Revoke(r.Context(), mux.Vars(r)["id"]); err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) issueLinkHandler(w http.ResponseWriter, r *http.Request) {
	link, err := h.manager.IssueLink(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, link)
}

func (h *Handler) recipientHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ids, err := h.manager.ResolveByRecipient(r.Context(), query.Get("recipient_name"), query.Get("recipient_type"))
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, prescriptionIDsResponse{PrescriptionIDs: ids})
}

func (h *Handler) linkHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := h.manager.ResolveLink(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	prescriptions, err := h.prescriptions.GetByIDs(r.Context(), ids)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, prescriptions)
}
