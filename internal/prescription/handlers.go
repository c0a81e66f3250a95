package prescription

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/medrex/rx-ledger/internal/gateway"
	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

// Handler serves the prescription, verification and dispensation endpoints
type Handler struct {
	assembler *Assembler
	issuer    *Issuer
	dispenser *Dispenser
	verifier  Verifier
	logger    *logger.Logger
}

// NewHandler creates a new prescription handler
func NewHandler(assembler *Assembler, issuer *Issuer, dispenser *Dispenser, verifier Verifier, log *logger.Logger) *Handler {
	return &Handler{
		assembler: assembler,
		issuer:    issuer,
		dispenser: dispenser,
		verifier:  verifier,
		logger:    log,
	}
}

type batchRequest struct {
	PrescriptionIDs []int64 `json:"prescription_ids"`
}

type dispenseRequest struct {
	PharmacyID     int64 `json:"pharmacy_id"`
	PrescriptionID int64 `json:"prescription_id"`
}

type verifyResponse struct {
	*types.VerificationResult
	Authentic bool `json:"authentic"`
}

type listedPrescription struct {
	*types.Prescription
	Verification *verifyResponse `json:"verification,omitempty"`
}

// listVerifyConcurrency caps the oracle calls a verified listing runs at once
const listVerifyConcurrency = 4

// RegisterRoutes mounts the handlers on api. verifyMW wraps the routes that
// reach the ledger oracle.
func (h *Handler) RegisterRoutes(api *mux.Router, verifyMW func(http.Handler) http.Handler) {
	verify := http.Handler(http.HandlerFunc(h.verifyHandler))
	verifiedList := http.Handler(http.HandlerFunc(h.listHandler))
	if verifyMW != nil {
		verify = verifyMW(verify)
		verifiedList = verifyMW(verifiedList)
	}

	api.Handle("/prescriptions", verifiedList).Methods("GET").Queries("verify", "true")
	api.HandleFunc("/prescriptions", h.listHandler).Methods("GET")
	api.HandleFunc("/prescriptions", h.issueHandler).Methods("POST")
	api.HandleFunc("/prescriptions/batch", h.batchHandler).Methods("POST")
	api.Handle("/prescription/verify/{id:[0-9]+}", verify).Methods("GET")
	api.HandleFunc("/prescription/{id:[0-9]+}", h.getHandler).Methods("GET")
	api.HandleFunc("/prescription/{id:[0-9]+}/dispensations", h.listDispensationsHandler).Methods("GET")
	api.HandleFunc("/dispense", h.dispenseHandler).Methods("POST")
}

func (h *Handler) issueHandler(w http.ResponseWriter, r *http.Request) {
	var req types.NewPrescription
	if err := gateway.DecodeJSON(r, &req); err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	issued, err := h.issuer.Issue(r.Context(), &req)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"id":          issued.ID,
		"fingerprint": issued.Fingerprint,
	})
}

func (h *Handler) batchHandler(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := gateway.DecodeJSON(r, &req); err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	prescriptions, err := h.assembler.GetByIDs(r.Context(), req.PrescriptionIDs)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, prescriptions)
}

// listHandler serves a patient's or a doctor's prescriptions. Bad filters
// and storage failures yield an empty list.
func (h *Handler) listHandler(w http.ResponseWriter, r *http.Request) {
	prescriptions, err := h.listPrescriptions(r)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Warn("Prescription listing failed; returning empty list")
		gateway.WriteJSON(w, http.StatusOK, []listedPrescription{})
		return
	}

	listed := make([]listedPrescription, len(prescriptions))
	for i, p := range prescriptions {
		listed[i].Prescription = p
	}

	if r.URL.Query().Get("verify") == "true" {
		h.attachVerifications(r, listed)
	}

	gateway.WriteJSON(w, http.StatusOK, listed)
}

func (h *Handler) listPrescriptions(r *http.Request) ([]*types.Prescription, error) {
	query := r.URL.Query()
	patient, doctor := query.Get("patient_id"), query.Get("doctor_id")

	switch {
	case patient != "" && doctor == "":
		id, err := queryID(patient, "patient_id")
		if err != nil {
			return nil, err
		}
		return h.assembler.ListByPatient(r.Context(), id)
	case doctor != "" && patient == "":
		id, err := queryID(doctor, "doctor_id")
		if err != nil {
			return nil, err
		}
		return h.assembler.ListByDoctor(r.Context(), id)
	default:
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "exactly one of patient_id or doctor_id is required", nil)
	}
}

// attachVerifications verifies each listed prescription against the ledger.
// A prescription whose lookup fails is listed without a verification.
func (h *Handler) attachVerifications(r *http.Request, listed []listedPrescription) {
	sem := make(chan struct{}, listVerifyConcurrency)
	var wg sync.WaitGroup

	for i := range listed {
		wg.Add(1)
		sem <- struct{}{}
		go func(item *listedPrescription) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := h.verifier.Verify(r.Context(), item.ID)
			if err != nil {
				h.logger.WithContext(r.Context()).WithError(err).WithField("prescription_id", item.ID).Warn("Listing verification failed")
				return
			}
			item.Verification = &verifyResponse{VerificationResult: result, Authentic: result.Authentic()}
		}(&listed[i])
	}

	wg.Wait()
}

func (h *Handler) getHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	p, err := h.assembler.GetByID(r.Context(), id)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) verifyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	result, err := h.verifier.Verify(r.Context(), id)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, verifyResponse{
		VerificationResult: result,
		Authentic:          result.Authentic(),
	})
}

func (h *Handler) listDispensationsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	events, err := h.dispenser.ListDispensations(r.Context(), id)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) dispenseHandler(w http.ResponseWriter, r *http.Request) {
	var req dispenseRequest
	if err := gateway.DecodeJSON(r, &req); err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	event, err := h.dispenser.Dispense(r.Context(), req.PharmacyID, req.PrescriptionID)
	if err != nil {
		gateway.WriteError(w, r, h.logger, err)
		return
	}

	gateway.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      event.ID,
	})
}

func queryID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewValidationError(types.ErrCodeInvalidInput, "invalid "+name, nil)
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewValidationError(types.ErrCodeInvalidInput, "invalid prescription id", nil)
	}
	return id, nil
}
