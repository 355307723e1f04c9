package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/attester/store"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

type attestationResponse struct {
	MessageHash    string              `json:"messageHash"`
	Message        string              `json:"message"`
	Signatures     []signatureResponse `json:"signatures"`
	SignatureCount int                 `json:"signatureCount"`
	ThresholdMet   bool                `json:"thresholdMet"`
	Status         string              `json:"status"`
}

type signatureResponse struct {
	AttesterID uint8  `json:"attesterId"`
	Signature  string `json:"signature"`
	SignedAt   uint64 `json:"signedAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) renderAttestation(att *types.Attestation) attestationResponse {
	resp := attestationResponse{
		MessageHash:    att.MessageID.String(),
		Message:        "0x" + hex.EncodeToString(att.MessageBytes),
		Signatures:     make([]signatureResponse, 0, len(att.Signatures)),
		SignatureCount: len(att.Signatures),
		ThresholdMet:   len(att.Signatures) >= s.cfg.Threshold(att.DestinationDomain),
		Status:         att.Status.String(),
	}
	for _, sig := range att.Signatures {
		resp.Signatures = append(resp.Signatures, signatureResponse{
			AttesterID: sig.AttesterID,
			Signature:  "0x" + hex.EncodeToString(sig.Signature),
			SignedAt:   sig.SignedAtMs,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

func (s *Service) handleAttestationByID(w http.ResponseWriter, r *http.Request) {
	id, err := types.MessageIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed message id")
		return
	}
	att, ok := s.cfg.Store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown message id")
		return
	}
	writeJSON(w, http.StatusOK, s.renderAttestation(att))
}

func (s *Service) handleAttestationByNonce(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	source, err := strconv.ParseUint(vars["source"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed source domain")
		return
	}
	nonce, err := strconv.ParseUint(vars["nonce"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed nonce")
		return
	}
	att, ok := s.cfg.Store.GetByNonce(types.Domain(source), nonce)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source/nonce")
		return
	}
	writeJSON(w, http.StatusOK, s.renderAttestation(att))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.cfg.Store.ListReady()
	attestations := make([]attestationResponse, 0, len(ready))
	for _, att := range ready {
		attestations = append(attestations, s.renderAttestation(att))
	}
	writeJSON(w, http.StatusOK, struct {
		Count        int                   `json:"count"`
		Attestations []attestationResponse `json:"attestations"`
	}{len(attestations), attestations})
}

type healthResponse struct {
	Status       string            `json:"status"`
	UptimeMs     int64             `json:"uptime_ms"`
	Adapters     map[string]string `json:"adapters"`
	Attestations store.Counts      `json:"attestations"`
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		UptimeMs:     time.Since(s.started).Milliseconds(),
		Adapters:     make(map[string]string, len(s.cfg.Adapters)),
		Attestations: s.cfg.Store.Census(),
	}
	healthy, failed := 0, 0
	for _, a := range s.cfg.Adapters {
		st := a.OperationalStatus()
		if err := a.Status(); err != nil {
			resp.Adapters[st.Name] = err.Error()
			failed++
		} else {
			resp.Adapters[st.Name] = "ok"
			healthy++
		}
	}
	code := http.StatusOK
	switch {
	case failed == 0:
		resp.Status = "healthy"
	case healthy > 0:
		resp.Status = "degraded"
	default:
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statsResponse struct {
	Attestations store.Counts      `json:"attestations"`
	StoreSize    int               `json:"storeSize"`
	Adapters     []adapterProgress `json:"adapters"`
}

type adapterProgress struct {
	Name            string `json:"name"`
	LastSourceBlock uint64 `json:"lastSourceBlock"`
	EventsEmitted   uint64 `json:"eventsEmitted"`
	Errors          uint64 `json:"errors"`
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Attestations: s.cfg.Store.Census(),
		StoreSize:    s.cfg.Store.Len(),
		Adapters:     make([]adapterProgress, 0, len(s.cfg.Adapters)),
	}
	for _, a := range s.cfg.Adapters {
		st := a.OperationalStatus()
		resp.Adapters = append(resp.Adapters, adapterProgress{
			Name:            st.Name,
			LastSourceBlock: st.LastSourceBlock,
			EventsEmitted:   st.EventsEmitted,
			Errors:          st.Errors,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]adapter.Status, 0, len(s.cfg.Adapters))
	for _, a := range s.cfg.Adapters {
		statuses = append(statuses, a.OperationalStatus())
	}
	writeJSON(w, http.StatusOK, struct {
		Adapters []adapter.Status `json:"adapters"`
	}{statuses})
}
