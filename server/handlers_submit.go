package server

import (
	"encoding/json"
	"net/http"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"
)

type threeDSRequest struct {
	Code string `json:"code"`
}

// submitThreeDS implements POST /reconciler/sessions/{paymentId}/3ds. A 202 means the platform
// took the code; the outcome arrives with a later poll.
func (s *Server) submitThreeDS(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	var req threeDSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_BODY")
		return
	}
	if err := sess.SubmitThreeDSCode(r.Context(), req.Code); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sessionViewOf(sess))
}

// submitNewCard implements POST /reconciler/sessions/{paymentId}/new-card.
func (s *Server) submitNewCard(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	var card reconcile.CardFields
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "INVALID_BODY")
		return
	}
	if err := sess.SubmitNewCard(r.Context(), card); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sessionViewOf(sess))
}
