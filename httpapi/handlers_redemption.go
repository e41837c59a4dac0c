package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/tracker"
)

func redemptionRequest(issuerPk, recipientPk []byte, totalDebt uint64, emergency bool, currentHeight uint64, ownerSig []byte, proofOnly bool) tracker.PrepareRedemptionRequest {
	return tracker.PrepareRedemptionRequest{
		IssuerPk:      issuerPk,
		RecipientPk:   recipientPk,
		TotalDebt:     totalDebt,
		Emergency:     emergency,
		CurrentHeight: currentHeight,
		OwnerSig:      ownerSig,
		ProofOnly:     proofOnly,
	}
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	issuerPk, err := parsePubKeyHex("issuer", r.URL.Query().Get("issuer"))
	if err != nil {
		respondErr(w, err)
		return
	}
	recipientPk, err := parsePubKeyHex("recipient", r.URL.Query().Get("recipient"))
	if err != nil {
		respondErr(w, err)
		return
	}

	proof, err := s.cfg.Core.LookupProof(issuerPk, recipientPk)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toProofDTO(proof))
}

// redeemRequestBody is shared by /redemption/prepare, /tracker/signature,
// /redeem, and /redeem/complete.
type redeemRequestBody struct {
	IssuerPk      string `json:"issuerPk"`
	RecipientPk   string `json:"recipientPk"`
	TotalDebt     uint64 `json:"totalDebt"`
	Emergency     bool   `json:"emergency"`
	OwnerSig      string `json:"ownerSignature"`
	CurrentHeight uint64 `json:"currentHeight"`
}

func decodeRedeemRequest(r *http.Request) (issuerPk, recipientPk []byte, body redeemRequestBody, err error) {
	if err = json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, nil, body, errkind.New(errkind.InvalidLength, "malformed request body: %v", err)
	}
	issuerPk, err = parsePubKeyHex("issuerPk", body.IssuerPk)
	if err != nil {
		return nil, nil, body, err
	}
	recipientPk, err = parsePubKeyHex("recipientPk", body.RecipientPk)
	if err != nil {
		return nil, nil, body, err
	}
	return issuerPk, recipientPk, body, nil
}

func (s *Server) handleRedemptionProof(w http.ResponseWriter, r *http.Request) {
	issuerPk, err := parsePubKeyHex("issuer", r.URL.Query().Get("issuer"))
	if err != nil {
		respondErr(w, err)
		return
	}
	recipientPk, err := parsePubKeyHex("recipient", r.URL.Query().Get("recipient"))
	if err != nil {
		respondErr(w, err)
		return
	}

	totalDebt, err := currentTotalDebt(s, issuerPk, recipientPk)
	if err != nil {
		respondErr(w, err)
		return
	}

	prep, err := s.cfg.Core.PrepareRedemption(r.Context(),
		redemptionRequest(issuerPk, recipientPk, totalDebt, false, 0, nil, true))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toRedemptionPrepDTO(prep))
}

func currentTotalDebt(s *Server, issuerPk, recipientPk []byte) (uint64, error) {
	note, err := s.cfg.Core.GetNote(issuerPk, recipientPk)
	if err != nil {
		return 0, err
	}
	if note == nil {
		return 0, errkind.New(errkind.NoteNotFound, "no note for this issuer/recipient pair")
	}
	return note.TotalDebt, nil
}

func (s *Server) handleRedemptionPrepare(w http.ResponseWriter, r *http.Request) {
	issuerPk, recipientPk, body, err := decodeRedeemRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var ownerSig []byte
	if body.OwnerSig != "" {
		ownerSig, err = hex.DecodeString(body.OwnerSig)
		if err != nil || !isLowerHex(body.OwnerSig) {
			badRequest(w, errkind.InvalidHex, "ownerSignature is not valid hex")
			return
		}
	}
	prep, err := s.cfg.Core.PrepareRedemption(r.Context(),
		redemptionRequest(issuerPk, recipientPk, body.TotalDebt, body.Emergency, body.CurrentHeight, ownerSig, false))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toRedemptionPrepDTO(prep))
}

func (s *Server) handleTrackerSignature(w http.ResponseWriter, r *http.Request) {
	issuerPk, recipientPk, body, err := decodeRedeemRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	sig, msg, err := s.cfg.Core.CoSignRedemption(r.Context(), issuerPk, recipientPk, body.TotalDebt, body.Emergency)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"trackerSignature": hex.EncodeToString(sig[:]),
		"message":          hex.EncodeToString(msg),
	})
}

// handleRedeem initiates a redemption given (issuer, recipient, totalDebt,
// emergency?), returning the same full bundle as /redemption/prepare.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	issuerPk, recipientPk, body, err := decodeRedeemRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var ownerSig []byte
	if body.OwnerSig != "" {
		ownerSig, err = hex.DecodeString(body.OwnerSig)
		if err != nil || !isLowerHex(body.OwnerSig) {
			badRequest(w, errkind.InvalidHex, "ownerSignature is not valid hex")
			return
		}
	}

	prep, err := s.cfg.Core.PrepareRedemption(r.Context(),
		redemptionRequest(issuerPk, recipientPk, body.TotalDebt, body.Emergency, body.CurrentHeight, ownerSig, false))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toRedemptionPrepDTO(prep))
}

func (s *Server) handleRedeemComplete(w http.ResponseWriter, r *http.Request) {
	issuerPk, recipientPk, body, err := decodeRedeemRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	now := uint64(time.Now().Unix())
	if err := s.cfg.Core.RedeemComplete(issuerPk, recipientPk, body.TotalDebt, now); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"committed": true})
}
