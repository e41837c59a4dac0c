package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/basis-protocol/tracker/avltree"
	"github.com/basis-protocol/tracker/errkind"
)

func (s *Server) handleListReserves(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.Core.AllReserves()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toReserveDTOs(entries))
}

func (s *Server) handleReservesByIssuer(w http.ResponseWriter, r *http.Request) {
	pk, err := parsePubKeyHex("pk", mux.Vars(r)["pk"])
	if err != nil {
		respondErr(w, err)
		return
	}
	entries, err := s.cfg.Core.ReservesByOwner(pk)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toReserveDTOs(entries))
}

// reserveCreateBody is POST /reserves/create's request: the would-be
// owner's pk and the collateral amount they intend to lock, in nanoErg.
type reserveCreateBody struct {
	OwnerPk          string `json:"ownerPk"`
	CollateralAmount uint64 `json:"collateralAmount"`
}

// reserveCreatePayload is the unsigned box-creation payload a wallet signs
// and broadcasts; the tracker never holds or spends funds itself.
type reserveCreatePayload struct {
	ContractP2S     string `json:"contractP2S"`
	Value           uint64 `json:"value"`
	R4OwnerPk       string `json:"r4OwnerPk"`
	R5InitialDigest string `json:"r5InitialDigest"`
	R6TrackerNftID  string `json:"r6TrackerNftId"`
}

// handleReserveCreate builds the unsigned payment-request payload a wallet
// would use to mint a new reserve box: not a store write, purely a
// computation over configured constants plus the caller's inputs.
func (s *Server) handleReserveCreate(w http.ResponseWriter, r *http.Request) {
	var body reserveCreateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, errkind.InvalidLength, "malformed request body: %v", err)
		return
	}

	ownerPk, err := parsePubKeyHex("ownerPk", body.OwnerPk)
	if err != nil {
		respondErr(w, err)
		return
	}
	if body.CollateralAmount == 0 {
		badRequest(w, errkind.InvalidLength, "collateralAmount must be positive")
		return
	}

	respond(w, http.StatusOK, reserveCreatePayload{
		ContractP2S:     s.cfg.ReserveContractP2S,
		Value:           body.CollateralAmount,
		R4OwnerPk:       hex.EncodeToString(ownerPk),
		R5InitialDigest: hex.EncodeToString(avltree.SerializeInitial()),
		R6TrackerNftID:  hex.EncodeToString(s.cfg.TrackerNftID[:]),
	})
}

func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	pk, err := parsePubKeyHex("pk", mux.Vars(r)["pk"])
	if err != nil {
		respondErr(w, err)
		return
	}
	status, err := s.cfg.Core.KeyStatus(pk)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toKeyStatusDTO(status))
}
