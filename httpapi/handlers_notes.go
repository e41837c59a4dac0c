package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/store"
)

// noteSubmitBody is the POST /notes request shape: amount is interpreted
// as cumulative totalDebt, not a delta.
type noteSubmitBody struct {
	IssuerPk    string `json:"issuerPk"`
	RecipientPk string `json:"recipientPk"`
	Amount      uint64 `json:"amount"`
	Timestamp   uint64 `json:"timestamp"`
	Signature   string `json:"signature"`
}

func (s *Server) handleSubmitNote(w http.ResponseWriter, r *http.Request) {
	var body noteSubmitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, errkind.InvalidLength, "malformed request body: %v", err)
		return
	}

	issuerPk, err := parsePubKeyHex("issuerPk", body.IssuerPk)
	if err != nil {
		respondErr(w, err)
		return
	}
	recipientPk, err := parsePubKeyHex("recipientPk", body.RecipientPk)
	if err != nil {
		respondErr(w, err)
		return
	}
	sig, err := parseSignatureHex("signature", body.Signature)
	if err != nil {
		respondErr(w, err)
		return
	}

	n := &store.Note{
		TotalDebt: body.Amount,
		Timestamp: body.Timestamp,
		Signature: sig,
	}
	copy(n.IssuerPk[:], issuerPk)
	copy(n.RecipientPk[:], recipientPk)

	now := uint64(time.Now().Unix())
	if err := s.cfg.Core.AddOrUpdateNote(n, now); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toNoteDTO(n))
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.cfg.Core.AllNotes()
	if err != nil {
		respondErr(w, err)
		return
	}

	page, pageSize := parsePagination(r)
	start, end := paginateSlice(len(notes), page, pageSize)
	respond(w, http.StatusOK, toNoteDTOs(notes[start:end]))
}

func (s *Server) handleNotesByIssuer(w http.ResponseWriter, r *http.Request) {
	pk, err := parsePubKeyHex("pk", mux.Vars(r)["pk"])
	if err != nil {
		respondErr(w, err)
		return
	}
	notes, err := s.cfg.Core.ListByIssuer(pk)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toNoteDTOs(notes))
}

func (s *Server) handleNotesByRecipient(w http.ResponseWriter, r *http.Request) {
	pk, err := parsePubKeyHex("pk", mux.Vars(r)["pk"])
	if err != nil {
		respondErr(w, err)
		return
	}
	notes, err := s.cfg.Core.ListByRecipient(pk)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toNoteDTOs(notes))
}

func (s *Server) handleSingleNote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	issuerPk, err := parsePubKeyHex("a", vars["a"])
	if err != nil {
		respondErr(w, err)
		return
	}
	recipientPk, err := parsePubKeyHex("b", vars["b"])
	if err != nil {
		respondErr(w, err)
		return
	}

	note, err := s.cfg.Core.GetNote(issuerPk, recipientPk)
	if err != nil {
		respondErr(w, err)
		return
	}
	if note == nil {
		// This lookup returns 404 rather than the 400 the same
		// NoteNotFound kind maps to elsewhere (e.g. redemption lookups):
		// here a missing note is a missing resource, not a client-input
		// error.
		writeJSON(w, http.StatusNotFound, envelope{
			Success: false,
			Error:   errkind.New(errkind.NoteNotFound, "no note for this issuer/recipient pair").Error(),
		})
		return
	}
	respond(w, http.StatusOK, toNoteDTO(note))
}

// parsePagination reads page/page_size query params, defaulting to the
// full first page when absent.
func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 100
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	return page, pageSize
}

func paginateSlice(total, page, pageSize int) (start, end int) {
	start = (page - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
