package httpapi

import (
	"encoding/hex"

	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

// noteDTO is the wire shape for a store.Note: hex-encoded keys/signature
// instead of raw byte arrays.
type noteDTO struct {
	IssuerPk    string `json:"issuerPk"`
	RecipientPk string `json:"recipientPk"`
	TotalDebt   uint64 `json:"totalDebt"`
	Timestamp   uint64 `json:"timestamp"`
	Signature   string `json:"signature"`
}

func toNoteDTO(n *store.Note) noteDTO {
	return noteDTO{
		IssuerPk:    hex.EncodeToString(n.IssuerPk[:]),
		RecipientPk: hex.EncodeToString(n.RecipientPk[:]),
		TotalDebt:   n.TotalDebt,
		Timestamp:   n.Timestamp,
		Signature:   hex.EncodeToString(n.Signature[:]),
	}
}

func toNoteDTOs(notes []*store.Note) []noteDTO {
	out := make([]noteDTO, len(notes))
	for i, n := range notes {
		out[i] = toNoteDTO(n)
	}
	return out
}

type reserveDTO struct {
	BoxID             string `json:"boxId"`
	OwnerPk           string `json:"ownerPk"`
	CollateralAmount  uint64 `json:"collateralAmount"`
	TrackerNftID      string `json:"trackerNftId"`
	LastSeenHeight    uint64 `json:"lastSeenHeight"`
	LastSeenTimestamp uint64 `json:"lastSeenTimestamp"`
	Spent             bool   `json:"spent"`
}

func toReserveDTO(e *store.ReserveEntry) reserveDTO {
	return reserveDTO{
		BoxID:             hex.EncodeToString(e.BoxID),
		OwnerPk:           hex.EncodeToString(e.Info.OwnerPk[:]),
		CollateralAmount:  e.Info.CollateralAmount,
		TrackerNftID:      hex.EncodeToString(e.Info.TrackerNftID[:]),
		LastSeenHeight:    e.Info.LastSeenHeight,
		LastSeenTimestamp: e.Info.LastSeenTimestamp,
		Spent:             e.Info.Spent,
	}
}

func toReserveDTOs(entries []*store.ReserveEntry) []reserveDTO {
	out := make([]reserveDTO, len(entries))
	for i, e := range entries {
		out[i] = toReserveDTO(e)
	}
	return out
}

type keyStatusDTO struct {
	Pk              string  `json:"pk"`
	TotalDebt       uint64  `json:"totalDebt"`
	TotalCollateral uint64  `json:"totalCollateral"`
	Ratio           float64 `json:"ratio"`
	HasCollateral   bool    `json:"hasCollateral"`
}

func toKeyStatusDTO(s tracker.KeyStatus) keyStatusDTO {
	return keyStatusDTO{
		Pk:              hex.EncodeToString(s.Pk),
		TotalDebt:       s.TotalDebt,
		TotalCollateral: s.TotalCollateral,
		Ratio:           s.Ratio,
		HasCollateral:   s.HasCollateral,
	}
}

type proofDTO struct {
	Found  bool   `json:"found"`
	Value  uint64 `json:"value,omitempty"`
	Proof  string `json:"proof"`
	Digest string `json:"digest"`
}

func toProofDTO(p *tracker.NoteProof) proofDTO {
	return proofDTO{
		Found:  p.Found,
		Value:  p.Value,
		Proof:  hex.EncodeToString(p.Proof),
		Digest: hex.EncodeToString(p.Digest[:]),
	}
}

type redemptionPrepDTO struct {
	Action                byte   `json:"action"`
	ReceiverPk            string `json:"receiverPk"`
	ReserveOwnerSignature string `json:"reserveOwnerSignature,omitempty"`
	TotalDebt             uint64 `json:"totalDebt"`
	ReserveInsertProof    string `json:"reserveInsertProof"`
	ReserveLookupProof    string `json:"reserveLookupProof,omitempty"`
	TrackerSignature      string `json:"trackerSignature"`
	TrackerLookupProof    string `json:"trackerLookupProof"`
	TrackerStateDigest    string `json:"trackerStateDigest"`
	IsFirstRedemption     bool   `json:"isFirstRedemption"`
	Message               string `json:"message"`
	IsEmergency           bool   `json:"isEmergency"`
}

func toRedemptionPrepDTO(p *tracker.RedemptionPrep) redemptionPrepDTO {
	return redemptionPrepDTO{
		Action:                p.Action,
		ReceiverPk:            hex.EncodeToString(p.ReceiverPk[:]),
		ReserveOwnerSignature: hex.EncodeToString(p.ReserveOwnerSignature),
		TotalDebt:             p.TotalDebt,
		ReserveInsertProof:    hex.EncodeToString(p.ReserveInsertProof),
		ReserveLookupProof:    hex.EncodeToString(p.ReserveLookupProof),
		TrackerSignature:      hex.EncodeToString(p.TrackerSignature[:]),
		TrackerLookupProof:    hex.EncodeToString(p.TrackerLookupProof),
		TrackerStateDigest:    hex.EncodeToString(p.TrackerStateDigest[:]),
		IsFirstRedemption:     p.IsFirstRedemption,
		Message:               hex.EncodeToString(p.Message),
		IsEmergency:           p.IsEmergency,
	}
}

type eventDTO struct {
	Seq       uint64          `json:"seq"`
	Kind      store.EventKind `json:"kind"`
	Timestamp uint64          `json:"timestamp"`
	Data      interface{}     `json:"data"`
}

func toEventDTO(e *store.Event) eventDTO {
	return eventDTO{Seq: e.Seq, Kind: e.Kind, Timestamp: e.Timestamp, Data: e.Data}
}

func toEventDTOs(events []*store.Event) []eventDTO {
	out := make([]eventDTO, len(events))
	for i, e := range events {
		out[i] = toEventDTO(e)
	}
	return out
}

type snapshotDTO struct {
	Digest        string `json:"digest"`
	CurrentHeight uint64 `json:"currentHeight"`
	LastCommitted string `json:"lastCommitted,omitempty"`
	HasCommitted  bool   `json:"hasCommitted"`
}

func toSnapshotDTO(s tracker.Snapshot) snapshotDTO {
	out := snapshotDTO{
		Digest:        hex.EncodeToString(s.Digest[:]),
		CurrentHeight: s.CurrentHeight,
		HasCommitted:  s.HasCommitted,
	}
	if s.HasCommitted {
		out.LastCommitted = hex.EncodeToString(s.LastCommitted[:])
	}
	return out
}
