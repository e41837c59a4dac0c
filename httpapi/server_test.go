package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/basis-protocol/tracker/schnorr"
	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

type fakeSigner struct {
	priv *secp256k1.PrivateKey
}

func (f *fakeSigner) SignTracker(ctx context.Context, msg []byte) ([65]byte, error) {
	return schnorr.Sign(f.priv, msg)
}

func newTestServer(t *testing.T) (*Server, *secp256k1.PrivateKey) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	trackerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	core := tracker.New(&tracker.Config{
		DB:                       db,
		Signer:                   &fakeSigner{priv: trackerPriv},
		TrackerPublicKey:         trackerPriv.PubKey(),
		CollateralAlertThreshold: 1.0,
	})
	require.NoError(t, core.Start())
	t.Cleanup(func() { core.Stop() })

	srv := New(Config{
		Core:               core,
		DB:                 db,
		ReserveContractP2S: "p2s-test-address",
	})
	return srv, trackerPriv
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func signedNoteBody(t *testing.T, issuerPriv *secp256k1.PrivateKey, recipientPk []byte, totalDebt, ts uint64) noteSubmitBody {
	t.Helper()
	issuerPk := issuerPriv.PubKey().SerializeCompressed()
	key, err := schnorr.NoteKey(issuerPk, recipientPk)
	require.NoError(t, err)
	msg := schnorr.SigningMessage(key, totalDebt, false)
	sig, err := schnorr.Sign(issuerPriv, msg)
	require.NoError(t, err)

	return noteSubmitBody{
		IssuerPk:    hex.EncodeToString(issuerPk),
		RecipientPk: hex.EncodeToString(recipientPk),
		Amount:      totalDebt,
		Timestamp:   ts,
		Signature:   hex.EncodeToString(sig[:]),
	}
}

func testPk(seed byte) []byte {
	pk := make([]byte, 33)
	pk[0] = 0x02
	for i := 1; i < 33; i++ {
		pk[i] = seed
	}
	return pk
}

func TestRootLiveness(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitNoteAndFetch(t *testing.T) {
	srv, _ := newTestServer(t)
	issuerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	recipient := testPk(9)

	body := signedNoteBody(t, issuerPriv, recipient, 1000, 1)
	rec, env := doRequest(t, srv, http.MethodPost, "/notes", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)

	issuerHex := hex.EncodeToString(issuerPriv.PubKey().SerializeCompressed())
	recipientHex := hex.EncodeToString(recipient)
	rec, env = doRequest(t, srv, http.MethodGet, "/notes/issuer/"+issuerHex+"/recipient/"+recipientHex, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
}

func TestSubmitNoteInvalidHexRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	body := noteSubmitBody{
		IssuerPk:    "ZZ", // not hex, wrong length
		RecipientPk: hex.EncodeToString(testPk(1)),
		Amount:      100,
		Timestamp:   1,
		Signature:   hex.EncodeToString(make([]byte, 65)),
	}
	rec, env := doRequest(t, srv, http.MethodPost, "/notes", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
}

func TestNotesByIssuerEmptyIsNotNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	pkHex := hex.EncodeToString(testPk(5))
	rec, env := doRequest(t, srv, http.MethodGet, "/notes/issuer/"+pkHex, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	var notes []noteDTO
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &notes))
	require.Empty(t, notes)
}

func TestSingleNoteNotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	a := hex.EncodeToString(testPk(1))
	b := hex.EncodeToString(testPk(2))
	rec, env := doRequest(t, srv, http.MethodGet, "/notes/issuer/"+a+"/recipient/"+b, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, env.Success)
}

func TestReserveCreatePayload(t *testing.T) {
	srv, _ := newTestServer(t)
	body := reserveCreateBody{
		OwnerPk:          hex.EncodeToString(testPk(3)),
		CollateralAmount: 10_000_000_000,
	}
	rec, env := doRequest(t, srv, http.MethodPost, "/reserves/create", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
}

func TestKeyStatusReflectsIngestedReserve(t *testing.T) {
	srv, _ := newTestServer(t)
	issuerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	issuerPk := issuerPriv.PubKey().SerializeCompressed()
	recipient := testPk(7)

	noteBody := signedNoteBody(t, issuerPriv, recipient, 5_000, 1)
	rec, _ := doRequest(t, srv, http.MethodPost, "/notes", noteBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var ownerPk [33]byte
	copy(ownerPk[:], issuerPk)
	require.NoError(t, srv.cfg.Core.IngestReserveEvent(tracker.ReserveEvent{
		BoxID:            []byte("box-x"),
		OwnerPk:          ownerPk,
		CollateralAmount: 10_000,
		Kind:             tracker.ReserveEventCreated,
		Height:           1,
		Timestamp:        1,
	}))

	rec, env := doRequest(t, srv, http.MethodGet, "/key-status/"+hex.EncodeToString(issuerPk), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
}

func TestRedeemCompleteRequiresExistingReserve(t *testing.T) {
	srv, _ := newTestServer(t)
	issuerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	recipient := testPk(4)

	reqBody := redeemRequestBody{
		IssuerPk:    hex.EncodeToString(issuerPriv.PubKey().SerializeCompressed()),
		RecipientPk: hex.EncodeToString(recipient),
		TotalDebt:   1000,
	}
	rec, env := doRequest(t, srv, http.MethodPost, "/redeem/complete", reqBody)
	require.NotEqual(t, http.StatusOK, rec.Code)
	require.False(t, env.Success)
}

func TestHealthzReportsHealthy(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, env := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
}
