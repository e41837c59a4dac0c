package tracker

import (
	"context"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/schnorr"
	"github.com/basis-protocol/tracker/store"
)

// fakeSigner stands in for the external delegated-signer service so
// tracker-core tests don't need a running node.
type fakeSigner struct {
	priv *secp256k1.PrivateKey
}

func (f *fakeSigner) SignTracker(ctx context.Context, msg []byte) ([65]byte, error) {
	return schnorr.Sign(f.priv, msg)
}

func newTestCore(t *testing.T) (*Core, *secp256k1.PrivateKey) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	trackerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	var nftID [32]byte
	core := New(&Config{
		DB:                       db,
		Signer:                   &fakeSigner{priv: trackerPriv},
		TrackerPublicKey:         trackerPriv.PubKey(),
		TrackerNftID:             nftID,
		CollateralAlertThreshold: 1.0,
	})
	require.NoError(t, core.Start())
	t.Cleanup(func() { core.Stop() })

	return core, trackerPriv
}

func signedNote(t *testing.T, priv *secp256k1.PrivateKey, recipientPk [33]byte, totalDebt, ts uint64) *store.Note {
	t.Helper()
	issuerPk := priv.PubKey().SerializeCompressed()

	var n store.Note
	copy(n.IssuerPk[:], issuerPk)
	n.RecipientPk = recipientPk
	n.TotalDebt = totalDebt
	n.Timestamp = ts

	key, err := schnorr.NoteKey(issuerPk, recipientPk[:])
	require.NoError(t, err)
	msg := schnorr.SigningMessage(key, totalDebt, false)
	sig, err := schnorr.Sign(priv, msg)
	require.NoError(t, err)
	n.Signature = sig

	return &n
}

func testRecipientPk(seed byte) [33]byte {
	var pk [33]byte
	pk[0] = 0x02
	for i := 1; i < 33; i++ {
		pk[i] = seed
	}
	return pk
}

// TestMonotoneDebtEnforced checks that decreasing totalDebt is rejected
// and leaves state unchanged.
func TestMonotoneDebtEnforced(t *testing.T) {
	core, issuerPriv := newTestCore(t)
	recipient := testRecipientPk(9)

	require.NoError(t, core.AddOrUpdateNote(signedNote(t, issuerPriv, recipient, 1000, 1), 100))
	require.NoError(t, core.AddOrUpdateNote(signedNote(t, issuerPriv, recipient, 1500, 2), 100))

	err := core.AddOrUpdateNote(signedNote(t, issuerPriv, recipient, 1200, 3), 100)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.NonMonotone))

	issuerPk := issuerPriv.PubKey().SerializeCompressed()
	got, err := core.GetNote(issuerPk, recipient[:])
	require.NoError(t, err)
	require.Equal(t, uint64(1500), got.TotalDebt)
}

// TestSignatureTamperRejected checks that a tampered signature is
// rejected and never reaches the store.
func TestSignatureTamperRejected(t *testing.T) {
	core, issuerPriv := newTestCore(t)
	recipient := testRecipientPk(1)

	note := signedNote(t, issuerPriv, recipient, 1000, 1)
	note.Signature[64] ^= 0xff

	err := core.AddOrUpdateNote(note, 100)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.InvalidSignature))

	issuerPk := issuerPriv.PubKey().SerializeCompressed()
	got, err := core.GetNote(issuerPk, recipient[:])
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFutureTimestampRejected(t *testing.T) {
	core, issuerPriv := newTestCore(t)
	recipient := testRecipientPk(2)

	err := core.AddOrUpdateNote(signedNote(t, issuerPriv, recipient, 1000, 500), 100)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.FutureTimestamp))
}

// TestPrepareRedemptionFirstRedemption checks the first redemption for a
// given (issuer, recipient) pair, before any reserve lookup entry exists.
func TestPrepareRedemptionFirstRedemption(t *testing.T) {
	core, trackerPriv := newTestCore(t)
	issuerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	recipient := testRecipientPk(3)
	issuerPk := issuerPriv.PubKey().SerializeCompressed()

	require.NoError(t, core.AddOrUpdateNote(signedNote(t, issuerPriv, recipient, 5_000_000_000, 1), 100))

	var ownerPk [33]byte
	copy(ownerPk[:], issuerPk)
	require.NoError(t, core.IngestReserveEvent(ReserveEvent{
		BoxID:            []byte("box-a"),
		OwnerPk:          ownerPk,
		CollateralAmount: 10_000_000_000,
		Kind:             ReserveEventCreated,
		Height:           10,
		Timestamp:        1,
	}))

	prep, err := core.PrepareRedemption(context.Background(), PrepareRedemptionRequest{
		IssuerPk:    issuerPk,
		RecipientPk: recipient[:],
		TotalDebt:   5_000_000_000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, prep.TrackerLookupProof)
	require.Nil(t, prep.ReserveLookupProof)
	require.NotEmpty(t, prep.ReserveInsertProof)
	require.True(t, prep.IsFirstRedemption)
	require.NotEqual(t, [65]byte{}, prep.TrackerSignature)

	key, err := schnorr.NoteKey(issuerPk, recipient[:])
	require.NoError(t, err)
	msg := schnorr.SigningMessage(key, 5_000_000_000, false)
	require.Equal(t, msg, prep.Message)
	require.NoError(t, schnorr.Verify(trackerPriv.PubKey(), msg, prep.TrackerSignature[:]))
}

// TestPrepareRedemptionEmergencyGate checks that emergency redemption is
// rejected before the emergency window after the tracker box's creation
// height has elapsed, and allowed after.
func TestPrepareRedemptionEmergencyGate(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	trackerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	const creationHeight = 1000
	core := New(&Config{
		DB:                       db,
		Signer:                   &fakeSigner{priv: trackerPriv},
		TrackerPublicKey:         trackerPriv.PubKey(),
		TrackerBoxCreationHeight: creationHeight,
		CollateralAlertThreshold: 1.0,
	})
	require.NoError(t, core.Start())
	t.Cleanup(func() { core.Stop() })

	issuerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	recipient := testRecipientPk(4)
	issuerPk := issuerPriv.PubKey().SerializeCompressed()

	require.NoError(t, core.AddOrUpdateNote(signedNote(t, issuerPriv, recipient, 1000, 1), 100))

	var ownerPk [33]byte
	copy(ownerPk[:], issuerPk)
	require.NoError(t, core.IngestReserveEvent(ReserveEvent{
		BoxID:            []byte("box-b"),
		OwnerPk:          ownerPk,
		CollateralAmount: 10_000,
		Kind:             ReserveEventCreated,
		Height:           10,
		Timestamp:        1,
	}))

	_, err = core.PrepareRedemption(context.Background(), PrepareRedemptionRequest{
		IssuerPk:      issuerPk,
		RecipientPk:   recipient[:],
		TotalDebt:     1000,
		Emergency:     true,
		CurrentHeight: creationHeight + emergencyWindowBlocks - 1,
	})
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.EmergencyTooEarly))

	prep, err := core.PrepareRedemption(context.Background(), PrepareRedemptionRequest{
		IssuerPk:      issuerPk,
		RecipientPk:   recipient[:],
		TotalDebt:     1000,
		Emergency:     true,
		CurrentHeight: creationHeight + emergencyWindowBlocks + 1,
	})
	require.NoError(t, err)

	key, err := schnorr.NoteKey(issuerPk, recipient[:])
	require.NoError(t, err)
	wantMsg := schnorr.SigningMessage(key, 1000, true)
	require.Equal(t, wantMsg, prep.Message)
}

// TestScannerIdempotence checks that replaying the same reserve event
// twice does not duplicate state, and that a subsequent spend is still
// applied correctly.
func TestScannerIdempotence(t *testing.T) {
	core, _ := newTestCore(t)

	var ownerPk [33]byte
	ownerPk[0] = 0x02
	ownerPk[1] = 0x55

	ev := ReserveEvent{
		BoxID:            []byte("box-c"),
		OwnerPk:          ownerPk,
		CollateralAmount: 1_000_000_000,
		Kind:             ReserveEventCreated,
		Height:           5,
		Timestamp:        1,
	}
	require.NoError(t, core.IngestReserveEvent(ev))
	require.NoError(t, core.IngestReserveEvent(ev))

	snap, err := core.Snapshot()
	require.NoError(t, err)
	_ = snap

	events, err := core.ListEvents(0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, core.IngestReserveEvent(ReserveEvent{
		BoxID:     ev.BoxID,
		OwnerPk:   ownerPk,
		Kind:      ReserveEventSpent,
		Height:    6,
		Timestamp: 2,
	}))

	events, err = core.ListEvents(0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, store.EventReserveSpent, events[1].Kind)
}

func TestIngestReserveEventRejectsAfterShutdown(t *testing.T) {
	core, _ := newTestCore(t)
	require.NoError(t, core.Stop())

	err := core.IngestReserveEvent(ReserveEvent{BoxID: []byte("x")})
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.Shutdown))
}
