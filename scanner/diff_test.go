package scanner

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basis-protocol/tracker/ergonode"
	"github.com/basis-protocol/tracker/tracker"
)

func ownerRegister(seed byte) string {
	pk := make([]byte, 33)
	pk[0] = 0x02
	for i := 1; i < 33; i++ {
		pk[i] = seed
	}
	return hex.EncodeToString(pk)
}

func nftRegister(seed byte) string {
	id := make([]byte, 32)
	for i := range id {
		id[i] = seed
	}
	return hex.EncodeToString(id)
}

func boxWithRegisters(id string, value uint64, ownerSeed, nftSeed byte) ergonode.Box {
	return ergonode.Box{
		BoxID: id,
		Value: value,
		Registers: map[string]string{
			"R4": ownerRegister(ownerSeed),
			"R6": nftRegister(nftSeed),
		},
	}
}

// TestDiffNewBoxIsCreated checks that a brand new box for a
// previously-unseen owner is a ReserveCreated event.
func TestDiffNewBoxIsCreated(t *testing.T) {
	prior := map[string]ergonode.Box{}
	current := map[string]ergonode.Box{
		"box-1": boxWithRegisters("box-1", 1_000_000_000, 0x01, 0x02),
	}

	events := diff(prior, current, 10, 100, true)
	require.Len(t, events, 1)
	require.Equal(t, tracker.ReserveEventCreated, events[0].Kind)
	require.Equal(t, uint64(1_000_000_000), events[0].CollateralAmount)
}

// TestDiffReplayIsIdempotent checks that replaying the same output (prior
// == current) produces no events.
func TestDiffReplayIsIdempotent(t *testing.T) {
	box := boxWithRegisters("box-1", 1_000_000_000, 0x01, 0x02)
	snapshot := map[string]ergonode.Box{"box-1": box}

	events := diff(snapshot, snapshot, 10, 100, true)
	require.Empty(t, events)
}

// TestDiffSpentBoxRemoved checks that a box present in the prior snapshot
// but absent from the current one produces a ReserveSpent event.
func TestDiffSpentBoxRemoved(t *testing.T) {
	box := boxWithRegisters("box-1", 1_000_000_000, 0x01, 0x02)
	prior := map[string]ergonode.Box{"box-1": box}
	current := map[string]ergonode.Box{}

	events := diff(prior, current, 11, 101, true)
	require.Len(t, events, 1)
	require.Equal(t, tracker.ReserveEventSpent, events[0].Kind)
}

func TestDiffToppedUpVsRedeemed(t *testing.T) {
	oldBox := boxWithRegisters("box-1", 1_000_000_000, 0x01, 0x02)
	prior := map[string]ergonode.Box{"box-1": oldBox}

	toppedUp := map[string]ergonode.Box{
		"box-2": boxWithRegisters("box-2", 2_000_000_000, 0x01, 0x02),
	}
	events := diff(prior, toppedUp, 12, 102, true)
	require.Len(t, events, 1)
	require.Equal(t, tracker.ReserveEventToppedUp, events[0].Kind)

	redeemed := map[string]ergonode.Box{
		"box-2": boxWithRegisters("box-2", 500_000_000, 0x01, 0x02),
	}
	events = diff(prior, redeemed, 13, 103, true)
	require.Len(t, events, 1)
	require.Equal(t, tracker.ReserveEventRedeemed, events[0].Kind)
}

func TestDiffMalformedBoxSkipped(t *testing.T) {
	prior := map[string]ergonode.Box{}
	current := map[string]ergonode.Box{
		"box-bad": {BoxID: "box-bad", Value: 1000, Registers: map[string]string{}},
	}

	events := diff(prior, current, 10, 100, true)
	require.Empty(t, events)
}

func TestDiffNonClassifyingScanProducesNoEvents(t *testing.T) {
	prior := map[string]ergonode.Box{}
	current := map[string]ergonode.Box{
		"box-1": boxWithRegisters("box-1", 1_000_000_000, 0x01, 0x02),
	}

	events := diff(prior, current, 10, 100, false)
	require.Empty(t, events)
}
