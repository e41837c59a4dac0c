package scanner

import (
	"github.com/basis-protocol/tracker/ergonode"
	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/tracker"
)

// diff compares two successive unspent-box snapshots and classifies every
// change into a typed reserve event. Only the reserve scan classifies
// events; the tracker-NFT scan's snapshot is kept between polls but not
// otherwise used.
func diff(prior, current map[string]ergonode.Box, height, ts uint64, classify bool) []tracker.ReserveEvent {
	if !classify {
		return nil
	}

	ownerPriorBox := make(map[[33]byte]ergonode.Box)
	for _, b := range prior {
		owner, _, err := parseRegisters(b)
		if err != nil {
			log.Errorf("malformed box %s in prior snapshot: %v", b.BoxID, err)
			continue
		}
		ownerPriorBox[owner] = b
	}

	var events []tracker.ReserveEvent
	replaced := make(map[string]bool)

	for id, b := range current {
		if _, existed := prior[id]; existed {
			continue
		}
		owner, nft, err := parseRegisters(b)
		if err != nil {
			log.Errorf("malformed box %s: %v", b.BoxID, err)
			continue
		}

		oldBox, hadReserve := ownerPriorBox[owner]
		if !hadReserve {
			events = append(events, tracker.ReserveEvent{
				BoxID:            []byte(id),
				OwnerPk:          owner,
				CollateralAmount: b.Value,
				TrackerNftID:     nft,
				Height:           height,
				Timestamp:        ts,
				Kind:             tracker.ReserveEventCreated,
			})
			continue
		}

		kind := tracker.ReserveEventToppedUp
		if b.Value < oldBox.Value {
			kind = tracker.ReserveEventRedeemed
		}
		events = append(events, tracker.ReserveEvent{
			BoxID:            []byte(id),
			OwnerPk:          owner,
			CollateralAmount: b.Value,
			TrackerNftID:     nft,
			Height:           height,
			Timestamp:        ts,
			Kind:             kind,
		})
		replaced[oldBox.BoxID] = true
	}

	for id, b := range prior {
		if _, stillPresent := current[id]; stillPresent {
			continue
		}
		if replaced[id] {
			continue
		}
		owner, nft, err := parseRegisters(b)
		if err != nil {
			log.Errorf("malformed box %s: %v", b.BoxID, err)
			continue
		}
		events = append(events, tracker.ReserveEvent{
			BoxID:            []byte(id),
			OwnerPk:          owner,
			CollateralAmount: b.Value,
			TrackerNftID:     nft,
			Height:           height,
			Timestamp:        ts,
			Kind:             tracker.ReserveEventSpent,
		})
	}

	return events
}

// parseRegisters extracts and validates R4 (owner pk) and R6 (tracker-NFT
// id) from a box's additional registers.
func parseRegisters(b ergonode.Box) (owner [33]byte, nft [32]byte, err error) {
	r4, ok := b.Registers["R4"]
	if !ok {
		return owner, nft, errkind.New(errkind.InvalidLength, "box %s missing R4", b.BoxID)
	}
	owner, err = parseOwnerPk(r4)
	if err != nil {
		return owner, nft, err
	}

	r6, ok := b.Registers["R6"]
	if !ok {
		return owner, nft, errkind.New(errkind.InvalidLength, "box %s missing R6", b.BoxID)
	}
	nft, err = parseTrackerNftID(r6)
	return owner, nft, err
}
