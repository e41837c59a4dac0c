// trackerd is the basis-tracker daemon: it loads configuration, opens the
// durable store, starts the tracker core and chain-ingress scanner, serves
// the HTTP API, and periodically logs (and optionally commits on-chain) the
// tracker tree's digest. Modeled on lnd.go's lndMain/main split.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/basis-protocol/tracker/ergonode"
	"github.com/basis-protocol/tracker/httpapi"
	"github.com/basis-protocol/tracker/scanner"
	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

func main() {
	if err := trackerdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// trackerdMain is the true entry point; it is split out from main so its
// deferred cleanups run before main calls os.Exit on error (matching
// lndMain's rationale in lnd.go).
func trackerdMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	trkdLog.Infof("trackerd starting, datadir=%s", cfg.DataDir)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("unable to open store: %w", err)
	}
	defer db.Close()

	var trackerNftID [32]byte
	if cfg.Ergo.TrackerNftID != "" {
		raw, err := hex.DecodeString(cfg.Ergo.TrackerNftID)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("invalid ergo.tracker_nft_id: must be 32 bytes of hex")
		}
		copy(trackerNftID[:], raw)
	}

	node, err := ergonode.New(ergonode.Config{
		BaseURL: cfg.Ergo.NodeURL,
		APIKey:  cfg.Ergo.APIKey,
		Timeout: time.Duration(cfg.Ergo.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("unable to build ergo node client: %w", err)
	}

	var trackerPubKey *secp256k1.PublicKey
	if cfg.Ergo.TrackerPublicKey != "" {
		raw, err := hex.DecodeString(cfg.Ergo.TrackerPublicKey)
		if err != nil {
			return fmt.Errorf("invalid ergo.tracker_public_key: %w", err)
		}
		trackerPubKey, err = secp256k1.ParsePubKey(raw)
		if err != nil {
			return fmt.Errorf("unable to parse ergo.tracker_public_key: %w", err)
		}
	}

	core := tracker.New(&tracker.Config{
		DB:                       db,
		Signer:                   node,
		TrackerPublicKey:         trackerPubKey,
		TrackerNftID:             trackerNftID,
		CollateralAlertThreshold: cfg.CollateralAlertThreshold,
	})
	if err := core.Start(); err != nil {
		return fmt.Errorf("unable to start tracker core: %w", err)
	}
	defer core.Stop()

	scan := scanner.New(scanner.Config{
		Node:               node,
		DB:                 db,
		Core:               core,
		ReserveContractP2S: cfg.Ergo.ReserveContractP2S,
		TrackerNftID:       trackerNftID,
	})
	if err := scan.Start(context.Background()); err != nil {
		return fmt.Errorf("unable to start scanner: %w", err)
	}
	defer scan.Stop()

	srv := httpapi.New(httpapi.Config{
		Core:                core,
		DB:                  db,
		ReserveContractP2S:  cfg.Ergo.ReserveContractP2S,
		TrackerNftID:        trackerNftID,
		TrackerPublicKeyHex: cfg.Ergo.TrackerPublicKey,
	})

	writer := newCommitWriter(core, time.Duration(cfg.CommitIntervalSecs)*time.Second, cfg.CommitSubmitTransaction, node)
	writer.start()
	defer writer.stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	trkdLog.Infof("http api listening on %s", addr)
	return http.ListenAndServe(addr, srv.Router())
}
