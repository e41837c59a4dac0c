// Package ergonode is a thin REST client for the Ergo full node the tracker
// consumes as its chain-ingress backend: scan registration, unspent-box
// listing, chain height, and the delegated Schnorr-signing endpoint for the
// tracker's own key.
package ergonode

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/basis-protocol/tracker/errkind"
)

// defaultTimeout is the per-call deadline applied when Config.Timeout is
// zero.
const defaultTimeout = 30 * time.Second

// Config bundles the parameters needed to reach the node.
type Config struct {
	// BaseURL is the node's REST API root, e.g. "http://127.0.0.1:9053".
	BaseURL string

	// APIKey authenticates every request via the node's api_key header.
	APIKey string

	// Timeout bounds each individual call; defaults to 30s.
	Timeout time.Duration
}

// Client talks to a single Ergo node over its REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New constructs a Client. BaseURL must be non-empty.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errkind.New(errkind.StorageError, "ergo node base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api_key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.New(errkind.NodeUnavailable, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errkind.New(errkind.NodeUnavailable, "node returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ergo node error %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CurrentHeight returns the node's current block height.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var info struct {
		FullHeight uint64 `json:"fullHeight"`
	}
	if err := c.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return 0, err
	}
	return info.FullHeight, nil
}

// ScanRegisterRequest mirrors the node's scan-registration payload: a
// tracking rule plus whether spent boxes should be retained.
type ScanRegisterRequest struct {
	ScanName     string          `json:"scanName"`
	TrackingRule json.RawMessage `json:"trackingRule"`
	RemoveOffchain bool          `json:"removeOffchain"`
}

// RegisterScan registers (or re-registers) a tracking scan, returning its
// node-assigned scan id.
func (c *Client) RegisterScan(ctx context.Context, req ScanRegisterRequest) (int, error) {
	var out struct {
		ScanID int `json:"scanId"`
	}
	if err := c.do(ctx, http.MethodPost, "/scan/register", req, &out); err != nil {
		return 0, err
	}
	return out.ScanID, nil
}

// ListScans returns every scan currently registered with the node, used by
// the periodic re-verification loop to detect a node that has forgotten a
// scan it was previously asked to track.
func (c *Client) ListScans(ctx context.Context) ([]int, error) {
	var out []struct {
		ScanID int `json:"scanId"`
	}
	if err := c.do(ctx, http.MethodGet, "/scan/listAll", nil, &out); err != nil {
		return nil, err
	}
	ids := make([]int, len(out))
	for i, s := range out {
		ids[i] = s.ScanID
	}
	return ids, nil
}

// Box is a raw on-chain box as returned by the node's scan API.
type Box struct {
	BoxID      string            `json:"boxId"`
	Value      uint64            `json:"value"`
	Assets     []Asset           `json:"assets"`
	Registers  map[string]string `json:"additionalRegisters"`
	CreationHeight uint64        `json:"creationHeight"`
}

// Asset is a single token entry on a box.
type Asset struct {
	TokenID string `json:"tokenId"`
	Amount  uint64 `json:"amount"`
}

// UnspentBoxesByScan returns the scan's current unspent-box set.
func (c *Client) UnspentBoxesByScan(ctx context.Context, scanID int) ([]Box, error) {
	var out []Box
	path := fmt.Sprintf("/scan/unspentBoxes/%d", scanID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SignTracker delegates a Schnorr signature over msg to the node's signing
// endpoint for the tracker's configured key. It implements tracker.Signer.
func (c *Client) SignTracker(ctx context.Context, msg []byte) ([65]byte, error) {
	var sig [65]byte
	req := struct {
		Message string `json:"message"`
	}{Message: fmt.Sprintf("%x", msg)}

	var out struct {
		Signature string `json:"signature"`
	}
	if err := c.do(ctx, http.MethodPost, "/wallet/tracker/sign", req, &out); err != nil {
		return sig, err
	}

	raw, err := hex.DecodeString(out.Signature)
	if err != nil {
		return sig, errkind.New(errkind.InvalidHex, "signer returned malformed hex: %v", err)
	}
	if len(raw) != 65 {
		return sig, errkind.New(errkind.InvalidLength,
			"signer returned %d-byte signature, expected 65", len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

// SubmitCommitTransaction asks the node's wallet to build and broadcast a
// transaction embedding the tracker tree's digest, used by the periodic
// commitment writer when commit_submit_transaction is enabled. Returns the
// broadcast transaction id.
func (c *Client) SubmitCommitTransaction(ctx context.Context, digest [33]byte, height uint64) (string, error) {
	req := struct {
		Digest string `json:"digest"`
		Height uint64 `json:"height"`
	}{
		Digest: hex.EncodeToString(digest[:]),
		Height: height,
	}

	var out struct {
		TxID string `json:"txId"`
	}
	if err := c.do(ctx, http.MethodPost, "/wallet/tracker/commit", req, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}
