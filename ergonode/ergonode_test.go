package ergonode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basis-protocol/tracker/errkind"
)

func TestCurrentHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"fullHeight": 123456})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	height, err := client.CurrentHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(123456), height)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func Test5xxMapsToNodeUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.CurrentHeight(context.Background())
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.NodeUnavailable))
}

func TestSignTrackerRoundTrip(t *testing.T) {
	wantSig := make([]byte, 65)
	for i := range wantSig {
		wantSig[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wallet/tracker/sign", r.URL.Path)
		var body struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "deadbeef", body.Message)

		json.NewEncoder(w).Encode(map[string]string{
			"signature": bytesToHex(wantSig),
		})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	sig, err := client.SignTracker(context.Background(), []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	var want [65]byte
	copy(want[:], wantSig)
	require.Equal(t, want, sig)
}

func bytesToHex(b []byte) string {
	const hexChars = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexChars[v>>4]
		out[i*2+1] = hexChars[v&0x0f]
	}
	return string(out)
}

func TestUnspentBoxesByScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/scan/unspentBoxes/7", r.URL.Path)
		json.NewEncoder(w).Encode([]Box{
			{BoxID: "abc", Value: 1000},
		})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	boxes, err := client.UnspentBoxesByScan(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	require.Equal(t, "abc", boxes[0].BoxID)
}
