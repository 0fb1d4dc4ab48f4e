// Package celestia implements ledger.Client against a Celestia
// data-availability node's JSON-RPC API.
//
// Only three methods are used: blob.Submit, blob.GetAll and
// header.LocalHead. Transport, authentication and timeouts are owned here;
// the store above never retries.
package celestia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/carlmjohnson/requests"

	"github.com/roach88/blobdb/internal/ledger"
)

const (
	// DefaultEndpoint is the node's default RPC listen address.
	DefaultEndpoint = "http://localhost:26658"

	// AuthTokenEnv names the environment variable holding the node auth token.
	AuthTokenEnv = "CELESTIA_NODE_AUTH_TOKEN"

	// DefaultTimeout bounds a single RPC round trip.
	DefaultTimeout = 30 * time.Second

	namespaceVersionZero = 0
	namespaceIDSize      = 28
	namespaceV0Prefix    = 18
	namespaceV0IDSize    = 10

	errBlobNotFound = "blob: not found"
)

// Config configures a Client.
type Config struct {
	// Endpoint is the node RPC URL. Defaults to DefaultEndpoint.
	Endpoint string

	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string

	// Timeout bounds each RPC call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// GasPrice is forwarded with submissions when positive.
	GasPrice float64

	// HTTPClient overrides the HTTP client, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to a Celestia node.
type Client struct {
	endpoint string
	token    string
	gasPrice float64
	http     *http.Client
	nextID   atomic.Uint64
}

var _ ledger.Client = (*Client)(nil)

// New creates a client. No network call is made until the first request.
func New(cfg Config) *Client {
	c := &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.AuthToken,
		gasPrice: cfg.GasPrice,
		http:     cfg.HTTPClient,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// blobJSON is the node's wire form of a blob.
type blobJSON struct {
	Namespace    []byte `json:"namespace"`
	Data         []byte `json:"data"`
	ShareVersion uint32 `json:"share_version"`
	Commitment   []byte `json:"commitment,omitempty"`
	Index        int    `json:"index"`
}

type txConfig struct {
	GasPrice      float64 `json:"gas_price,omitempty"`
	IsGasPriceSet bool    `json:"is_gas_price_set,omitempty"`
}

type extendedHeader struct {
	Header struct {
		Height string `json:"height"`
	} `json:"header"`
}

// call performs one JSON-RPC round trip. A non-nil *RPCError is returned
// separately from transport failures so callers can classify it.
func (c *Client) call(ctx context.Context, method string, params []any, result any) (*RPCError, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	var resp rpcResponse

	rb := requests.
		URL(c.endpoint).
		Client(c.http).
		BodyJSON(&req).
		ToJSON(&resp)
	if c.token != "" {
		rb = rb.Bearer(c.token)
	}
	if err := rb.Fetch(ctx); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return resp.Error, nil
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil, nil
}

// Submit posts blobs in one blob.Submit call and returns the inclusion height.
func (c *Client) Submit(ctx context.Context, ns ledger.Namespace, blobs [][]byte) (ledger.Height, error) {
	if len(blobs) == 0 {
		return 0, ledger.NewRejectedError(errors.New("empty batch"))
	}
	wireNS, err := EncodeNamespace(ns)
	if err != nil {
		return 0, ledger.NewRejectedError(err)
	}

	wire := make([]blobJSON, 0, len(blobs))
	for _, b := range blobs {
		wire = append(wire, blobJSON{Namespace: wireNS, Data: b})
	}
	opts := txConfig{}
	if c.gasPrice > 0 {
		opts = txConfig{GasPrice: c.gasPrice, IsGasPriceSet: true}
	}

	var height uint64
	rpcErr, err := c.call(ctx, "blob.Submit", []any{wire, opts}, &height)
	if err != nil {
		return 0, ledger.NewTransportError("submit", err)
	}
	if rpcErr != nil {
		return 0, ledger.NewRejectedError(rpcErr)
	}
	return ledger.Height(height), nil
}

// GetAll fetches every blob of ns at height h.
func (c *Client) GetAll(ctx context.Context, h ledger.Height, ns ledger.Namespace) ([][]byte, error) {
	wireNS, err := EncodeNamespace(ns)
	if err != nil {
		return nil, ledger.NewFetchError(h, err)
	}

	var wire []blobJSON
	rpcErr, err := c.call(ctx, "blob.GetAll", []any{uint64(h), [][]byte{wireNS}}, &wire)
	if err != nil {
		return nil, ledger.NewTransportError("get_all", err)
	}
	if rpcErr != nil {
		if strings.Contains(rpcErr.Message, errBlobNotFound) {
			return nil, nil
		}
		return nil, ledger.NewFetchError(h, rpcErr)
	}

	if len(wire) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(wire))
	for _, b := range wire {
		out = append(out, b.Data)
	}
	return out, nil
}

// Head returns the height of the node's local head.
func (c *Client) Head(ctx context.Context) (ledger.Height, error) {
	var hdr extendedHeader
	rpcErr, err := c.call(ctx, "header.LocalHead", []any{}, &hdr)
	if err != nil {
		return 0, ledger.NewTransportError("head", err)
	}
	if rpcErr != nil {
		return 0, ledger.NewTransportError("head", rpcErr)
	}
	h, err := strconv.ParseUint(hdr.Header.Height, 10, 64)
	if err != nil {
		return 0, ledger.NewTransportError("head", fmt.Errorf("parse height %q: %w", hdr.Header.Height, err))
	}
	return ledger.Height(h), nil
}

// EncodeNamespace converts ns into a 29-byte version-0 Celestia namespace:
// one version byte, 18 zero bytes, then the 10-byte id left-padded with zeros.
func EncodeNamespace(ns ledger.Namespace) ([]byte, error) {
	id := ns.Bytes()
	if len(id) == 0 || len(id) > namespaceV0IDSize {
		return nil, fmt.Errorf("namespace id must be 1..%d bytes, got %d", namespaceV0IDSize, len(id))
	}
	out := make([]byte, 1+namespaceIDSize)
	out[0] = namespaceVersionZero
	copy(out[1+namespaceV0Prefix+namespaceV0IDSize-len(id):], id)
	return out, nil
}
