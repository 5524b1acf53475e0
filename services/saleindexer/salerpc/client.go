package salerpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"crowdsale/crypto"
)

// Client provides a thin JSON-RPC wrapper for the node's purchase surface.
type Client struct {
	url        string
	authToken  string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Config represents the client configuration. The auth token is required for
// the export RPC, which the node guards behind its operator bearer token.
type Config struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
}

// NewClient constructs a JSON-RPC client targeting the supplied URL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:       strings.TrimSpace(cfg.URL),
		authToken: strings.TrimSpace(cfg.AuthToken),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PurchaseRecord is a settled purchase receipt as returned by
// sale_purchase_list. Addresses are bech32 strings and amounts are base-10
// integer strings.
type PurchaseRecord struct {
	ID           string `json:"id"`
	Contributor  string `json:"contributor"`
	Beneficiary  string `json:"beneficiary"`
	Amount       string `json:"amount"`
	Issued       string `json:"issued"`
	BonusPercent int64  `json:"bonusPercent"`
	Phase        string `json:"phase"`
	CreatedAt    int64  `json:"createdAt"`
}

// ExportRecord captures a decoded row from the sale_purchase_export CSV. The
// CSV carries hex addresses; the client converts them to the bech32 form the
// rest of the indexer works with.
type ExportRecord struct {
	ID           string
	Contributor  string
	Beneficiary  string
	Amount       string
	Issued       string
	BonusPercent int64
	Phase        string
	CreatedAt    int64
}

// PurchaseExport bundles the decoded export rows with the totals the node
// reported alongside them.
type PurchaseExport struct {
	Records     []ExportRecord
	Count       int
	TotalIssued string
}

// SupplySnapshot mirrors the token_supply result.
type SupplySnapshot struct {
	Symbol      string `json:"symbol"`
	TotalIssued string `json:"totalIssued"`
	Paused      bool   `json:"paused"`
}

// ListPurchases pages through settled purchases inside the timestamp window.
// Zero bounds leave that side of the window open. The cursor is the identifier
// of the last record from the previous page; an empty next cursor marks the
// final page.
func (c *Client) ListPurchases(ctx context.Context, startTs, endTs int64, cursor string, limit int) ([]PurchaseRecord, string, error) {
	if c == nil {
		return nil, "", fmt.Errorf("salerpc: client not configured")
	}
	params := []interface{}{startTs, endTs, strings.TrimSpace(cursor), limit}
	var payload struct {
		Purchases  []PurchaseRecord `json:"purchases"`
		NextCursor string           `json:"nextCursor"`
	}
	if err := c.call(ctx, "sale_purchase_list", params, &payload); err != nil {
		return nil, "", err
	}
	return payload.Purchases, strings.TrimSpace(payload.NextCursor), nil
}

// ExportPurchases retrieves the audit export for the provided window and
// decodes the embedded CSV.
func (c *Client) ExportPurchases(ctx context.Context, startTs, endTs int64) (*PurchaseExport, error) {
	if c == nil {
		return nil, fmt.Errorf("salerpc: client not configured")
	}
	params := []interface{}{startTs, endTs}
	var payload struct {
		CSVBase64   string `json:"csvBase64"`
		Count       int    `json:"count"`
		TotalIssued string `json:"totalIssued"`
	}
	if err := c.call(ctx, "sale_purchase_export", params, &payload); err != nil {
		return nil, err
	}
	export := &PurchaseExport{
		Records:     []ExportRecord{},
		Count:       payload.Count,
		TotalIssued: strings.TrimSpace(payload.TotalIssued),
	}
	if strings.TrimSpace(payload.CSVBase64) == "" {
		return export, nil
	}
	raw, err := base64.StdEncoding.DecodeString(payload.CSVBase64)
	if err != nil {
		return nil, fmt.Errorf("salerpc: decode export: %w", err)
	}
	reader := csv.NewReader(bytes.NewReader(raw))
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return export, nil
		}
		return nil, fmt.Errorf("salerpc: read export header: %w", err)
	}
	expectedColumns := len(header)
	if expectedColumns < 8 {
		return nil, fmt.Errorf("salerpc: unexpected export columns %d", expectedColumns)
	}
	for {
		row, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("salerpc: read export row: %w", err)
		}
		if len(row) < expectedColumns {
			// pad missing cells with blanks to avoid index panics
			padded := make([]string, expectedColumns)
			copy(padded, row)
			row = padded
		}
		rec := ExportRecord{
			ID:          strings.TrimSpace(row[0]),
			Contributor: bech32FromHex(row[1]),
			Beneficiary: bech32FromHex(row[2]),
			Amount:      strings.TrimSpace(row[3]),
			Issued:      strings.TrimSpace(row[4]),
			Phase:       strings.TrimSpace(row[6]),
		}
		rec.BonusPercent = parseInt64(row[5])
		rec.CreatedAt = parseInt64(row[7])
		export.Records = append(export.Records, rec)
	}
	return export, nil
}

// TokenSupply reports the issued supply and pause state recorded by the node.
func (c *Client) TokenSupply(ctx context.Context) (*SupplySnapshot, error) {
	if c == nil {
		return nil, fmt.Errorf("salerpc: client not configured")
	}
	var result SupplySnapshot
	if err := c.call(ctx, "token_supply", []interface{}{}, &result); err != nil {
		return nil, err
	}
	result.Symbol = strings.TrimSpace(result.Symbol)
	result.TotalIssued = strings.TrimSpace(result.TotalIssued)
	return &result, nil
}

func bech32FromHex(raw string) string {
	trimmed := strings.TrimSpace(raw)
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return trimmed
	}
	return crypto.NewAddress(crypto.CRWPrefix, decoded).String()
}

func parseInt64(raw string) int64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("salerpc: client not configured")
	}
	id := c.nextID.Add(1)
	reqBody := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// The node writes JSON-RPC error envelopes with non-200 statuses, so the
	// body is decoded before the status code is inspected.
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("salerpc: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("salerpc: error %d %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("salerpc: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("salerpc: empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

var _ interface {
	ListPurchases(context.Context, int64, int64, string, int) ([]PurchaseRecord, string, error)
	ExportPurchases(context.Context, int64, int64) (*PurchaseExport, error)
	TokenSupply(context.Context) (*SupplySnapshot, error)
} = (*Client)(nil)
