package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// NodeClient is a thin JSON-RPC client used by the gateway.
type NodeClient interface {
	CreditFunds(ctx context.Context, to, amount, reference string) (*CreditResult, error)
	Contribute(ctx context.Context, contributor, beneficiary, amount string) (*PurchaseReceipt, error)
	SaleStatus(ctx context.Context) (*SaleStatus, error)
}

// NodeRPCError carries a JSON-RPC error object returned by the sale node. The
// gateway maps these to client-visible rejections rather than transport faults.
type NodeRPCError struct {
	Code    int
	Message string
}

func (e *NodeRPCError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// RPCNodeClient implements NodeClient against the crowdsaled JSON-RPC server.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCNodeClient(baseURL, authToken string) *RPCNodeClient {
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreditResult mirrors the node response for sale_creditFunds.
type CreditResult struct {
	To       string `json:"to"`
	Credited string `json:"credited"`
}

// PurchaseReceipt mirrors the purchase record returned by the node.
type PurchaseReceipt struct {
	ID           string `json:"id"`
	Contributor  string `json:"contributor"`
	Beneficiary  string `json:"beneficiary"`
	Amount       string `json:"amount"`
	Issued       string `json:"issued"`
	BonusPercent int64  `json:"bonusPercent"`
	Phase        string `json:"phase"`
	CreatedAt    int64  `json:"createdAt"`
}

// SaleStatus mirrors the node response for sale_status.
type SaleStatus struct {
	Phase           string `json:"phase"`
	RaisedTotal     string `json:"raisedTotal"`
	HardCap         string `json:"hardCap"`
	SoftCap         string `json:"softCap"`
	PresaleCap      string `json:"presaleCap"`
	Rate            string `json:"rate"`
	StartTime       int64  `json:"startTime"`
	PresaleEndTime  int64  `json:"presaleEndTime"`
	EndTime         int64  `json:"endTime"`
	SoftCapDeadline int64  `json:"softCapDeadline,omitempty"`
	Paused          bool   `json:"paused"`
	Finalized       bool   `json:"finalized"`
	Ended           bool   `json:"ended"`
}

func (c *RPCNodeClient) CreditFunds(ctx context.Context, to, amount, reference string) (*CreditResult, error) {
	payload := map[string]string{
		"to":     to,
		"amount": amount,
	}
	if trimmed := strings.TrimSpace(reference); trimmed != "" {
		payload["reference"] = trimmed
	}
	var result CreditResult
	if err := c.call(ctx, "sale_creditFunds", []interface{}{payload}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) Contribute(ctx context.Context, contributor, beneficiary, amount string) (*PurchaseReceipt, error) {
	payload := map[string]string{
		"contributor": contributor,
		"amount":      amount,
	}
	if trimmed := strings.TrimSpace(beneficiary); trimmed != "" {
		payload["beneficiary"] = trimmed
	}
	var result PurchaseReceipt
	if err := c.call(ctx, "sale_contribute", []interface{}{payload}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SaleStatus(ctx context.Context) (*SaleStatus, error) {
	var result SaleStatus
	if err := c.call(ctx, "sale_status", []interface{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
		}
		return err
	}
	if rpcResp.Error != nil {
		return &NodeRPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s failed: status=%d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
