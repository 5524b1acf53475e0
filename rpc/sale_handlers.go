package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"crowdsale/core"
	"crowdsale/crypto"
	nativecommon "crowdsale/native/common"
	"crowdsale/native/funds"
	"crowdsale/native/sale"
	"crowdsale/observability"
)

func (s *Server) handleSaleStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	status, err := s.node.CampaignStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load campaign status", err.Error())
		return
	}
	writeResult(w, req.ID, formatCampaignStatus(status))
}

func (s *Server) handleSaleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address parameter required", nil)
		return
	}
	var addrStr string
	if err := json.Unmarshal(req.Params[0], &addrStr); err != nil {
		var wrapper struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(req.Params[0], &wrapper); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", nil)
			return
		}
		addrStr = wrapper.Address
	}
	addrStr = strings.TrimSpace(addrStr)
	addr, err := parseAddressParam(addrStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to decode address", err.Error())
		return
	}
	account, err := s.node.GetAccount(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load account", err.Error())
		return
	}
	resp := BalanceResponse{
		Address:     addrStr,
		BalanceUSDQ: account.BalanceUSDQ,
		BalanceCRW:  account.BalanceCRW,
		Nonce:       account.Nonce,
	}
	writeResult(w, req.ID, resp)
}

func (s *Server) handleSaleSubmitOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected payload with order and sig", nil)
		return
	}
	var payload struct {
		Order json.RawMessage `json:"order"`
		Sig   string          `json:"sig"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	if len(payload.Order) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "order required", nil)
		return
	}
	var order core.ContributionOrder
	if err := json.Unmarshal(payload.Order, &order); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid order", err.Error())
		return
	}
	sigHex := strings.TrimSpace(payload.Sig)
	if sigHex == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "signature required", nil)
		return
	}
	sigHex = strings.TrimPrefix(sigHex, "0x")
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature", err.Error())
		return
	}

	source := clientSource(r)
	if !s.allowSource(source, time.Now()) {
		observability.ModuleMetrics().RecordThrottle("sale", "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "order rate limit exceeded", source)
		return
	}

	purchase, err := s.node.SubmitContribution(order, signature)
	if err != nil {
		writeContributionError(w, req.ID, order.TrimmedNonce(), err)
		return
	}
	writeResult(w, req.ID, formatPurchase(purchase))
}

func (s *Server) handleSaleContribute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var payload struct {
		Contributor string `json:"contributor"`
		Beneficiary string `json:"beneficiary,omitempty"`
		Amount      string `json:"amount"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	contributor, err := parseAddressParam(payload.Contributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid contributor address", err.Error())
		return
	}
	beneficiary := contributor
	if strings.TrimSpace(payload.Beneficiary) != "" {
		beneficiary, err = parseAddressParam(payload.Beneficiary)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid beneficiary address", err.Error())
			return
		}
	}
	amount, err := parseAmountParam(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	purchase, err := s.node.Contribute(contributor, beneficiary, amount)
	if err != nil {
		writeContributionError(w, req.ID, "", err)
		return
	}
	writeResult(w, req.ID, formatPurchase(purchase))
}

func (s *Server) handleSaleCreditFunds(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var payload struct {
		To        string `json:"to"`
		Amount    string `json:"amount"`
		Reference string `json:"reference,omitempty"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	to, err := parseAddressParam(payload.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient address", err.Error())
		return
	}
	amount, err := parseAmountParam(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	if err := s.node.CreditFunds(to, amount, strings.TrimSpace(payload.Reference)); err != nil {
		switch {
		case errors.Is(err, nativecommon.ErrModulePaused):
			writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "funds credit failed", err.Error())
		}
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"to":       strings.TrimSpace(payload.To),
		"credited": amount.String(),
	})
}

func (s *Server) handleSaleFinalize(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if err := s.node.FinalizeCampaign(); err != nil {
		switch {
		case errors.Is(err, sale.ErrAlreadyFinalized):
			writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, err.Error(), nil)
		case errors.Is(err, sale.ErrCampaignNotEnded):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, nativecommon.ErrModulePaused):
			writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "finalize failed", err.Error())
		}
		return
	}
	issued, err := s.node.TotalIssued()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load issued supply", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"finalized":   true,
		"totalIssued": issued.String(),
	})
}

func (s *Server) handleSalePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if err := s.node.PauseCampaign(); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "pause failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"paused": true})
}

func (s *Server) handleSaleResume(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if err := s.node.ResumeCampaign(); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "resume failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"paused": false})
}

func (s *Server) handleSalePurchaseGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected purchase id", nil)
		return
	}
	var id string
	if err := json.Unmarshal(req.Params[0], &id); err != nil {
		var wrapper struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params[0], &wrapper); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid purchase id", nil)
			return
		}
		id = wrapper.ID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "purchase id required", nil)
		return
	}
	record, ok, err := s.node.Purchase(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load purchase", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "purchase not found", id)
		return
	}
	writeResult(w, req.ID, formatPurchase(record))
}

func (s *Server) handleSalePurchaseList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) < 2 || len(req.Params) > 4 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected startTs, endTs, [cursor], [limit]", nil)
		return
	}
	var startTs, endTs int64
	if err := json.Unmarshal(req.Params[0], &startTs); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid startTs", err.Error())
		return
	}
	if err := json.Unmarshal(req.Params[1], &endTs); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid endTs", err.Error())
		return
	}
	cursor := ""
	if len(req.Params) >= 3 {
		if err := json.Unmarshal(req.Params[2], &cursor); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid cursor", err.Error())
			return
		}
		cursor = strings.TrimSpace(cursor)
	}
	limit := 50
	if len(req.Params) == 4 {
		var limit64 int64
		if err := json.Unmarshal(req.Params[3], &limit64); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid limit", err.Error())
			return
		}
		if limit64 > 0 {
			limit = int(limit64)
		}
	}
	records, nextCursor, err := s.node.Purchases(startTs, endTs, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list purchases", err.Error())
		return
	}
	formatted := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		formatted = append(formatted, formatPurchase(record))
	}
	writeResult(w, req.ID, map[string]interface{}{"purchases": formatted, "nextCursor": nextCursor})
}

func (s *Server) handleSalePurchaseExport(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 2 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected startTs and endTs", nil)
		return
	}
	var startTs, endTs int64
	if err := json.Unmarshal(req.Params[0], &startTs); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid startTs", err.Error())
		return
	}
	if err := json.Unmarshal(req.Params[1], &endTs); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid endTs", err.Error())
		return
	}
	csvBase64, count, total, err := s.node.ExportPurchases(startTs, endTs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to export purchases", err.Error())
		return
	}
	result := map[string]interface{}{
		"csvBase64":   csvBase64,
		"count":       count,
		"totalIssued": total.String(),
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleSaleEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	limit := 0
	if len(req.Params) == 1 {
		var limit64 int64
		if err := json.Unmarshal(req.Params[0], &limit64); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid limit", err.Error())
			return
		}
		if limit64 > 0 {
			limit = int(limit64)
		}
	}
	events := s.node.Events()
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeResult(w, req.ID, map[string]interface{}{"events": events})
}

// writeContributionError maps the settlement errors shared by the signed and
// trusted contribution paths onto RPC error codes.
func writeContributionError(w http.ResponseWriter, id interface{}, nonce string, err error) {
	switch {
	case errors.Is(err, core.ErrOrderInvalidSigner):
		writeError(w, http.StatusUnauthorized, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, core.ErrOrderNonceUsed):
		var data interface{}
		if nonce != "" {
			data = nonce
		}
		writeError(w, http.StatusConflict, id, codeDuplicateTx, err.Error(), data)
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaUSDQCapExceeded):
		observability.ModuleMetrics().RecordThrottle("sale", "quota_exceeded")
		writeError(w, http.StatusTooManyRequests, id, codeRateLimited, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, err.Error(), nil)
	case errors.Is(err, core.ErrOrderExpired),
		errors.Is(err, core.ErrOrderInvalidChainID),
		errors.Is(err, sale.ErrInvalidBeneficiary),
		errors.Is(err, sale.ErrZeroContribution),
		errors.Is(err, sale.ErrCampaignPaused),
		errors.Is(err, sale.ErrOutsideSaleWindow),
		errors.Is(err, sale.ErrBelowPresaleMinimum),
		errors.Is(err, sale.ErrHardCapExceeded),
		errors.Is(err, sale.ErrPresaleCapExceeded),
		errors.Is(err, sale.ErrSupplyCapExceeded),
		errors.Is(err, funds.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "contribution failed", err.Error())
	}
}

func formatCampaignStatus(status *sale.StatusView) map[string]interface{} {
	if status == nil {
		return nil
	}
	result := map[string]interface{}{
		"phase":          status.Phase.String(),
		"raisedTotal":    amountToString(status.RaisedTotal),
		"hardCap":        amountToString(status.HardCap),
		"softCap":        amountToString(status.SoftCap),
		"presaleCap":     amountToString(status.PresaleCap),
		"rate":           amountToString(status.Rate),
		"startTime":      status.StartTime.Unix(),
		"presaleEndTime": status.PresaleEndTime.Unix(),
		"endTime":        status.EndTime.Unix(),
		"paused":         status.Paused,
		"finalized":      status.Finalized,
		"ended":          status.Ended,
	}
	if !status.SoftCapDeadline.IsZero() {
		result["softCapDeadline"] = status.SoftCapDeadline.Unix()
	}
	return result
}

func formatPurchase(record *sale.Purchase) map[string]interface{} {
	if record == nil {
		return nil
	}
	return map[string]interface{}{
		"id":           record.ID,
		"contributor":  crypto.NewAddress(crypto.CRWPrefix, record.Contributor[:]).String(),
		"beneficiary":  crypto.NewAddress(crypto.CRWPrefix, record.Beneficiary[:]).String(),
		"amount":       amountToString(record.Amount),
		"issued":       amountToString(record.Issued),
		"bonusPercent": record.BonusPercent,
		"phase":        record.Phase,
		"createdAt":    record.CreatedAt,
	}
}

func parseAddressParam(raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseAmountParam(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func amountToString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
