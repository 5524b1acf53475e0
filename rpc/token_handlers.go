package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	nativecommon "crowdsale/native/common"
	"crowdsale/native/token"
)

func (s *Server) handleTokenSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	issued, err := s.node.TotalIssued()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load issued supply", err.Error())
		return
	}
	paused, err := s.node.TokenPaused()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load token state", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"symbol":      token.Symbol,
		"totalIssued": issued.String(),
		"paused":      paused,
	})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var payload struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	from, err := parseAddressParam(payload.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid sender address", err.Error())
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

	if err := s.node.TransferToken(from, to, amount); err != nil {
		writeTokenError(w, req.ID, "token transfer failed", err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"from":        strings.TrimSpace(payload.From),
		"to":          strings.TrimSpace(payload.To),
		"transferred": amount.String(),
	})
}

func (s *Server) handleTokenBurn(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var payload struct {
		From   string `json:"from"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	from, err := parseAddressParam(payload.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account address", err.Error())
		return
	}
	amount, err := parseAmountParam(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	if err := s.node.BurnToken(from, amount); err != nil {
		writeTokenError(w, req.ID, "token burn failed", err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"from":   strings.TrimSpace(payload.From),
		"burned": amount.String(),
	})
}

func writeTokenError(w http.ResponseWriter, id interface{}, context string, err error) {
	switch {
	case errors.Is(err, token.ErrPaused),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInvalidAccount),
		errors.Is(err, token.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, context, err.Error())
	}
}
