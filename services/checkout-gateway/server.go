package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"crowdsale/crypto"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
	maxListLimit         = 200
)

// Server is the partner-facing HTTP front-end for checkout settlements.
type Server struct {
	auth           *Authenticator
	node           NodeClient
	store          *SQLiteStore
	limiter        *rateLimiter
	obs            *Observability
	logger         *slog.Logger
	requestTimeout time.Duration
	nowFn          func() time.Time
}

func NewServer(auth *Authenticator, node NodeClient, store *SQLiteStore, limiter *rateLimiter, obs *Observability, logger *slog.Logger, requestTimeout time.Duration) *Server {
	if auth == nil {
		panic("authenticator required")
	}
	if node == nil {
		panic("node client required")
	}
	if store == nil {
		panic("sqlite store required")
	}
	if limiter == nil {
		limiter = newRateLimiter(RateLimitConfig{})
	}
	if obs == nil {
		obs = NewObservability("checkout-gateway", "checkout")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	return &Server{
		auth:           auth,
		node:           node,
		store:          store,
		limiter:        limiter,
		obs:            obs,
		logger:         logger,
		requestTimeout: requestTimeout,
		nowFn:          time.Now,
	}
}

// Handler builds the chi router with auth, rate limiting, and metrics wired in.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware())
		api.With(s.obs.Middleware("sale_status")).Get("/sale/status", s.handleSaleStatus)
		api.Group(func(protected chi.Router) {
			protected.With(s.obs.Middleware("checkout_create"), s.auth.Middleware(scopeCheckoutWrite)).Post("/checkouts", s.handleCheckoutCreate)
			protected.With(s.obs.Middleware("checkout_list"), s.auth.Middleware(scopeCheckoutRead)).Get("/checkouts", s.handleCheckoutList)
			protected.With(s.obs.Middleware("checkout_get"), s.auth.Middleware(scopeCheckoutRead)).Get("/checkouts/{id}", s.handleCheckoutGet)
		})
	})
	return r
}

// CheckoutRequest is the payload accepted from settlement partners.
type CheckoutRequest struct {
	Contributor string `json:"contributor"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference,omitempty"`
}

func (s *Server) handleCheckoutCreate(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	if principal == nil {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing principal"))
		return
	}
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		s.audit(r.Context(), principal, r, body, http.StatusBadRequest, []byte(`{"error":"missing idempotency key"}`))
		return
	}
	requestHash := hashRequest(r.Method, r.URL.Path, body)
	if cached, cacheErr := s.store.LookupIdempotency(r.Context(), principal.Subject, key, requestHash); cacheErr == nil && cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		s.audit(r.Context(), principal, r, body, cached.Status, cached.Body)
		return
	} else if cacheErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(cacheErr, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, status, cacheErr)
		s.audit(r.Context(), principal, r, body, status, []byte(fmt.Sprintf(`{"error":"%s"}`, cacheErr.Error())))
		return
	}

	var req CheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		s.audit(r.Context(), principal, r, body, http.StatusBadRequest, []byte(fmt.Sprintf(`{"error":"%s"}`, err.Error())))
		return
	}
	if validationErr := validateCheckout(req); validationErr != nil {
		s.writeError(w, http.StatusBadRequest, validationErr)
		s.audit(r.Context(), principal, r, body, http.StatusBadRequest, []byte(fmt.Sprintf(`{"error":"%s"}`, validationErr.Error())))
		return
	}

	now := s.nowFn().UTC()
	settlement := Settlement{
		ID:          uuid.NewString(),
		Partner:     principal.Subject,
		Contributor: strings.TrimSpace(req.Contributor),
		Beneficiary: strings.TrimSpace(req.Beneficiary),
		Amount:      strings.TrimSpace(req.Amount),
		Reference:   strings.TrimSpace(req.Reference),
		Status:      settlementStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if settlement.Beneficiary == "" {
		settlement.Beneficiary = settlement.Contributor
	}
	// Funding events on the node trace back to the settlement when the
	// partner supplies no reference of its own.
	if settlement.Reference == "" {
		settlement.Reference = settlement.ID
	}
	if err := s.store.InsertSettlement(r.Context(), settlement); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		s.audit(r.Context(), principal, r, body, http.StatusInternalServerError, []byte(fmt.Sprintf(`{"error":"%s"}`, err.Error())))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	if _, err := s.node.CreditFunds(ctx, settlement.Contributor, settlement.Amount, settlement.Reference); err != nil {
		s.failSettlement(w, r, principal, body, settlement.ID, err)
		return
	}
	purchase, err := s.node.Contribute(ctx, settlement.Contributor, settlement.Beneficiary, settlement.Amount)
	if err != nil {
		s.failSettlement(w, r, principal, body, settlement.ID, err)
		return
	}

	settlement.Status = settlementStatusCompleted
	settlement.PurchaseID = purchase.ID
	settlement.UpdatedAt = s.nowFn().UTC()
	if err := s.store.CompleteSettlement(r.Context(), settlement.ID, purchase.ID, settlement.UpdatedAt); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		s.audit(r.Context(), principal, r, body, http.StatusInternalServerError, []byte(fmt.Sprintf(`{"error":"%s"}`, err.Error())))
		return
	}

	resp := map[string]interface{}{
		"settlementId": settlement.ID,
		"status":       settlement.Status,
		"purchase":     purchase,
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		s.audit(r.Context(), principal, r, body, http.StatusInternalServerError, []byte(fmt.Sprintf(`{"error":"%s"}`, err.Error())))
		return
	}
	if err := s.store.SaveIdempotency(r.Context(), principal.Subject, key, requestHash, http.StatusCreated, payload); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		s.audit(r.Context(), principal, r, body, http.StatusInternalServerError, []byte(fmt.Sprintf(`{"error":"%s"}`, err.Error())))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(payload)
	s.audit(r.Context(), principal, r, body, http.StatusCreated, payload)
}

// failSettlement records a node rejection and reports it to the partner. Sale
// rejections surface as 422 so callers can distinguish them from gateway or
// transport faults.
func (s *Server) failSettlement(w http.ResponseWriter, r *http.Request, principal *Principal, body []byte, settlementID string, cause error) {
	if updateErr := s.store.FailSettlement(r.Context(), settlementID, cause.Error(), s.nowFn().UTC()); updateErr != nil {
		s.logger.Error("failed to record settlement failure", "settlement", settlementID, "error", updateErr)
	}
	status := http.StatusBadGateway
	var nodeErr *NodeRPCError
	if errors.As(cause, &nodeErr) {
		status = http.StatusUnprocessableEntity
		cause = errors.New(nodeErr.Message)
	}
	payload := map[string]interface{}{
		"settlementId": settlementID,
		"status":       settlementStatusFailed,
		"error":        cause.Error(),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(fmt.Sprintf(`{"error":"%s"}`, strings.ReplaceAll(cause.Error(), `"`, "'")))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
	s.audit(r.Context(), principal, r, body, status, encoded)
}

func (s *Server) handleCheckoutGet(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	if principal == nil {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing principal"))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("settlement id required"))
		return
	}
	settlement, err := s.store.GetSettlement(r.Context(), id)
	if err != nil || settlement.Partner != principal.Subject {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("settlement %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) handleCheckoutList(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	if principal == nil {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing principal"))
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	settlements, err := s.store.ListSettlements(r.Context(), principal.Subject, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if settlements == nil {
		settlements = []Settlement{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": settlements})
}

func (s *Server) handleSaleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	status, err := s.node.SaleStatus(ctx)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := strings.ReplaceAll(err.Error(), `"`, "'")
	_, _ = w.Write([]byte(fmt.Sprintf(`{"error":"%s"}`, msg)))
}

func (s *Server) audit(ctx context.Context, principal *Principal, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	partner := ""
	if principal != nil {
		partner = principal.Subject
	}
	entry := AuditEntry{
		Partner:        partner,
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseBody:   append([]byte(nil), responseBody...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Error("failed to append audit log", "error", err)
	}
}

func validateCheckout(req CheckoutRequest) error {
	if err := validateAddress("contributor", req.Contributor); err != nil {
		return err
	}
	if strings.TrimSpace(req.Beneficiary) != "" {
		if err := validateAddress("beneficiary", req.Beneficiary); err != nil {
			return err
		}
	}
	return validateAmount(req.Amount)
}

func validateAddress(field, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%s is required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return fmt.Errorf("invalid %s address: %w", field, err)
	}
	if addr.Prefix() != crypto.CRWPrefix {
		return fmt.Errorf("invalid %s address: expected %s prefix", field, crypto.CRWPrefix)
	}
	return nil
}

func validateAmount(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return fmt.Errorf("invalid amount: %s", raw)
	}
	if amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return errors.New("amount overflow")
	}
	return nil
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
