package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Settlement lifecycle states recorded alongside every checkout.
const (
	settlementStatusPending   = "PENDING"
	settlementStatusCompleted = "COMPLETED"
	settlementStatusFailed    = "FAILED"
)

// ErrIdempotencyMismatch is returned when a key is reused with a different payload.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// SQLiteStore manages idempotency keys, settlements, and audit log persistence.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            partner TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(partner, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS settlements (
            id TEXT PRIMARY KEY,
            partner TEXT NOT NULL,
            contributor TEXT NOT NULL,
            beneficiary TEXT NOT NULL,
            amount TEXT NOT NULL,
            reference TEXT,
            purchase_id TEXT,
            status TEXT NOT NULL,
            failure TEXT,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS settlements_partner_created
            ON settlements(partner, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            partner TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            request_body BLOB,
            response_status INTEGER,
            response_body BLOB
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoredResponse represents a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

func (s *SQLiteStore) LookupIdempotency(ctx context.Context, partner, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE partner = ? AND idempotency_key = ?`
	row := s.db.QueryRowContext(ctx, query, partner, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

func (s *SQLiteStore) SaveIdempotency(ctx context.Context, partner, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(partner, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, partner, key, requestHash, status, body, time.Now().UTC())
	return err
}

// Settlement represents a partner checkout forwarded to the sale node.
type Settlement struct {
	ID          string    `json:"settlementId"`
	Partner     string    `json:"partner"`
	Contributor string    `json:"contributor"`
	Beneficiary string    `json:"beneficiary"`
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"`
	PurchaseID  string    `json:"purchaseId,omitempty"`
	Status      string    `json:"status"`
	Failure     string    `json:"failure,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// InsertSettlement records a new settlement in PENDING state.
func (s *SQLiteStore) InsertSettlement(ctx context.Context, st Settlement) error {
	const stmt = `INSERT INTO settlements(id, partner, contributor, beneficiary, amount, reference, purchase_id, status, failure, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, st.ID, st.Partner, st.Contributor, st.Beneficiary, st.Amount, st.Reference, st.PurchaseID, st.Status, st.Failure, st.CreatedAt, st.UpdatedAt)
	return err
}

// CompleteSettlement marks a settlement as settled against a node purchase.
func (s *SQLiteStore) CompleteSettlement(ctx context.Context, id, purchaseID string, updatedAt time.Time) error {
	return s.updateSettlement(ctx, id, settlementStatusCompleted, purchaseID, "", updatedAt)
}

// FailSettlement records the node rejection for a settlement.
func (s *SQLiteStore) FailSettlement(ctx context.Context, id, failure string, updatedAt time.Time) error {
	return s.updateSettlement(ctx, id, settlementStatusFailed, "", failure, updatedAt)
}

func (s *SQLiteStore) updateSettlement(ctx context.Context, id, status, purchaseID, failure string, updatedAt time.Time) error {
	const stmt = `UPDATE settlements SET status = ?, purchase_id = ?, failure = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, status, purchaseID, failure, updatedAt, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("settlement %s not found", id)
	}
	return nil
}

// GetSettlement fetches a settlement by identifier.
func (s *SQLiteStore) GetSettlement(ctx context.Context, id string) (Settlement, error) {
	const query = `SELECT id, partner, contributor, beneficiary, amount, reference, purchase_id, status, failure, created_at, updated_at FROM settlements WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	var st Settlement
	if err := row.Scan(&st.ID, &st.Partner, &st.Contributor, &st.Beneficiary, &st.Amount, &st.Reference, &st.PurchaseID, &st.Status, &st.Failure, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Settlement{}, fmt.Errorf("settlement %s not found", id)
		}
		return Settlement{}, err
	}
	return st, nil
}

// ListSettlements returns a partner's settlements ordered by creation time descending.
func (s *SQLiteStore) ListSettlements(ctx context.Context, partner string, limit int) ([]Settlement, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, partner, contributor, beneficiary, amount, reference, purchase_id, status, failure, created_at, updated_at FROM settlements WHERE partner = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, partner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var settlements []Settlement
	for rows.Next() {
		var st Settlement
		if err := rows.Scan(&st.ID, &st.Partner, &st.Contributor, &st.Beneficiary, &st.Amount, &st.Reference, &st.PurchaseID, &st.Status, &st.Failure, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settlements, nil
}

// AuditEntry represents an audit log row.
type AuditEntry struct {
	Partner        string
	Method         string
	Path           string
	RequestBody    []byte
	ResponseBody   []byte
	ResponseStatus int
	Timestamp      time.Time
}

func (s *SQLiteStore) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	const stmt = `INSERT INTO audit_log(partner, method, path, request_body, response_status, response_body, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, entry.Partner, entry.Method, entry.Path, entry.RequestBody, entry.ResponseStatus, entry.ResponseBody, entry.Timestamp)
	return err
}
