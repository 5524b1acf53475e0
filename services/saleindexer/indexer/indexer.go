package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crowdsale/services/saleindexer/models"
	"crowdsale/services/saleindexer/salerpc"
)

// PurchaseLister is the node RPC surface the poller depends on.
type PurchaseLister interface {
	ListPurchases(ctx context.Context, startTs, endTs int64, cursor string, limit int) ([]salerpc.PurchaseRecord, string, error)
}

// Config captures the dependencies required to construct an Indexer.
type Config struct {
	DB       *gorm.DB
	Client   PurchaseLister
	Interval time.Duration
	PageSize int
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Indexer copies settled purchases from the node into the local database. The
// stored checkpoint carries the identifier of the last indexed purchase so
// restarts resume instead of rescanning the full ledger.
type Indexer struct {
	db       *gorm.DB
	client   PurchaseLister
	interval time.Duration
	pageSize int
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a configured indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.DB == nil {
		return nil, errors.New("indexer: db is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("indexer: client is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Indexer{
		db:       cfg.DB,
		client:   cfg.Client,
		interval: interval,
		pageSize: pageSize,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      nowFn,
	}, nil
}

// Run polls the node until the context is cancelled. The first sync happens
// immediately so a fresh deployment catches up without waiting a full tick.
func (ix *Indexer) Run(ctx context.Context) {
	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()
	for {
		if count, err := ix.Sync(ctx); err != nil {
			ix.metrics.observeFailure()
			ix.logger.Error("purchase sync failed", "error", err)
		} else if count > 0 {
			ix.logger.Info("indexed purchases", "count", count)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sync drains every purchase page past the stored checkpoint and reports how
// many new records were persisted. A checkpoint cursor unknown to the node
// makes the listing restart from the beginning; the conflict clause keeps the
// rescan from duplicating rows.
func (ix *Indexer) Sync(ctx context.Context) (int, error) {
	checkpoint, err := ix.loadCheckpoint(ctx)
	if err != nil {
		return 0, err
	}
	indexed := 0
	cursor := checkpoint.Cursor
	for {
		records, nextCursor, err := ix.client.ListPurchases(ctx, 0, 0, cursor, ix.pageSize)
		if err != nil {
			return indexed, fmt.Errorf("indexer: list purchases: %w", err)
		}
		if len(records) == 0 {
			break
		}
		stored, err := ix.storePage(ctx, records)
		if err != nil {
			return indexed, err
		}
		indexed += stored
		cursor = strings.TrimSpace(records[len(records)-1].ID)
		checkpoint.Cursor = cursor
		checkpoint.LastSyncAt = ix.now()
		if err := ix.db.WithContext(ctx).Save(checkpoint).Error; err != nil {
			return indexed, fmt.Errorf("indexer: save checkpoint: %w", err)
		}
		if nextCursor == "" {
			break
		}
	}
	ix.metrics.observeSync(indexed)
	return indexed, nil
}

func (ix *Indexer) loadCheckpoint(ctx context.Context) (*models.Checkpoint, error) {
	checkpoint := &models.Checkpoint{Name: models.CheckpointPurchases}
	err := ix.db.WithContext(ctx).
		FirstOrCreate(checkpoint, models.Checkpoint{Name: models.CheckpointPurchases}).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: load checkpoint: %w", err)
	}
	return checkpoint, nil
}

func (ix *Indexer) storePage(ctx context.Context, records []salerpc.PurchaseRecord) (int, error) {
	rows := make([]models.Purchase, 0, len(records))
	for _, record := range records {
		id := strings.TrimSpace(record.ID)
		if id == "" {
			continue
		}
		rows = append(rows, models.Purchase{
			ID:           id,
			Contributor:  strings.TrimSpace(record.Contributor),
			Beneficiary:  strings.TrimSpace(record.Beneficiary),
			Amount:       strings.TrimSpace(record.Amount),
			Issued:       strings.TrimSpace(record.Issued),
			BonusPercent: record.BonusPercent,
			Phase:        strings.TrimSpace(record.Phase),
			PurchasedAt:  time.Unix(record.CreatedAt, 0).UTC(),
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res := ix.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("indexer: store purchases: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
