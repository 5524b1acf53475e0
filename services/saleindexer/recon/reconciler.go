package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"crowdsale/services/saleindexer/models"
	"crowdsale/services/saleindexer/salerpc"
)

// Anomaly types emitted by the reconciler.
const (
	AnomalyMissingPurchase  = "missing_purchase"
	AnomalyOrphanedPurchase = "orphaned_purchase"
	AnomalyAmountMismatch   = "amount_mismatch"
	AnomalySupplyDrift      = "supply_drift"
)

// NodeSource exposes the node RPC surface the reconciler depends on. The
// export is the authoritative view; the local index is checked against it.
type NodeSource interface {
	ExportPurchases(ctx context.Context, startTs, endTs int64) (*salerpc.PurchaseExport, error)
	TokenSupply(ctx context.Context) (*salerpc.SupplySnapshot, error)
}

// AlertFunc is invoked for every anomaly detected during reconciliation.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	DB        *gorm.DB
	TZ        *time.Location
	Source    NodeSource
	OutputDir string
	DryRun    bool
	Alert     AlertFunc
	Logger    *slog.Logger
}

// RunOptions specifies overrides when executing a reconciliation window.
type RunOptions struct {
	Start  time.Time
	End    time.Time
	DryRun bool
}

// Reconciler materialises nightly reports joining the purchase index with the
// node's audit export.
type Reconciler struct {
	db        *gorm.DB
	tz        *time.Location
	source    NodeSource
	outputDir string
	dryRun    bool
	alert     AlertFunc
	logger    *slog.Logger
}

// Anomaly captures a reconciliation failure requiring operator review.
type Anomaly struct {
	Type       string
	PurchaseID string
	Details    string
}

// ReportRow summarises reconciliation status for a single purchase.
type ReportRow struct {
	PurchaseID       string
	Contributor      string
	Beneficiary      string
	Phase            string
	AmountIndexed    string
	AmountExported   string
	IssuedIndexed    string
	IssuedExported   string
	BonusPercent     int64
	PurchasedAt      time.Time
	MissingFromIndex bool
	OrphanedInIndex  bool
	AmountMismatch   bool
}

// ReportFile references the CSV and Parquet artefacts generated for a phase.
type ReportFile struct {
	Phase       string
	CSVPath     string
	ParquetPath string
	Count       int
}

// Result summarises a reconciliation run.
type Result struct {
	Start          time.Time
	End            time.Time
	Rows           []*ReportRow
	Files          []ReportFile
	Anomalies      []Anomaly
	IndexedCount   int
	ExportedCount  int
	IssuedIndexed  *big.Int
	IssuedExported *big.Int
	Supply         *salerpc.SupplySnapshot
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("recon: db is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("recon: node source is required")
	}
	if cfg.TZ == nil {
		cfg.TZ = time.UTC
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("crowdsale-data", "recon")
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(ctx context.Context, anomaly Anomaly) error {
			return nil
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		db:        cfg.DB,
		tz:        cfg.TZ,
		source:    cfg.Source,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		alert:     alert,
		logger:    logger,
	}, nil
}

// Run executes reconciliation for the supplied window.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	start := opts.Start.In(r.tz)
	end := opts.End.In(r.tz)
	if end.Before(start) {
		return nil, fmt.Errorf("recon: end before start")
	}
	dryRun := r.dryRun || opts.DryRun

	var indexed []models.Purchase
	if err := r.db.WithContext(ctx).
		Where("purchased_at BETWEEN ? AND ?", start, end).
		Order("purchased_at, id").
		Find(&indexed).Error; err != nil {
		return nil, fmt.Errorf("recon: load indexed purchases: %w", err)
	}

	export, err := r.source.ExportPurchases(ctx, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("recon: export purchases: %w", err)
	}
	supply, err := r.source.TokenSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("recon: token supply: %w", err)
	}

	indexedByID := make(map[string]models.Purchase, len(indexed))
	for _, row := range indexed {
		indexedByID[strings.TrimSpace(row.ID)] = row
	}

	rows := make([]*ReportRow, 0, len(export.Records))
	anomalies := make([]Anomaly, 0)
	issuedIndexed := big.NewInt(0)
	issuedExported := big.NewInt(0)
	matched := make(map[string]bool, len(export.Records))

	for _, rec := range export.Records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			continue
		}
		matched[id] = true
		addAmount(issuedExported, rec.Issued)

		row := &ReportRow{
			PurchaseID:     id,
			Contributor:    rec.Contributor,
			Beneficiary:    rec.Beneficiary,
			Phase:          rec.Phase,
			AmountExported: rec.Amount,
			IssuedExported: rec.Issued,
			BonusPercent:   rec.BonusPercent,
			PurchasedAt:    time.Unix(rec.CreatedAt, 0).In(r.tz),
		}

		local, ok := indexedByID[id]
		if !ok {
			row.MissingFromIndex = true
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Type:       AnomalyMissingPurchase,
				PurchaseID: id,
				Details:    fmt.Sprintf("exported purchase absent from index (issued %s, phase %s)", rec.Issued, rec.Phase),
			}))
			rows = append(rows, row)
			continue
		}

		row.AmountIndexed = local.Amount
		row.IssuedIndexed = local.Issued
		addAmount(issuedIndexed, local.Issued)
		if !amountsEqual(local.Amount, rec.Amount) || !amountsEqual(local.Issued, rec.Issued) || local.BonusPercent != rec.BonusPercent {
			row.AmountMismatch = true
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Type:       AnomalyAmountMismatch,
				PurchaseID: id,
				Details: fmt.Sprintf("indexed %s/%s bonus %d vs exported %s/%s bonus %d",
					local.Amount, local.Issued, local.BonusPercent, rec.Amount, rec.Issued, rec.BonusPercent),
			}))
		}
		rows = append(rows, row)
	}

	for _, local := range indexed {
		id := strings.TrimSpace(local.ID)
		if matched[id] {
			continue
		}
		addAmount(issuedIndexed, local.Issued)
		rows = append(rows, &ReportRow{
			PurchaseID:      id,
			Contributor:     local.Contributor,
			Beneficiary:     local.Beneficiary,
			Phase:           local.Phase,
			AmountIndexed:   local.Amount,
			IssuedIndexed:   local.Issued,
			BonusPercent:    local.BonusPercent,
			PurchasedAt:     local.PurchasedAt.In(r.tz),
			OrphanedInIndex: true,
		})
		anomalies = append(anomalies, r.raise(ctx, Anomaly{
			Type:       AnomalyOrphanedPurchase,
			PurchaseID: id,
			Details:    fmt.Sprintf("indexed purchase missing from node export (issued %s)", local.Issued),
		}))
	}

	if total, ok := new(big.Int).SetString(strings.TrimSpace(export.TotalIssued), 10); ok {
		if total.Cmp(issuedExported) != 0 {
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Type:    AnomalySupplyDrift,
				Details: fmt.Sprintf("export total %s disagrees with summed rows %s", total.String(), issuedExported.String()),
			}))
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PurchasedAt.Equal(rows[j].PurchasedAt) {
			return rows[i].PurchaseID < rows[j].PurchaseID
		}
		return rows[i].PurchasedAt.Before(rows[j].PurchasedAt)
	})

	files := make([]ReportFile, 0)
	if !dryRun {
		runDir := filepath.Join(r.outputDir, fmt.Sprintf("%s_%s", start.Format("20060102"), end.Format("20060102")))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("recon: ensure output dir: %w", err)
		}
		for phase, entries := range groupRows(rows) {
			csvPath, parquetPath, err := r.writeReportFiles(runDir, phase, entries)
			if err != nil {
				return nil, err
			}
			if csvPath != "" || parquetPath != "" {
				files = append(files, ReportFile{
					Phase:       phase,
					CSVPath:     csvPath,
					ParquetPath: parquetPath,
					Count:       len(entries),
				})
			}
		}
		if err := r.persistReport(ctx, start, end, len(indexed), export, supply, issuedIndexed, issuedExported, anomalies); err != nil {
			return nil, err
		}
	}

	return &Result{
		Start:          start,
		End:            end,
		Rows:           rows,
		Files:          files,
		Anomalies:      anomalies,
		IndexedCount:   len(indexed),
		ExportedCount:  len(export.Records),
		IssuedIndexed:  issuedIndexed,
		IssuedExported: issuedExported,
		Supply:         supply,
	}, nil
}

func (r *Reconciler) persistReport(ctx context.Context, start, end time.Time, indexedCount int, export *salerpc.PurchaseExport, supply *salerpc.SupplySnapshot, issuedIndexed, issuedExported *big.Int, anomalies []Anomaly) error {
	report := &models.ReconReport{
		ID:             uuid.New(),
		WindowStart:    start,
		WindowEnd:      end,
		IndexedCount:   indexedCount,
		ExportedCount:  len(export.Records),
		IssuedIndexed:  issuedIndexed.String(),
		IssuedExported: issuedExported.String(),
		SupplyTotal:    supply.TotalIssued,
		AnomalyCount:   len(anomalies),
	}
	if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("recon: persist report: %w", err)
	}
	if len(anomalies) == 0 {
		return nil
	}
	records := make([]models.ReconAnomaly, 0, len(anomalies))
	for _, anomaly := range anomalies {
		records = append(records, models.ReconAnomaly{
			ID:         uuid.New(),
			ReportID:   report.ID,
			Type:       anomaly.Type,
			PurchaseID: anomaly.PurchaseID,
			Details:    anomaly.Details,
		})
	}
	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("recon: persist anomalies: %w", err)
	}
	return nil
}

func (r *Reconciler) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	if r.alert != nil {
		if err := r.alert(ctx, anomaly); err != nil {
			r.logger.Error("recon alert delivery failed", "error", err)
		}
	}
	return anomaly
}

func groupRows(rows []*ReportRow) map[string][]*ReportRow {
	grouped := make(map[string][]*ReportRow)
	for _, row := range rows {
		phase := strings.ToLower(strings.TrimSpace(row.Phase))
		if phase == "" {
			phase = "unknown"
		}
		grouped[phase] = append(grouped[phase], row)
	}
	return grouped
}

func (r *Reconciler) writeReportFiles(baseDir, phase string, rows []*ReportRow) (string, string, error) {
	if len(rows) == 0 {
		return "", "", nil
	}
	slug := slugify(phase)
	if slug == "" {
		slug = "unknown"
	}
	filename := fmt.Sprintf("purchases_%s", slug)
	csvPath := filepath.Join(baseDir, filename+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return "", "", err
	}
	parquetPath := filepath.Join(baseDir, filename+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return "", "", err
	}
	r.logger.Info("recon report written", "path", csvPath, "rows", len(rows))
	r.logger.Info("recon report written", "path", parquetPath, "rows", len(rows))
	return csvPath, parquetPath, nil
}

func writeCSV(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	header := []string{
		"purchase_id", "contributor", "beneficiary", "phase", "amount_indexed", "amount_exported",
		"issued_indexed", "issued_exported", "bonus_percent", "purchased_at",
		"missing_from_index", "orphaned_in_index", "amount_mismatch",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.PurchaseID,
			row.Contributor,
			row.Beneficiary,
			row.Phase,
			row.AmountIndexed,
			row.AmountExported,
			row.IssuedIndexed,
			row.IssuedExported,
			strconv.FormatInt(row.BonusPercent, 10),
			row.PurchasedAt.Format(time.RFC3339),
			boolString(row.MissingFromIndex),
			boolString(row.OrphanedInIndex),
			boolString(row.AmountMismatch),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	PurchaseID       string `parquet:"name=purchase_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Contributor      string `parquet:"name=contributor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Beneficiary      string `parquet:"name=beneficiary, type=BYTE_ARRAY, convertedtype=UTF8"`
	Phase            string `parquet:"name=phase, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountIndexed    string `parquet:"name=amount_indexed, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountExported   string `parquet:"name=amount_exported, type=BYTE_ARRAY, convertedtype=UTF8"`
	IssuedIndexed    string `parquet:"name=issued_indexed, type=BYTE_ARRAY, convertedtype=UTF8"`
	IssuedExported   string `parquet:"name=issued_exported, type=BYTE_ARRAY, convertedtype=UTF8"`
	BonusPercent     int64  `parquet:"name=bonus_percent, type=INT64"`
	PurchasedAt      string `parquet:"name=purchased_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	MissingFromIndex bool   `parquet:"name=missing_from_index, type=BOOLEAN"`
	OrphanedInIndex  bool   `parquet:"name=orphaned_in_index, type=BOOLEAN"`
	AmountMismatch   bool   `parquet:"name=amount_mismatch, type=BOOLEAN"`
}

func writeParquet(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			PurchaseID:       row.PurchaseID,
			Contributor:      row.Contributor,
			Beneficiary:      row.Beneficiary,
			Phase:            row.Phase,
			AmountIndexed:    row.AmountIndexed,
			AmountExported:   row.AmountExported,
			IssuedIndexed:    row.IssuedIndexed,
			IssuedExported:   row.IssuedExported,
			BonusPercent:     row.BonusPercent,
			PurchasedAt:      row.PurchasedAt.Format(time.RFC3339),
			MissingFromIndex: row.MissingFromIndex,
			OrphanedInIndex:  row.OrphanedInIndex,
			AmountMismatch:   row.AmountMismatch,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}

func amountsEqual(a, b string) bool {
	left, leftOK := new(big.Int).SetString(strings.TrimSpace(a), 10)
	right, rightOK := new(big.Int).SetString(strings.TrimSpace(b), 10)
	if !leftOK || !rightOK {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return left.Cmp(right) == 0
}

func addAmount(total *big.Int, raw string) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return
	}
	total.Add(total, value)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func slugify(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}
	cleaned := make([]rune, 0, len(trimmed))
	for _, r := range trimmed {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			cleaned = append(cleaned, r)
		case r == ' ' || r == '/' || r == ':':
			cleaned = append(cleaned, '-')
		}
	}
	return strings.Trim(string(cleaned), "-")
}
