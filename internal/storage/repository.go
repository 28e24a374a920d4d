package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/service"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const (
	sumByServiceProviderSQL = `SELECT
        service,
        provider,
        SUM(amount)::text
    FROM cost_records
    WHERE tenant_id = $1
      AND cloud_account_id = $2
      AND usage_date = $3
    GROUP BY service, provider
    ORDER BY service, provider;`

	listAmountsSQL = `SELECT SUM(amount)::text
    FROM cost_records
    WHERE tenant_id = $1
      AND service = $2
      AND provider = $3
      AND usage_date < $4
      AND ($5::date IS NULL OR usage_date >= $5::date)
    GROUP BY usage_date
    ORDER BY usage_date;`

	dailyTotalsSQL = `SELECT
        usage_date,
        SUM(amount)::text
    FROM cost_records
    WHERE tenant_id = $1
      AND service = $2
      AND provider = $3
      AND usage_date >= $4
      AND usage_date <= $5
    GROUP BY usage_date
    ORDER BY usage_date;`

	anomalyColumns = `a.id::text,
        a.tenant_id,
        a.anomaly_date,
        a.service,
        a.provider,
        a.resource_id,
        a.expected_cost::text,
        a.actual_cost::text,
        a.deviation_pct::text,
        a.severity,
        a.status,
        a.root_cause,
        a.detected_at,
        a.resolved_at,
        a.resolved_by,
        a.resolution_note,
        COALESCE(t.name, '')`

	selectAnomaliesSQL = `SELECT ` + anomalyColumns + `
    FROM cost_anomalies a
    LEFT JOIN tenants t ON t.id = a.tenant_id`

	orderAnomaliesSQL = `
    ORDER BY CASE a.severity
            WHEN 'critical' THEN 4
            WHEN 'high' THEN 3
            WHEN 'medium' THEN 2
            ELSE 1
        END DESC,
        a.anomaly_date DESC,
        a.detected_at DESC;`

	findOpenAnomalySQL = selectAnomaliesSQL + `
    WHERE a.tenant_id = $1
      AND a.service = $2
      AND a.provider = $3
      AND a.anomaly_date = $4
      AND a.status <> 'resolved'
    LIMIT 1;`

	getAnomalySQL = selectAnomaliesSQL + `
    WHERE a.id = $1;`

	insertAnomalySQL = `WITH a AS (
        INSERT INTO cost_anomalies (
            id,
            tenant_id,
            anomaly_date,
            service,
            provider,
            resource_id,
            expected_cost,
            actual_cost,
            deviation_pct,
            severity,
            status,
            root_cause,
            detected_at
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
        )
        ON CONFLICT (tenant_id, service, provider, anomaly_date) WHERE status <> 'resolved'
        DO NOTHING
        RETURNING *
    )
    SELECT ` + anomalyColumns + `
    FROM a
    LEFT JOIN tenants t ON t.id = a.tenant_id;`

	transitionAnomalySQL = `UPDATE cost_anomalies
    SET status = $2,
        resolved_at = $3,
        resolved_by = $4,
        resolution_note = $5
    WHERE id = $1
      AND status = ANY($6);`

	anomalyStatusSQL = `SELECT status FROM cost_anomalies WHERE id = $1;`

	listAccountsSQL = `SELECT
        id,
        tenant_id,
        provider,
        active,
        last_anomaly_scan_at,
        last_anomaly_count
    FROM cloud_accounts
    WHERE active
    ORDER BY tenant_id, id;`

	recordScanSQL = `UPDATE cloud_accounts
    SET last_anomaly_scan_at = $3,
        last_anomaly_count = $4
    WHERE tenant_id = $1
      AND id = $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AccountLister enumerates cloud accounts due for scanning.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]Account, error)
}

// DailyTotaler reads per-day spend series for charts.
type DailyTotaler interface {
	DailyTotals(ctx context.Context, tenantID, service, provider string, from, to time.Time) ([]DailyTotal, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL-backed ledger reader and anomaly store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session ends with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// SumByServiceProvider sums one account's spend for a day per (service, provider).
func (s *Store) SumByServiceProvider(ctx context.Context, tenantID, cloudAccountID string, date time.Time) ([]anomaly.ServiceTotal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sumByServiceProviderSQL, tenantID, cloudAccountID, anomaly.Day(date))
	if queryErr != nil {
		return nil, fmt.Errorf("sum by service provider: %w", queryErr)
	}
	defer rows.Close()

	totals := make([]anomaly.ServiceTotal, 0)
	for rows.Next() {
		var total anomaly.ServiceTotal
		var totalStr string
		if err := rows.Scan(&total.Service, &total.Provider, &totalStr); err != nil {
			return nil, err
		}
		if total.Total, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("parse daily total: %w", err)
		}
		totals = append(totals, total)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return totals, nil
}

// ListAmounts lists per-day spend totals dated in [from, before), oldest first.
func (s *Store) ListAmounts(ctx context.Context, tenantID, service, provider string, from, before time.Time) ([]decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var lower any
	if !from.IsZero() {
		lower = anomaly.Day(from)
	}

	rows, queryErr := pool.Query(ctx, listAmountsSQL, tenantID, service, provider, anomaly.Day(before), lower)
	if queryErr != nil {
		return nil, fmt.Errorf("list amounts: %w", queryErr)
	}
	defer rows.Close()

	amounts := make([]decimal.Decimal, 0)
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return nil, err
		}
		amount, convErr := decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse amount: %w", convErr)
		}
		amounts = append(amounts, amount)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return amounts, nil
}

// DailyTotals lists a service's summed spend per day within [from, to].
func (s *Store) DailyTotals(ctx context.Context, tenantID, service, provider string, from, to time.Time) ([]DailyTotal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, dailyTotalsSQL, tenantID, service, provider, anomaly.Day(from), anomaly.Day(to))
	if queryErr != nil {
		return nil, fmt.Errorf("daily totals: %w", queryErr)
	}
	defer rows.Close()

	totals := make([]DailyTotal, 0)
	for rows.Next() {
		var total DailyTotal
		var totalStr string
		if err := rows.Scan(&total.Date, &totalStr); err != nil {
			return nil, err
		}
		if total.Total, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("parse daily total: %w", err)
		}
		totals = append(totals, total)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return totals, nil
}

// FindOpen returns the non-resolved anomaly holding key, or nil.
func (s *Store) FindOpen(ctx context.Context, key anomaly.Key) (*anomaly.Anomaly, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, findOpenAnomalySQL, key.TenantID, key.Service, key.Provider, anomaly.Day(key.Date))
	found, scanErr := scanAnomaly(row)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("find open anomaly: %w", scanErr)
	}
	return &found, nil
}

// Create inserts a, ignoring the insert when a non-resolved anomaly
// already holds the key. The partial unique index makes this atomic.
func (s *Store) Create(ctx context.Context, a anomaly.Anomaly) (anomaly.Anomaly, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return anomaly.Anomaly{}, false, err
	}

	var rootCause []byte
	if a.RootCause != nil {
		if rootCause, err = json.Marshal(a.RootCause); err != nil {
			return anomaly.Anomaly{}, false, fmt.Errorf("marshal root cause: %w", err)
		}
	}

	row := pool.QueryRow(ctx, insertAnomalySQL,
		a.ID,
		a.TenantID,
		anomaly.Day(a.Date),
		a.Service,
		a.Provider,
		a.ResourceID,
		a.ExpectedCost.String(),
		a.ActualCost.String(),
		a.DeviationPct.String(),
		string(a.Severity),
		string(a.Status),
		rootCause,
		a.DetectedAt,
	)

	stored, scanErr := scanAnomaly(row)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return anomaly.Anomaly{}, false, nil
	}
	if scanErr != nil {
		return anomaly.Anomaly{}, false, fmt.Errorf("insert anomaly: %w", scanErr)
	}
	return stored, true, nil
}

// List returns a tenant's anomalies matching f, most serious and most
// recent first.
func (s *Store) List(ctx context.Context, tenantID string, f anomaly.Filters) ([]anomaly.Anomaly, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := buildListQuery(tenantID, f)
	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list anomalies: %w", queryErr)
	}
	defer rows.Close()

	list := make([]anomaly.Anomaly, 0)
	for rows.Next() {
		a, scanErr := scanAnomaly(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		list = append(list, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return list, nil
}

// Get returns one anomaly by ID.
func (s *Store) Get(ctx context.Context, id string) (anomaly.Anomaly, error) {
	pool, err := s.getPool()
	if err != nil {
		return anomaly.Anomaly{}, err
	}
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return anomaly.Anomaly{}, anomaly.ErrNotFound
	}

	a, scanErr := scanAnomaly(pool.QueryRow(ctx, getAnomalySQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return anomaly.Anomaly{}, anomaly.ErrNotFound
	}
	if scanErr != nil {
		return anomaly.Anomaly{}, fmt.Errorf("get anomaly: %w", scanErr)
	}
	return a, nil
}

// Transition applies a guarded status change.
func (s *Store) Transition(ctx context.Context, t service.Transition) (anomaly.Anomaly, error) {
	pool, err := s.getPool()
	if err != nil {
		return anomaly.Anomaly{}, err
	}
	if _, parseErr := uuid.Parse(t.ID); parseErr != nil {
		return anomaly.Anomaly{}, anomaly.ErrNotFound
	}

	from := make([]string, len(t.From))
	for i, st := range t.From {
		from[i] = string(st)
	}
	resolvedAt, resolvedBy, note := resolutionStamps(t)

	tag, execErr := pool.Exec(ctx, transitionAnomalySQL, t.ID, string(t.To), resolvedAt, resolvedBy, note, from)
	if execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == uniqueViolation {
			return anomaly.Anomaly{}, anomaly.ErrConflict
		}
		return anomaly.Anomaly{}, fmt.Errorf("transition anomaly: %w", execErr)
	}

	if tag.RowsAffected() == 0 {
		var current string
		statusErr := pool.QueryRow(ctx, anomalyStatusSQL, t.ID).Scan(&current)
		if errors.Is(statusErr, pgx.ErrNoRows) {
			return anomaly.Anomaly{}, anomaly.ErrNotFound
		}
		if statusErr != nil {
			return anomaly.Anomaly{}, fmt.Errorf("load anomaly status: %w", statusErr)
		}
		return anomaly.Anomaly{}, anomaly.ErrConflict
	}

	return s.Get(ctx, t.ID)
}

// ListAccounts returns active cloud accounts.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAccountsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list accounts: %w", queryErr)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		var (
			acc      Account
			lastScan sql.NullTime
			count    sql.NullInt32
		)
		if err := rows.Scan(&acc.ID, &acc.TenantID, &acc.Provider, &acc.Active, &lastScan, &count); err != nil {
			return nil, err
		}
		if lastScan.Valid {
			at := lastScan.Time
			acc.LastScanAt = &at
		}
		if count.Valid {
			n := int(count.Int32)
			acc.LastAnomalyCount = &n
		}
		accounts = append(accounts, acc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return accounts, nil
}

// RecordScan stamps the account's last scan time and anomaly count.
func (s *Store) RecordScan(ctx context.Context, tenantID, cloudAccountID string, at time.Time, detected int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, recordScanSQL, tenantID, cloudAccountID, at, detected); execErr != nil {
		return fmt.Errorf("record scan: %w", execErr)
	}
	return nil
}

func buildListQuery(tenantID string, f anomaly.Filters) (string, []any) {
	clauses := []string{"a.tenant_id = $1"}
	args := []any{tenantID}

	add := func(expr string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}

	if f.Status != "" {
		add("a.status = $%d", string(f.Status))
	}
	if f.Severity != "" {
		add("a.severity = $%d", string(f.Severity))
	}
	if f.Provider != "" {
		add("a.provider = $%d", f.Provider)
	}
	if f.Service != "" {
		add("a.service = $%d", f.Service)
	}
	if f.StartDate != nil {
		add("a.anomaly_date >= $%d", anomaly.Day(*f.StartDate))
	}
	if f.EndDate != nil {
		add("a.anomaly_date <= $%d", anomaly.Day(*f.EndDate))
	}

	return selectAnomaliesSQL + "\n    WHERE " + strings.Join(clauses, "\n      AND ") + orderAnomaliesSQL, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (anomaly.Anomaly, error) {
	var (
		a            anomaly.Anomaly
		resourceID   sql.NullString
		expectedStr  string
		actualStr    string
		deviationStr string
		severity     string
		status       string
		rootCause    []byte
		resolvedAt   sql.NullTime
		resolvedBy   sql.NullString
		note         sql.NullString
		tenantName   string
	)

	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Date,
		&a.Service,
		&a.Provider,
		&resourceID,
		&expectedStr,
		&actualStr,
		&deviationStr,
		&severity,
		&status,
		&rootCause,
		&a.DetectedAt,
		&resolvedAt,
		&resolvedBy,
		&note,
		&tenantName,
	); err != nil {
		return anomaly.Anomaly{}, err
	}

	var err error
	if a.ExpectedCost, err = decimal.NewFromString(expectedStr); err != nil {
		return anomaly.Anomaly{}, fmt.Errorf("parse expected cost: %w", err)
	}
	if a.ActualCost, err = decimal.NewFromString(actualStr); err != nil {
		return anomaly.Anomaly{}, fmt.Errorf("parse actual cost: %w", err)
	}
	if a.DeviationPct, err = decimal.NewFromString(deviationStr); err != nil {
		return anomaly.Anomaly{}, fmt.Errorf("parse deviation pct: %w", err)
	}

	a.Date = anomaly.Day(a.Date)
	a.Severity = anomaly.Severity(severity)
	a.Status = anomaly.Status(status)
	a.Tenant = anomaly.TenantSummary{ID: a.TenantID, Name: tenantName}

	if len(rootCause) > 0 {
		var rc anomaly.RootCause
		if err := json.Unmarshal(rootCause, &rc); err != nil {
			return anomaly.Anomaly{}, fmt.Errorf("parse root cause: %w", err)
		}
		a.RootCause = &rc
	}
	if resourceID.Valid {
		v := resourceID.String
		a.ResourceID = &v
	}
	if resolvedAt.Valid {
		v := resolvedAt.Time
		a.ResolvedAt = &v
	}
	if resolvedBy.Valid {
		v := resolvedBy.String
		a.ResolvedBy = &v
	}
	if note.Valid {
		v := note.String
		a.ResolutionNote = &v
	}

	return a, nil
}

var (
	_ service.Ledger       = (*Store)(nil)
	_ service.AnomalyStore = (*Store)(nil)
	_ service.StatusStore  = (*Store)(nil)
	_ service.ScanRecorder = (*Store)(nil)
	_ AccountLister        = (*Store)(nil)
	_ AccountLister        = (*MemoryStore)(nil)
	_ AdvisoryLocker       = (*Store)(nil)
	_ DailyTotaler         = (*Store)(nil)
)
