package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/service"
)

// MemoryStore keeps the ledger and anomalies in process. Create holds the
// store lock across the open-key check and the insert, so duplicate
// suppression holds under concurrent runs.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[string]string
	accounts  map[string]*Account
	records   []anomaly.CostRecord
	anomalies []*anomaly.Anomaly
	byID      map[string]*anomaly.Anomaly
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]string),
		accounts: make(map[string]*Account),
		byID:     make(map[string]*anomaly.Anomaly),
	}
}

// AddTenant registers tenant display data.
func (m *MemoryStore) AddTenant(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[id] = name
}

// AddAccount enrols a cloud account.
func (m *MemoryStore) AddAccount(acc Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := acc
	m.accounts[acc.TenantID+"/"+acc.ID] = &copied
}

// AddRecords appends ledger rows.
func (m *MemoryStore) AddRecords(records ...anomaly.CostRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Date = anomaly.Day(r.Date)
		m.records = append(m.records, r)
	}
}

// ListAccounts returns active accounts ordered by tenant then ID.
func (m *MemoryStore) ListAccounts(ctx context.Context) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		if acc.Active {
			out = append(out, *acc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SumByServiceProvider sums a day's records per (service, provider) in
// first-seen order.
func (m *MemoryStore) SumByServiceProvider(ctx context.Context, tenantID, cloudAccountID string, date time.Time) ([]anomaly.ServiceTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day := anomaly.Day(date)
	index := make(map[[2]string]int)
	totals := make([]anomaly.ServiceTotal, 0)
	for _, r := range m.records {
		if r.TenantID != tenantID || !r.Date.Equal(day) {
			continue
		}
		if cloudAccountID != "" && r.CloudAccountID != cloudAccountID {
			continue
		}
		k := [2]string{r.Service, r.Provider}
		i, ok := index[k]
		if !ok {
			i = len(totals)
			index[k] = i
			totals = append(totals, anomaly.ServiceTotal{Service: r.Service, Provider: r.Provider, Total: decimal.Zero})
		}
		totals[i].Total = totals[i].Total.Add(r.Amount)
	}
	return totals, nil
}

// ListAmounts returns per-day spend totals dated in [from, before), oldest first.
func (m *MemoryStore) ListAmounts(ctx context.Context, tenantID, service, provider string, from, before time.Time) ([]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	upper := anomaly.Day(before)
	var lower time.Time
	if !from.IsZero() {
		lower = anomaly.Day(from)
	}
	byDay := make(map[time.Time]decimal.Decimal)
	for _, r := range m.records {
		if r.TenantID != tenantID || r.Service != service || r.Provider != provider {
			continue
		}
		if !r.Date.Before(upper) {
			continue
		}
		if !lower.IsZero() && r.Date.Before(lower) {
			continue
		}
		byDay[r.Date] = byDay[r.Date].Add(r.Amount)
	}

	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	amounts := make([]decimal.Decimal, 0, len(days))
	for _, d := range days {
		amounts = append(amounts, byDay[d])
	}
	return amounts, nil
}

// DailyTotals sums a service's spend per day over [from, to], oldest first.
func (m *MemoryStore) DailyTotals(ctx context.Context, tenantID, service, provider string, from, to time.Time) ([]DailyTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lower, upper := anomaly.Day(from), anomaly.Day(to)
	byDay := make(map[time.Time]decimal.Decimal)
	for _, r := range m.records {
		if r.TenantID != tenantID || r.Service != service || r.Provider != provider {
			continue
		}
		if r.Date.Before(lower) || r.Date.After(upper) {
			continue
		}
		byDay[r.Date] = byDay[r.Date].Add(r.Amount)
	}

	totals := make([]DailyTotal, 0, len(byDay))
	for d, total := range byDay {
		totals = append(totals, DailyTotal{Date: d, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Date.Before(totals[j].Date) })
	return totals, nil
}

// FindOpen returns the non-resolved anomaly holding key.
func (m *MemoryStore) FindOpen(ctx context.Context, key anomaly.Key) (*anomaly.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a := m.findOpenLocked(key, ""); a != nil {
		copied := m.withTenant(*a)
		return &copied, nil
	}
	return nil, nil
}

// Create inserts a unless its key is already held by a non-resolved anomaly.
func (m *MemoryStore) Create(ctx context.Context, a anomaly.Anomaly) (anomaly.Anomaly, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.Date = anomaly.Day(a.Date)
	if m.findOpenLocked(a.Key(), "") != nil {
		return anomaly.Anomaly{}, false, nil
	}
	stored := a
	m.anomalies = append(m.anomalies, &stored)
	m.byID[stored.ID] = &stored
	return m.withTenant(stored), true, nil
}

// List returns the tenant's anomalies matching f in severity/date order.
func (m *MemoryStore) List(ctx context.Context, tenantID string, f anomaly.Filters) ([]anomaly.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]anomaly.Anomaly, 0)
	for _, a := range m.anomalies {
		if a.TenantID == tenantID && f.Match(*a) {
			out = append(out, m.withTenant(*a))
		}
	}
	anomaly.Sort(out)
	return out, nil
}

// Transition applies a status change under the store lock.
func (m *MemoryStore) Transition(ctx context.Context, t service.Transition) (anomaly.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[t.ID]
	if !ok {
		return anomaly.Anomaly{}, anomaly.ErrNotFound
	}
	if !statusIn(a.Status, t.From) {
		return anomaly.Anomaly{}, anomaly.ErrConflict
	}
	if t.To != anomaly.StatusResolved && m.findOpenLocked(a.Key(), a.ID) != nil {
		return anomaly.Anomaly{}, anomaly.ErrConflict
	}

	a.Status = t.To
	a.ResolvedAt, a.ResolvedBy, a.ResolutionNote = resolutionStamps(t)
	return m.withTenant(*a), nil
}

// RecordScan stamps the account's last scan.
func (m *MemoryStore) RecordScan(ctx context.Context, tenantID, cloudAccountID string, at time.Time, detected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[tenantID+"/"+cloudAccountID]
	if !ok {
		return nil
	}
	scanAt := at
	count := detected
	acc.LastScanAt = &scanAt
	acc.LastAnomalyCount = &count
	return nil
}

func (m *MemoryStore) findOpenLocked(key anomaly.Key, exceptID string) *anomaly.Anomaly {
	day := anomaly.Day(key.Date)
	for _, a := range m.anomalies {
		if a.ID == exceptID || a.Status == anomaly.StatusResolved {
			continue
		}
		if a.TenantID == key.TenantID && a.Service == key.Service && a.Provider == key.Provider && a.Date.Equal(day) {
			return a
		}
	}
	return nil
}

func (m *MemoryStore) withTenant(a anomaly.Anomaly) anomaly.Anomaly {
	a.Tenant = anomaly.TenantSummary{ID: a.TenantID, Name: m.tenants[a.TenantID]}
	return a
}

func statusIn(s anomaly.Status, set []anomaly.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// resolutionStamps returns the resolution columns after t: stamped when
// resolving, cleared otherwise.
func resolutionStamps(t service.Transition) (*time.Time, *string, *string) {
	if t.To != anomaly.StatusResolved {
		return nil, nil, nil
	}
	at := t.At
	by := t.By
	var note *string
	if t.Note != "" {
		n := t.Note
		note = &n
	}
	return &at, &by, note
}

var (
	_ DailyTotaler         = (*MemoryStore)(nil)
	_ service.Ledger       = (*MemoryStore)(nil)
	_ service.AnomalyStore = (*MemoryStore)(nil)
	_ service.StatusStore  = (*MemoryStore)(nil)
	_ service.ScanRecorder = (*MemoryStore)(nil)
)
