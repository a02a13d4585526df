package metering

import (
	"context"
	"sync"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockUsageRecordRepository is a mock implementation of metering.UsageRecordRepository
type MockUsageRecordRepository struct {
	mock.Mock
}

func (m *MockUsageRecordRepository) Create(ctx context.Context, record *metering.UsageRecord) (*metering.UsageRecord, bool, error) {
	args := m.Called(ctx, record)
	switch stored := args.Get(0).(type) {
	case nil:
		return nil, args.Bool(1), args.Error(2)
	case func(context.Context, *metering.UsageRecord) *metering.UsageRecord:
		return stored(ctx, record), args.Bool(1), args.Error(2)
	default:
		return stored.(*metering.UsageRecord), args.Bool(1), args.Error(2)
	}
}

func (m *MockUsageRecordRepository) CreateBatch(ctx context.Context, records []*metering.UsageRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

func (m *MockUsageRecordRepository) FindByIdempotencyKey(ctx context.Context, key string) (*metering.UsageRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.UsageRecord), args.Error(1)
}

func (m *MockUsageRecordRepository) SumForBillable(ctx context.Context, billable metering.BillableRef, start, end time.Time) (metering.UsageTotals, error) {
	args := m.Called(ctx, billable, start, end)
	return args.Get(0).(metering.UsageTotals), args.Error(1)
}

func (m *MockUsageRecordRepository) Find(ctx context.Context, filter metering.UsageRecordFilter) ([]*metering.UsageRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metering.UsageRecord), args.Error(1)
}

func (m *MockUsageRecordRepository) CountOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRecordRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRecordRepository) CountWithoutBillable(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockSubscriptionRepository is a mock implementation of metering.SubscriptionRepository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Save(ctx context.Context, sub *metering.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) FindCurrent(ctx context.Context, billable metering.BillableRef, now time.Time) (*metering.Subscription, error) {
	args := m.Called(ctx, billable, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, id string) (*metering.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindByStripeCustomerID(ctx context.Context, id string) (*metering.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) CountWithoutPlan(ctx context.Context, mode metering.BillingMode) (int64, error) {
	args := m.Called(ctx, mode)
	return args.Get(0).(int64), args.Error(1)
}

// MockPlanRepository is a mock implementation of metering.PlanRepository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) Save(ctx context.Context, plan *metering.Plan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*metering.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Plan), args.Error(1)
}

func (m *MockPlanRepository) FindBySlug(ctx context.Context, slug string) (*metering.Plan, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Plan), args.Error(1)
}

func (m *MockPlanRepository) ListActive(ctx context.Context) ([]*metering.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metering.Plan), args.Error(1)
}

// MockOverrideRepository is a mock implementation of metering.UsageLimitOverrideRepository
type MockOverrideRepository struct {
	mock.Mock
}

func (m *MockOverrideRepository) Save(ctx context.Context, override *metering.UsageLimitOverride) error {
	args := m.Called(ctx, override)
	return args.Error(0)
}

func (m *MockOverrideRepository) FindCovering(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod) (*metering.UsageLimitOverride, error) {
	args := m.Called(ctx, billable, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.UsageLimitOverride), args.Error(1)
}

// MockOverageRepository is a mock implementation of metering.OverageRepository
type MockOverageRepository struct {
	mock.Mock
}

func (m *MockOverageRepository) Create(ctx context.Context, overage *metering.Overage) error {
	args := m.Called(ctx, overage)
	return args.Error(0)
}

func (m *MockOverageRepository) AddToOpen(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod, tokens int64, cost decimal.Decimal, currency string) (*metering.Overage, error) {
	args := m.Called(ctx, billable, period, tokens, cost, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metering.Overage), args.Error(1)
}

func (m *MockOverageRepository) FindUnsynced(ctx context.Context, limit int) ([]*metering.Overage, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*metering.Overage), args.Error(1)
}

func (m *MockOverageRepository) MarkSynced(ctx context.Context, charged *metering.Overage, chargeID string, at time.Time) error {
	args := m.Called(ctx, charged, chargeID, at)
	return args.Error(0)
}

// MockChargeSink is a mock implementation of metering.ChargeSink
type MockChargeSink struct {
	mock.Mock
}

func (m *MockChargeSink) CreateCharge(ctx context.Context, req metering.ChargeRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockEventPublisher is a mock implementation of shared.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType())
	}
	return types
}

// memoryWalletRepository is an in-memory metering.CreditWalletRepository
// serialising mutations with a mutex in place of a row lock
type memoryWalletRepository struct {
	mu           sync.Mutex
	wallets      map[string]*metering.CreditWallet
	transactions []*metering.CreditTransaction
}

func newMemoryWalletRepository() *memoryWalletRepository {
	return &memoryWalletRepository{wallets: make(map[string]*metering.CreditWallet)}
}

func (r *memoryWalletRepository) FindByBillable(_ context.Context, billable metering.BillableRef) (*metering.CreditWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[billable.Key()]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *w
	return &clone, nil
}

func (r *memoryWalletRepository) Mutate(_ context.Context, billable metering.BillableRef, currency string, fn metering.WalletMutation) (*metering.CreditWallet, *metering.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[billable.Key()]
	if !ok {
		created, err := metering.NewCreditWallet(billable, currency)
		if err != nil {
			return nil, nil, err
		}
		w = created
	}
	working := *w
	tx, err := fn(&working)
	if err != nil {
		return nil, nil, err
	}
	r.wallets[billable.Key()] = &working
	r.transactions = append(r.transactions, tx)
	clone := working
	return &clone, tx, nil
}

func (r *memoryWalletRepository) ListTransactions(_ context.Context, walletID uuid.UUID, limit int) ([]*metering.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*metering.CreditTransaction
	for i := len(r.transactions) - 1; i >= 0; i-- {
		if r.transactions[i].WalletID == walletID {
			out = append(out, r.transactions[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// memoryTotalsCache is an in-memory metering.UsageTotalsCache
type memoryTotalsCache struct {
	mu          sync.Mutex
	totals      map[string]metering.UsageTotals
	invalidated int
}

func newMemoryTotalsCache() *memoryTotalsCache {
	return &memoryTotalsCache{totals: make(map[string]metering.UsageTotals)}
}

func (c *memoryTotalsCache) GetTotals(_ context.Context, billable metering.BillableRef, _ metering.BillingPeriod) (*metering.UsageTotals, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.totals[billable.Key()]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (c *memoryTotalsCache) SetTotals(_ context.Context, billable metering.BillableRef, _ metering.BillingPeriod, totals metering.UsageTotals, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[billable.Key()] = totals
	return nil
}

func (c *memoryTotalsCache) InvalidateTotals(_ context.Context, billable metering.BillableRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.totals, billable.Key())
	c.invalidated++
	return nil
}

// stubProvider is a metering.ProviderClient returning fixed usage
type stubProvider struct {
	usage  metering.ProviderUsage
	preset *metering.ProviderUsage
}

func (p *stubProvider) Call(ctx context.Context, op metering.Operation) (metering.ProviderResult, error) {
	resp, err := op(ctx)
	if err != nil {
		return metering.ProviderResult{}, err
	}
	usage := p.usage
	if p.preset != nil {
		usage = *p.preset
	}
	return metering.ProviderResult{Response: resp, Usage: usage}, nil
}

func (p *stubProvider) SetUsage(usage metering.ProviderUsage) {
	p.preset = &usage
}

// stubLocker is a shared.Locker that grants or refuses every key
type stubLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	released int
}

func newStubLocker() *stubLocker {
	return &stubLocker{held: make(map[string]bool)}
}

func (l *stubLocker) Acquire(_ context.Context, key string, _ time.Duration) (shared.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, shared.ErrLockNotAcquired
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return &stubLock{locker: l, key: key}, nil
}

type stubLock struct {
	locker *stubLocker
	key    string
}

func (s *stubLock) Release(context.Context) error {
	s.locker.mu.Lock()
	defer s.locker.mu.Unlock()
	if s.locker.held[s.key] {
		delete(s.locker.held, s.key)
		s.locker.released++
	}
	return nil
}

// memoryProcessedStore is a map-backed shared.IdempotencyStore
type memoryProcessedStore struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (s *memoryProcessedStore) MarkProcessed(_ context.Context, id string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[string]bool)
	}
	if s.ids[id] {
		return false, nil
	}
	s.ids[id] = true
	return true, nil
}

func (s *memoryProcessedStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id], nil
}

func (s *memoryProcessedStore) Close() error { return nil }
