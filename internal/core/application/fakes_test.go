package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/gimlee/settlement/pkg/memo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	saves    int
}

func newMemPaymentRepo(payments ...domain.Payment) *memPaymentRepo {
	r := &memPaymentRepo{payments: make(map[string]domain.Payment)}
	for _, p := range payments {
		r.payments[p.Id] = p
	}
	return r
}

func (r *memPaymentRepo) Add(_ context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.Id]; ok {
		return domain.ErrPaymentExists
	}
	for _, other := range r.payments {
		if !other.Status.IsTerminal() && other.ReceivingAddress == p.ReceivingAddress &&
			other.Memo == p.Memo {
			return domain.ErrDuplicateMemo
		}
	}
	r.payments[p.Id] = p
	return nil
}

func (r *memPaymentRepo) Save(_ context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[p.Id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if err := domain.CheckUpdate(stored, p); err != nil {
		return err
	}
	r.payments[p.Id] = p
	r.saves++
	return nil
}

func (r *memPaymentRepo) FindById(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *memPaymentRepo) FindByPurchaseId(_ context.Context, purchaseId string) ([]domain.Payment, error) {
	return r.filter(func(p domain.Payment) bool { return p.PurchaseId == purchaseId }), nil
}

func (r *memPaymentRepo) FindAllByStatus(_ context.Context, status domain.PaymentStatus) ([]domain.Payment, error) {
	return r.filter(func(p domain.Payment) bool { return p.Status == status }), nil
}

func (r *memPaymentRepo) FindAllByStatusAndCurrency(
	_ context.Context, status domain.PaymentStatus, currency domain.Currency,
) ([]domain.Payment, error) {
	return r.filter(func(p domain.Payment) bool {
		return p.Status == status && p.Currency == currency
	}), nil
}

func (r *memPaymentRepo) Close() {}

func (r *memPaymentRepo) get(id string) domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payments[id]
}

func (r *memPaymentRepo) filter(keep func(domain.Payment) bool) []domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []domain.Payment
	for _, p := range r.payments {
		if keep(p) {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Id < list[j].Id })
	return list
}

type memRateRepo struct {
	mu    sync.Mutex
	rates []domain.ExchangeRate
}

func (r *memRateRepo) Save(_ context.Context, rate domain.ExchangeRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates = append(r.rates, rate)
	return nil
}

func (r *memRateRepo) FindLatest(_ context.Context, base, quote domain.Currency) (*domain.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest, ok := domain.LatestByPair(r.rates)[domain.CurrencyPair{Base: base, Quote: quote}]
	if !ok {
		return nil, domain.ErrRateNotFound
	}
	return &latest, nil
}

func (r *memRateRepo) FindAllLatest(_ context.Context) ([]domain.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []domain.ExchangeRate
	for _, rate := range domain.LatestByPair(r.rates) {
		list = append(list, rate)
	}
	return list, nil
}

func (r *memRateRepo) FindSince(
	_ context.Context, base, quote domain.Currency, since time.Time,
) ([]domain.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []domain.ExchangeRate
	for _, rate := range r.rates {
		if rate.BaseCurrency == base && rate.QuoteCurrency == quote && !rate.UpdatedAt.Before(since) {
			list = append(list, rate)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.Before(list[j].UpdatedAt) })
	return list, nil
}

func (r *memRateRepo) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := domain.LatestByPair(r.rates)
	kept := r.rates[:0]
	var deleted int64
	for _, rate := range r.rates {
		if rate.UpdatedAt.Before(before) && latest[rate.Pair()].Id != rate.Id {
			deleted++
			continue
		}
		kept = append(kept, rate)
	}
	r.rates = kept
	return deleted, nil
}

func (r *memRateRepo) Close() {}

func (r *memRateRepo) add(base, quote domain.Currency, rate string, at time.Time) domain.ExchangeRate {
	row := domain.ExchangeRate{
		Id:            uuid.New().String(),
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Rate:          decimal.RequireFromString(rate),
		UpdatedAt:     at,
		Source:        "test",
	}
	// nolint:errcheck
	r.Save(context.Background(), row)
	return row
}

type fakeLedger struct {
	currency domain.Currency
	mu       sync.Mutex
	txs      map[string][]ports.ReceivedTx
	errs     map[string]error
	calls    map[string]int
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func newFakeLedger(currency domain.Currency) *fakeLedger {
	return &fakeLedger{
		currency: currency,
		txs:      make(map[string][]ports.ReceivedTx),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (l *fakeLedger) Currency() domain.Currency { return l.currency }

func (l *fakeLedger) receive(address, text, amount string, confirmations int64) {
	hexMemo, err := memo.EncodeHex(text, memo.Size)
	if err != nil {
		panic(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[address] = append(l.txs[address], ports.ReceivedTx{
		TxId:          uuid.New().String(),
		Memo:          hexMemo,
		Amount:        decimal.RequireFromString(amount),
		Confirmations: confirmations,
	})
}

func (l *fakeLedger) ListReceived(
	_ context.Context, address string, minConfirmations int64,
) ([]ports.ReceivedTx, error) {
	l.mu.Lock()
	l.calls[address]++
	l.inFlight++
	if l.inFlight > l.maxSeen {
		l.maxSeen = l.inFlight
	}
	l.mu.Unlock()

	time.Sleep(l.delay)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
	if err := l.errs[address]; err != nil {
		return nil, err
	}
	var list []ports.ReceivedTx
	for _, tx := range l.txs[address] {
		if tx.Confirmations >= minConfirmations {
			list = append(list, tx)
		}
	}
	return list, nil
}

func (l *fakeLedger) Close() {}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ports.PaymentResolvedEvent
}

func (n *recordingNotifier) NotifyPaymentResolved(_ context.Context, e ports.PaymentResolvedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

type fakeProvider struct {
	name    string
	pairs   map[domain.CurrencyPair]string
	err     error
	noPrice bool
	calls   int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Supports(base, quote domain.Currency) bool {
	_, ok := p.pairs[domain.CurrencyPair{Base: base, Quote: quote}]
	return ok
}

func (p *fakeProvider) FetchPrice(
	_ context.Context, base, quote domain.Currency,
) (*ports.PriceQuote, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if p.noPrice {
		return nil, nil
	}
	rate, ok := p.pairs[domain.CurrencyPair{Base: base, Quote: quote}]
	if !ok {
		return nil, fmt.Errorf("unsupported pair")
	}
	return &ports.PriceQuote{Rate: decimal.RequireFromString(rate)}, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		l.released++
	}, true, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
