package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/gimlee/settlement/pkg/memo"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMonitorWorkers   = 2
	defaultHardTimeoutGrace = 24 * time.Hour
)

type MonitorConfig struct {
	Currency         domain.Currency
	PollInterval     time.Duration
	MinConfirmations int64
	// Workers bounds the number of concurrent calls to the rail's node.
	Workers int
	// HardTimeoutGrace separates soft from hard timeouts: an unpaid payment
	// found expired within the grace period is FAILED_SOFT_TIMEOUT, later
	// than that FAILED_HARD_TIMEOUT.
	HardTimeoutGrace time.Duration
}

type ReconcileResult struct {
	Pending    int
	Addresses  int
	Completed  int
	Overpaid   int
	Underpaid  int
	TimedOut   int
	Progressed int
	Skipped    int
	Errors     int
}

// PaymentMonitor reconciles pending payments of one rail against what the
// rail's node reports as received. One instance runs per rail.
type PaymentMonitor struct {
	cfg      MonitorConfig
	ledger   ports.LedgerService
	payments domain.PaymentRepository
	notifier ports.PaymentNotifier
	now      func() time.Time
}

func NewPaymentMonitor(
	cfg MonitorConfig, ledger ports.LedgerService,
	payments domain.PaymentRepository, notifier ports.PaymentNotifier,
) (*PaymentMonitor, error) {
	if ledger == nil {
		return nil, fmt.Errorf("missing ledger service for %s", cfg.Currency)
	}
	if payments == nil {
		return nil, fmt.Errorf("missing payment repository")
	}
	if !cfg.Currency.IsRail() {
		return nil, fmt.Errorf("%s is not a settlement rail", cfg.Currency)
	}
	if ledger.Currency() != cfg.Currency {
		return nil, fmt.Errorf(
			"ledger service is for %s, monitor for %s", ledger.Currency(), cfg.Currency,
		)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultMonitorWorkers
	}
	if cfg.MinConfirmations < 0 {
		cfg.MinConfirmations = 0
	}
	if cfg.HardTimeoutGrace <= 0 {
		cfg.HardTimeoutGrace = defaultHardTimeoutGrace
	}
	return &PaymentMonitor{cfg, ledger, payments, notifier, time.Now}, nil
}

func (m *PaymentMonitor) Currency() domain.Currency {
	return m.cfg.Currency
}

func (m *PaymentMonitor) PollInterval() time.Duration {
	return m.cfg.PollInterval
}

// Run is the scheduler entry point; errors are logged, the next tick retries.
func (m *PaymentMonitor) Run(ctx context.Context) {
	res, err := m.Reconcile(ctx)
	logger := log.WithField("rail", m.cfg.Currency)
	if err != nil {
		logger.WithError(err).Error("payment reconciliation failed")
		return
	}
	if res.Pending == 0 {
		logger.Trace("no pending payments")
		return
	}
	logger.WithFields(log.Fields{
		"pending":    res.Pending,
		"addresses":  res.Addresses,
		"completed":  res.Completed,
		"overpaid":   res.Overpaid,
		"underpaid":  res.Underpaid,
		"timed_out":  res.TimedOut,
		"progressed": res.Progressed,
		"skipped":    res.Skipped,
		"errors":     res.Errors,
	}).Debug("payment reconciliation done")
}

type addressScan struct {
	txs []ports.ReceivedTx
	err error
}

// Reconcile runs a single reconciliation tick.
func (m *PaymentMonitor) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult

	pending, err := m.payments.FindAllByStatusAndCurrency(
		ctx, domain.PaymentAwaitingConfirmation, m.cfg.Currency,
	)
	if err != nil {
		return res, fmt.Errorf("failed to load pending payments: %w", err)
	}
	res.Pending = len(pending)
	if len(pending) == 0 {
		return res, nil
	}

	byAddress := groupByAddress(pending)
	res.Addresses = len(byAddress)

	scans := m.scanAddresses(ctx, byAddress)
	now := m.now()

	for _, address := range sortedKeys(byAddress) {
		logger := log.WithFields(log.Fields{"rail": m.cfg.Currency, "address": address})
		scan := scans[address]
		if scan.err != nil {
			logger.WithError(scan.err).Warn("failed to list received transactions, retrying next tick")
			res.Errors++
			res.Skipped += len(byAddress[address])
			continue
		}

		received := sumByMemo(scan.txs, logger)
		for _, group := range groupByMemo(byAddress[address]) {
			if len(group) > 1 {
				ids := make([]string, 0, len(group))
				for _, p := range group {
					ids = append(ids, p.Id)
				}
				logger.WithField("payments", ids).Error(
					"memo shared by several pending payments, cannot attribute funds",
				)
				res.Errors++
				res.Skipped += len(group)
				continue
			}

			payment := group[0]
			observed := received[payment.Memo]
			if err := m.settle(ctx, payment, observed, now, &res); err != nil {
				logger.WithError(err).WithField("payment", payment.Id).Error("failed to settle payment")
				res.Errors++
			}
		}
	}

	return res, nil
}

// scanAddresses lists received transactions of every address on a pool of at
// most cfg.Workers goroutines and waits for all of them.
func (m *PaymentMonitor) scanAddresses(
	ctx context.Context, byAddress map[string][]domain.Payment,
) map[string]addressScan {
	var (
		mu    sync.Mutex
		scans = make(map[string]addressScan, len(byAddress))
		g     errgroup.Group
	)
	g.SetLimit(m.cfg.Workers)

	for address := range byAddress {
		address := address
		g.Go(func() error {
			txs, err := m.ledger.ListReceived(ctx, address, m.cfg.MinConfirmations)
			mu.Lock()
			scans[address] = addressScan{txs, err}
			mu.Unlock()
			// never abort sibling calls
			return nil
		})
	}
	// nolint:errcheck
	g.Wait()

	return scans
}

func (m *PaymentMonitor) settle(
	ctx context.Context, payment domain.Payment, observed decimal.Decimal,
	now time.Time, res *ReconcileResult,
) error {
	next, paid := m.decide(payment, observed, now)
	if next == payment.Status && paid.Equal(payment.PaidAmount) {
		return nil
	}

	updated := payment
	if err := updated.Transition(next, paid); err != nil {
		return err
	}
	updated.UpdatedAt = now

	if err := m.payments.Save(ctx, updated); err != nil {
		if errors.Is(err, domain.ErrPaymentFinalized) {
			// resolved elsewhere (cancelled) since it was loaded
			res.Skipped++
			return nil
		}
		return fmt.Errorf("failed to persist payment: %w", err)
	}

	switch next {
	case domain.PaymentComplete:
		res.Completed++
	case domain.PaymentCompleteOverpaid:
		res.Overpaid++
	case domain.PaymentCompleteUnderpaid:
		res.Underpaid++
	case domain.PaymentFailedSoftTimeout, domain.PaymentFailedHardTimeout:
		res.TimedOut++
	default:
		res.Progressed++
	}

	if !next.IsTerminal() {
		return nil
	}

	log.WithFields(log.Fields{
		"payment":   updated.Id,
		"purchase":  updated.PurchaseId,
		"status":    next,
		"requested": updated.RequestedAmount.String(),
		"paid":      updated.PaidAmount.String(),
		"rail":      m.cfg.Currency,
	}).Info("payment resolved")

	if m.notifier == nil {
		return nil
	}
	if err := m.notifier.NotifyPaymentResolved(ctx, ports.PaymentResolvedEvent{
		PaymentId:  updated.Id,
		PurchaseId: updated.PurchaseId,
		Status:     next,
		PaidAmount: updated.PaidAmount,
		Currency:   updated.Currency,
		ResolvedAt: now,
	}); err != nil {
		log.WithError(err).WithField("payment", updated.Id).Warn("failed to publish payment resolution")
	}
	return nil
}

// decide applies the settlement policy. The returned paid amount never goes
// below what is already recorded.
func (m *PaymentMonitor) decide(
	payment domain.Payment, observed decimal.Decimal, now time.Time,
) (domain.PaymentStatus, decimal.Decimal) {
	precision := m.cfg.Currency.Precision()
	requested := payment.RequestedAmount.Round(precision)
	paid := decimal.Max(observed.Round(precision), payment.PaidAmount)

	switch cmp := paid.Cmp(requested); {
	case cmp == 0:
		return domain.PaymentComplete, paid
	case cmp > 0:
		return domain.PaymentCompleteOverpaid, paid
	}

	if !now.After(payment.Deadline) {
		return payment.Status, paid
	}
	if paid.IsPositive() {
		return domain.PaymentCompleteUnderpaid, paid
	}
	if now.Sub(payment.Deadline) <= m.cfg.HardTimeoutGrace {
		return domain.PaymentFailedSoftTimeout, paid
	}
	return domain.PaymentFailedHardTimeout, paid
}

func groupByAddress(payments []domain.Payment) map[string][]domain.Payment {
	groups := make(map[string][]domain.Payment)
	for _, p := range payments {
		groups[p.ReceivingAddress] = append(groups[p.ReceivingAddress], p)
	}
	return groups
}

// groupByMemo keys payments of one address by memo; more than one entry per
// key breaks the attribution invariant.
func groupByMemo(payments []domain.Payment) [][]domain.Payment {
	index := make(map[string]int)
	groups := make([][]domain.Payment, 0, len(payments))
	for _, p := range payments {
		if i, ok := index[p.Memo]; ok {
			groups[i] = append(groups[i], p)
			continue
		}
		index[p.Memo] = len(groups)
		groups = append(groups, []domain.Payment{p})
	}
	return groups
}

// sumByMemo totals received amounts per decoded memo. Transactions with an
// undecodable memo are logged and ignored.
func sumByMemo(txs []ports.ReceivedTx, logger *log.Entry) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		text, err := memo.Decode(tx.Memo)
		if err != nil {
			logger.WithError(err).WithField("txid", tx.TxId).Warn("skipping transaction with malformed memo")
			continue
		}
		if text == nil || *text == "" {
			continue
		}
		totals[*text] = totals[*text].Add(tx.Amount)
	}
	return totals
}

func sortedKeys(m map[string][]domain.Payment) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
