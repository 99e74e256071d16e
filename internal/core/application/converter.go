package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
)

// inverse rates are computed with this many decimal places
const inverseRatePrecision = 18

var ErrNoConversionPath = errors.New("no conversion path")

type ConversionError struct {
	From   domain.Currency
	To     domain.Currency
	Reason error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return e.Reason
}

type ConversionStep struct {
	BaseCurrency       domain.Currency
	QuoteCurrency      domain.Currency
	Rate               decimal.Decimal
	SourceExchangeRate domain.ExchangeRate
}

type ConversionResult struct {
	TargetAmount decimal.Decimal
	From         domain.Currency
	To           domain.Currency
	Steps        []ConversionStep
	// UpdatedAt is the oldest update time among the rates used.
	UpdatedAt  time.Time
	IsVolatile bool
}

// VolatilitySource tells whether a currency is currently considered volatile.
type VolatilitySource interface {
	IsVolatile(currency domain.Currency) bool
}

type rateEdge struct {
	to     domain.Currency
	rate   decimal.Decimal
	source domain.ExchangeRate
}

// Converter converts amounts across the graph of latest exchange rates.
type Converter struct {
	rates      domain.ExchangeRateRepository
	volatility VolatilitySource
	now        func() time.Time
}

func NewConverter(rates domain.ExchangeRateRepository) *Converter {
	return &Converter{rates: rates, now: time.Now}
}

func (c *Converter) SetVolatilitySource(src VolatilitySource) {
	c.volatility = src
}

// Convert expresses amount of from in to, following the path with the fewest
// hops over the latest rates.
func (c *Converter) Convert(
	ctx context.Context, amount decimal.Decimal, from, to domain.Currency,
) (*ConversionResult, error) {
	if !from.IsKnown() {
		return nil, &ConversionError{from, to, fmt.Errorf("%w: %s", domain.ErrUnknownCurrency, from)}
	}
	if !to.IsKnown() {
		return nil, &ConversionError{from, to, fmt.Errorf("%w: %s", domain.ErrUnknownCurrency, to)}
	}
	if from == to {
		return &ConversionResult{
			TargetAmount: amount,
			From:         from,
			To:           to,
			Steps:        []ConversionStep{},
			UpdatedAt:    c.now(),
		}, nil
	}

	latest, err := c.rates.FindAllLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange rates: %w", err)
	}

	path := shortestPath(buildRateGraph(latest), from, to)
	if path == nil {
		return nil, &ConversionError{from, to, ErrNoConversionPath}
	}

	result := &ConversionResult{
		TargetAmount: amount,
		From:         from,
		To:           to,
		Steps:        make([]ConversionStep, 0, len(path)),
	}
	base := from
	for i, edge := range path {
		result.TargetAmount = result.TargetAmount.Mul(edge.rate)
		result.Steps = append(result.Steps, ConversionStep{
			BaseCurrency:       base,
			QuoteCurrency:      edge.to,
			Rate:               edge.rate,
			SourceExchangeRate: edge.source,
		})
		if i == 0 || edge.source.UpdatedAt.Before(result.UpdatedAt) {
			result.UpdatedAt = edge.source.UpdatedAt
		}
		if c.isVolatile(edge.source) {
			result.IsVolatile = true
		}
		base = edge.to
	}

	return result, nil
}

// ConvertAll converts the same amount into each target, skipping targets that
// cannot be reached.
func (c *Converter) ConvertAll(
	ctx context.Context, amount decimal.Decimal, from domain.Currency, targets []domain.Currency,
) (map[domain.Currency]*ConversionResult, error) {
	results := make(map[domain.Currency]*ConversionResult, len(targets))
	for _, to := range targets {
		res, err := c.Convert(ctx, amount, from, to)
		if err != nil {
			var convErr *ConversionError
			if errors.As(err, &convErr) {
				continue
			}
			return nil, err
		}
		results[to] = res
	}
	return results, nil
}

func (c *Converter) isVolatile(rate domain.ExchangeRate) bool {
	if rate.IsVolatile {
		return true
	}
	if c.volatility == nil {
		return false
	}
	return c.volatility.IsVolatile(rate.BaseCurrency) || c.volatility.IsVolatile(rate.QuoteCurrency)
}

// buildRateGraph turns every latest rate into a forward and an inverse edge.
// Neighbours are sorted so that ties between equally short paths resolve the
// same way every time.
func buildRateGraph(rates []domain.ExchangeRate) map[domain.Currency][]rateEdge {
	graph := make(map[domain.Currency][]rateEdge)
	latest := domain.LatestByPair(rates)

	pairs := make([]domain.CurrencyPair, 0, len(latest))
	for pair := range latest {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })

	for _, pair := range pairs {
		rate := latest[pair]
		if !rate.Rate.IsPositive() {
			continue
		}
		graph[pair.Base] = addEdge(graph[pair.Base], rateEdge{pair.Quote, rate.Rate, rate})
		inverse := decimal.NewFromInt(1).DivRound(rate.Rate, inverseRatePrecision)
		graph[pair.Quote] = addEdge(graph[pair.Quote], rateEdge{pair.Base, inverse, rate})
	}

	for cur := range graph {
		edges := graph[cur]
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].to < edges[j].to })
	}
	return graph
}

// addEdge keeps a single edge per neighbour, preferring the freshest source.
// A direct quote and an inverse quote of the same two currencies would
// otherwise both be candidates.
func addEdge(edges []rateEdge, edge rateEdge) []rateEdge {
	for i, e := range edges {
		if e.to == edge.to {
			if edge.source.UpdatedAt.After(e.source.UpdatedAt) {
				edges[i] = edge
			}
			return edges
		}
	}
	return append(edges, edge)
}

// shortestPath runs a breadth first search and returns the edges from from to
// to, or nil when to is unreachable.
func shortestPath(
	graph map[domain.Currency][]rateEdge, from, to domain.Currency,
) []rateEdge {
	type visit struct {
		prev domain.Currency
		edge rateEdge
	}
	visited := map[domain.Currency]*visit{from: nil}
	queue := []domain.Currency{from}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			break
		}
		for _, edge := range graph[cur] {
			if _, seen := visited[edge.to]; seen {
				continue
			}
			visited[edge.to] = &visit{cur, edge}
			queue = append(queue, edge.to)
		}
	}

	if _, ok := visited[to]; !ok {
		return nil
	}
	var path []rateEdge
	for cur := to; cur != from; {
		v := visited[cur]
		path = append([]rateEdge{v.edge}, path...)
		cur = v.prev
	}
	return path
}
