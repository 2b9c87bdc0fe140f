package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/url"
	"sync"
	"time"
)

const (
	// How long a fetched rate is reused without asking again.
	rateCacheDuration = 5 * time.Minute
	// Oldest cached rate still accepted when the rate source fails.
	rateMaxCacheAge = 15 * time.Minute
)

var ErrNoQuote = errors.New("no ton rate available")

// RateSource returns the price of one TON in USD.
type RateSource interface {
	TONPriceUSD(ctx context.Context) (float64, error)
}

// Quote is the amount due on each rail for the subscription fee.
type Quote struct {
	Native uint64   // nanoTON
	Token  *big.Int // token base units
	Rate   float64  // USD per TON used for Native
}

// Quoter converts the fixed USD fee into rail amounts.
type Quoter struct {
	source        RateSource
	feeUSD        float64
	tokenDecimals int
	fallbackRate  float64
	log           *slog.Logger

	now func() time.Time

	mu       sync.RWMutex
	rate     float64
	cachedAt time.Time
}

// NewQuoter creates a quoter. fallbackRate is used when no fresh or recent rate exists.
func NewQuoter(source RateSource, feeUSD float64, tokenDecimals int, fallbackRate float64, log *slog.Logger) *Quoter {
	return &Quoter{
		source:        source,
		feeUSD:        feeUSD,
		tokenDecimals: tokenDecimals,
		fallbackRate:  fallbackRate,
		log:           log,
		now:           time.Now,
	}
}

// Quote returns the amounts due right now.
func (q *Quoter) Quote(ctx context.Context) (Quote, error) {
	rate, err := q.tonRate(ctx)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Native: uint64(math.Ceil(q.feeUSD / rate * 1e9)),
		Token:  TokenUnits(q.feeUSD, q.tokenDecimals),
		Rate:   rate,
	}, nil
}

func (q *Quoter) tonRate(ctx context.Context) (float64, error) {
	now := q.now()

	q.mu.RLock()
	if q.rate > 0 && now.Sub(q.cachedAt) < rateCacheDuration {
		rate := q.rate
		q.mu.RUnlock()
		return rate, nil
	}
	q.mu.RUnlock()

	rate, err := q.source.TONPriceUSD(ctx)
	if err == nil && rate > 0 {
		q.mu.Lock()
		q.rate = rate
		q.cachedAt = now
		q.mu.Unlock()
		return rate, nil
	}
	if err == nil {
		err = fmt.Errorf("non-positive rate %v", rate)
	}

	q.mu.RLock()
	cached, age := q.rate, now.Sub(q.cachedAt)
	q.mu.RUnlock()
	if cached > 0 && age < rateMaxCacheAge {
		q.log.Warn("ton rate unavailable, using cached value", "error", err, "cache_age", age)
		return cached, nil
	}
	if q.fallbackRate > 0 {
		q.log.Warn("ton rate unavailable, using fallback", "error", err, "fallback", q.fallbackRate)
		return q.fallbackRate, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrNoQuote, err)
}

// TokenUnits converts a whole-token amount into base units.
func TokenUnits(amount float64, decimals int) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), new(big.Float).SetInt(pow10(decimals)))
	// Round half up: 0.1 is 100000.0000000000055 units at six decimals.
	scaled.Add(scaled, big.NewFloat(0.5))
	units, _ := scaled.Int(nil)
	return units
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Links are wallet deep links prefilled with amount and reference.
type Links struct {
	Native string
	Token  string
}

// PaymentLinks builds Tonkeeper transfer links for both rails. They must be
// https: Telegram URL buttons reject ton:// links.
func PaymentLinks(wallet, tokenMaster, reference string, q Quote) Links {
	native := url.Values{}
	native.Set("amount", fmt.Sprintf("%d", q.Native))
	native.Set("text", reference)

	token := url.Values{}
	token.Set("jetton", tokenMaster)
	if q.Token != nil {
		token.Set("amount", q.Token.String())
	}
	token.Set("text", reference)

	base := "https://app.tonkeeper.com/transfer/" + wallet
	return Links{
		Native: base + "?" + native.Encode(),
		Token:  base + "?" + token.Encode(),
	}
}
