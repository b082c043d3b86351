// Package report builds monthly sales summaries over completed orders.
package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/cache"
	"carparts/backend/internal/domain"
)

var ErrInvalidPeriod = errors.New("invalid report period")

// ParsePeriod reads the year and month query values. Empty values default to
// the year and month of now.
func ParsePeriod(yearRaw string, monthRaw string, now time.Time) (int, time.Month, error) {
	year, month := now.Year(), now.Month()

	if raw := strings.TrimSpace(yearRaw); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil || y < 1 {
			return 0, 0, ErrInvalidPeriod
		}
		year = y
	}
	if raw := strings.TrimSpace(monthRaw); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, ErrInvalidPeriod
		}
		month = time.Month(m)
	}
	return year, month, nil
}

// MonthRange returns the first and last instant of the month in loc, both
// inclusive. The end is 23:59:59.999 on the last day.
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := time.Date(year, month+1, 0, 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}

// Summarize totals the COMPLETED orders created within [from, to]. Payment
// methods other than CASH and CARD count toward the total only.
func Summarize(orders []domain.OrderDetail, from time.Time, to time.Time) domain.SalesReport {
	out := domain.SalesReport{
		TotalSales: decimal.Zero,
		SalesByPaymentMethod: domain.SalesByPaymentMethod{
			Cash: decimal.Zero,
			Card: decimal.Zero,
		},
		Orders:    make([]domain.OrderDetail, 0, len(orders)),
		DateRange: domain.DateRange{Start: from, End: to},
	}
	for _, o := range orders {
		if o.Status != domain.OrderCompleted || o.CreatedAt.Before(from) || o.CreatedAt.After(to) {
			continue
		}
		out.TotalSales = out.TotalSales.Add(o.TotalAmount)
		switch o.PaymentMethod {
		case domain.PaymentCash:
			out.SalesByPaymentMethod.Cash = out.SalesByPaymentMethod.Cash.Add(o.TotalAmount)
		case domain.PaymentCard:
			out.SalesByPaymentMethod.Card = out.SalesByPaymentMethod.Card.Add(o.TotalAmount)
		}
		out.Orders = append(out.Orders, o)
	}
	return out
}

// Loader fetches the owner's completed orders created within [from, to].
type Loader func(ctx context.Context, from time.Time, to time.Time) ([]domain.OrderDetail, error)

type Aggregator struct {
	cache    cache.ReportCache
	cacheTTL time.Duration
	loc      *time.Location
}

func NewAggregator(reportCache cache.ReportCache, cacheTTL time.Duration, loc *time.Location) *Aggregator {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{cache: reportCache, cacheTTL: cacheTTL, loc: loc}
}

func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Monthly serves the owner's report for the month, computing it with load on
// a miss. The cache key carries the owner's generation as read before the
// load, so a result computed across an Invalidate lands on a retired key.
func (a *Aggregator) Monthly(ctx context.Context, owner string, year int, month time.Month, load Loader) (*domain.SalesReport, error) {
	useCache := a.cacheTTL > 0
	var key string
	if useCache {
		gen, err := a.cache.Generation(ctx, generationKey(owner))
		if err != nil {
			log.Printf("[report] WARN: cache generation read failed owner=%s: %v", owner, err)
			useCache = false
		}
		key = cacheKey(owner, gen, year, month)
	}
	if useCache {
		if cached, ok, err := a.cache.Get(ctx, key); err == nil && ok {
			return cached, nil
		} else if err != nil {
			log.Printf("[report] WARN: cache read failed key=%s: %v", key, err)
		}
	}

	from, to := MonthRange(year, month, a.loc)
	orders, err := load(ctx, from, to)
	if err != nil {
		return nil, err
	}

	summary := Summarize(orders, from, to)
	if useCache {
		if err := a.cache.Set(ctx, key, &summary, a.cacheTTL); err != nil {
			log.Printf("[report] WARN: cache write failed key=%s: %v", key, err)
		}
	}
	return &summary, nil
}

// Invalidate retires every cached report of the owner. Reports embed part
// and category details, so catalogue edits call it as well as order writes.
func (a *Aggregator) Invalidate(ctx context.Context, owner string) {
	if err := a.cache.Bump(ctx, generationKey(owner)); err != nil {
		log.Printf("[report] WARN: cache invalidate failed owner=%s: %v", owner, err)
	}
}

func generationKey(owner string) string {
	hash := sha1.Sum([]byte(owner))
	return "pos:report:gen:" + hex.EncodeToString(hash[:])
}

func cacheKey(owner string, gen int64, year int, month time.Month) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%04d|%02d", owner, gen, year, int(month))))
	return "pos:report:" + hex.EncodeToString(hash[:])
}
