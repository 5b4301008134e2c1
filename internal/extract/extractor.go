package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/price-crawler/internal/config"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/retry"
)

const couponMarkup = `class="price-txt-info font-medium">쿠폰할인<`

var (
	digitsPattern    = regexp.MustCompile(`\d+`)
	appleCarePattern = regexp.MustCompile(`(?i)AppleCare[^<>]*?(\d{1,3}(?:,\d{3})+원)`)
)

type Extractor struct {
	selectors config.Selectors
	policy    retry.Policy
	now       func() time.Time
	logger    *slog.Logger
}

func NewExtractor(selectors config.Selectors, policy retry.Policy, logger *slog.Logger) *Extractor {
	return &Extractor{
		selectors: selectors,
		policy:    policy,
		now:       time.Now,
		logger:    logger.With("component", "extractor"),
	}
}

// Extract always returns a result. When every attempt fails the fields stay
// NA and Error describes the last failure.
func (e *Extractor) Extract(ctx context.Context, page Page, rec models.InputRecord) *models.Result {
	var result *models.Result
	err := retry.Do(ctx, e.policy, func(int) error {
		r, err := e.extractOnce(page, rec)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		e.logger.Warn("extraction failed, retrying",
			"url", rec.URL, "attempt", attempt, "max_attempts", e.policy.Attempts, "wait", wait, "error", err)
	})
	if err != nil {
		e.logger.Error("extraction gave up", "url", rec.URL, "original_index", rec.OriginalIndex, "error", err)
		return models.Failed(rec, e.now(), err)
	}
	return result
}

func (e *Extractor) extractOnce(page Page, rec models.InputRecord) (*models.Result, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	r := models.NewResult(rec, e.now())
	r.ProductName = e.productName(page)

	r.Price = e.price(page, e.selectors.Price, models.ColPrice)
	r.OriginPrice = e.price(page, e.selectors.OriginPrice, models.ColOriginPrice)
	if !r.OriginPrice.Valid && r.Price.Valid {
		r.OriginPrice = r.Price
	}

	if e.hasCoupon(page, html) {
		r.CouponPrice = e.price(page, e.selectors.CouponPrice, models.ColCouponPrice)
		r.Coupon = r.CouponPrice.Valid
		if !r.Coupon {
			e.logger.Warn("coupon shown but coupon price missing", "url", rec.URL)
		}
	}

	r.ACPrice = e.price(page, e.selectors.ACPrice, models.ColACPrice)
	if !r.ACPrice.Valid {
		if m := appleCarePattern.FindStringSubmatch(html); m != nil {
			if v, ok := ParsePrice(m[1]); ok {
				r.ACPrice = models.PriceOf(v)
			}
		}
	}

	r.ExtractedAt = e.now()
	e.logger.Info("product extracted",
		"original_index", rec.OriginalIndex,
		"name", truncate(r.ProductName, 30),
		"price", r.Price.String(),
		"origin_price", r.OriginPrice.String(),
		"coupon", r.Coupon,
		"coupon_price", r.CouponPrice.String(),
		"ac_price", r.ACPrice.String())
	return r, nil
}

func (e *Extractor) productName(page Page) string {
	for _, sel := range e.selectors.ProductName {
		texts, err := page.Texts(sel)
		if err != nil {
			e.logger.Debug("name selector failed", "selector", sel, "error", err)
			continue
		}
		for _, t := range texts {
			if t = strings.TrimSpace(t); t != "" {
				return t
			}
		}
	}

	// fall back to the longest h2 on the page
	texts, err := page.Texts("h2")
	if err == nil {
		longest := ""
		for _, t := range texts {
			if t = strings.TrimSpace(t); len([]rune(t)) > len([]rune(longest)) {
				longest = t
			}
		}
		if longest != "" {
			return longest
		}
	}
	e.logger.Warn("product name not found")
	return models.NotAvailable
}

// price returns the first parseable match across selectors, in priority order.
func (e *Extractor) price(page Page, selectors []string, field string) models.Price {
	for _, sel := range selectors {
		texts, err := page.Texts(sel)
		if err != nil {
			e.logger.Debug("price selector failed", "field", field, "selector", sel, "error", err)
			continue
		}
		if len(texts) == 0 {
			continue
		}
		if len(texts) > 1 {
			e.logger.Warn("selector matched multiple elements, using first", "field", field, "selector", sel, "count", len(texts))
		}
		if v, ok := ParsePrice(texts[0]); ok {
			return models.PriceOf(v)
		}
	}
	return models.Price{}
}

func (e *Extractor) hasCoupon(page Page, html string) bool {
	for _, sel := range e.selectors.CouponIndicators {
		n, err := page.Count(sel)
		if err != nil {
			e.logger.Debug("coupon selector failed", "selector", sel, "error", err)
			continue
		}
		if n > 0 {
			return true
		}
	}
	return strings.Contains(html, couponMarkup)
}

// ParsePrice strips the currency suffix and thousands separators and reads
// the first run of digits.
func ParsePrice(text string) (int, bool) {
	text = strings.NewReplacer("원", "", ",", "").Replace(text)
	m := digitsPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return v, true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
