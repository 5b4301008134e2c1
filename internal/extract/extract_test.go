package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-crawler/internal/config"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadPage(t *testing.T, name string) *HTMLPage {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	page, err := NewHTMLPage(string(data))
	require.NoError(t, err)
	return page
}

func htmlPage(t *testing.T, html string) *HTMLPage {
	t.Helper()
	page, err := NewHTMLPage(html)
	require.NoError(t, err)
	return page
}

// fakePage fails Content a fixed number of times before delegating.
type fakePage struct {
	*HTMLPage
	contentErrs int
	countErr    error
}

func (f *fakePage) Content() (string, error) {
	if f.contentErrs > 0 {
		f.contentErrs--
		return "", errors.New("target closed")
	}
	return f.HTMLPage.Content()
}

func (f *fakePage) Count(sel string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.HTMLPage.Count(sel)
}

func newExtractor() *Extractor {
	e := NewExtractor(config.DefaultSelectors(), retry.Policy{Attempts: 3, Step: time.Millisecond}, testLogger())
	e.now = func() time.Time { return time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC) }
	return e
}

var rec = models.InputRecord{URL: "https://www.coupang.com/vp/products/1", OriginalIndex: 7, ProdID: "P7"}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"1,459,000원", 1459000, true},
		{" 19,900 원 ", 19900, true},
		{"월 12,000원 (3개월)", 12000, true},
		{"가격 정보 없음", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePrice(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTMLPageTextPseudo(t *testing.T) {
	page := loadPage(t, "product.html")

	n, err := page.Count(".price-txt-info.font-medium:text('쿠폰할인')")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = page.Count("span.price-txt-info:text('무료배송')")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = page.Count("div:::bogus")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	title, err := page.Title()
	require.NoError(t, err)
	assert.Contains(t, title, "맥북")
}

func TestDetector(t *testing.T) {
	d := NewDetector(config.DefaultSelectors().BlockIndicators, testLogger())
	product := loadPage(t, "product.html")

	tests := []struct {
		name    string
		page    Page
		status  int
		blocked bool
	}{
		{"normal page", product, 200, false},
		{"status 403", product, 403, true},
		{"status 429", product, 429, true},
		{"status 503", product, 503, true},
		{"status 404 alone is not a block", product, 404, false},
		{"block phrase", loadPage(t, "blocked.html"), 200, true},
		{"korean phrase", htmlPage(t, `<div id="contents" class="prod-buy-header prod-price prod-sale-price">비정상적인 접근이 감지되었습니다</div>`), 200, true},
		{"half indicators missing", htmlPage(t, `<div id="contents"><div class="prod-buy-header"></div></div>`), 200, true},
		{"one of four missing", htmlPage(t, `<div id="contents"><div class="prod-buy-header"></div><div class="prod-price"></div></div>`), 200, false},
		{"suspicious title", htmlPage(t, `<title>로봇이 아닙니다</title><div id="contents"><div class="prod-buy-header"></div><div class="prod-price"></div><div class="prod-sale-price"></div></div>`), 200, true},
		{"count errors count as missing", &fakePage{HTMLPage: product, countErr: errors.New("detached")}, 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Detect(tt.page, tt.status)
			assert.Equal(t, tt.blocked, v.Blocked)
			if tt.blocked {
				assert.NotEmpty(t, v.Reason)
			}
		})
	}
}

func TestDetectorCustomIndicators(t *testing.T) {
	d := NewDetector([]string{".a", ".b", ".c"}, testLogger())

	assert.False(t, d.Detect(htmlPage(t, `<i class="a"></i><i class="b"></i>`), 200).Blocked)
	assert.True(t, d.Detect(htmlPage(t, `<i class="a"></i>`), 200).Blocked)
}

func TestExtractFullProduct(t *testing.T) {
	r := newExtractor().Extract(context.Background(), loadPage(t, "product.html"), rec)

	assert.Equal(t, "Apple 2024 맥북 에어 13 M3", r.ProductName)
	assert.Equal(t, models.PriceOf(1459000), r.Price)
	assert.Equal(t, models.PriceOf(1690000), r.OriginPrice)
	assert.True(t, r.Coupon)
	assert.Equal(t, models.PriceOf(1399000), r.CouponPrice)
	assert.Equal(t, models.PriceOf(259000), r.ACPrice)
	assert.Equal(t, 7, r.OriginalIndex)
	assert.Equal(t, "P7", r.ProdID)
	assert.False(t, r.HasError())
}

func TestExtractFallbacks(t *testing.T) {
	r := newExtractor().Extract(context.Background(), loadPage(t, "plain.html"), rec)

	assert.Equal(t, "로지텍 무선 마우스 M331 사일런트 플러스", r.ProductName, "longest h2")
	assert.Equal(t, models.PriceOf(19900), r.Price, "first of multiple matches")
	assert.Equal(t, r.Price, r.OriginPrice, "origin defaults to price")
	assert.False(t, r.Coupon)
	assert.False(t, r.CouponPrice.Valid)
	assert.Equal(t, models.PriceOf(99000), r.ACPrice, "AppleCare regex")
}

func TestExtractCouponDemotedWithoutPrice(t *testing.T) {
	page := htmlPage(t, `<div id="contents"><div class="prod-atf"><div class="prod-atf-main">
		<div class="prod-buy-header"><h1>상품</h1></div>
		<div class="prod-sale-price price-align"><span class="total-price"><strong>5,000원</strong></span></div>
		<span class="price-txt-info font-medium">쿠폰할인</span>
	</div></div></div>`)

	r := newExtractor().Extract(context.Background(), page, rec)
	assert.False(t, r.Coupon)
	assert.Equal(t, models.NotAvailable, r.CouponPrice.String())
	assert.Equal(t, models.PriceOf(5000), r.Price)
}

func TestExtractCouponFromMarkupOnly(t *testing.T) {
	sel := config.DefaultSelectors()
	sel.CouponIndicators = []string{".never-matches"}
	e := NewExtractor(sel, retry.Policy{Attempts: 1}, testLogger())

	page := htmlPage(t, `<div id="contents"><div class="prod-atf"><div class="prod-atf-main">
		<span class="price-txt-info font-medium">쿠폰할인</span>
		<div class="prod-coupon-price"><span class="total-price"><strong>4,500원</strong></span></div>
	</div></div></div>`)

	r := e.Extract(context.Background(), page, rec)
	assert.True(t, r.Coupon)
	assert.Equal(t, models.PriceOf(4500), r.CouponPrice)
}

func TestExtractEmptyPage(t *testing.T) {
	r := newExtractor().Extract(context.Background(), htmlPage(t, `<html><body></body></html>`), rec)

	assert.False(t, r.HasError())
	row := r.Values()
	for _, col := range []string{models.ColProductName, models.ColPrice, models.ColOriginPrice, models.ColCouponPrice, models.ColACPrice} {
		assert.Equal(t, models.NotAvailable, row[col], col)
	}
	assert.Equal(t, "0", row[models.ColCoupon])
}

func TestExtractRetries(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		page := &fakePage{HTMLPage: loadPage(t, "product.html"), contentErrs: 2}
		r := newExtractor().Extract(context.Background(), page, rec)
		assert.False(t, r.HasError())
		assert.Equal(t, models.PriceOf(1459000), r.Price)
	})

	t.Run("exhausted", func(t *testing.T) {
		page := &fakePage{HTMLPage: loadPage(t, "product.html"), contentErrs: 3}
		r := newExtractor().Extract(context.Background(), page, rec)
		assert.True(t, r.HasError())
		assert.Contains(t, r.Error, "target closed")
		assert.Equal(t, models.NotAvailable, r.ProductName)
		assert.False(t, r.Price.Valid)
		assert.Equal(t, rec.URL, r.URL)
		assert.Equal(t, rec.OriginalIndex, r.OriginalIndex)
	})
}
