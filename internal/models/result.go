package models

import (
	"strconv"
	"strings"
	"time"
)

// NotAvailable marks a field that could not be extracted.
const NotAvailable = "NA"

const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

// Output column names, in write order.
const (
	ColURL            = "URL"
	ColOriginalIndex  = "ORIGINAL_INDEX"
	ColProdID         = "PROD_ID"
	ColProductName    = "COUPANG_PROD_NAME"
	ColPrice          = "PRICE"
	ColOriginPrice    = "ORIGIN_PRICE"
	ColCoupon         = "COUPON"
	ColCouponPrice    = "COUPON_PRICE"
	ColACPrice        = "AC_PRICE"
	ColExtractionTime = "EXTRACTION_TIME"
	ColDate           = "DATE"
	ColError          = "ERROR"
)

// Columns is the fixed header of every result file.
var Columns = []string{
	ColURL, ColOriginalIndex, ColProdID, ColProductName, ColPrice, ColOriginPrice,
	ColCoupon, ColCouponPrice, ColACPrice, ColExtractionTime, ColDate, ColError,
}

// InputRecord is one product page to visit. OriginalIndex is the row position
// in the full input file and survives slicing, resuming and recrawling.
type InputRecord struct {
	URL           string `json:"url"`
	OriginalIndex int    `json:"original_index"`
	ProdID        string `json:"prod_id,omitempty"`
}

// Price is an integer amount in won, or absent.
type Price struct {
	Amount int  `json:"amount"`
	Valid  bool `json:"valid"`
}

func PriceOf(amount int) Price {
	return Price{Amount: amount, Valid: true}
}

func (p Price) String() string {
	if !p.Valid {
		return NotAvailable
	}
	return strconv.Itoa(p.Amount)
}

// ParsePrice reads a stored cell back. Anything non-numeric is absent.
func ParsePrice(cell string) Price {
	cell = strings.TrimSpace(cell)
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return PriceOf(int(f))
	}
	return Price{}
}

// Result is one output row.
type Result struct {
	URL           string    `json:"url"`
	OriginalIndex int       `json:"original_index"`
	ProdID        string    `json:"prod_id,omitempty"`
	ProductName   string    `json:"product_name"`
	Price         Price     `json:"price"`
	OriginPrice   Price     `json:"origin_price"`
	Coupon        bool      `json:"coupon"`
	CouponPrice   Price     `json:"coupon_price"`
	ACPrice       Price     `json:"ac_price"`
	ExtractedAt   time.Time `json:"extracted_at"`
	Error         string    `json:"error,omitempty"`
}

// NewResult returns a result for rec with every extracted field absent.
func NewResult(rec InputRecord, now time.Time) *Result {
	return &Result{
		URL:           rec.URL,
		OriginalIndex: rec.OriginalIndex,
		ProdID:        rec.ProdID,
		ProductName:   NotAvailable,
		ExtractedAt:   now,
	}
}

// Failed returns a sentinel result carrying err.
func Failed(rec InputRecord, now time.Time, err error) *Result {
	r := NewResult(rec, now)
	r.Error = err.Error()
	return r
}

func (r *Result) HasError() bool {
	return r.Error != ""
}

// Row renders the result in Columns order.
func (r *Result) Row() []string {
	coupon := "0"
	if r.Coupon {
		coupon = "1"
	}
	name := r.ProductName
	if name == "" {
		name = NotAvailable
	}
	return []string{
		r.URL,
		strconv.Itoa(r.OriginalIndex),
		r.ProdID,
		name,
		r.Price.String(),
		r.OriginPrice.String(),
		coupon,
		r.CouponPrice.String(),
		r.ACPrice.String(),
		r.ExtractedAt.Format(TimestampLayout),
		r.ExtractedAt.Format(DateLayout),
		r.Error,
	}
}

// Values maps column name to cell, used when merging into an existing table.
func (r *Result) Values() map[string]string {
	row := r.Row()
	m := make(map[string]string, len(Columns))
	for i, col := range Columns {
		m[col] = row[i]
	}
	return m
}
