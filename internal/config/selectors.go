package config

const pricePrefix = "#contents > div.prod-atf > div.prod-atf-main"

// Selectors holds the ordered candidate lists for each extracted field.
// Earlier entries win.
type Selectors struct {
	BlockIndicators  []string `mapstructure:"block_indicators" json:"block_indicators"`
	ProductName      []string `mapstructure:"product_name" json:"product_name"`
	Price            []string `mapstructure:"price" json:"price"`
	OriginPrice      []string `mapstructure:"origin_price" json:"origin_price"`
	CouponIndicators []string `mapstructure:"coupon_indicators" json:"coupon_indicators"`
	CouponPrice      []string `mapstructure:"coupon_price" json:"coupon_price"`
	ACPrice          []string `mapstructure:"ac_price" json:"ac_price"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		BlockIndicators: []string{
			"#contents",
			".prod-buy-header",
			".prod-price",
			".prod-sale-price",
		},
		ProductName: []string{
			"#contents .prod-buy-header h1",
			"h2.prod-buy-header__title",
			".prod-buy-header h1",
		},
		Price: []string{
			pricePrefix + " .prod-sale-price.price-align span.total-price strong",
			pricePrefix + " .total-price:not(.price-strike) strong",
			pricePrefix + " .prod-price span.total-price",
		},
		OriginPrice: []string{
			pricePrefix + " .prod-origin-price span.origin-price",
			pricePrefix + " .origin-price",
			pricePrefix + " .price-strike",
		},
		CouponIndicators: []string{
			".price-txt-info.font-medium:text('쿠폰할인')",
			"span.price-txt-info:text('쿠폰할인')",
			".coupon-price:not(:empty)",
		},
		CouponPrice: []string{
			pricePrefix + " .prod-coupon-price span.total-price strong",
			pricePrefix + " .major-price-coupon .total-price strong",
		},
		ACPrice: []string{
			".insurance-content__header__price",
			".apple-care-price",
		},
	}
}

// Resolve merges configured lists with the built-in defaults. Configured
// entries keep their order and priority; defaults not already present are
// appended after them. Block indicators are replaced, not merged, when configured.
func (s Selectors) Resolve() Selectors {
	d := DefaultSelectors()
	out := Selectors{
		BlockIndicators:  d.BlockIndicators,
		ProductName:      merge(s.ProductName, d.ProductName),
		Price:            merge(s.Price, d.Price),
		OriginPrice:      merge(s.OriginPrice, d.OriginPrice),
		CouponIndicators: merge(s.CouponIndicators, d.CouponIndicators),
		CouponPrice:      merge(s.CouponPrice, d.CouponPrice),
		ACPrice:          merge(s.ACPrice, d.ACPrice),
	}
	if len(s.BlockIndicators) > 0 {
		out.BlockIndicators = append([]string(nil), s.BlockIndicators...)
	}
	return out
}

func merge(configured, defaults []string) []string {
	seen := make(map[string]bool, len(configured)+len(defaults))
	out := make([]string, 0, len(configured)+len(defaults))
	for _, list := range [][]string{configured, defaults} {
		for _, sel := range list {
			if sel == "" || seen[sel] {
				continue
			}
			seen[sel] = true
			out = append(out, sel)
		}
	}
	return out
}
