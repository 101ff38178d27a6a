package services

import (
	"errors"
	"fmt"
	"photobooth-kiosk/internal/domain"
	"sort"
	"strconv"
)

const FreeLabel = "FREE"

var ErrNoCopyOptions = errors.New("no copy price options configured")

// Pricing answers copy count and total questions from the configured price table.
type Pricing struct {
	options domain.CopyPriceOptions
	counts  []int
}

func NewPricing(options domain.CopyPriceOptions) (*Pricing, error) {
	if len(options) == 0 {
		return nil, ErrNoCopyOptions
	}

	counts := make([]int, 0, len(options))
	for n, price := range options {
		if n < 1 {
			return nil, fmt.Errorf("invalid copy count %d", n)
		}
		if price < 0 {
			return nil, fmt.Errorf("negative price for %d copies", n)
		}
		counts = append(counts, n)
	}
	sort.Ints(counts)

	return &Pricing{options: options, counts: counts}, nil
}

func (p *Pricing) MinCopies() int {
	return p.counts[0]
}

// Valid reports whether copies is a configured option
func (p *Pricing) Valid(copies int) bool {
	_, ok := p.options[copies]
	return ok
}

func (p *Pricing) Price(copies int) (int64, bool) {
	price, ok := p.options[copies]
	return price, ok
}

// BasePrice is the price of the smallest order. Zero makes the kiosk free.
func (p *Pricing) BasePrice() int64 {
	return p.options[p.MinCopies()]
}

func (p *Pricing) Options() []domain.CopyOption {
	out := make([]domain.CopyOption, 0, len(p.counts))
	for _, n := range p.counts {
		out = append(out, domain.CopyOption{
			Copies: n,
			Price:  p.options[n],
			Label:  TotalLabel(p.options[n]),
		})
	}
	return out
}

// TotalLabel returns the display total for copies, empty for unknown counts
func (p *Pricing) TotalLabel(copies int) string {
	price, ok := p.options[copies]
	if !ok {
		return ""
	}
	return TotalLabel(price)
}

func TotalLabel(price int64) string {
	if price == 0 {
		return FreeLabel
	}
	return FormatRupiah(price)
}

// FormatRupiah formats with comma thousands separators, e.g. "Rp 20,000".
func FormatRupiah(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	digits := strconv.FormatInt(amount, 10)
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	return "Rp " + sign + string(out)
}
