package model

import (
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
)

// DefaultCurrency applies when a cost is given without a currency.
const DefaultCurrency = "USD"

var (
	decimalPattern  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Cost is the monetary cost attached to an action. The amount is kept as a
// decimal string so records round-trip exactly.
type Cost struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// ZeroCost is the default cost of an action.
func ZeroCost() Cost {
	return Cost{Amount: "0", Currency: DefaultCurrency}
}

// Normalize validates the cost and fills defaults.
func (c Cost) Normalize() (Cost, error) {
	amount := strings.TrimSpace(c.Amount)
	if amount == "" {
		amount = "0"
	}
	if !decimalPattern.MatchString(amount) {
		return Cost{}, fmt.Errorf("cost amount %q is not a non-negative decimal", c.Amount)
	}
	currency := strings.ToUpper(strings.TrimSpace(c.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return Cost{}, fmt.Errorf("cost currency %q is not a 3-letter code", c.Currency)
	}
	return Cost{Amount: amount, Currency: currency}, nil
}

// Rat returns the amount as an exact rational. Unparseable amounts count as zero.
func (c Cost) Rat() *big.Rat {
	r, ok := new(big.Rat).SetString(c.Amount)
	if !ok {
		return new(big.Rat)
	}
	return r
}

// IsZero reports whether the cost amount is zero.
func (c Cost) IsZero() bool {
	return c.Rat().Sign() == 0
}

func (c Cost) String() string {
	n, err := c.Normalize()
	if err != nil {
		return c.Amount + " " + c.Currency
	}
	return n.Amount + " " + n.Currency
}

// CostTotals accumulates exact sums per currency.
type CostTotals map[string]*big.Rat

// Add folds c into the totals.
func (t CostTotals) Add(c Cost) {
	n, err := c.Normalize()
	if err != nil {
		return
	}
	sum, ok := t[n.Currency]
	if !ok {
		sum = new(big.Rat)
		t[n.Currency] = sum
	}
	sum.Add(sum, n.Rat())
}

// Strings renders each total as a decimal string.
func (t CostTotals) Strings() map[string]string {
	out := make(map[string]string, len(t))
	for cur, sum := range t {
		out[cur] = FormatDecimal(sum)
	}
	return out
}

// Currencies returns the currencies present, sorted.
func (t CostTotals) Currencies() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// maxScale bounds the digits printed for a fraction that has no exact
// decimal form. Sums of parsed decimal amounts always have one.
const maxScale = 18

// FormatDecimal renders r exactly, with trailing zeros removed.
func FormatDecimal(r *big.Rat) string {
	s := r.FloatString(decimalScale(r))
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// decimalScale returns the number of fractional digits needed to write r
// exactly: the larger power of 2 or 5 in its denominator.
func decimalScale(r *big.Rat) int {
	d := new(big.Int).Set(r.Denom())
	var twos, fives int
	two, five, rem := big.NewInt(2), big.NewInt(5), new(big.Int)
	for {
		if q, m := new(big.Int).QuoRem(d, two, rem); m.Sign() == 0 {
			d, twos = q, twos+1
			continue
		}
		if q, m := new(big.Int).QuoRem(d, five, rem); m.Sign() == 0 {
			d, fives = q, fives+1
			continue
		}
		break
	}
	if d.Cmp(big.NewInt(1)) != 0 {
		return maxScale
	}
	return max(twos, fives)
}
