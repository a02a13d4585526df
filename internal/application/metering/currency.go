package metering

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CurrencyConverter converts amounts with the configured static rates.
// Rates are keyed "from_to"; a missing rate leaves the amount unchanged.
type CurrencyConverter struct {
	rates  map[string]decimal.Decimal
	logger *zap.Logger
}

// NewCurrencyConverter creates a converter over the settings' rate table
func NewCurrencyConverter(settings Settings, logger *zap.Logger) *CurrencyConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	rates := make(map[string]decimal.Decimal, len(settings.Billing.CurrencyRates))
	for key, rate := range settings.Billing.CurrencyRates {
		rates[strings.ToLower(key)] = rate
	}
	return &CurrencyConverter{rates: rates, logger: logger}
}

// Convert converts amount from one currency to another. It tries the
// direct rate, then the inverse rate, then a USD cross rate.
func (c *CurrencyConverter) Convert(amount decimal.Decimal, from, to string) decimal.Decimal {
	from = strings.ToLower(from)
	to = strings.ToLower(to)
	if from == "" || to == "" || from == to {
		return amount
	}

	if rate, ok := c.rate(from, to); ok {
		return amount.Mul(rate)
	}

	if from != "usd" && to != "usd" {
		toUSD, okFrom := c.rate(from, "usd")
		fromUSD, okTo := c.rate("usd", to)
		if okFrom && okTo {
			return amount.Mul(toUSD).Mul(fromUSD)
		}
	}

	c.logger.Warn("Missing currency rate, amount left unconverted",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()))
	return amount
}

// rate resolves a single leg from either the direct or the inverse key
func (c *CurrencyConverter) rate(from, to string) (decimal.Decimal, bool) {
	if rate, ok := c.rates[from+"_"+to]; ok && rate.IsPositive() {
		return rate, true
	}
	if rate, ok := c.rates[to+"_"+from]; ok && rate.IsPositive() {
		return decimal.NewFromInt(1).DivRound(rate, 16), true
	}
	return decimal.Zero, false
}
