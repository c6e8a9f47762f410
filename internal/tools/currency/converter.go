// Package currency implements the currency_converter tool over a fixed table
// of USD-based exchange rates.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/tools/schema"
)

// ToolName is the name the model calls the tool by.
const ToolName = "currency_converter"

// DefaultRates maps currency codes to units per one US dollar.
var DefaultRates = map[string]float64{
	"USD": 1.0,
	"EUR": 0.92,
	"RUB": 92.0,
	"GBP": 0.79,
	"CNY": 7.2,
}

type convertInput struct {
	Amount       float64 `json:"amount" jsonschema_description:"Amount to convert"`
	FromCurrency string  `json:"from_currency" jsonschema_description:"ISO code of the source currency, e.g. USD"`
	ToCurrency   string  `json:"to_currency" jsonschema_description:"ISO code of the target currency, e.g. RUB"`
}

var inputSchema = schema.Must[convertInput](ToolName)

// Converter implements agent.Tool.
type Converter struct {
	rates  map[string]float64
	codes  []string
	logger *slog.Logger
}

// New creates a converter over rates. A nil map uses DefaultRates.
func New(rates map[string]float64, logger *slog.Logger) *Converter {
	if rates == nil {
		rates = DefaultRates
	}
	normalized := make(map[string]float64, len(rates))
	codes := make([]string, 0, len(rates))
	for code, rate := range rates {
		code = strings.ToUpper(strings.TrimSpace(code))
		if rate <= 0 {
			continue
		}
		normalized[code] = rate
		codes = append(codes, code)
	}
	sort.Strings(codes)
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{rates: normalized, codes: codes, logger: logger.With("tool", ToolName)}
}

// Name returns the tool name.
func (c *Converter) Name() string { return ToolName }

// Description returns the tool description.
func (c *Converter) Description() string {
	return fmt.Sprintf("Converts an amount between currencies at the bank's reference rates. Supported currencies: %s.", strings.Join(c.codes, ", "))
}

// Schema returns the JSON schema for tool parameters.
func (c *Converter) Schema() json.RawMessage { return inputSchema.JSON() }

// Convert converts amount between two codes, matched case-insensitively.
func (c *Converter) Convert(amount float64, from, to string) (float64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("amount must not be negative, got %.2f", amount)
	}
	fromRate, ok := c.rates[from]
	if !ok {
		return 0, fmt.Errorf("currency %q is not supported; available: %s", from, strings.Join(c.codes, ", "))
	}
	toRate, ok := c.rates[to]
	if !ok {
		return 0, fmt.Errorf("currency %q is not supported; available: %s", to, strings.Join(c.codes, ", "))
	}
	if from == to {
		return amount, nil
	}
	return amount / fromRate * toRate, nil
}

// Execute converts the requested amount.
func (c *Converter) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := inputSchema.Decode(params)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	from := strings.ToUpper(strings.TrimSpace(input.FromCurrency))
	to := strings.ToUpper(strings.TrimSpace(input.ToCurrency))

	converted, err := c.Convert(input.Amount, from, to)
	if err != nil {
		return &agent.ToolResult{Content: "Error: " + err.Error(), IsError: true}, nil
	}
	c.logger.Debug("converted", "from", from, "to", to)

	content := fmt.Sprintf("%.2f %s = %.2f %s", input.Amount, from, converted, to)
	if from == to {
		content += " (no conversion)"
	}
	return &agent.ToolResult{Content: content}, nil
}
