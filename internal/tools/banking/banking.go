// Package banking implements the account-opening tools. Both tools change
// customer state and are gated behind user approval by the turn engine.
package banking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/tools/schema"
)

// Tool names.
const (
	OpenCreditCardTool = "open_credit_card"
	OpenDepositTool    = "open_deposit"
)

// Config bounds what the tools will open.
type Config struct {
	// CardLimits maps card types to the largest credit limit they allow.
	CardLimits map[string]float64

	// DepositCurrencies lists the currencies deposits can be opened in.
	DepositCurrencies []string

	// MinDeposit is the smallest deposit amount accepted.
	MinDeposit float64

	// MaxTermMonths is the longest deposit term accepted.
	MaxTermMonths int

	// NewReference generates application references.
	// Default: uuid-based
	NewReference func() string
}

// DefaultConfig returns the standard product bounds.
func DefaultConfig() Config {
	return Config{
		CardLimits: map[string]float64{
			"classic":  300000,
			"gold":     1000000,
			"platinum": 3000000,
		},
		DepositCurrencies: []string{"RUB", "USD", "EUR", "GBP", "CNY"},
		MinDeposit:        1000,
		MaxTermMonths:     60,
		NewReference:      newReference,
	}
}

func newReference() string {
	return "APP-" + strings.ToUpper(uuid.NewString()[:8])
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if len(c.CardLimits) == 0 {
		c.CardLimits = defaults.CardLimits
	}
	if len(c.DepositCurrencies) == 0 {
		c.DepositCurrencies = defaults.DepositCurrencies
	}
	if c.MinDeposit <= 0 {
		c.MinDeposit = defaults.MinDeposit
	}
	if c.MaxTermMonths <= 0 {
		c.MaxTermMonths = defaults.MaxTermMonths
	}
	if c.NewReference == nil {
		c.NewReference = defaults.NewReference
	}
	return c
}

// Tools returns both banking tools sharing cfg.
func Tools(cfg Config, logger *slog.Logger) []agent.Tool {
	return []agent.Tool{NewCreditCardTool(cfg, logger), NewDepositTool(cfg, logger)}
}

type creditCardInput struct {
	CardType    string  `json:"card_type" jsonschema_description:"Card tier: classic, gold or platinum"`
	CreditLimit float64 `json:"credit_limit" jsonschema:"minimum=0" jsonschema_description:"Requested credit limit in RUB"`
}

var creditCardSchema = schema.Must[creditCardInput](OpenCreditCardTool)

// CreditCardTool opens a credit card application.
type CreditCardTool struct {
	config Config
	types  []string
	logger *slog.Logger
}

// NewCreditCardTool creates the open_credit_card tool.
func NewCreditCardTool(cfg Config, logger *slog.Logger) *CreditCardTool {
	cfg = cfg.withDefaults()
	types := make([]string, 0, len(cfg.CardLimits))
	for name := range cfg.CardLimits {
		types = append(types, name)
	}
	sort.Strings(types)
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditCardTool{config: cfg, types: types, logger: logger.With("tool", OpenCreditCardTool)}
}

// Name returns the tool name.
func (t *CreditCardTool) Name() string { return OpenCreditCardTool }

// Description returns the tool description.
func (t *CreditCardTool) Description() string {
	return fmt.Sprintf("Opens a credit card for the customer. Requires the customer's confirmation. Card types: %s.", strings.Join(t.types, ", "))
}

// Schema returns the JSON schema for tool parameters.
func (t *CreditCardTool) Schema() json.RawMessage { return creditCardSchema.JSON() }

// Execute submits the card application.
func (t *CreditCardTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := creditCardSchema.Decode(params)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	cardType := strings.ToLower(strings.TrimSpace(input.CardType))
	maxLimit, ok := t.config.CardLimits[cardType]
	if !ok {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Error: unknown card type %q; available: %s", input.CardType, strings.Join(t.types, ", ")),
			IsError: true,
		}, nil
	}
	if input.CreditLimit <= 0 {
		return &agent.ToolResult{Content: "Error: credit limit must be positive", IsError: true}, nil
	}
	if input.CreditLimit > maxLimit {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Error: credit limit %.2f exceeds the %s card maximum of %.2f", input.CreditLimit, cardType, maxLimit),
			IsError: true,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref := t.config.NewReference()
	t.logger.Info("credit card application submitted", "reference", ref, "card_type", cardType)
	return &agent.ToolResult{
		Content: fmt.Sprintf("Credit card application %s accepted: %s card with a credit limit of %.2f RUB.", ref, cardType, input.CreditLimit),
	}, nil
}

type depositInput struct {
	Amount     float64 `json:"amount" jsonschema:"minimum=0" jsonschema_description:"Deposit amount"`
	TermMonths int     `json:"term_months" jsonschema:"minimum=1" jsonschema_description:"Deposit term in months"`
	Currency   string  `json:"currency" jsonschema_description:"ISO code of the deposit currency, e.g. RUB"`
}

var depositSchema = schema.Must[depositInput](OpenDepositTool)

// DepositTool opens a term deposit.
type DepositTool struct {
	config     Config
	currencies map[string]struct{}
	logger     *slog.Logger
}

// NewDepositTool creates the open_deposit tool.
func NewDepositTool(cfg Config, logger *slog.Logger) *DepositTool {
	cfg = cfg.withDefaults()
	currencies := make(map[string]struct{}, len(cfg.DepositCurrencies))
	for _, code := range cfg.DepositCurrencies {
		currencies[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DepositTool{config: cfg, currencies: currencies, logger: logger.With("tool", OpenDepositTool)}
}

// Name returns the tool name.
func (t *DepositTool) Name() string { return OpenDepositTool }

// Description returns the tool description.
func (t *DepositTool) Description() string {
	return fmt.Sprintf("Opens a term deposit for the customer. Requires the customer's confirmation. Terms from 1 to %d months; currencies: %s.",
		t.config.MaxTermMonths, strings.Join(t.config.DepositCurrencies, ", "))
}

// Schema returns the JSON schema for tool parameters.
func (t *DepositTool) Schema() json.RawMessage { return depositSchema.JSON() }

// Execute opens the deposit.
func (t *DepositTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := depositSchema.Decode(params)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if _, ok := t.currencies[currency]; !ok {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Error: deposits in %q are not offered; available: %s", input.Currency, strings.Join(t.config.DepositCurrencies, ", ")),
			IsError: true,
		}, nil
	}
	if input.Amount < t.config.MinDeposit {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Error: minimum deposit is %.2f, got %.2f", t.config.MinDeposit, input.Amount),
			IsError: true,
		}, nil
	}
	if input.TermMonths > t.config.MaxTermMonths {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Error: term of %d months exceeds the maximum of %d", input.TermMonths, t.config.MaxTermMonths),
			IsError: true,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref := t.config.NewReference()
	t.logger.Info("deposit opened", "reference", ref, "currency", currency, "term_months", input.TermMonths)
	return &agent.ToolResult{
		Content: fmt.Sprintf("Deposit %s opened: %.2f %s for %d months.", ref, input.Amount, currency, input.TermMonths),
	}, nil
}
