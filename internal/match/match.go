// Package match cross-references parsed receipt items against the active
// deal set, computing unclaimed savings and suppressing drops already taken
// at the register.
package match

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dealwatch/internal/deal"
	"dealwatch/internal/receipt"
)

// Kind says how an item was paired with a deal.
type Kind string

const (
	MatchedByItemNumber        Kind = "exact_item_number"
	MatchedByPartialItemNumber Kind = "partial_item_number"
	MatchedByName              Kind = "name_keyword"
)

// matchRank orders match kinds by confidence for tie-breaking.
var matchRank = map[Kind]int{
	MatchedByItemNumber:        3,
	MatchedByPartialItemNumber: 2,
	MatchedByName:              1,
}

// Config tunes the fuzzy name-matching policy. Receipt names are heavily
// abbreviated, so the policy is deliberately adjustable rather than fixed.
type Config struct {
	// MinTokenLen is the shortest name token considered meaningful
	MinTokenLen int

	// MinTokenOverlap is how many tokens must appear in the deal name
	MinTokenOverlap int

	// SkipWords are tokens too generic to match on
	SkipWords []string

	// Tolerance is the price slack under which a TPD item counts as
	// already fully adjusted
	Tolerance decimal.Decimal
}

// DefaultConfig returns the tuning that works for warehouse receipts.
func DefaultConfig() Config {
	return Config{
		MinTokenLen:     4,
		MinTokenOverlap: 2,
		SkipWords: []string{
			"the", "and", "for", "with", "pack", "size", "sizes",
			"plus", "mens", "womens",
		},
		Tolerance: decimal.NewFromFloat(0.01),
	}
}

// Item pairs one receipt line with the provenance needed in results.
type Item struct {
	ReceiptID   string
	ReceiptDate string
	Line        receipt.ReceiptItem
}

// Result is one actionable pairing of a purchased item with an active deal.
// Ephemeral: computed per request, never persisted.
type Result struct {
	ReceiptID      string      `json:"receipt_id"`
	ReceiptDate    string      `json:"receipt_date,omitempty"`
	ItemName       string      `json:"item_name"`
	ItemNumber     string      `json:"item_number,omitempty"`
	PaidPrice      string      `json:"paid_price"`
	OriginalPrice  string      `json:"original_price,omitempty"`
	TPD            receipt.TPD `json:"tpd,omitempty"`
	DealID         string      `json:"deal_id"`
	DealName       string      `json:"deal_name"`
	DealItemNumber string      `json:"deal_item_number,omitempty"`
	DealPrice      string      `json:"deal_price"`
	DealSource     string      `json:"deal_source"`
	DealLink       string      `json:"deal_link,omitempty"`
	DealExpiry     string      `json:"deal_expiry,omitempty"`
	MatchedBy      Kind        `json:"matched_by"`
	Savings        string      `json:"savings"`
}

// Engine runs the matching policy.
type Engine struct {
	cfg       Config
	skipWords map[string]struct{}
}

// NewEngine creates an Engine with the given policy.
func NewEngine(cfg Config) *Engine {
	skip := make(map[string]struct{}, len(cfg.SkipWords))
	for _, w := range cfg.SkipWords {
		skip[w] = struct{}{}
	}
	return &Engine{cfg: cfg, skipWords: skip}
}

// Match pairs receipt items with deals active as of the given date. Every
// surviving pairing is reported; deals from different sources are never
// collapsed, each is an independent path to a refund. Malformed records are
// skipped with a warning, never fatal. Results come back ranked by savings
// descending.
func (e *Engine) Match(items []Item, deals []*deal.Deal, asOf time.Time) ([]Result, []string) {
	var warnings []string

	active := make([]*deal.Deal, 0, len(deals))
	for _, d := range deals {
		if d.Active(asOf) {
			active = append(active, d)
		}
	}

	var results []Result
	for _, item := range items {
		paid, err := decimal.NewFromString(item.Line.Price)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("receipt %s: unreadable price %q for %q", item.ReceiptID, item.Line.Price, item.Line.Name))
			continue
		}
		tokens := e.nameTokens(item.Line.Name)

		for _, d := range active {
			kind, ok := e.pair(item.Line, tokens, d)
			if !ok {
				continue
			}
			sale, err := decimal.NewFromString(d.SalePrice)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("deal %s: unreadable sale price %q", d.ItemID, d.SalePrice))
				continue
			}
			savings := paid.Sub(sale)
			if savings.LessThanOrEqual(decimal.Zero) {
				continue
			}
			// The register already applied this drop: when a TPD item's
			// paid price is at or under the deal price (within tolerance),
			// surfacing it again would double-count.
			if item.Line.TPD.Applied() && savings.LessThanOrEqual(e.cfg.Tolerance) {
				continue
			}
			results = append(results, Result{
				ReceiptID:      item.ReceiptID,
				ReceiptDate:    item.ReceiptDate,
				ItemName:       item.Line.Name,
				ItemNumber:     item.Line.ItemNumber,
				PaidPrice:      item.Line.Price,
				OriginalPrice:  item.Line.OriginalPrice,
				TPD:            item.Line.TPD,
				DealID:         d.ItemID,
				DealName:       d.ItemName,
				DealItemNumber: d.ItemNumber,
				DealPrice:      d.SalePrice,
				DealSource:     d.Source,
				DealLink:       d.Link,
				DealExpiry:     d.PromoEnd,
				MatchedBy:      kind,
				Savings:        savings.StringFixed(2),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		si, _ := decimal.NewFromString(results[i].Savings)
		sj, _ := decimal.NewFromString(results[j].Savings)
		if !si.Equal(sj) {
			return si.GreaterThan(sj)
		}
		return matchRank[results[i].MatchedBy] > matchRank[results[j].MatchedBy]
	})
	return results, warnings
}

// pair decides whether an item and a deal describe the same product.
// Item numbers win over names: exact first, then a shared 5-digit prefix
// (size and region variants), then token overlap on the normalized names.
func (e *Engine) pair(line receipt.ReceiptItem, tokens []string, d *deal.Deal) (Kind, bool) {
	itemNum := strings.ToLower(strings.TrimSpace(line.ItemNumber))
	dealNum := strings.ToLower(strings.TrimSpace(d.ItemNumber))

	if itemNum != "" && dealNum != "" {
		if itemNum == dealNum {
			return MatchedByItemNumber, true
		}
		if len(itemNum) >= 5 && len(dealNum) >= 5 && itemNum[:5] == dealNum[:5] {
			return MatchedByPartialItemNumber, true
		}
	}

	dealName := strings.ToLower(d.ItemName)
	if len(tokens) >= e.cfg.MinTokenOverlap {
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(dealName, tok) {
				hits++
			}
		}
		if hits >= e.cfg.MinTokenOverlap {
			return MatchedByName, true
		}
	} else if len(tokens) == 1 && len(tokens[0]) >= e.cfg.MinTokenLen+1 && strings.Contains(dealName, tokens[0]) {
		return MatchedByName, true
	}
	return "", false
}

// nameTokens normalizes a receipt item name into match-worthy tokens.
func (e *Engine) nameTokens(name string) []string {
	var tokens []string
	for _, w := range strings.Fields(deal.NormalizeName(strings.ReplaceAll(name, "/", " "))) {
		if len(w) < e.cfg.MinTokenLen {
			continue
		}
		if _, skip := e.skipWords[w]; skip {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}
