package receipt

import (
	"context"
	"errors"
)

// ErrParseFailed means extraction produced nothing usable: the capability
// was unreachable or returned zero items. No partial receipt is persisted
// behind this error.
var ErrParseFailed = errors.New("receipt parse failed")

// Tier selects the extraction model quality. The fast tier is a single
// structured-output call; the precise tier is the slower multi-call path
// used to reparse receipts that came back empty or thin.
type Tier int

const (
	TierFast Tier = iota
	TierPrecise
)

// ParsedReceipt is the extraction capability's structured output. Warnings
// carry per-item problems that were recovered from (dropped lines, repaired
// fields) without failing the parse.
type ParsedReceipt struct {
	Store       string
	ReceiptDate string
	Items       []ReceiptItem
	Warnings    []string
}

// Parser is the AI extraction capability, implemented by internal/extract.
type Parser interface {
	// ParseReceipt extracts structured line items from a receipt document.
	// Returns ErrParseFailed (possibly wrapped) when nothing usable came back.
	ParseReceipt(ctx context.Context, doc []byte, contentType string, tier Tier) (*ParsedReceipt, error)
}
