// Package analysis turns match results into human-facing reports and
// parses the structured report syntax out of a live model stream.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrAnalysisFailed means the streaming model call broke mid-flight.
// Chunks already delivered to the caller remain valid.
var ErrAnalysisFailed = errors.New("analysis failed")

// ChunkStream is a single-pass sequence of text chunks from the model.
// Next returns io.EOF when the stream is exhausted.
type ChunkStream interface {
	Next() (string, error)
}

// EventKind classifies stream events.
type EventKind string

const (
	// EventChunk carries raw model text, forwarded as it arrives.
	EventChunk EventKind = "chunk"
	// EventSection marks a "## Title" report section boundary.
	EventSection EventKind = "section"
	// EventRow is one parsed table row from a report section.
	EventRow EventKind = "row"
	// EventSummary is a "Label: $amount" summary line.
	EventSummary EventKind = "summary"
)

// SummaryKind buckets summary lines by what the amount means.
type SummaryKind string

const (
	SummaryPotential    SummaryKind = "potential_savings"
	SummaryAlreadySaved SummaryKind = "already_saved"
	SummaryTotal        SummaryKind = "total"
)

// Row is one table line. Columns beyond the declared set are dropped.
type Row struct {
	Item       string `json:"item"`
	ItemNumber string `json:"item_number"`
	Date       string `json:"date"`
	Paid       string `json:"paid"`
	SalePrice  string `json:"sale_price"`
	Savings    string `json:"savings"`
	Source     string `json:"source"`
}

// Summary is a classified dollar-amount line.
type Summary struct {
	Kind   SummaryKind `json:"kind"`
	Label  string      `json:"label"`
	Amount string      `json:"amount"`
}

// Event is one unit of streamed analysis output. Text is set for chunk
// and section events; Row and Summary for their kinds.
type Event struct {
	Kind    EventKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Row     *Row      `json:"row,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
}

var (
	sectionRe   = regexp.MustCompile(`^#{2,3}\s+(.+)$`)
	summaryRe   = regexp.MustCompile(`^(?:\*\*)?([^:|*]+):\s*\$([\d,]+\.?\d*)(?:\*\*)?\s*$`)
	separatorRe = regexp.MustCompile(`^\|[-| :]+\|$`)
)

// StreamEvents consumes the chunk stream and invokes emit for every raw
// chunk plus every structured element recognized at a completed line.
// Cancellation via ctx stops consumption without error: output already
// emitted stands. A broken stream returns ErrAnalysisFailed and any text
// still buffered for line assembly is discarded, never emitted.
func StreamEvents(ctx context.Context, stream ChunkStream, emit func(Event)) error {
	var buf strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		chunk, err := stream.Next()
		if err == io.EOF {
			if line := strings.TrimSpace(buf.String()); line != "" {
				emitParsed(line, emit)
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
		}

		if chunk == "" {
			continue
		}
		emit(Event{Kind: EventChunk, Text: chunk})

		buf.WriteString(chunk)
		for {
			text := buf.String()
			idx := strings.IndexByte(text, '\n')
			if idx < 0 {
				break
			}
			buf.Reset()
			buf.WriteString(text[idx+1:])
			if line := strings.TrimSpace(text[:idx]); line != "" {
				emitParsed(line, emit)
			}
		}
	}
}

// emitParsed classifies one complete line and emits a structured event
// when it is part of the report syntax. Plain prose produces nothing:
// the caller already saw it as chunks.
func emitParsed(line string, emit func(Event)) {
	if m := sectionRe.FindStringSubmatch(line); m != nil {
		emit(Event{Kind: EventSection, Text: strings.TrimSpace(m[1])})
		return
	}
	if strings.HasPrefix(line, "|") {
		if separatorRe.MatchString(line) {
			return
		}
		if row, ok := parseRow(line); ok {
			emit(Event{Kind: EventRow, Row: row})
		}
		return
	}
	if m := summaryRe.FindStringSubmatch(line); m != nil {
		label := strings.TrimSpace(m[1])
		emit(Event{Kind: EventSummary, Summary: &Summary{
			Kind:   classifySummary(label),
			Label:  label,
			Amount: strings.ReplaceAll(m[2], ",", ""),
		}})
	}
}

// parseRow splits a pipe-delimited line into the declared columns.
// Header rows (first cell "Item") are not data.
func parseRow(line string) (*Row, bool) {
	cells := strings.Split(strings.Trim(line, "|"), "|")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	if len(cells) < 2 || strings.EqualFold(cells[0], "Item") {
		return nil, false
	}
	row := &Row{Item: cells[0]}
	get := func(i int) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
	row.ItemNumber = get(1)
	row.Date = get(2)
	row.Paid = get(3)
	row.SalePrice = get(4)
	row.Savings = get(5)
	row.Source = get(6)
	return row, true
}

func classifySummary(label string) SummaryKind {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "already"):
		return SummaryAlreadySaved
	case strings.Contains(lower, "potential"):
		return SummaryPotential
	default:
		return SummaryTotal
	}
}
