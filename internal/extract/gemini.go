package extract

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"dealwatch/internal/receipt"
)

const extractTimeout = 60 * time.Second

// Gemini implements receipt extraction, coupon-page extraction and the
// streaming analysis call using Google Gemini.
type Gemini struct {
	client       *genai.Client
	model        *genai.GenerativeModel
	preciseModel *genai.GenerativeModel
}

// NewGemini creates a Gemini backend. The precise model is the slower,
// higher-capability model used for reparse.
func NewGemini(apiKey, modelName, preciseModelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	if preciseModelName == "" {
		preciseModelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{
		client:       client,
		model:        client.GenerativeModel(modelName),
		preciseModel: client.GenerativeModel(preciseModelName),
	}, nil
}

// generate runs one vision call and collects the text parts of the response.
func generate(ctx context.Context, model *genai.GenerativeModel, image []byte, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx,
		genai.ImageData("png", image),
		genai.Text(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

// ParseReceipt extracts structured line items from a receipt document.
func (g *Gemini) ParseReceipt(ctx context.Context, doc []byte, contentType string, tier receipt.Tier) (*receipt.ParsedReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	image, err := prepareImageData(doc, contentType)
	if err != nil {
		return nil, err
	}

	var parsed *receipt.ParsedReceipt
	if tier == receipt.TierPrecise {
		parsed, err = g.parsePrecise(ctx, image)
	} else {
		parsed, err = g.parseFast(ctx, image)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", receipt.ErrParseFailed, err)
	}
	if len(parsed.Items) == 0 {
		return nil, fmt.Errorf("%w: extraction returned no usable items", receipt.ErrParseFailed)
	}
	return parsed, nil
}

func (g *Gemini) parseFast(ctx context.Context, image []byte) (*receipt.ParsedReceipt, error) {
	text, err := generate(ctx, g.model, image, receiptPrompt)
	if err != nil {
		return nil, err
	}
	raw, err := decodeReceipt(text)
	if err != nil {
		return nil, err
	}
	return toParsed(raw), nil
}

var priceLine = regexp.MustCompile(`^[\d.]+-?`)

// parsePrecise reads items and prices in separate calls and zips them by
// position. Receipts the single-call path garbles usually survive this.
func (g *Gemini) parsePrecise(ctx context.Context, image []byte) (*receipt.ParsedReceipt, error) {
	itemsText, err := generate(ctx, g.preciseModel, image, itemsPrompt)
	if err != nil {
		return nil, err
	}
	pricesText, err := generate(ctx, g.preciseModel, image, pricesPrompt)
	if err != nil {
		return nil, err
	}
	metaText, err := generate(ctx, g.preciseModel, image, metaPrompt)
	if err != nil {
		return nil, err
	}

	raw := &rawReceipt{}
	if meta, merr := decodeReceipt(metaText); merr == nil {
		raw.Store = meta.Store
		raw.ReceiptDate = meta.ReceiptDate
	}

	var prices []string
	for _, line := range strings.Split(strings.TrimSpace(pricesText), "\n") {
		if m := priceLine.FindString(strings.TrimSpace(line)); m != "" {
			prices = append(prices, m)
		}
	}

	numberAndName := regexp.MustCompile(`^(\d{4,8})?\s*(.*)`)
	i := 0
	for _, line := range strings.Split(strings.TrimSpace(itemsText), "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "|"))
		if line == "" || strings.HasPrefix(line, "ITEM") || strings.HasPrefix(line, "---") {
			continue
		}
		var number, name string
		if parts := strings.SplitN(line, "|", 2); len(parts) == 2 {
			number = strings.TrimSpace(parts[0])
			name = strings.TrimSpace(parts[1])
		} else if m := numberAndName.FindStringSubmatch(line); m != nil {
			number = m[1]
			name = strings.TrimSpace(m[2])
		}
		price := "0"
		if i < len(prices) {
			price = prices[i]
		}
		raw.Items = append(raw.Items, rawItem{
			Name:       flexString(name),
			Price:      flexString(price),
			Qty:        "1",
			ItemNumber: flexString(number),
		})
		i++
	}
	return toParsed(raw), nil
}

// ExtractCouponPage reads every product deal off one coupon-book page image.
func (g *Gemini) ExtractCouponPage(ctx context.Context, image []byte) ([]CouponItem, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	text, err := generate(ctx, g.model, image, couponPrompt)
	if err != nil {
		return nil, err
	}
	return decodeCouponItems(text)
}

// Stream starts a streaming generation for the given prompt. The returned
// stream is single-pass: once consumed it cannot be replayed.
func (g *Gemini) Stream(ctx context.Context, prompt string) *GeminiStream {
	return &GeminiStream{iter: g.model.GenerateContentStream(ctx, genai.Text(prompt))}
}

// GeminiStream adapts the genai response iterator to a plain chunk stream.
type GeminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

// Next returns the next text chunk, io.EOF at end of stream.
func (s *GeminiStream) Next() (string, error) {
	resp, err := s.iter.Next()
	if err == iterator.Done {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String(), nil
}

// Close closes the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
