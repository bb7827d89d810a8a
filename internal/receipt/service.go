package receipt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique receipt IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time { return time.Now() }

// Service handles receipt operations: upload, parse, reparse, edit, delete.
type Service struct {
	db          DB
	parser      Parser
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with default ID generator and time source.
func NewService(db DB, parser Parser, storage Storage) *Service {
	return &Service{
		db:          db,
		parser:      parser,
		storage:     storage,
		idGenerator: uuidGenerator{},
		timeSource:  defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, parser Parser, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		parser:      parser,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	filenameJunk   = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated filenames before storage.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	base = filenameJunk.ReplaceAllString(base, "")
	base = strings.TrimSpace(filenameSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// Upload parses a receipt document and persists the result. A document
// already uploaded (same hash) returns the existing receipt instead of
// parsing again. On parse failure nothing is persisted.
func (s *Service) Upload(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, []string, error) {
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	if existing, err := s.db.FindByHash(hash); err != nil {
		return nil, nil, fmt.Errorf("checking for duplicate: %w", err)
	} else if existing != nil {
		slog.Info("Duplicate receipt upload", "receipt_id", existing.ID, "hash", hash)
		return existing, nil, nil
	}

	parsed, err := s.parser.ParseReceipt(ctx, data, contentType, TierFast)
	if err != nil {
		slog.Error("Failed to parse receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, nil, fmt.Errorf("parsing receipt: %w", err)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, nil, fmt.Errorf("saving document: %w", err)
	}

	receiptDate := parsed.ReceiptDate
	if receiptDate == "" {
		receiptDate = now.Format("2006-01-02")
	}

	r := &Receipt{
		ID:          id,
		Store:       parsed.Store,
		ReceiptDate: receiptDate,
		UploadDate:  now,
		DocHash:     hash,
		Filename:    savedPath,
		ContentType: contentType,
		Items:       parsed.Items,
	}
	if err := s.db.SaveReceipt(r); err != nil {
		s.storage.Delete(savedPath)
		return nil, nil, fmt.Errorf("saving receipt: %w", err)
	}
	return r, parsed.Warnings, nil
}

// Reparse re-runs extraction with the precise tier against the stored
// document. The item list is replaced only when the reparse succeeds; a
// failed reparse leaves the previous items intact.
func (s *Service) Reparse(ctx context.Context, id string) (*Receipt, []string, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting receipt: %w", err)
	}
	if r.Filename == "" {
		return nil, nil, fmt.Errorf("no stored document for receipt %s", id)
	}
	data, err := s.storage.Get(r.Filename)
	if err != nil {
		return nil, nil, fmt.Errorf("getting stored document: %w", err)
	}

	parsed, err := s.parser.ParseReceipt(ctx, data, r.ContentType, TierPrecise)
	if err != nil {
		return nil, nil, fmt.Errorf("reparsing receipt: %w", err)
	}

	r.Items = parsed.Items
	if parsed.Store != "" {
		r.Store = parsed.Store
	}
	if parsed.ReceiptDate != "" {
		r.ReceiptDate = parsed.ReceiptDate
	}
	if err := s.db.SaveReceipt(r); err != nil {
		return nil, nil, fmt.Errorf("saving reparsed receipt: %w", err)
	}
	return r, parsed.Warnings, nil
}

// Get retrieves a receipt by ID.
func (s *Service) Get(id string) (*Receipt, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return r, nil
}

// List returns all receipts.
func (s *Service) List() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// EditItem updates a single item's name and price in place.
func (s *Service) EditItem(id string, index int, name, price string) (*Receipt, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if index < 0 || index >= len(r.Items) {
		return nil, fmt.Errorf("item index %d out of range", index)
	}
	if name != "" {
		r.Items[index].Name = name
	}
	if price != "" {
		r.Items[index].Price = price
	}
	if err := s.db.SaveReceipt(r); err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}
	return r, nil
}

// Delete removes a receipt and its stored document.
func (s *Service) Delete(id string) error {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}
	if r.Filename != "" {
		if err := s.storage.Delete(r.Filename); err != nil {
			slog.Warn("Failed to delete document", "filename", r.Filename, "error", err)
		}
	}
	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	return nil
}

// DeleteAll removes every receipt and its stored document.
func (s *Service) DeleteAll() (int, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return 0, fmt.Errorf("listing receipts: %w", err)
	}
	for _, r := range receipts {
		if r.Filename != "" {
			if err := s.storage.Delete(r.Filename); err != nil {
				slog.Warn("Failed to delete document", "filename", r.Filename, "error", err)
			}
		}
	}
	return s.db.DeleteAll()
}

// GetDocument retrieves the stored document for a receipt.
func (s *Service) GetDocument(id string) ([]byte, string, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	data, err := s.storage.Get(r.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}
	return data, r.ContentType, nil
}
