package receipt

import (
	"bytes"
	"encoding/json"
	"time"
)

// Receipt is one parsed purchase event. Items keep receipt print order.
type Receipt struct {
	ID          string        `json:"receipt_id"`
	Store       string        `json:"store,omitempty"`
	ReceiptDate string        `json:"receipt_date,omitempty"` // yyyy-mm-dd
	UploadDate  time.Time     `json:"upload_date"`
	DocHash     string        `json:"doc_hash,omitempty"`
	Filename    string        `json:"filename,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	Items       []ReceiptItem `json:"items"`
}

// ReceiptItem is one purchased line. Price is the post-discount amount paid;
// OriginalPrice, when present and different, means a discount was already
// applied at the register.
type ReceiptItem struct {
	Name          string `json:"name"`
	Price         string `json:"price"`
	ItemNumber    string `json:"item_number,omitempty"`
	Qty           string `json:"qty,omitempty"`
	OriginalPrice string `json:"original_price,omitempty"`
	TPD           TPD    `json:"tpd,omitempty"`
}

// TPDKind discriminates the three shapes a temporary-price-drop marker takes
// upstream: absent, a bare flag, or a descriptive label.
type TPDKind int

const (
	TPDNone TPDKind = iota
	TPDFlag
	TPDLabel
)

// TPD is the tagged union for the temporary-price-drop marker. Some source
// documents encode it as a boolean, others as the drop's description text;
// both shapes are preserved.
type TPD struct {
	Kind  TPDKind
	Label string
}

// FlagTPD marks an item as having had a price drop applied, with no label.
func FlagTPD() TPD { return TPD{Kind: TPDFlag} }

// LabelTPD marks an item with the drop's descriptive text.
func LabelTPD(text string) TPD { return TPD{Kind: TPDLabel, Label: text} }

// Applied reports whether a discount was already taken at purchase time.
func (t TPD) Applied() bool {
	return t.Kind == TPDFlag || (t.Kind == TPDLabel && t.Label != "")
}

// MarshalJSON emits the upstream wire shapes: null, true, or the label text.
func (t TPD) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TPDFlag:
		return []byte("true"), nil
	case TPDLabel:
		return json.Marshal(t.Label)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a boolean, a string, or null. Any other shape is
// treated as "no TPD" rather than an error.
func (t *TPD) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = TPD{}
		return nil
	}
	var flag bool
	if err := json.Unmarshal(data, &flag); err == nil {
		if flag {
			*t = TPD{Kind: TPDFlag}
		} else {
			*t = TPD{}
		}
		return nil
	}
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		if label == "" {
			*t = TPD{}
		} else {
			*t = TPD{Kind: TPDLabel, Label: label}
		}
		return nil
	}
	*t = TPD{}
	return nil
}
