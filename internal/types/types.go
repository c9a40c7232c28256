package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Comment is a single reply attached to a tip. Text is stored already
// HTML-escaped.
type Comment struct {
	ID        string    `json:"id" validate:"required"`
	Text      string    `json:"text" validate:"required"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

// Tip is a community-submitted report subject to moderation and expiry.
type Tip struct {
	ID           string    `json:"id" validate:"required"`
	Text         string    `json:"text" validate:"required"`
	ImageDataURL string    `json:"imageDataUrl"`
	CreatedAt    time.Time `json:"createdAt" validate:"required"`
	Reports      int       `json:"reports" validate:"gte=0"`
	Comments     []Comment `json:"comments"`
}

// Clone returns a deep copy so callers never share the comment slice with the
// engine's canonical collection.
func (t Tip) Clone() Tip {
	out := t
	out.Comments = make([]Comment, len(t.Comments))
	copy(out.Comments, t.Comments)
	return out
}

// CloneTips deep-copies a collection.
func CloneTips(tips []Tip) []Tip {
	out := make([]Tip, len(tips))
	for i, t := range tips {
		out[i] = t.Clone()
	}
	return out
}

// ExpiredAt reports whether the tip is older than ttl at the given instant.
func (t Tip) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return t.CreatedAt.Before(now.Add(-ttl))
}

// tipWire mirrors Tip with loose field types so that records written by older
// clients (null comments, missing reports) still decode.
type tipWire struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	ImageDataURL string    `json:"imageDataUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	Reports      *int      `json:"reports"`
	Comments     []Comment `json:"comments"`
}

// UnmarshalJSON decodes a tip, normalising missing optional fields.
func (t *Tip) UnmarshalJSON(data []byte) error {
	var w tipWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode tip: %w", err)
	}
	t.ID = w.ID
	t.Text = w.Text
	t.ImageDataURL = w.ImageDataURL
	t.CreatedAt = w.CreatedAt
	t.Reports = 0
	if w.Reports != nil && *w.Reports > 0 {
		t.Reports = *w.Reports
	}
	t.Comments = w.Comments
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
	return nil
}

// Valid reports whether the record carries the fields every stored tip must
// have.
func (t Tip) Valid() bool {
	return t.ID != "" && t.Text != "" && !t.CreatedAt.IsZero()
}

// EncodeTips serializes a collection to its persisted JSON form.
func EncodeTips(tips []Tip) ([]byte, error) {
	if tips == nil {
		tips = []Tip{}
	}
	return json.Marshal(tips)
}

// DecodeTips parses a persisted collection. Records without an id, text or
// timestamp are dropped and counted in the returned skip total.
func DecodeTips(data []byte) ([]Tip, int, error) {
	var raw []Tip
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode tips: %w", err)
	}
	out := make([]Tip, 0, len(raw))
	skipped := 0
	for _, t := range raw {
		if !t.Valid() {
			skipped++
			continue
		}
		out = append(out, t)
	}
	return out, skipped, nil
}
