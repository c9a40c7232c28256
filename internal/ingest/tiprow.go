package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/community-tips/internal/tips"
	"github.com/example/community-tips/internal/types"
)

// ErrInvalidRow rejects a raw record that cannot become a stored tip.
var ErrInvalidRow = errors.New("invalid tip row")

var validate = validator.New(validator.WithRequiredStructEnabled())

// NormalizeTipRow turns a loosely typed record, as found in exported JSON or
// a remote hash, into a tip. Missing reports become 0 and missing comments an
// empty list; id, text and createdAt are required.
func NormalizeTipRow(row map[string]any) (types.Tip, error) {
	if row == nil {
		return types.Tip{}, fmt.Errorf("%w: empty row", ErrInvalidRow)
	}

	id := stringField(row, "id")
	if id == "" {
		id = stringField(row, "ID")
	}
	createdAt, err := timeField(row["createdAt"])
	if err != nil {
		return types.Tip{}, fmt.Errorf("%w: createdAt: %v", ErrInvalidRow, err)
	}
	reports, err := intField(row["reports"])
	if err != nil {
		return types.Tip{}, fmt.Errorf("%w: reports: %v", ErrInvalidRow, err)
	}
	comments, err := commentsField(row["comments"])
	if err != nil {
		return types.Tip{}, fmt.Errorf("%w: comments: %v", ErrInvalidRow, err)
	}

	tip := types.Tip{
		ID:           id,
		Text:         strings.TrimSpace(stringField(row, "text")),
		ImageDataURL: stringField(row, "imageDataUrl"),
		CreatedAt:    createdAt,
		Reports:      max(reports, 0),
		Comments:     comments,
	}
	if err := validate.Struct(tip); err != nil {
		return types.Tip{}, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	for _, c := range tip.Comments {
		if err := validate.Struct(c); err != nil {
			return types.Tip{}, fmt.Errorf("%w: comment: %v", ErrInvalidRow, err)
		}
	}
	return tip, nil
}

// NormalizeTipRows converts every row it can and returns how many it dropped.
func NormalizeTipRows(rows []map[string]any) ([]types.Tip, int) {
	out := make([]types.Tip, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		tip, err := NormalizeTipRow(row)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, tip)
	}
	return out, skipped
}

func stringField(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func timeField(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return types.ParseStamp(t)
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case time.Time:
		return t.UTC(), nil
	case nil:
		return time.Time{}, errors.New("missing")
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func intField(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, errors.New("not a number")
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, nil
		}
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func commentsField(v any) ([]types.Comment, error) {
	switch list := v.(type) {
	case nil:
		return []types.Comment{}, nil
	case []types.Comment:
		out := append([]types.Comment{}, list...)
		for i := range out {
			out[i].Text = commentText(out[i].Text)
		}
		return out, nil
	case []any:
		out := make([]types.Comment, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("entry %d is %T", i, item)
			}
			createdAt, err := timeField(m["createdAt"])
			if err != nil {
				return nil, fmt.Errorf("entry %d createdAt: %w", i, err)
			}
			out = append(out, types.Comment{
				ID:        stringField(m, "id"),
				Text:      commentText(stringField(m, "text")),
				CreatedAt: createdAt,
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// commentText applies the same bounds the engine puts on new comments.
func commentText(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > tips.DefaultMaxCommentLength {
		s = strings.TrimSpace(string(r[:tips.DefaultMaxCommentLength]))
	}
	return s
}
