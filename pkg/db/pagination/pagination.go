package pagination

import (
	"encoding/base64"
	"encoding/json"
)

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

// Pagination is the cursor-style page request bound from query parameters.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// Clamp normalizes the requested page size into the allowed range.
func (p Pagination) Clamp() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	if p.Limit > MaxLimit {
		return MaxLimit
	}
	return p.Limit
}

// Cursor is the opaque continuation token, keyed on the sort column plus the
// row ID as a tiebreaker.
type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// BuildPage trims an overfetched result set (limit+1 rows) to the page size
// and derives the continuation token from the last kept row.
func BuildPage[T any](rows []*T, limit int, cursorOf func(*T) Cursor) ([]*T, *PageInfo, error) {
	if len(rows) <= limit {
		return rows, &PageInfo{}, nil
	}

	rows = rows[:limit]
	next, err := EncodeCursor(cursorOf(rows[len(rows)-1]))
	if err != nil {
		return nil, nil, err
	}
	return rows, &PageInfo{NextCursor: next, HasMore: true}, nil
}
