package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

// Cursor points at the last row of the previous page. Rows are ordered by
// (created_at DESC, id DESC).
type Cursor struct {
	ID        snowflake.ID `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func NormalizeSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	default:
		return size
	}
}

func EncodeCursor(c Cursor) string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPageToken
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, ErrInvalidPageToken
	}
	return &c, nil
}

// Trim cuts a page fetched with limit+1 rows down to limit and builds the
// page info from the last kept row.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, PageInfo) {
	if len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: EncodeCursor(cursorOf(rows[len(rows)-1])),
	}
}
