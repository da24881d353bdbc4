// Package pagination implements keyset paging over (timestamp, id) pairs,
// newest first.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Cursor names the first row of the next page by its sort timestamp and id.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// wireCursor is the JSON form inside the opaque token.
type wireCursor struct {
	At int64     `json:"t"`
	ID uuid.UUID `json:"i"`
}

// NormalizeLimit clamps limit into [1, MaxLimit], defaulting non-positive
// values to DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer is the fetch size that reveals whether a next page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Keyset orders by column then id, newest first, starts at after when set
// and fetches one row past the page. column must be a trusted identifier.
func Keyset(column string, after *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if after != nil {
			tx = tx.Where("("+column+" < ? OR ("+column+" = ? AND id <= ?))", after.At, after.At, after.ID)
		}
		return tx.Order(column + " DESC").Order("id DESC").Limit(LimitWithBuffer(limit))
	}
}

// Trim cuts a Keyset result down to the page size and returns the cursor of
// the first row that did not fit.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return rows, nil
	}
	next := key(rows[size])
	return rows[:size], &next
}

// EncodeCursor returns an opaque URL-safe token for c.
func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(wireCursor{At: c.At.UnixNano(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor decodes a token from EncodeCursor. A blank token means the
// first page and yields nil.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var w wireCursor
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if w.At == 0 || w.ID == uuid.Nil {
		return nil, errors.New("cursor is incomplete")
	}
	return &Cursor{At: time.Unix(0, w.At).UTC(), ID: w.ID}, nil
}
