package pagination

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Params carries the page size and opaque cursor from a list request.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the keyset position of the last row on the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer asks for one extra row so callers can tell whether another page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor renders "<unix nanos>.<uuid>" as URL-safe base64.
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor returns nil for a blank cursor. Malformed cursors are validation errors.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "cursor is not valid base64")
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cursor is malformed")
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "cursor timestamp is malformed")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "cursor id is malformed")
	}
	return &Cursor{CreatedAt: time.Unix(0, ts).UTC(), ID: parsed}, nil
}

// Trim cuts a buffered result down to limit rows and returns the cursor for the
// next page, or "" when rows fit on this page.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, string) {
	if len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	return rows, EncodeCursor(key(rows[limit-1]))
}
