package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const cursorSeparator = ","
const timeFormat = time.RFC3339Nano // Use nano for precision

// ErrMalformedCursor is returned for tokens that do not decode to a position.
var ErrMalformedCursor = errors.New("malformed cursor")

// Cursor is a position in the (score desc, published_at desc, id desc) ordering.
type Cursor struct {
	Score       float64
	PublishedAt time.Time
	ID          int64
}

// EncodeCursor creates an opaque cursor string from the sort key of the last row of a page.
func EncodeCursor(score float64, publishedAt time.Time, id int64) string {
	key := strconv.FormatFloat(score, 'g', -1, 64) +
		cursorSeparator + publishedAt.UTC().Format(timeFormat) +
		cursorSeparator + strconv.FormatInt(id, 10)
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// Encode is EncodeCursor for an existing position.
func (c Cursor) Encode() string {
	return EncodeCursor(c.Score, c.PublishedAt, c.ID)
}

// DecodeCursor parses the opaque cursor string back into its sort key.
// All failures wrap ErrMalformedCursor.
func DecodeCursor(encodedCursor string) (Cursor, error) {
	decodedBytes, err := base64.URLEncoding.DecodeString(encodedCursor)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: invalid encoding: %v", ErrMalformedCursor, err)
	}

	parts := strings.Split(string(decodedBytes), cursorSeparator)
	if len(parts) != 3 {
		return Cursor{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedCursor, len(parts))
	}

	score, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || math.IsNaN(score) {
		return Cursor{}, fmt.Errorf("%w: invalid score %q", ErrMalformedCursor, parts[0])
	}

	ts, err := time.Parse(timeFormat, parts[1])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: invalid timestamp: %v", ErrMalformedCursor, err)
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: invalid id: %v", ErrMalformedCursor, err)
	}

	return Cursor{Score: score, PublishedAt: ts.UTC(), ID: id}, nil
}
