// Package correlation tags work spanning several log lines, such as a
// redemption retried by a client or one ledger audit run, with a sortable id.
package correlation

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Header carries a caller supplied correlation id.
const Header = "X-Correlation-Id"

const maxLength = 64

type key struct{}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key{}).(string); ok {
		return v
	}
	return ""
}

// WithID stores id on ctx. Blank or oversized ids are ignored.
func WithID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxLength {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// Ensure returns ctx carrying a correlation id, minting a ULID stamped with
// now when ctx has none.
func Ensure(ctx context.Context, now time.Time) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	return context.WithValue(ctx, key{}, id), id
}

// MintedAt reports when an id produced by Ensure was created. Ids supplied
// by callers in another format report false.
func MintedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
