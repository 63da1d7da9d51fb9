package cache

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/greenshelf/strainscan/internal/models"
)

const keyPrefix = "strain:"

// Cache is the idempotent write-through cache of finished records
type Cache interface {
	Get(ctx context.Context, key string) (*models.ProductRecord, bool, error)
	Upsert(ctx context.Context, key string, rec *models.ProductRecord) error
}

// CacheKey derives the cache key for a strain name. Names that differ only in
// case, punctuation, or spacing share a key.
func CacheKey(name string) string {
	folded := cases.Fold().String(name)

	var sb strings.Builder
	pendingDash := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	if sb.Len() == 0 {
		return keyPrefix + "unknown"
	}
	return keyPrefix + sb.String()
}
