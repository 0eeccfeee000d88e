package services

import (
	"html"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/textutil"
)

const maxOrderMetadataValueLength = 500

var metadataPolicy = bluemonday.StrictPolicy()

// SanitizeOrderMetadata restricts metadata to the documented keys, strips markup, and
// enforces the value length limit. Empty values are dropped.
func SanitizeOrderMetadata(values map[string]string) (domain.OrderMetadata, error) {
	normalized := textutil.NormalizeStringMap(values)
	if len(normalized) == 0 {
		return nil, nil
	}
	out := make(domain.OrderMetadata, len(normalized))
	for key, value := range normalized {
		if !slices.Contains(domain.OrderMetadataKeys, key) {
			return nil, validationError("metadata key %q is not allowed", key)
		}
		// Sanitize escapes entities; stored values are plain text and escaped when rendered.
		clean := strings.TrimSpace(html.UnescapeString(metadataPolicy.Sanitize(value)))
		if utf8.RuneCountInString(clean) > maxOrderMetadataValueLength {
			return nil, validationError("metadata %q exceeds %d characters", key, maxOrderMetadataValueLength)
		}
		if clean != "" {
			out[key] = clean
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
