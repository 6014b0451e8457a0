//go:build !cgo

package embeddings

import (
	"errors"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without CGO.
// Recall degrades to keyword+fuzzy+graph tiers in that case.
var ErrFastEmbedNotAvailable = errors.New("embeddings: fastembed not available (built without CGO)")

func newFastEmbedProvider(_ Config) (Provider, error) {
	return nil, ErrFastEmbedNotAvailable
}
