package priority

import (
	"errors"
	"fmt"
	"sort"

	"restock_bot/internal/model"
)

var (
	ErrNoTargets      = errors.New("no targets configured")
	ErrNegativeWeight = errors.New("target weight must be >= 0")
)

// BuildOrder returns every link exactly once, highest weight first. Equal weights keep
// their input order. The input slice is not modified.
func BuildOrder(links []model.Target) ([]model.Target, error) {
	if len(links) == 0 {
		return nil, ErrNoTargets
	}
	for i, l := range links {
		if l.Weight < 0 {
			return nil, fmt.Errorf("links[%d] %s: %w", i, l.URL, ErrNegativeWeight)
		}
	}

	out := make([]model.Target, len(links))
	copy(out, links)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight > out[j].Weight
	})
	return out, nil
}
