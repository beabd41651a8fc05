package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/recovery"
)

// ParseSuggestionDocument decodes a JSON-mode document: a single suggestion
// set or an array of them. Unlike CSV cells the document gets no repair
// cascade. Only surrounding whitespace and one level of string quoting are
// undone; anything else that fails to decode is rejected with
// domain.ErrInvalidInput, as is any element that carries no codeSuggestions.
func (a *Assembler) ParseSuggestionDocument(ctx context.Context, text string) ([]domain.SuggestionSet, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty document", domain.ErrInvalidInput)
	}

	doc, _, err := recovery.DecodeStrict(text)
	if err != nil {
		return nil, fmt.Errorf("%w: document is not valid JSON: %v", domain.ErrInvalidInput, err)
	}

	elems, ok := doc.([]any)
	if !ok {
		elems = []any{doc}
	}

	sets := make([]domain.SuggestionSet, 0, len(elems))
	for i, elem := range elems {
		set := a.extractor.Normalize(ctx, elem)
		if set == nil {
			return nil, fmt.Errorf("%w: element %d has no codeSuggestions", domain.ErrInvalidInput, i)
		}
		sets = append(sets, *set)
	}
	return sets, nil
}

// ReviewItem is one suggestion of a JSON-mode document addressed for
// approval or rejection.
type ReviewItem struct {
	// ID is stable for a given document: the set and item positions.
	ID   string                `json:"id"`
	Set  int                   `json:"set"`
	Item domain.SuggestionItem `json:"item"`
}

// ReviewItems flattens sets into individually addressable items. IDs are
// positional, so two suggestions for the same file and line never collide.
func ReviewItems(sets []domain.SuggestionSet) []ReviewItem {
	var items []ReviewItem
	for s, set := range sets {
		for i, item := range set.CodeSuggestions {
			items = append(items, ReviewItem{
				ID:   ItemID(s, i),
				Set:  s,
				Item: item,
			})
		}
	}
	return items
}

// ItemID formats the identifier of the i-th suggestion of the s-th set.
func ItemID(s, i int) string {
	return strconv.Itoa(s) + "-" + strconv.Itoa(i)
}
