package pricing

import (
	"errors"
	"fmt"
	"sort"

	"prisportal/backend/internal/domain"
)

type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

var ErrInvalidReorder = errors.New("invalid reorder")

// SortSurcharges orders by sort_order, then id.
func SortSurcharges(items []domain.Surcharge) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SortOrder != items[j].SortOrder {
			return items[i].SortOrder < items[j].SortOrder
		}
		return items[i].ID < items[j].ID
	})
}

// NextSortOrder is one past the highest sort order, or 0 for an empty list.
func NextSortOrder(items []domain.Surcharge) int {
	next := 0
	for _, item := range items {
		if item.SortOrder+1 > next {
			next = item.SortOrder + 1
		}
	}
	return next
}

// Densify numbers ids by their index.
func Densify(ids []string) []domain.SortAssignment {
	out := make([]domain.SortAssignment, len(ids))
	for i, id := range ids {
		out[i] = domain.SortAssignment{ID: id, SortOrder: i}
	}
	return out
}

// SequenceIDs returns the ids of items in application order.
func SequenceIDs(items []domain.Surcharge) []string {
	ordered := append([]domain.Surcharge(nil), items...)
	SortSurcharges(ordered)
	ids := make([]string, len(ordered))
	for i, item := range ordered {
		ids[i] = item.ID
	}
	return ids
}

// Reorder moves dragged next to target and renumbers the full sequence.
// Dragged items keep their relative order from the current sequence.
func Reorder(sequence []string, dragged []string, target string, pos Position) ([]domain.SortAssignment, error) {
	if pos != Before && pos != After {
		return nil, fmt.Errorf("%w: position must be before or after", ErrInvalidReorder)
	}
	if len(dragged) == 0 {
		return nil, fmt.Errorf("%w: nothing to move", ErrInvalidReorder)
	}

	present := make(map[string]bool, len(sequence))
	for _, id := range sequence {
		present[id] = true
	}
	moving := make(map[string]bool, len(dragged))
	for _, id := range dragged {
		if !present[id] {
			return nil, fmt.Errorf("%w: unknown id %q", ErrInvalidReorder, id)
		}
		if moving[id] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidReorder, id)
		}
		moving[id] = true
	}
	if !present[target] {
		return nil, fmt.Errorf("%w: unknown target %q", ErrInvalidReorder, target)
	}
	if moving[target] {
		return nil, fmt.Errorf("%w: target is being moved", ErrInvalidReorder)
	}

	block := make([]string, 0, len(dragged))
	remaining := make([]string, 0, len(sequence))
	for _, id := range sequence {
		if moving[id] {
			block = append(block, id)
		} else {
			remaining = append(remaining, id)
		}
	}

	at := 0
	for i, id := range remaining {
		if id == target {
			at = i
			break
		}
	}
	if pos == After {
		at++
	}

	result := make([]string, 0, len(sequence))
	result = append(result, remaining[:at]...)
	result = append(result, block...)
	result = append(result, remaining[at:]...)
	return Densify(result), nil
}
