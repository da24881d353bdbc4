package history

import (
	"sort"

	"github.com/angelmondragon/tablesync-backend/internal/changestream"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
)

// Sort orders entries by finalization time, newest first. Ties break on id
// so the order is stable across reloads.
func Sort(entries []models.OrderHistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.FinalizedAt.Equal(b.FinalizedAt) {
			return a.FinalizedAt.After(b.FinalizedAt)
		}
		return a.ID.String() > b.ID.String()
	})
}

// Apply folds one history change into entries and returns a new slice capped
// at window. An entry already present is replaced, since re-archiving an
// order overwrites its row. The bool reports whether anything changed.
func Apply(entries []models.OrderHistoryEntry, change changestream.Change, window int) ([]models.OrderHistoryEntry, bool, error) {
	if change.Topic != changestream.TopicHistory || change.Kind == changestream.KindRemoved {
		return entries, false, nil
	}
	var entry models.OrderHistoryEntry
	if err := change.Decode(&entry); err != nil {
		return entries, false, err
	}

	next := make([]models.OrderHistoryEntry, 0, len(entries)+1)
	for _, existing := range entries {
		if existing.ID != entry.ID {
			next = append(next, existing)
		}
	}
	next = append(next, entry)
	Sort(next)
	if window > 0 && len(next) > window {
		next = next[:window]
	}
	return next, true, nil
}
