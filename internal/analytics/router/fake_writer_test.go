package router

import (
	"context"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.OrderFactRow
	err      error
}

func (f *fakeWriter) InsertOrderFact(_ context.Context, row types.OrderFactRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, row)
	return nil
}
