package analytics

import (
	"context"
	"time"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	"github.com/google/uuid"
)

type testAnalyticsService struct {
	cafeID   uuid.UUID
	start    time.Time
	end      time.Time
	response *types.SalesReport
	err      error
}

func (s *testAnalyticsService) Sales(ctx context.Context, cafeID uuid.UUID, start, end time.Time) (*types.SalesReport, error) {
	s.cafeID = cafeID
	s.start = start
	s.end = end
	if s.err != nil {
		return nil, s.err
	}
	if s.response == nil {
		s.response = &types.SalesReport{}
	}
	return s.response, nil
}

func (s *testAnalyticsService) called() bool {
	return s.cafeID != uuid.Nil
}

func (s *testAnalyticsService) period() time.Duration {
	return s.end.Sub(s.start)
}
