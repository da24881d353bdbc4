package writer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/tablesync-backend/pkg/bigquery"
)

type fakeInserter struct {
	queue  []error
	tables []string
	sizes  []int
	rows   []any
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.tables = append(f.tables, table)
	f.sizes = append(f.sizes, len(rows))
	f.rows = rows
	if len(f.queue) == 0 {
		return nil
	}
	err := f.queue[0]
	f.queue = f.queue[1:]
	return err
}

func testWriter(t *testing.T, batchSize int, queue ...error) (*BigQueryWriter, *fakeInserter) {
	t.Helper()
	w, err := New(&pkgbigquery.Client{}, Config{
		OrderFactsTable: "order_facts",
		BatchSize:       batchSize,
		RetryPolicy:     RetryPolicy{InitialBackoff: time.Nanosecond, MaximumBackoff: time.Nanosecond},
	})
	require.NoError(t, err)
	fake := &fakeInserter{queue: queue}
	w.client = fake
	return w, fake
}

func fact(id string) types.OrderFactRow {
	return types.OrderFactRow{EventID: id, OrderID: "ord-" + id}
}

func TestNewRejectsMissingClientOrTable(t *testing.T) {
	_, err := New(nil, Config{OrderFactsTable: "order_facts"})
	assert.Error(t, err)

	_, err = New(&pkgbigquery.Client{}, Config{OrderFactsTable: " "})
	assert.Error(t, err)
}

func TestInsertRetryOutcomes(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "try later")

	tests := []struct {
		name         string
		queue        []error
		wantErr      error
		wantCalls    int
		wantBuffered int
	}{
		{name: "first try succeeds", wantCalls: 1},
		{name: "transient then success", queue: []error{&googleapi.Error{Code: http.StatusServiceUnavailable}}, wantCalls: 2},
		{name: "permanent keeps the row", queue: []error{&googleapi.Error{Code: http.StatusBadRequest}}, wantErr: errAny, wantCalls: 1, wantBuffered: 1},
		{name: "attempts exhausted", queue: []error{unavailable, unavailable, unavailable}, wantErr: unavailable, wantCalls: 3, wantBuffered: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, fake := testWriter(t, 1, tt.queue...)
			err := w.InsertOrderFact(context.Background(), fact("1"))

			switch tt.wantErr {
			case nil:
				require.NoError(t, err)
			case errAny:
				require.Error(t, err)
			default:
				require.ErrorIs(t, err, tt.wantErr)
			}
			assert.Len(t, fake.tables, tt.wantCalls)
			assert.Len(t, w.buffer, tt.wantBuffered)
			for _, table := range fake.tables {
				assert.Equal(t, "order_facts", table)
			}
		})
	}
}

var errAny = errors.New("any error")

func TestBufferedRowsGoOutInOneBatch(t *testing.T) {
	ctx := context.Background()
	w, fake := testWriter(t, 2)

	require.NoError(t, w.InsertOrderFact(ctx, fact("1")))
	assert.Empty(t, fake.sizes, "below batch size nothing is sent")

	require.NoError(t, w.InsertOrderFact(ctx, fact("2")))
	assert.Equal(t, []int{2}, fake.sizes)
}

func TestFlushDrainsPartialBatch(t *testing.T) {
	ctx := context.Background()
	w, fake := testWriter(t, 10)

	require.NoError(t, w.InsertOrderFact(ctx, fact("1")))
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, []int{1}, fake.sizes)
	assert.Empty(t, w.buffer)

	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, []int{1}, fake.sizes, "empty flush is a no-op")
}

func TestEventIDBecomesInsertID(t *testing.T) {
	w, fake := testWriter(t, 1)
	require.NoError(t, w.InsertOrderFact(context.Background(), fact("evt-42")))

	require.Len(t, fake.rows, 1)
	saver, ok := fake.rows[0].(*cbigquery.StructSaver)
	require.True(t, ok)
	assert.Equal(t, "evt-42", saver.InsertID)
}

func TestTransientClassification(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"429":                {&googleapi.Error{Code: http.StatusTooManyRequests}, true},
		"403":                {&googleapi.Error{Code: http.StatusForbidden}, false},
		"grpc exhausted":     {status.Error(codes.ResourceExhausted, "quota"), true},
		"plain error":        {errors.New("plain"), false},
		"one bad row in put": {cbigquery.PutMultiError{
			{InsertID: "a", Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}},
			{InsertID: "b", Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusBadRequest}}},
		}, false},
		"all rows retryable": {cbigquery.PutMultiError{
			{InsertID: "a", Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}},
		}, true},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, transient(tc.err), name)
	}
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.True(t, nj.Valid)

	nj, err = EncodeJSON(nil)
	require.NoError(t, err)
	assert.False(t, nj.Valid)

	raw := json.RawMessage(`{"foo":"baz"}`)
	nj, err = EncodeJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), nj.JSONVal)
}
