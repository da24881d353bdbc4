package writer

import (
	"context"
	"errors"
	"net/http"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy bounds streaming insert retries. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(2*time.Second, p.InitialBackoff)
	}
	return p
}

func (p RetryPolicy) do(ctx context.Context, insert func(context.Context) error) error {
	backoff := retry.NewExponential(p.InitialBackoff)
	backoff = retry.WithCappedDuration(p.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(p.MaxAttempts-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := insert(ctx)
		if err != nil && transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// transient reports whether every underlying failure in err is worth retrying.
// A single bad row makes the whole insert permanent.
func transient(err error) bool {
	leaves := insertFailures(err)
	if len(leaves) == 0 {
		return false
	}
	for _, leaf := range leaves {
		if !transientLeaf(leaf) {
			return false
		}
	}
	return true
}

// insertFailures flattens the nested error shapes returned by streaming
// inserts. Put returns the multi errors by value.
func insertFailures(err error) []error {
	var (
		multi    cbigquery.MultiError
		multiPtr *cbigquery.MultiError
		rows     cbigquery.PutMultiError
		rowsPtr  *cbigquery.PutMultiError
		rowErr   *cbigquery.RowInsertionError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &multiPtr) && multiPtr != nil:
		multi = *multiPtr
	case errors.As(err, &rowsPtr) && rowsPtr != nil:
		rows = *rowsPtr
	case errors.As(err, &rowErr) && rowErr != nil:
		return insertFailures(rowErr.Errors)
	case errors.As(err, &multi), errors.As(err, &rows):
	default:
		return []error{err}
	}

	var out []error
	for _, inner := range multi {
		out = append(out, insertFailures(inner)...)
	}
	for _, row := range rows {
		out = append(out, insertFailures(row.Errors)...)
	}
	return out
}

func transientLeaf(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}
