package billing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRetryableTxError(t *testing.T) {
	require.False(t, retryableTxError(nil))
	require.False(t, retryableTxError(errors.New("plain failure")))
	require.False(t, retryableTxError(&pgconn.PgError{Code: "23505"}))

	require.True(t, retryableTxError(&pgconn.PgError{Code: serializationFailure}))
	require.True(t, retryableTxError(&pgconn.PgError{Code: deadlockDetected}))

	wrapped := fmt.Errorf("billing: commit tx: %w", &pgconn.PgError{Code: serializationFailure})
	require.True(t, retryableTxError(wrapped))
}
