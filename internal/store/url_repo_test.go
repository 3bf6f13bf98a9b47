package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostFromURL_LowercasesHostname(t *testing.T) {
	host, err := HostFromURL("https://Example.ORG/tunes/1.abc")
	require.NoError(t, err)
	assert.Equal(t, "example.org", host)
}

func TestExtensionFromURL_StripsLeadingDot(t *testing.T) {
	assert.Equal(t, "abc", ExtensionFromURL("https://example.org/tunes/1.abc"))
	assert.Equal(t, "", ExtensionFromURL("https://example.org/tunes/1"))
}

func TestClaimURL_WinsRace(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE urls SET status = 'dispatched'").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := st.ClaimURL(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestClaimURL_LosesRaceWhenAlreadyClaimed(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE urls SET status = 'dispatched'").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := st.ClaimURL(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestMarkFetchFailed_RetryableBelowMaxRetries(t *testing.T) {
	st, mock := newMockStore(t)
	status := 503

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE urls SET retries = retries \\+ 1").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"retries"}).AddRow(1))
	mock.ExpectExec("UPDATE urls SET status = ''").
		WithArgs(status, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := st.MarkFetchFailed(context.Background(), 7, &status, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Retries)
	assert.False(t, outcome.Terminal)
}

func TestMarkFetchFailed_TerminalAtMaxRetries(t *testing.T) {
	st, mock := newMockStore(t)
	status := 500

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE urls SET retries = retries \\+ 1").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"retries"}).AddRow(3))
	mock.ExpectExec("UPDATE urls SET status = 'error'").
		WithArgs(status, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := st.MarkFetchFailed(context.Background(), 7, &status, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Retries)
	assert.True(t, outcome.Terminal)
}

func TestPurgeNonABC_ReturnsDeletedCount(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM urls").
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := st.PurgeNonABC(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestGetURL_NoRowsReturnsNil(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, url, host").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	u, err := st.GetURL(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, u)
}
