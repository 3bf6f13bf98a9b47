package dispatcher

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
)

func TestScanLogOnce_DisablesHostsMatchingDNSFailures(t *testing.T) {
	s, mock := newTestServer(t)

	f, err := os.CreateTemp(t.TempDir(), "fetcher.log")
	require.NoError(t, err)
	_, err = f.WriteString("2026-07-31T10:00:00Z ERROR Failed to resolve 'bad-host.example': no such host\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mock.ExpectExec("INSERT INTO hosts").
		WithArgs("bad-host.example", "dns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pos := s.scanLogOnce(context.Background(), f.Name(), 0)
	assert.Positive(t, pos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanLogOnce_NoMatchesDisablesNothing(t *testing.T) {
	s, mock := newTestServer(t)

	f, err := os.CreateTemp(t.TempDir(), "fetcher.log")
	require.NoError(t, err)
	_, err = f.WriteString("2026-07-31T10:00:00Z INFO fetched https://example.org/tune.abc\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pos := s.scanLogOnce(context.Background(), f.Name(), 0)
	assert.Positive(t, pos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanLogOnce_DedupesRepeatedHostWithinOneScan(t *testing.T) {
	s, mock := newTestServer(t)

	f, err := os.CreateTemp(t.TempDir(), "fetcher.log")
	require.NoError(t, err)
	_, err = f.WriteString("Failed to resolve 'bad-host.example'\nFailed to resolve 'bad-host.example'\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mock.ExpectExec("INSERT INTO hosts").
		WithArgs("bad-host.example", "dns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.scanLogOnce(context.Background(), f.Name(), 0)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanLogOnce_MissingFileReturnsSamePosition(t *testing.T) {
	s, _ := newTestServer(t)

	pos := s.scanLogOnce(context.Background(), "/nonexistent/path/to/a.log", 42)
	assert.Equal(t, int64(42), pos)
}

func TestScanLogOnce_ResumesFromGivenOffset(t *testing.T) {
	s, mock := newTestServer(t)

	f, err := os.CreateTemp(t.TempDir(), "fetcher.log")
	require.NoError(t, err)
	line1 := "Failed to resolve 'already-seen.example'\n"
	line2 := "Failed to resolve 'new-host.example'\n"
	_, err = f.WriteString(line1 + line2)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mock.ExpectExec("INSERT INTO hosts").
		WithArgs("new-host.example", "dns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pos := s.scanLogOnce(context.Background(), f.Name(), int64(len(line1)))
	assert.Equal(t, int64(len(line1)+len(line2)), pos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanLogOnce_ResetsOffsetWhenFileShrinks(t *testing.T) {
	s, mock := newTestServer(t)

	f, err := os.CreateTemp(t.TempDir(), "fetcher.log")
	require.NoError(t, err)
	short := "Failed to resolve 'rotated-host.example'\n"
	_, err = f.WriteString(short)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mock.ExpectExec("INSERT INTO hosts").
		WithArgs("rotated-host.example", "dns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// pos is far beyond the rotated file's size, simulating log rotation.
	pos := s.scanLogOnce(context.Background(), f.Name(), 10_000)
	assert.Equal(t, int64(len(short)), pos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestScanLogOnce_ParsesRealZerologJSONLine exercises the scanner against
// the actual JSON shape the fetcher's zerolog writer produces (see
// internal/log.Setup and the fetcher's DNS-classification log call), not
// a hand-picked plain-text fixture.
func TestScanLogOnce_ParsesRealZerologJSONLine(t *testing.T) {
	s, mock := newTestServer(t)

	f, err := os.CreateTemp(t.TempDir(), "fetcher.log")
	require.NoError(t, err)
	line := `{"level":"error","error":"lookup dead-dns.example: no such host","url":"https://dead-dns.example/tunes.abc","component":"fetcher","time":"2026-07-31T10:00:00Z","message":"Failed to resolve 'dead-dns.example'"}` + "\n"
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mock.ExpectExec("INSERT INTO hosts").
		WithArgs("dead-dns.example", "dns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pos := s.scanLogOnce(context.Background(), f.Name(), 0)
	assert.Positive(t, pos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHostReenabler_SweepsOnEachTick(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectExec("UPDATE hosts SET disabled = false").
		WithArgs(store.DisableReasonTimeout, time.Hour.Seconds()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunHostReenabler(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
