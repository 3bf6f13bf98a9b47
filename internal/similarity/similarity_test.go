package similarity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/vectorindex"
)

func newTestService(t *testing.T) (*Service, *vectorindex.Index, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := &store.Store{DB: sqlx.NewDb(db, "postgres"), Timeout: 5 * time.Second}

	path := filepath.Join(t.TempDir(), "test.index")
	idx, err := vectorindex.Open(path, 4)
	require.NoError(t, err)

	cfg := Config{PreselectK: 10, DTWBand: 5, VectorDim: 4, WindowStride: 4}
	return New(st, idx, cfg), idx, mock
}

func tuneColumns() []string {
	return []string{"id", "tunebook_id", "title", "key", "rhythm", "composer", "tune_body", "status", "pitches", "intervals"}
}

func TestSimilar_QueryTuneWithNoIntervals(t *testing.T) {
	svc, _, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM tunes WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(tuneColumns()).
			AddRow(int64(1), int64(1), "Untitled", "C", "Jig", "Trad.", "body", "parsed", "{60,62}", "{}"))

	_, err := svc.Similar(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoIntervals)
}

func TestSimilar_NoCandidatesReturnsEmpty(t *testing.T) {
	svc, _, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM tunes WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(tuneColumns()).
			AddRow(int64(1), int64(1), "Query Tune", "C", "Jig", "Trad.", "body", "parsed", "{60,62,64,66}", "{2,2,2}"))

	results, err := svc.Similar(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimilar_RanksByNormalizedDTWDistance(t *testing.T) {
	svc, idx, mock := newTestService(t)

	mock.ExpectQuery("SELECT \\* FROM tunes WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(tuneColumns()).
			AddRow(int64(1), int64(1), "Query Tune", "C", "Jig", "Trad.", "body", "parsed", "{60,62,64,66}", "{2,2,2,0}"))

	_, err := idx.Add([]int64{2, 3}, [][]float32{{2, 2, 2, 0}, {10, 10, 10, 10}})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT \\* FROM tunes WHERE id IN").
		WillReturnRows(sqlmock.NewRows(tuneColumns()).
			AddRow(int64(2), int64(1), "Close Match", "C", "Jig", "Trad.", "body2", "parsed", "{60,62,64,66}", "{2,2,2,0}").
			AddRow(int64(3), int64(1), "Far Match", "D", "Reel", "Anon.", "body3", "parsed", "{60,72,50,90}", "{12,-22,40,0}"))

	results, err := svc.Similar(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].TuneID)
	assert.Equal(t, "Close Match", results[0].Title)
	assert.LessOrEqual(t, results[0].Score, results[1].Score)
}
