package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stream-embed-audit/internal/audit"
)

func TestRecordMatchInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "matches", "runs")
	require.NoError(t, err)

	rec := audit.MatchRecord{
		SiteName:     "HR",
		SiteURL:      "https://contoso.sharepoint.com/sites/HR",
		SiteID:       "S1",
		SiteOwner:    `{"user":{"displayName":"Ada"}}`,
		PageName:     "home.aspx",
		PageID:       "P1",
		WebpartTitle: "Town hall",
		EmbedCode:    "https://web.microsoftstream.com/embed/1",
	}

	mock.ExpectExec("INSERT INTO matches").
		WithArgs("run-1", rec.SiteID, rec.PageID, rec.WebpartTitle, rec.SiteName, rec.SiteURL, rec.SiteOwner, rec.PageName, rec.EmbedCode).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordMatch(context.Background(), "run-1", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordMatchPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO stream_embed_matches").
		WithArgs("run-1", "", "", "", "", "", "", "", "").
		WillReturnError(boom)

	err = store.RecordMatch(context.Background(), "run-1", audit.MatchRecord{})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "matches", "runs")
	require.NoError(t, err)

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Hour)
	summary := audit.Summary{SitesVisited: 3, PagesVisited: 7, ComponentsInspected: 20, Matches: 2, Skipped: 1}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS matches").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", started, RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE runs").
		WithArgs(finished, RunSucceeded, 3, 7, 20, 2, 1, (*string)(nil), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.StartRun(context.Background(), "run-1", started))
	require.NoError(t, store.FinishRun(context.Background(), "run-1", finished, RunSucceeded, summary, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "matches; DROP TABLE x", "")
	assert.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
