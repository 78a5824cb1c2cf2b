package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

func TestSentPostIDsIncludesFailedAttempts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT post_id FROM sent_records").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"post_id"}).AddRow("100").AddRow("101"))

	ids, err := NewSentStore(mock).SentPostIDs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Contains(t, ids, "101")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := store.SentRecord{
		TargetID:       1,
		PostID:         "100",
		ThreadID:       "9",
		TopicTitle:     "话题",
		ContentPreview: "回复内容",
		SentAt:         time.Unix(1700000000, 0).UTC(),
		Success:        false,
		ErrorMessage:   "webhook down",
	}

	mock.ExpectExec("INSERT INTO sent_records").
		WithArgs(rec.TargetID, rec.PostID, rec.ThreadID, rec.TopicTitle,
			rec.ContentPreview, rec.SentAt, rec.Success, rec.ErrorMessage).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewSentStore(mock).RecordSent(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
