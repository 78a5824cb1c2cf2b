package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

func TestExistingPostIDsSingleBatchedQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids := []string{"100", "101", "102"}
	mock.ExpectQuery("SELECT post_id FROM reply_archive").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"post_id"}).AddRow("100").AddRow("102"))

	existing, err := NewArchiveStore(mock).ExistingPostIDs(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, existing, 2)
	require.Contains(t, existing, "100")
	require.Contains(t, existing, "102")
	require.NotContains(t, existing, "101")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingPostIDsEmptyInputSkipsQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existing, err := NewArchiveStore(mock).ExistingPostIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, existing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostsCountsOnlyNewRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	posts := []store.ArchivedPost{
		{TargetID: 1, PostID: "100", ThreadID: "9", ArchivedAt: now},
		{TargetID: 1, PostID: "101", ThreadID: "9", ArchivedAt: now},
	}

	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO reply_archive").
		WithArgs(posts[0].TargetID, posts[0].PostID, posts[0].ThreadID, posts[0].TopicTitle,
			posts[0].QuoteContent, posts[0].MainContent, posts[0].Forum, posts[0].PostDate,
			posts[0].PostTime, posts[0].Images, posts[0].URL, posts[0].SyntheticID,
			posts[0].TimeAccurate, posts[0].ArchivedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Second row collides on post_id and is skipped by ON CONFLICT.
	batch.ExpectExec("INSERT INTO reply_archive").
		WithArgs(posts[1].TargetID, posts[1].PostID, posts[1].ThreadID, posts[1].TopicTitle,
			posts[1].QuoteContent, posts[1].MainContent, posts[1].Forum, posts[1].PostDate,
			posts[1].PostTime, posts[1].Images, posts[1].URL, posts[1].SyntheticID,
			posts[1].TimeAccurate, posts[1].ArchivedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := NewArchiveStore(mock).InsertPosts(context.Background(), posts)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePostTimeMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	when := time.Date(2024, 1, 2, 18, 45, 11, 0, time.UTC)
	mock.ExpectExec("UPDATE reply_archive").
		WithArgs("2024-01-02", when, "999").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewArchiveStore(mock).UpdatePostTime(context.Background(), "999", "2024-01-02", when)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
