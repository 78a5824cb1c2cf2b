package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

// ArchiveStore implements store.ArchiveRepository.
type ArchiveStore struct {
	db DB
}

// NewArchiveStore wraps the shared pool.
func NewArchiveStore(db DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// ExistingPostIDs returns the subset of postIDs already present in the
// archive, using a single ANY() query rather than per-row lookups.
func (s *ArchiveStore) ExistingPostIDs(ctx context.Context, postIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(postIDs) == 0 {
		return existing, nil
	}
	query := `SELECT post_id FROM reply_archive WHERE post_id = ANY($1);`
	rows, err := s.db.Query(ctx, query, postIDs)
	if err != nil {
		return nil, fmt.Errorf("query existing post ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan existing post id: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing post ids: %w", err)
	}
	return existing, nil
}

// InsertPosts bulk-inserts posts in one batch. post_id collisions are
// skipped by the unique constraint, so re-running an identical batch is a
// no-op. Returns the number of rows actually written.
func (s *ArchiveStore) InsertPosts(ctx context.Context, posts []store.ArchivedPost) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO reply_archive
			(target_id, post_id, thread_id, topic_title, quote_content, main_content,
			 forum, post_date, post_time, images, url, synthetic_id, time_accurate, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (post_id) DO NOTHING;
	`
	batch := &pgx.Batch{}
	for _, p := range posts {
		batch.Queue(query,
			p.TargetID,
			p.PostID,
			p.ThreadID,
			p.TopicTitle,
			p.QuoteContent,
			p.MainContent,
			p.Forum,
			p.PostDate,
			p.PostTime,
			p.Images,
			p.URL,
			p.SyntheticID,
			p.TimeAccurate,
			p.ArchivedAt,
		)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range posts {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert archived post: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// UpdatePostTime overwrites a row's timestamp after time correction.
func (s *ArchiveStore) UpdatePostTime(ctx context.Context, postID string, postDate string, postTime time.Time) error {
	query := `
		UPDATE reply_archive
		SET post_date = $1, post_time = $2, time_accurate = TRUE
		WHERE post_id = $3;
	`
	tag, err := s.db.Exec(ctx, query, postDate, postTime, postID)
	if err != nil {
		return fmt.Errorf("update post time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
