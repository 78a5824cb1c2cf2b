// Package store defines the persistence contracts and row types shared by
// the monitor pipeline. Implementations live in the postgres subpackage.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Target is a monitored forum author.
type Target struct {
	ID         int64     `json:"id"`
	UID        string    `json:"uid"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Enabled    bool      `json:"enabled"`
	Keywords   string    `json:"keywords"`    // comma-separated, empty means no filter
	FilterMode string    `json:"filter_mode"` // "any", "all", or "regex"
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SentRecord is one notification attempt for a post. Rows are created on
// every attempt, success or failure, and never updated afterwards.
type SentRecord struct {
	ID             int64
	TargetID       int64
	PostID         string
	ThreadID       string
	TopicTitle     string
	ContentPreview string
	SentAt         time.Time
	Success        bool
	ErrorMessage   string
}

// ArchivedPost is the durable copy of a crawled post. post_id carries a
// global uniqueness constraint; inserts that collide are silently skipped.
type ArchivedPost struct {
	ID           int64
	TargetID     int64
	PostID       string
	ThreadID     string
	TopicTitle   string
	QuoteContent string
	MainContent  string
	Forum        string
	PostDate     string
	PostTime     *time.Time
	Images       []string
	URL          string
	SyntheticID  bool
	TimeAccurate bool
	ArchivedAt   time.Time
}

// TaskStatus is the lifecycle state of an ArchiveTask.
type TaskStatus string

// Task status values persisted in archive_tasks.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// ArchiveTask tracks a multi-page history backfill for one target.
type ArchiveTask struct {
	ID            uuid.UUID  `json:"id"`
	TargetID      int64      `json:"target_id"`
	Status        TaskStatus `json:"status"`
	MaxPages      int        `json:"max_pages"`
	PagesDone     int        `json:"pages_done"`
	ItemsFound    int        `json:"items_found"`
	ItemsInserted int        `json:"items_inserted"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ScheduleRule is one time-window rule. Start and end are HH:MM strings and
// the range may wrap past midnight.
type ScheduleRule struct {
	ID              int64
	Name            string
	StartTime       string
	EndTime         string
	IntervalSeconds int
	IsSummary       bool
	Enabled         bool
	Priority        int
	CreatedAt       time.Time
}

// DailySummary marks that a summary-mode rule already fired for a target on
// a given calendar day (YYYY-MM-DD).
type DailySummary struct {
	ID       int64
	Date     string
	TargetID int64
	RuleID   int64
	SentAt   time.Time
	NewCount int
}

// SystemLog is one persisted log line, written in batches by the async
// logging core.
type SystemLog struct {
	Level     string
	Message   string
	TargetUID string
	CreatedAt time.Time
}

// TargetRepository reads monitor targets.
type TargetRepository interface {
	GetTarget(ctx context.Context, id int64) (Target, error)
	ListEnabledTargets(ctx context.Context) ([]Target, error)
}

// SentRepository tracks notification attempts per target.
type SentRepository interface {
	SentPostIDs(ctx context.Context, targetID int64) (map[string]struct{}, error)
	RecordSent(ctx context.Context, rec SentRecord) error
}

// ArchiveRepository stores durable post copies with global post_id dedup.
type ArchiveRepository interface {
	// ExistingPostIDs returns the subset of postIDs already archived, in one
	// batched query.
	ExistingPostIDs(ctx context.Context, postIDs []string) (map[string]struct{}, error)
	// InsertPosts bulk-inserts posts, skipping post_id collisions, and
	// returns the number of rows actually written.
	InsertPosts(ctx context.Context, posts []ArchivedPost) (int, error)
	// UpdatePostTime overwrites the stored timestamp after a successful
	// time-correction pass. The only permitted mutation of an archived row.
	UpdatePostTime(ctx context.Context, postID string, postDate string, postTime time.Time) error
}

// TaskRepository persists backfill task state transitions.
type TaskRepository interface {
	CreateTask(ctx context.Context, task ArchiveTask) error
	GetTask(ctx context.Context, id uuid.UUID) (ArchiveTask, error)
	// MarkTaskRunning flips a pending task to running once the crawl begins.
	MarkTaskRunning(ctx context.Context, id uuid.UUID) error
	UpdateTaskProgress(ctx context.Context, id uuid.UUID, pagesDone, itemsFound int) error
	FinishTask(ctx context.Context, id uuid.UUID, status TaskStatus, itemsInserted int, errMsg string, completedAt time.Time) error
}

// RuleRepository reads schedule rules.
type RuleRepository interface {
	ListEnabledRules(ctx context.Context) ([]ScheduleRule, error)
}

// SummaryRepository gates once-per-day summary sends.
type SummaryRepository interface {
	SummarySentToday(ctx context.Context, date string, ruleID int64) (bool, error)
	MarkSummarySent(ctx context.Context, s DailySummary) error
}

// LogRepository writes persisted log batches.
type LogRepository interface {
	InsertLogs(ctx context.Context, entries []SystemLog) error
}
