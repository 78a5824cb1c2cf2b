// Package monitor orchestrates incremental checks and history backfills
// over one shared browser, serialized through a single-slot guard.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/crawler"
	"github.com/Alexzz96/nga-monitor/internal/metrics"
	"github.com/Alexzz96/nga-monitor/internal/progress"
	"github.com/Alexzz96/nga-monitor/internal/store"
)

// ErrRunInProgress is returned when the orchestration slot is occupied.
var ErrRunInProgress = errors.New("another crawl run is already in progress")

const (
	defaultSendTimeout = 30 * time.Second
	previewRunes       = 500
	errMsgRunes        = 500
)

// Result is the structured outcome of one incremental check.
type Result struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	RepliesCount int    `json:"replies_count"`
	SentCount    int    `json:"sent_count"`
	// Fatal flags outcomes needing operator attention, such as an expired
	// forum session. Fatal results are never retried automatically.
	Fatal bool `json:"fatal,omitempty"`
}

// Fetcher is the crawl surface the orchestrator drives.
type Fetcher interface {
	FetchReplies(ctx context.Context, listURL string) ([]crawler.Post, error)
	FetchHistory(ctx context.Context, listURL string, maxPages int, onPage func(page int, posts []crawler.Post) error) ([]crawler.Post, error)
}

// Sender delivers one post notification; a nil error means delivered.
type Sender interface {
	SendReply(ctx context.Context, targetName string, post crawler.Post) error
}

// Limiter gates outbound notifications.
type Limiter interface {
	Acquire(ctx context.Context, timeout time.Duration) bool
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config tunes the orchestrator.
type Config struct {
	// SendTimeout bounds the rate limiter wait per notification.
	SendTimeout time.Duration
	// BaseContext bounds background backfill runs. A run outlives the
	// request that triggered it but must still stop on process shutdown.
	BaseContext context.Context
}

// Stores groups the repositories the orchestrator writes through.
type Stores struct {
	Targets store.TargetRepository
	Sent    store.SentRepository
	Archive store.ArchiveRepository
	Tasks   store.TaskRepository
}

// Orchestrator owns the check/backfill entry points.
type Orchestrator struct {
	cfg     Config
	stores  Stores
	fetcher Fetcher
	sender  Sender
	limiter Limiter
	guard   *Guard
	emitter progress.Emitter
	clock   Clock
	logger  *zap.Logger
	base    context.Context
}

func New(cfg Config, stores Stores, fetcher Fetcher, sender Sender, limiter Limiter, emitter progress.Emitter, clk Clock, logger *zap.Logger) *Orchestrator {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = systemClock{}
	}
	base := cfg.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Orchestrator{
		cfg:     cfg,
		stores:  stores,
		fetcher: fetcher,
		sender:  sender,
		limiter: limiter,
		guard:   &Guard{},
		emitter: emitter,
		clock:   clk,
		logger:  logger,
		base:    base,
	}
}

// Guard exposes the run slot for status reporting.
func (o *Orchestrator) Guard() *Guard { return o.guard }

// CheckAndSend crawls the target's current listing, archives every new
// reply, and notifies the ones passing the keyword filter. force sends the
// single most recent reply regardless of prior send state.
func (o *Orchestrator) CheckAndSend(ctx context.Context, targetID int64, force bool) (Result, error) {
	if !o.guard.TryBegin(RunCheck, targetID) {
		return Result{Message: "another run is in progress, check skipped"}, ErrRunInProgress
	}
	defer o.guard.End()

	started := o.clock.Now()
	res, err := o.runCheck(ctx, targetID, force)

	outcome := "success"
	switch {
	case res.Fatal:
		outcome = "fatal"
	case err != nil || !res.Success:
		outcome = "failure"
	}
	metrics.ObserveCheck(outcome, o.clock.Now().Sub(started))
	return res, err
}

func (o *Orchestrator) runCheck(ctx context.Context, targetID int64, force bool) (Result, error) {
	target, err := o.stores.Targets.GetTarget(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Message: "target not found"}, err
	}
	if err != nil {
		return Result{Message: "load target failed"}, err
	}
	if !target.Enabled && !force {
		return Result{Message: "target disabled"}, nil
	}

	log := o.logger.With(zap.String("target_uid", target.UID))
	log.Info("checking target", zap.Bool("force", force))

	sentIDs, err := o.stores.Sent.SentPostIDs(ctx, target.ID)
	if err != nil {
		return Result{Message: "load sent records failed"}, err
	}

	posts, err := o.fetcher.FetchReplies(ctx, target.URL)
	switch {
	case errors.Is(err, crawler.ErrLoginExpired):
		metrics.ObserveLoginExpiry()
		log.Error("forum session expired, re-authentication required")
		return Result{Message: "login expired, re-authentication required", Fatal: true}, nil
	case errors.Is(err, crawler.ErrRemoteRateLimited):
		return Result{Message: "remote rate limited, will retry on next schedule"}, nil
	case err != nil:
		return Result{Message: "crawl failed"}, err
	}

	if len(posts) == 0 {
		log.Info("no replies fetched")
		return Result{Success: true, Message: "no replies fetched"}, nil
	}

	// Newest first. Timestamped rows win over bare pid ordering.
	sort.Slice(posts, func(i, j int) bool { return posts[i].SortKey() > posts[j].SortKey() })

	var fresh []crawler.Post
	if force {
		fresh = posts[:1]
	} else {
		for _, p := range posts {
			if _, already := sentIDs[p.PostID]; !already {
				fresh = append(fresh, p)
			}
		}
	}

	// Durability is unconditional: new replies reach the archive whether or
	// not the keyword filter lets them notify.
	inserted, err := o.archivePosts(ctx, target.ID, fresh)
	if err != nil {
		log.Warn("archiving new replies failed", zap.Error(err))
	} else {
		metrics.AddArchivedPosts(inserted)
	}
	metrics.AddNewReplies(len(fresh))

	if len(fresh) == 0 {
		log.Info("no new replies", zap.Int("replies", len(posts)))
		return Result{Success: true, Message: "no new replies", RepliesCount: len(posts)}, nil
	}

	keywords := SplitKeywords(target.Keywords)
	var notify []crawler.Post
	for _, p := range fresh {
		if MatchesKeywords(p.ContentFull(), keywords, target.FilterMode, log) {
			notify = append(notify, p)
		}
	}
	if len(notify) == 0 {
		log.Info("new replies filtered out",
			zap.Int("new", len(fresh)), zap.Strings("keywords", keywords))
		return Result{Success: true, Message: "new replies filtered to zero", RepliesCount: len(posts)}, nil
	}

	sent := o.notifyAll(ctx, target, notify)
	return Result{
		Success:      true,
		Message:      fmt.Sprintf("sent %d of %d new replies", sent, len(notify)),
		RepliesCount: len(posts),
		SentCount:    sent,
	}, nil
}

// notifyAll sends each post behind the rate limiter, recording one
// SentRecord per attempt. A limiter timeout stops the remaining sends for
// this run; the next scheduled check picks them up.
func (o *Orchestrator) notifyAll(ctx context.Context, target store.Target, posts []crawler.Post) int {
	log := o.logger.With(zap.String("target_uid", target.UID))
	name := target.Name
	if name == "" {
		name = target.UID
	}

	sent := 0
	for _, p := range posts {
		waitStart := o.clock.Now()
		if !o.limiter.Acquire(ctx, o.cfg.SendTimeout) {
			metrics.ObserveRateLimitWait(o.clock.Now().Sub(waitStart))
			log.Warn("rate limiter timeout, deferring remaining notifications",
				zap.String("pid", p.PostID))
			o.recordAttempt(ctx, target.ID, p, false, "rate limiter timeout")
			break
		}
		metrics.ObserveRateLimitWait(o.clock.Now().Sub(waitStart))

		err := o.sender.SendReply(ctx, name, p)
		metrics.ObserveNotification(err == nil)
		if err != nil {
			log.Error("notification failed", zap.String("pid", p.PostID), zap.Error(err))
			o.recordAttempt(ctx, target.ID, p, false, err.Error())
			continue
		}
		log.Info("notification delivered", zap.String("pid", p.PostID))
		o.recordAttempt(ctx, target.ID, p, true, "")
		sent++
	}
	return sent
}

func (o *Orchestrator) recordAttempt(ctx context.Context, targetID int64, p crawler.Post, success bool, errMsg string) {
	rec := store.SentRecord{
		TargetID:       targetID,
		PostID:         p.PostID,
		ThreadID:       p.ThreadID,
		TopicTitle:     p.TopicTitle,
		ContentPreview: truncateRunes(p.ContentFull(), previewRunes),
		SentAt:         o.clock.Now(),
		Success:        success,
		ErrorMessage:   truncateRunes(errMsg, errMsgRunes),
	}
	if err := o.stores.Sent.RecordSent(ctx, rec); err != nil {
		o.logger.Warn("recording send attempt failed",
			zap.String("pid", p.PostID), zap.Error(err))
	}
}

func (o *Orchestrator) archivePosts(ctx context.Context, targetID int64, posts []crawler.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	rows := make([]store.ArchivedPost, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, archivedFromPost(targetID, p))
	}
	return o.stores.Archive.InsertPosts(ctx, rows)
}

func archivedFromPost(targetID int64, p crawler.Post) store.ArchivedPost {
	return store.ArchivedPost{
		TargetID:     targetID,
		PostID:       p.PostID,
		ThreadID:     p.ThreadID,
		TopicTitle:   p.TopicTitle,
		QuoteContent: p.QuoteContent,
		MainContent:  p.MainContent,
		Forum:        p.Forum,
		PostDate:     p.PostDate,
		PostTime:     p.PostTime,
		Images:       p.Images,
		URL:          p.URL,
		SyntheticID:  p.SyntheticID,
		TimeAccurate: p.TimeAccurate,
		ArchivedAt:   p.ScrapedAt,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// CheckAll runs an incremental check for every enabled target, in order.
// A target rejected because the slot is busy is reported and skipped.
type TargetResult struct {
	TargetID int64  `json:"target_id"`
	UID      string `json:"uid"`
	Result   Result `json:"result"`
}

func (o *Orchestrator) CheckAll(ctx context.Context) ([]TargetResult, error) {
	targets, err := o.stores.Targets.ListEnabledTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	results := make([]TargetResult, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := o.CheckAndSend(ctx, t.ID, false)
		if err != nil && !errors.Is(err, ErrRunInProgress) {
			o.logger.Warn("scheduled check failed",
				zap.String("target_uid", t.UID), zap.Error(err))
		}
		results = append(results, TargetResult{TargetID: t.ID, UID: t.UID, Result: res})
		if res.Fatal {
			// An expired session fails every subsequent target the same way.
			break
		}
	}
	return results, nil
}

// StartBackfill validates the request, persists a pending ArchiveTask and
// launches the crawl in the background. The returned ID can be polled via
// the task store.
func (o *Orchestrator) StartBackfill(ctx context.Context, targetID int64, maxPages int) (uuid.UUID, error) {
	if !o.guard.TryBegin(RunBackfill, targetID) {
		return uuid.Nil, ErrRunInProgress
	}

	target, err := o.stores.Targets.GetTarget(ctx, targetID)
	if err != nil {
		o.guard.End()
		return uuid.Nil, fmt.Errorf("load target: %w", err)
	}

	task := store.ArchiveTask{
		ID:        uuid.New(),
		TargetID:  targetID,
		Status:    store.TaskPending,
		MaxPages:  maxPages,
		CreatedAt: o.clock.Now(),
	}
	if err := o.stores.Tasks.CreateTask(ctx, task); err != nil {
		o.guard.End()
		return uuid.Nil, fmt.Errorf("create backfill task: %w", err)
	}

	go func() {
		defer o.guard.End()
		// Detach from the triggering request: the run is bounded by the
		// process lifetime instead, so shutdown still cancels the crawl.
		o.runBackfill(o.base, task, target)
	}()
	return task.ID, nil
}

// RunBackfill is the synchronous variant used by the CLI path.
func (o *Orchestrator) RunBackfill(ctx context.Context, targetID int64, maxPages int) (store.ArchiveTask, error) {
	if !o.guard.TryBegin(RunBackfill, targetID) {
		return store.ArchiveTask{}, ErrRunInProgress
	}
	defer o.guard.End()

	target, err := o.stores.Targets.GetTarget(ctx, targetID)
	if err != nil {
		return store.ArchiveTask{}, fmt.Errorf("load target: %w", err)
	}
	task := store.ArchiveTask{
		ID:        uuid.New(),
		TargetID:  targetID,
		Status:    store.TaskPending,
		MaxPages:  maxPages,
		CreatedAt: o.clock.Now(),
	}
	if err := o.stores.Tasks.CreateTask(ctx, task); err != nil {
		return store.ArchiveTask{}, fmt.Errorf("create backfill task: %w", err)
	}
	o.runBackfill(ctx, task, target)
	return o.stores.Tasks.GetTask(ctx, task.ID)
}

func (o *Orchestrator) runBackfill(ctx context.Context, task store.ArchiveTask, target store.Target) {
	log := o.logger.With(
		zap.String("task_id", task.ID.String()),
		zap.String("target_uid", target.UID))
	log.Info("backfill started", zap.Int("max_pages", task.MaxPages))

	if err := o.stores.Tasks.MarkTaskRunning(ctx, task.ID); err != nil {
		log.Error("marking task running failed", zap.Error(err))
	}

	o.emit(progress.Event{
		TaskID: task.ID, TargetID: target.ID, TS: o.clock.Now(),
		Stage: progress.StageTaskStart, PagesTotal: task.MaxPages,
	})

	total := 0
	posts, crawlErr := o.fetcher.FetchHistory(ctx, target.URL, task.MaxPages, func(page int, fresh []crawler.Post) error {
		total += len(fresh)
		o.emit(progress.Event{
			TaskID: task.ID, TargetID: target.ID, TS: o.clock.Now(),
			Stage: progress.StageTaskPage, Page: page,
			PagesTotal: task.MaxPages, Items: total,
		})
		return nil
	})

	// Whatever was gathered before a failure is still worth keeping; the
	// dedup insert makes a later retry safe. Bookkeeping from here on must
	// land even when the crawl itself was canceled.
	ctx = context.WithoutCancel(ctx)
	inserted, insertErr := o.archiveHistory(ctx, target.ID, posts)
	if insertErr != nil {
		log.Error("bulk insert failed", zap.Error(insertErr))
	} else {
		metrics.AddArchivedPosts(inserted)
	}

	now := o.clock.Now()
	switch {
	case crawlErr != nil || insertErr != nil:
		msg := errorText(crawlErr, insertErr)
		if errors.Is(crawlErr, crawler.ErrLoginExpired) {
			metrics.ObserveLoginExpiry()
		}
		if err := o.stores.Tasks.FinishTask(ctx, task.ID, store.TaskFailed, inserted, truncateRunes(msg, errMsgRunes), now); err != nil {
			log.Error("marking task failed failed", zap.Error(err))
		}
		o.emit(progress.Event{
			TaskID: task.ID, TargetID: target.ID, TS: now,
			Stage: progress.StageTaskError, Items: total, Note: truncateRunes(msg, 200),
		})
		log.Warn("backfill failed", zap.String("reason", msg), zap.Int("inserted", inserted))
	default:
		if err := o.stores.Tasks.FinishTask(ctx, task.ID, store.TaskCompleted, inserted, "", now); err != nil {
			log.Error("marking task completed failed", zap.Error(err))
		}
		o.emit(progress.Event{
			TaskID: task.ID, TargetID: target.ID, TS: now,
			Stage: progress.StageTaskDone, Items: total,
		})
		log.Info("backfill completed", zap.Int("found", total), zap.Int("inserted", inserted))
	}
}

// archiveHistory dedups against the archive in one batched query, then
// bulk-inserts the remainder.
func (o *Orchestrator) archiveHistory(ctx context.Context, targetID int64, posts []crawler.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.PostID)
	}
	existing, err := o.stores.Archive.ExistingPostIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("existing post ids: %w", err)
	}
	rows := make([]store.ArchivedPost, 0, len(posts))
	for _, p := range posts {
		if _, dup := existing[p.PostID]; dup {
			// A re-crawl can carry a corrected timestamp for a row that was
			// first archived with only a listing date. Refresh it in place.
			if p.TimeAccurate && p.PostTime != nil {
				if err := o.stores.Archive.UpdatePostTime(ctx, p.PostID, p.PostDate, *p.PostTime); err != nil && !errors.Is(err, store.ErrNotFound) {
					o.logger.Warn("post time refresh failed",
						zap.String("post_id", p.PostID), zap.Error(err))
				}
			}
			continue
		}
		rows = append(rows, archivedFromPost(targetID, p))
	}
	if len(rows) == 0 {
		return 0, nil
	}
	inserted, err := o.stores.Archive.InsertPosts(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("bulk insert: %w", err)
	}
	return inserted, nil
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter != nil {
		o.emitter.Emit(evt)
	}
}

func errorText(errs ...error) string {
	for _, err := range errs {
		if err != nil {
			return err.Error()
		}
	}
	return ""
}
