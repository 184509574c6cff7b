package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"
	"speakedu_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// AnalysisStore 编排器的持久化出口，由 repository.ProgressRepository 实现
type AnalysisStore interface {
	ItemForAnalysis(itemID uint) (*model.ItemProgress, string, error)
	MarkAnalyzing(itemID uint) error
	SaveAnalyzed(item *model.ItemProgress, res *model.ScoreResult, raw json.RawMessage, source string) error
	MarkFailed(itemID uint, attempts int, reason string) error
	AwaitingAnalysis(assignmentID uint, only []uint) ([]model.ItemProgress, error)
}

type analysisTask struct {
	itemID uint
	done   chan struct{}
	err    error
}

type failedEntry struct {
	attempts  int
	permanent bool
	lastErr   error
}

// Orchestrator 单个作业实例的录音分析编排器。
// pending 登记表与 failed 集合只由编排器自身修改，是提交闸门的唯一事实来源。
// 每个实例一个编排器，避免多会话互相污染。
type Orchestrator struct {
	assignmentID uint
	scorer       Scorer
	store        AnalysisStore
	cfg          config.AnalysisConfig
	sem          chan struct{}

	mu        sync.Mutex
	pending   map[uint]*analysisTask
	failed    map[uint]*failedEntry
	discarded bool
}

func NewOrchestrator(assignmentID uint, scorer Scorer, store AnalysisStore, cfg config.AnalysisConfig) *Orchestrator {
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 4
	}
	return &Orchestrator{
		assignmentID: assignmentID,
		scorer:       scorer,
		store:        store,
		cfg:          cfg,
		sem:          make(chan struct{}, maxConc),
		pending:      make(map[uint]*analysisTask),
		failed:       make(map[uint]*failedEntry),
	}
}

// OnRecordingCaptured 录音落库后的分析入口。
// analyzeNow 表示用户显式请求立即分析（阻塞等结果）；
// 否则后台分析，不阻塞用户继续下一条目。
func (o *Orchestrator) OnRecordingCaptured(ctx context.Context, itemID uint, analyzeNow bool) error {
	if analyzeNow {
		return o.AnalyzeBlocking(ctx, itemID)
	}
	o.AnalyzeBackground(itemID)
	return nil
}

// AnalyzeBlocking 同步分析一个条目，错误直接返回给调用方
func (o *Orchestrator) AnalyzeBlocking(ctx context.Context, itemID uint) error {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-o.sem }()

	return o.runAnalysis(ctx, itemID, "blocking")
}

// AnalyzeBackground 后台分析，对调用方永不报错；结果通过状态观察。
// 同一条目已在分析中时去重为 no-op。
func (o *Orchestrator) AnalyzeBackground(itemID uint) {
	o.spawn(itemID, "background")
}

// BackfillItem 服务端回填扫描使用的后台入口
func (o *Orchestrator) BackfillItem(itemID uint) {
	o.spawn(itemID, "backfill")
}

func (o *Orchestrator) spawn(itemID uint, mode string) {
	o.mu.Lock()
	if o.discarded {
		o.mu.Unlock()
		return
	}
	if _, busy := o.pending[itemID]; busy {
		o.mu.Unlock()
		return
	}
	task := &analysisTask{itemID: itemID, done: make(chan struct{})}
	o.pending[itemID] = task
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.pending, itemID)
			o.mu.Unlock()
			close(task.done)
		}()

		// 并发上限：超额任务在此排队而不是无界打到评分服务
		o.sem <- struct{}{}
		defer func() { <-o.sem }()

		// 离开条目页不会取消后台分析，任务始终允许跑完
		task.err = o.runAnalysis(context.Background(), itemID, mode)
	}()
}

// runAnalysis 分析一个条目并持久化结果。
// 录音哈希未变且已 analyzed 时是 no-op，保证重复分析不改已存分数。
func (o *Orchestrator) runAnalysis(ctx context.Context, itemID uint, mode string) error {
	item, refText, err := o.store.ItemForAnalysis(itemID)
	if err != nil {
		return err
	}
	if item.AnalysisStatus == model.AnalysisAnalyzed {
		return nil
	}
	if !item.HasRecording() {
		return util.ErrItemNotFound
	}

	if err := o.store.MarkAnalyzing(itemID); err != nil {
		return err
	}

	res, raw, err := o.scorer.Score(ctx, item.AudioRef, refText)
	if err != nil {
		o.recordFailure(itemID, err, mode)
		return err
	}

	if err := o.store.SaveAnalyzed(item, res, raw, mode); err != nil {
		o.recordFailure(itemID, err, mode)
		return err
	}

	o.mu.Lock()
	delete(o.failed, itemID)
	o.mu.Unlock()

	monitoring.AnalysisOutcomes.WithLabelValues(mode, "analyzed").Inc()
	return nil
}

func (o *Orchestrator) recordFailure(itemID uint, err error, mode string) {
	o.mu.Lock()
	entry := o.failed[itemID]
	if entry == nil {
		entry = &failedEntry{}
		o.failed[itemID] = entry
	}
	entry.attempts++
	entry.lastErr = err
	entry.permanent = !util.IsRetryable(err)
	attempts := entry.attempts
	o.mu.Unlock()

	if serr := o.store.MarkFailed(itemID, attempts, err.Error()); serr != nil {
		logger.Log.Error("mark item failed", zap.Uint("itemId", itemID), zap.Error(serr))
	}

	monitoring.AnalysisOutcomes.WithLabelValues(mode, "failed").Inc()
	logger.Log.Warn("item analysis failed",
		zap.Uint("assignmentId", o.assignmentID),
		zap.Uint("itemId", itemID),
		zap.Int("attempts", attempts),
		zap.Bool("retryable", !entry.permanent),
		zap.Error(err))
}

// ItemState 对外可见的条目分析状态投影
type ItemState struct {
	ItemID    uint                 `json:"itemId"`
	Status    model.AnalysisStatus `json:"status"`
	Attempts  int                  `json:"attempts"`
	LastError string               `json:"lastError,omitempty"`
}

// Revisit 用户回看条目时的状态：分析中/已评分/失败可重试/已录未分析
func (o *Orchestrator) Revisit(itemID uint) (*ItemState, error) {
	o.mu.Lock()
	_, analyzing := o.pending[itemID]
	entry := o.failed[itemID]
	o.mu.Unlock()

	if analyzing {
		return &ItemState{ItemID: itemID, Status: model.AnalysisAnalyzing}, nil
	}

	item, _, err := o.store.ItemForAnalysis(itemID)
	if err != nil {
		return nil, err
	}

	state := &ItemState{ItemID: itemID, Status: item.AnalysisStatus, Attempts: item.AttemptCount}
	if entry != nil {
		state.Attempts = entry.attempts
		if entry.lastErr != nil {
			state.LastError = entry.lastErr.Error()
		}
	} else if item.LastError != "" {
		state.LastError = item.LastError
	}
	return state, nil
}

// SubmissionBlocked 提交是否被阻塞，以及未解决的条目列表
func (o *Orchestrator) SubmissionBlocked(only []uint) (bool, []uint) {
	items, err := o.store.AwaitingAnalysis(o.assignmentID, only)
	if err != nil {
		return true, nil
	}
	if len(items) == 0 {
		o.mu.Lock()
		n := len(o.pending)
		o.mu.Unlock()
		return n > 0, nil
	}
	ids := make([]uint, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return true, ids
}

// SettleBeforeSubmit 提交闸门：
//  1. 等待登记表中全部在途任务结束；
//  2. 对失败集合做有界指数退避重试（每条目封顶 MaxAttempts 次）；
//  3. 对仍未 analyzed 的已录条目做最后一次同步分析；
//  4. 仍有剩余则整体失败并带回全部阻塞条目，绝不部分提交。
//
// only 非空时只结算这些条目（重交场景）。
func (o *Orchestrator) SettleBeforeSubmit(ctx context.Context, only []uint) error {
	start := time.Now()
	defer func() {
		monitoring.SettleDuration.Observe(time.Since(start).Seconds())
	}()

	o.mu.Lock()
	if o.discarded {
		o.mu.Unlock()
		return util.ErrSessionDiscarded
	}
	tasks := make([]*analysisTask, 0, len(o.pending))
	for _, t := range o.pending {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	// (a) 等待快照中的在途任务，完成顺序与录音顺序无关
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// (b) 失败集合的有界退避重试
	o.mu.Lock()
	failedIDs := make([]uint, 0, len(o.failed))
	for id := range o.failed {
		if inScope(id, only) {
			failedIDs = append(failedIDs, id)
		}
	}
	o.mu.Unlock()

	for _, itemID := range failedIDs {
		// attempts 只在评分/落库失败时前进；存储读取失败不计数，
		// 迭代上限保证循环必然终止
		for iter := 0; iter < o.cfg.MaxAttempts; iter++ {
			attempts, permanent, resolved := o.failureState(itemID)
			if resolved || permanent || attempts >= o.cfg.MaxAttempts {
				break
			}
			select {
			case <-time.After(o.backoffDelay(attempts)):
			case <-ctx.Done():
				return ctx.Err()
			}
			monitoring.AnalysisRetries.Inc()
			if err := o.runAnalysis(ctx, itemID, "settle"); err == nil {
				break
			}
		}
	}

	// (c) 兜底：凡有录音而未 analyzed 的条目，再给一次同步机会
	remaining, err := o.store.AwaitingAnalysis(o.assignmentID, only)
	if err != nil {
		return err
	}
	for _, item := range remaining {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = o.runAnalysis(ctx, item.ID, "settle")
	}

	// (d) 全有或全无
	blocking, err := o.store.AwaitingAnalysis(o.assignmentID, only)
	if err != nil {
		return err
	}
	if len(blocking) > 0 {
		ids := make([]uint, 0, len(blocking))
		for _, it := range blocking {
			ids = append(ids, it.ID)
		}
		logger.Log.Warn("submission blocked",
			zap.Uint("assignmentId", o.assignmentID),
			zap.Uints("itemIds", ids))
		return &util.SubmissionBlockedError{ItemIDs: ids}
	}
	return nil
}

// failureState 读取条目当前的失败计数；resolved 表示已不在失败集合中
func (o *Orchestrator) failureState(itemID uint) (attempts int, permanent bool, resolved bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.failed[itemID]
	if entry == nil {
		return 0, false, true
	}
	return entry.attempts, entry.permanent, false
}

func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	d := o.cfg.RetryBaseMs
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.cfg.RetryMaxMs {
			return o.cfg.RetryMaxMs
		}
	}
	if d > o.cfg.RetryMaxMs {
		d = o.cfg.RetryMaxMs
	}
	return d
}

// Discard 放弃整个作业会话：不等待也不取消在途任务，任其自然完成落库
func (o *Orchestrator) Discard() {
	o.mu.Lock()
	o.discarded = true
	o.mu.Unlock()
}

// Idle 无在途任务且无待重试失败，可被注册表回收。
// 永久失败不算在内：结论已落在 ItemProgress 里，不需要编排器活着。
func (o *Orchestrator) Idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) > 0 {
		return false
	}
	for _, entry := range o.failed {
		if !entry.permanent {
			return false
		}
	}
	return true
}

func inScope(id uint, only []uint) bool {
	if len(only) == 0 {
		return true
	}
	for _, v := range only {
		if v == id {
			return true
		}
	}
	return false
}
