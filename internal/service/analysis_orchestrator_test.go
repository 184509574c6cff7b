package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/model"
	"speakedu_backend/internal/util"
	"speakedu_backend/pkg/logger"

	"go.uber.org/zap"
)

func init() {
	logger.Log = zap.NewNop()
}

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		MaxAttempts:    3,
		MaxConcurrency: 2,
		RetryBaseMs:    time.Millisecond,
		RetryMaxMs:     4 * time.Millisecond,
	}
}

// fakeScorer 按调用顺序回放脚本化的评分结果
type fakeScorer struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (f *fakeScorer) Score(ctx context.Context, audioRef, referenceText string) (*model.ScoreResult, json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.results) && f.results[idx] != nil {
		return nil, nil, f.results[idx]
	}
	return &model.ScoreResult{Overall: 87.5, Completeness: 100}, json.RawMessage(`{"overall":87.5}`), nil
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore 内存版条目存储
type fakeStore struct {
	mu    sync.Mutex
	items map[uint]model.ItemProgress
}

func newFakeStore(items ...model.ItemProgress) *fakeStore {
	s := &fakeStore{items: make(map[uint]model.ItemProgress)}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func (s *fakeStore) ItemForAnalysis(itemID uint) (*model.ItemProgress, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, "", util.ErrItemNotFound
	}
	cp := it
	return &cp, "Good morning!", nil
}

func (s *fakeStore) MarkAnalyzing(itemID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[itemID]
	it.AnalysisStatus = model.AnalysisAnalyzing
	s.items[itemID] = it
	return nil
}

func (s *fakeStore) SaveAnalyzed(item *model.ItemProgress, res *model.ScoreResult, raw json.RawMessage, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[item.ID]
	it.RawScore = raw
	it.OverallScore = res.Overall
	it.Completeness = res.Completeness
	it.AnalysisStatus = model.AnalysisAnalyzed
	it.Completed = true
	s.items[item.ID] = it
	return nil
}

func (s *fakeStore) MarkFailed(itemID uint, attempts int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[itemID]
	it.AnalysisStatus = model.AnalysisFailed
	it.AttemptCount = attempts
	it.LastError = reason
	s.items[itemID] = it
	return nil
}

func (s *fakeStore) AwaitingAnalysis(assignmentID uint, only []uint) ([]model.ItemProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ItemProgress
	for _, it := range s.items {
		if it.AssignmentID != assignmentID || !it.NeedsAnalysis() {
			continue
		}
		if len(only) > 0 && !containsID(only, it.ID) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *fakeStore) status(itemID uint) model.AnalysisStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[itemID].AnalysisStatus
}

func recordedItem(id, assignmentID uint) model.ItemProgress {
	it := model.ItemProgress{
		AssignmentID:   assignmentID,
		AudioRef:       "/uploads/recordings/abc.webm",
		AudioHash:      "abc",
		AnalysisStatus: model.AnalysisRecorded,
	}
	it.ID = id
	return it
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		n := len(o.pending)
		o.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("orchestrator did not drain pending tasks")
}

func TestOrchestrator_BackgroundAnalysisSettles(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10), recordedItem(2, 10), recordedItem(3, 10))
	scorer := &fakeScorer{}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	for _, id := range []uint{1, 2, 3} {
		if err := o.OnRecordingCaptured(context.Background(), id, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := o.SettleBeforeSubmit(context.Background(), nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	for _, id := range []uint{1, 2, 3} {
		if got := store.status(id); got != model.AnalysisAnalyzed {
			t.Fatalf("item %d: got status %s, want analyzed", id, got)
		}
	}
}

// gateScorer 统计同时在跑的评分调用数
type gateScorer struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (g *gateScorer) Score(ctx context.Context, audioRef, referenceText string) (*model.ScoreResult, json.RawMessage, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return &model.ScoreResult{Overall: 80, Completeness: 100}, json.RawMessage(`{"overall":80}`), nil
}

func TestOrchestrator_ConcurrencyCap(t *testing.T) {
	items := []model.ItemProgress{
		recordedItem(1, 10), recordedItem(2, 10), recordedItem(3, 10),
		recordedItem(4, 10), recordedItem(5, 10), recordedItem(6, 10),
	}
	store := newFakeStore(items...)
	scorer := &gateScorer{}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	for id := uint(1); id <= 6; id++ {
		o.AnalyzeBackground(id)
	}
	waitIdle(t, o)

	scorer.mu.Lock()
	maxSeen := scorer.maxSeen
	scorer.mu.Unlock()
	if maxSeen > 2 {
		t.Fatalf("observed %d concurrent scorings, cap is 2", maxSeen)
	}
	for id := uint(1); id <= 6; id++ {
		if got := store.status(id); got != model.AnalysisAnalyzed {
			t.Fatalf("item %d: got status %s, want analyzed", id, got)
		}
	}
}

func TestOrchestrator_BlockingAnalysisReturnsError(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	scorer := &fakeScorer{results: []error{util.NewScoringError(util.ScoringCodeUnavailable, errors.New("down"))}}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	err := o.OnRecordingCaptured(context.Background(), 1, true)
	if err == nil {
		t.Fatal("expected blocking analysis to surface the error")
	}
	if util.IsRetryable(err) != true {
		t.Fatalf("service_unavailable must be retryable, got %v", err)
	}

	state, err := o.Revisit(1)
	if err != nil {
		t.Fatalf("revisit failed: %v", err)
	}
	if state.Status != model.AnalysisFailed {
		t.Fatalf("got status %s, want failed", state.Status)
	}
	if state.Attempts != 1 {
		t.Fatalf("got %d attempts, want 1", state.Attempts)
	}
}

func TestOrchestrator_SettleRetriesTransientFailure(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	// 失败两次后成功，仍在 MaxAttempts=3 之内
	scorer := &fakeScorer{results: []error{
		util.NewScoringError(util.ScoringCodeUnavailable, errors.New("down")),
		util.NewScoringError(util.ScoringCodeTimeout, errors.New("slow")),
	}}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	o.AnalyzeBackground(1)
	waitIdle(t, o)

	if err := o.SettleBeforeSubmit(context.Background(), nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if got := store.status(1); got != model.AnalysisAnalyzed {
		t.Fatalf("got status %s, want analyzed", got)
	}
	if scorer.callCount() != 3 {
		t.Fatalf("got %d scorer calls, want 3", scorer.callCount())
	}
}

func TestOrchestrator_SettleBlocksWhenRetriesExhausted(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	down := util.NewScoringError(util.ScoringCodeUnavailable, errors.New("down"))
	scorer := &fakeScorer{results: []error{down, down, down, down, down, down}}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	o.AnalyzeBackground(1)
	waitIdle(t, o)

	err := o.SettleBeforeSubmit(context.Background(), nil)
	if err == nil {
		t.Fatal("expected settle to fail")
	}
	ids, ok := util.BlockedItems(err)
	if !ok {
		t.Fatalf("expected SubmissionBlockedError, got %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("got blocked items %v, want [1]", ids)
	}
	// 后台1次 + 结算期重试到 MaxAttempts=3 + 兜底1次
	if scorer.callCount() != 4 {
		t.Fatalf("got %d scorer calls, want 4", scorer.callCount())
	}
}

// outageStore 可切换为持久化故障模式的条目存储
type outageStore struct {
	*fakeStore
	omu  sync.Mutex
	down bool
}

func (s *outageStore) setDown(down bool) {
	s.omu.Lock()
	s.down = down
	s.omu.Unlock()
}

func (s *outageStore) MarkAnalyzing(itemID uint) error {
	s.omu.Lock()
	down := s.down
	s.omu.Unlock()
	if down {
		return errors.New("db down")
	}
	return s.fakeStore.MarkAnalyzing(itemID)
}

func TestOrchestrator_SettleTerminatesOnStoreError(t *testing.T) {
	// 后台瞬时失败把条目放进失败集合，随后存储层整体故障：
	// attempts 不再前进，结算仍须在有限步内以阻塞错误收尾
	store := &outageStore{fakeStore: newFakeStore(recordedItem(1, 10))}
	scorer := &fakeScorer{results: []error{util.NewScoringError(util.ScoringCodeUnavailable, errors.New("down"))}}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	o.AnalyzeBackground(1)
	waitIdle(t, o)
	store.setDown(true)

	done := make(chan error, 1)
	go func() {
		done <- o.SettleBeforeSubmit(context.Background(), nil)
	}()

	select {
	case err := <-done:
		ids, ok := util.BlockedItems(err)
		if !ok {
			t.Fatalf("expected SubmissionBlockedError, got %v", err)
		}
		if len(ids) != 1 || ids[0] != 1 {
			t.Fatalf("got blocked items %v, want [1]", ids)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("settle did not terminate while the store was erroring")
	}
}

func TestOrchestrator_PermanentFailureNotRetried(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	bad := util.NewScoringError(util.ScoringCodeInvalidInput, errors.New("corrupt audio"))
	scorer := &fakeScorer{results: []error{bad, bad, bad}}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	o.AnalyzeBackground(1)
	waitIdle(t, o)

	err := o.SettleBeforeSubmit(context.Background(), nil)
	if _, ok := util.BlockedItems(err); !ok {
		t.Fatalf("expected SubmissionBlockedError, got %v", err)
	}
	// 后台1次 + 兜底1次；invalid_input 不进入退避重试
	if scorer.callCount() != 2 {
		t.Fatalf("got %d scorer calls, want 2", scorer.callCount())
	}
}

func TestOrchestrator_AnalyzedItemIsNoOp(t *testing.T) {
	it := recordedItem(1, 10)
	it.AnalysisStatus = model.AnalysisAnalyzed
	store := newFakeStore(it)
	scorer := &fakeScorer{}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	if err := o.AnalyzeBlocking(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scorer.callCount() != 0 {
		t.Fatalf("analyzed item must not be re-scored, got %d calls", scorer.callCount())
	}
}

func TestOrchestrator_DiscardedSessionRefusesSettle(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	o := NewOrchestrator(10, &fakeScorer{}, store, testAnalysisConfig())

	o.Discard()
	if err := o.SettleBeforeSubmit(context.Background(), nil); !errors.Is(err, util.ErrSessionDiscarded) {
		t.Fatalf("got %v, want ErrSessionDiscarded", err)
	}

	// 放弃后不再接受新任务
	o.AnalyzeBackground(1)
	waitIdle(t, o)
	if got := store.status(1); got != model.AnalysisRecorded {
		t.Fatalf("discarded orchestrator must not analyze, got %s", got)
	}
}

func TestOrchestrator_ScopedSettleIgnoresOtherUnits(t *testing.T) {
	// 条目1失败、条目2正常；只结算条目2时条目1不阻塞提交
	store := newFakeStore(recordedItem(1, 10), recordedItem(2, 10))
	bad := util.NewScoringError(util.ScoringCodeInvalidInput, errors.New("corrupt"))
	scorer := &fakeScorer{results: []error{bad}}
	o := NewOrchestrator(10, scorer, store, testAnalysisConfig())

	o.AnalyzeBackground(1)
	waitIdle(t, o)

	if err := o.SettleBeforeSubmit(context.Background(), []uint{2}); err != nil {
		t.Fatalf("scoped settle failed: %v", err)
	}
	if got := store.status(2); got != model.AnalysisAnalyzed {
		t.Fatalf("item 2: got status %s, want analyzed", got)
	}
}

func TestOrchestrator_SubmissionBlockedSignal(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	o := NewOrchestrator(10, &fakeScorer{}, store, testAnalysisConfig())

	blocked, ids := o.SubmissionBlocked(nil)
	if !blocked || len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("got blocked=%v ids=%v, want blocked with [1]", blocked, ids)
	}

	if err := o.AnalyzeBlocking(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocked, _ = o.SubmissionBlocked(nil)
	if blocked {
		t.Fatal("analyzed assignment must not be blocked")
	}
}

func TestOrchestrator_RevisitPendingShowsAnalyzing(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	o := NewOrchestrator(10, &fakeScorer{}, store, testAnalysisConfig())

	o.mu.Lock()
	o.pending[1] = &analysisTask{itemID: 1, done: make(chan struct{})}
	o.mu.Unlock()

	state, err := o.Revisit(1)
	if err != nil {
		t.Fatalf("revisit failed: %v", err)
	}
	if state.Status != model.AnalysisAnalyzing {
		t.Fatalf("got %s, want analyzing while task pending", state.Status)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := config.AnalysisConfig{
		MaxAttempts:    5,
		MaxConcurrency: 1,
		RetryBaseMs:    100 * time.Millisecond,
		RetryMaxMs:     400 * time.Millisecond,
	}
	o := NewOrchestrator(1, &fakeScorer{}, newFakeStore(), cfg)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 400 * time.Millisecond}, // 封顶
		{10, 400 * time.Millisecond},
	}
	for _, c := range cases {
		if got := o.backoffDelay(c.attempt); got != c.want {
			t.Fatalf("attempt %d: got %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestOrchestrator_Idle(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	o := NewOrchestrator(10, &fakeScorer{}, store, testAnalysisConfig())

	if !o.Idle() {
		t.Fatal("fresh orchestrator must be idle")
	}
	if err := o.AnalyzeBlocking(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.Idle() {
		t.Fatal("orchestrator must be idle after successful analysis")
	}
}

func TestOrchestrator_IdleWithFailures(t *testing.T) {
	store := newFakeStore(recordedItem(1, 10))
	transient := util.NewScoringError(util.ScoringCodeUnavailable, errors.New("down"))
	o := NewOrchestrator(10, &fakeScorer{results: []error{transient}}, store, testAnalysisConfig())

	if err := o.AnalyzeBlocking(context.Background(), 1); err == nil {
		t.Fatal("expected transient failure")
	}
	if o.Idle() {
		t.Fatal("retryable failure must keep the orchestrator alive")
	}

	// 永久失败已落库在条目上，编排器可被回收
	bad := util.NewScoringError(util.ScoringCodeInvalidInput, errors.New("corrupt"))
	o2 := NewOrchestrator(10, &fakeScorer{results: []error{bad}}, newFakeStore(recordedItem(1, 10)), testAnalysisConfig())
	if err := o2.AnalyzeBlocking(context.Background(), 1); err == nil {
		t.Fatal("expected permanent failure")
	}
	if !o2.Idle() {
		t.Fatal("permanent-only failures must count as idle")
	}
}
