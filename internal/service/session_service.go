package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vscan/internal/analyzer"
	"vscan/internal/config"
	"vscan/internal/detector"
	"vscan/internal/events"
	"vscan/internal/mq"
	"vscan/internal/probe"
	"vscan/internal/render"
	"vscan/internal/utils"
	"vscan/internal/wallet"
)

// publishTimeout 单个事件发布的超时
const publishTimeout = 2 * time.Second

// Notifier 分析完成通知
type Notifier interface {
	NotifyAnalysis(ctx context.Context, ev *mq.AnalysisEvent) error
}

// Dependencies 会话服务依赖, 除 Bus 外均可为 nil
type Dependencies struct {
	Bus            events.Bus
	Prober         probe.Prober
	Notifier       Notifier
	WalletProvider wallet.Provider
	// Delay 为 nil 时在配置区间内随机
	Delay func() time.Duration
}

// SessionService 会话服务
type SessionService struct {
	detector *detector.PlatformDetector
	bus      events.Bus
	prober   probe.Prober
	notifier Notifier
	provider wallet.Provider
	limiter  *utils.ConcurrencyLimiter
	samples  []config.SampleConfig
	delay    func() time.Duration
	ttl      time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewSessionService 创建会话服务
func NewSessionService(cfg *config.Config, deps Dependencies, logger *zap.Logger) *SessionService {
	bus := deps.Bus
	if bus == nil {
		bus = events.NewMemoryBus()
	}

	delay := deps.Delay
	if delay == nil {
		delay = randomDelay(cfg.Analysis.MinDelay(), cfg.Analysis.MaxDelay())
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SessionService{
		detector:   detector.NewPlatformDetector(),
		bus:        bus,
		prober:     deps.Prober,
		notifier:   deps.Notifier,
		provider:   deps.WalletProvider,
		limiter:    utils.NewConcurrencyLimiter(cfg.Analysis.MaxConcurrent),
		samples:    cfg.Samples,
		delay:      delay,
		ttl:        cfg.Session.GetTTL(),
		logger:     logger,
		sessions:   make(map[string]*session),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// randomDelay 返回 [min, max] 区间内的随机耗时
func randomDelay(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		if hi <= lo {
			return lo
		}
		return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
	}
}

// Detector 平台检测器
func (s *SessionService) Detector() *detector.PlatformDetector {
	return s.detector
}

// Bus 事件总线
func (s *SessionService) Bus() events.Bus {
	return s.bus
}

// Close 取消所有进行中的分析
func (s *SessionService) Close() {
	s.baseCancel()
}

// Count 当前会话数
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Create 创建新会话
func (s *SessionService) Create(ctx context.Context) Snapshot {
	sess := &session{
		id:        uuid.New().String(),
		status:    Status{Phase: PhaseIdle, Message: "Paste a video link to begin"},
		updatedAt: time.Now(),
	}
	sess.wallet = wallet.NewConnector(s.provider, s.walletListener(sess.id))

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", sess.id))

	sess.mu.Lock()
	snap := sess.snapshotLocked()
	sess.mu.Unlock()
	return snap
}

// Get 获取会话快照
func (s *SessionService) Get(id string) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

func (s *SessionService) lookup(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, utils.ErrSessionNotFound
	}
	return sess, nil
}

// Classify 对URL进行分类, 无状态
func (s *SessionService) Classify(rawURL string) detector.Classification {
	return s.detector.Classify(rawURL)
}

// AnalyzeURL 立即生成模拟识别结果, 无状态且不等待
func (s *SessionService) AnalyzeURL(rawURL string) analyzer.DetectionSet {
	return analyzer.Analyze(rawURL)
}

// Samples 预置示例列表
func (s *SessionService) Samples() []config.SampleConfig {
	out := make([]config.SampleConfig, len(s.samples))
	copy(out, s.samples)
	return out
}

// PreviewSample 用预置示例填充并预览
func (s *SessionService) PreviewSample(ctx context.Context, id string, index int) (Snapshot, error) {
	if index < 0 || index >= len(s.samples) {
		return Snapshot{}, utils.ErrSampleNotFound
	}
	return s.Preview(ctx, id, s.samples[index].URL)
}

// Preview 预览视频
func (s *SessionService) Preview(ctx context.Context, id, rawURL string) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	url := utils.TrimURL(rawURL)
	if url == "" {
		// 只更新状态文字, 不改变阶段
		snap := s.setMessage(sess, utils.StatusMessage(utils.ErrEmptyURL))
		return snap, utils.ErrEmptyURL
	}

	c := s.detector.Classify(url)
	view := render.Preview(s.detector, c, url)

	sess.mu.Lock()
	if url != sess.url {
		// 新链接使旧的分析与结果失效
		sess.cancelPendingLocked()
		sess.detections = nil
		sess.results = nil
	}
	sess.previewGen++
	gen := sess.previewGen
	sess.url = url
	sess.classification = &c
	sess.preview = &view

	var probeURL string
	if c.Kind == detector.KindDirectMedia && s.prober != nil {
		probeURL = url
	}

	// 同一链接的分析仍在进行时保留 analyzing 状态
	var seq uint64
	if sess.pending == nil {
		switch c.Kind {
		case detector.KindUnrecognizedID:
			sess.status = Status{Phase: PhaseFailed, Message: utils.StatusMessage(utils.ErrUnrecognizedID)}
		case detector.KindPlatformEmbed:
			sess.status = Status{Phase: PhaseLoaded, Message: "Video loaded"}
		default:
			if probeURL != "" {
				sess.status = Status{Phase: PhaseLoading, Message: "Loading video..."}
			} else {
				sess.status = Status{Phase: PhaseLoaded, Message: "Video loaded"}
			}
		}
		seq = sess.nextSeqLocked()
	}
	sess.updatedAt = time.Now()
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	if seq != 0 {
		s.publishStatus(sess, seq, snap.Status, 0)
	}
	s.logger.Info("preview",
		zap.String("session_id", sess.id),
		zap.String("url", url),
		zap.String("kind", string(c.Kind)))

	if probeURL != "" {
		go s.probeMedia(sess, gen, probeURL)
	}

	if c.Kind == detector.KindUnrecognizedID {
		return snap, utils.ErrUnrecognizedID
	}
	return snap, nil
}

// probeMedia 异步检查直接媒体地址, 失败时通过状态事件上报
func (s *SessionService) probeMedia(sess *session, gen uint64, url string) {
	err := s.prober.Probe(s.baseCtx, url)

	sess.mu.Lock()
	if sess.previewGen != gen {
		// 已有更新的预览
		sess.mu.Unlock()
		return
	}
	if err != nil && sess.preview != nil {
		sess.preview.Message = utils.StatusMessage(utils.ErrMediaLoad)
	}
	// 分析已开始时不覆盖状态栏
	if sess.status.Phase != PhaseLoading && sess.status.Phase != PhaseLoaded {
		sess.mu.Unlock()
		return
	}
	if err != nil {
		sess.status = Status{Phase: PhaseFailed, Message: utils.StatusMessage(utils.ErrMediaLoad)}
	} else {
		sess.status = Status{Phase: PhaseLoaded, Message: "Video loaded"}
	}
	sess.updatedAt = time.Now()
	st := sess.status
	seq := sess.nextSeqLocked()
	sess.mu.Unlock()

	if err != nil {
		s.logger.Warn("media probe failed", zap.String("session_id", sess.id), zap.String("url", url), zap.Error(err))
	}
	s.publishStatus(sess, seq, st, 0)
}

// Analyze 发起模拟分析, 同一会话内后发起的请求会取消之前未完成的请求
func (s *SessionService) Analyze(ctx context.Context, id, rawURL string) (*Ticket, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	url := utils.TrimURL(rawURL)
	if url == "" {
		s.setMessage(sess, utils.StatusMessage(utils.ErrEmptyURL))
		return nil, utils.ErrEmptyURL
	}

	ticket := newTicket(uuid.New().String(), sess.id, url)
	actx, cancel := context.WithCancel(s.baseCtx)

	sess.mu.Lock()
	sess.cancelPendingLocked()
	gen := sess.analysisGen
	sess.cancel = cancel
	sess.pending = ticket
	sess.url = url
	sess.status = Status{Phase: PhaseAnalyzing, Message: "Analyzing video..."}
	sess.updatedAt = time.Now()
	st := sess.status
	seq := sess.nextSeqLocked()
	sess.mu.Unlock()

	s.publishStatus(sess, seq, st, 0)
	s.logger.Info("analysis started",
		zap.String("session_id", sess.id),
		zap.String("analysis_id", ticket.ID),
		zap.String("url", url))

	go s.runAnalysis(actx, sess, ticket, gen, s.delay())

	return ticket, nil
}

// AnalyzeWait 发起分析并等待结果
func (s *SessionService) AnalyzeWait(ctx context.Context, id, rawURL string) (analyzer.DetectionSet, error) {
	ticket, err := s.Analyze(ctx, id, rawURL)
	if err != nil {
		return nil, err
	}
	return ticket.Wait(ctx)
}

// runAnalysis 模拟远程计算耗时后生成结果
func (s *SessionService) runAnalysis(ctx context.Context, sess *session, ticket *Ticket, gen uint64, delay time.Duration) {
	if err := s.limiter.Acquire(ctx); err != nil {
		ticket.resolve(nil, utils.ErrAnalysisCancelled)
		return
	}
	defer s.limiter.Release()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.logger.Info("analysis cancelled", zap.String("analysis_id", ticket.ID))
		ticket.resolve(nil, utils.ErrAnalysisCancelled)
		return
	case <-timer.C:
	}

	set := analyzer.Analyze(ticket.URL)
	view := render.Results(set)

	sess.mu.Lock()
	if sess.analysisGen != gen {
		sess.mu.Unlock()
		ticket.resolve(nil, utils.ErrAnalysisCancelled)
		return
	}
	sess.detections = set
	sess.results = &view
	sess.cancel = nil
	sess.pending = nil
	sess.status = Status{Phase: PhaseComplete, Message: fmt.Sprintf("Analysis complete: %d detection(s)", len(set))}
	sess.updatedAt = time.Now()
	st := sess.status
	seq := sess.nextSeqLocked()
	sess.mu.Unlock()

	ticket.resolve(set, nil)
	s.publishStatus(sess, seq, st, len(set))
	s.logger.Info("analysis complete",
		zap.String("session_id", sess.id),
		zap.String("analysis_id", ticket.ID),
		zap.Int("detections", len(set)))

	if s.notifier != nil {
		nctx, cancel := context.WithTimeout(s.baseCtx, publishTimeout)
		defer cancel()
		err := s.notifier.NotifyAnalysis(nctx, &mq.AnalysisEvent{
			AnalysisID:  ticket.ID,
			SessionID:   sess.id,
			URL:         ticket.URL,
			Kind:        string(s.detector.Classify(ticket.URL).Kind),
			Detections:  len(set),
			CompletedAt: time.Now(),
		})
		if err != nil {
			s.logger.Warn("analysis notification failed", zap.String("analysis_id", ticket.ID), zap.Error(err))
		}
	}
}

// Reset 清空会话显示, 取消进行中的分析
func (s *SessionService) Reset(ctx context.Context, id string) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	sess.cancelPendingLocked()
	sess.previewGen++
	sess.url = ""
	sess.classification = nil
	sess.preview = nil
	sess.detections = nil
	sess.results = nil
	sess.status = Status{Phase: PhaseReset, Message: "Reset"}
	sess.updatedAt = time.Now()
	snap := sess.snapshotLocked()
	seq := sess.nextSeqLocked()
	sess.mu.Unlock()

	s.publishStatus(sess, seq, snap.Status, 0)
	s.logger.Info("session reset", zap.String("session_id", sess.id))
	return snap, nil
}

// setMessage 仅更新状态文字
func (s *SessionService) setMessage(sess *session, message string) Snapshot {
	sess.mu.Lock()
	sess.status.Message = message
	sess.updatedAt = time.Now()
	snap := sess.snapshotLocked()
	seq := sess.nextSeqLocked()
	sess.mu.Unlock()

	s.publishStatus(sess, seq, snap.Status, 0)
	return snap
}

// publishStatus 按序号发布状态事件, 比已发布序号旧的事件被丢弃
func (s *SessionService) publishStatus(sess *session, seq uint64, st Status, detections int) {
	sess.pubMu.Lock()
	defer sess.pubMu.Unlock()

	if seq <= sess.published {
		s.logger.Debug("dropping stale status event", zap.String("session_id", sess.id), zap.Uint64("seq", seq))
		return
	}
	sess.published = seq

	s.publish(events.StatusEvent{
		Type:       events.TypeStatus,
		SessionID:  sess.id,
		Seq:        seq,
		Phase:      string(st.Phase),
		Message:    st.Message,
		Detections: detections,
		Time:       time.Now(),
	})
}

func (s *SessionService) publish(ev events.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish status event failed", zap.String("session_id", ev.SessionID), zap.Error(err))
	}
}

// Sweep 清理空闲超时且没有进行中分析的会话
func (s *SessionService) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	var expired []*session
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.pending == nil && now.Sub(sess.updatedAt) > s.ttl
		sess.mu.Unlock()
		if idle {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	// 断开钱包会发布事件, 不能持有全局锁
	for _, sess := range expired {
		sess.wallet.Disconnect()
	}

	if len(expired) > 0 {
		s.logger.Info("expired sessions removed", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// RunJanitor 周期性清理过期会话, ctx 结束时返回
func (s *SessionService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
