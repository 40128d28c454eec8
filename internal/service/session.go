package service

import (
	"context"
	"sync"
	"time"

	"vscan/internal/analyzer"
	"vscan/internal/detector"
	"vscan/internal/render"
	"vscan/internal/wallet"
)

// Phase 状态栏阶段
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseLoaded    Phase = "loaded"
	PhaseAnalyzing Phase = "analyzing"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
	PhaseReset     Phase = "reset"
)

// Status 状态栏
type Status struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// Snapshot 会话的只读快照
type Snapshot struct {
	ID             string                   `json:"id"`
	URL            string                   `json:"url,omitempty"`
	Status         Status                   `json:"status"`
	Classification *detector.Classification `json:"classification,omitempty"`
	Preview        *render.PreviewView      `json:"preview,omitempty"`
	Detections     analyzer.DetectionSet    `json:"detections,omitempty"`
	Results        *render.ResultView       `json:"results,omitempty"`
	Wallet         wallet.State             `json:"wallet"`
	Analyzing      bool                     `json:"analyzing"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// session 单个用户会话, 对应页面上的一组显示区域
type session struct {
	mu sync.Mutex

	id             string
	url            string
	status         Status
	classification *detector.Classification
	preview        *render.PreviewView
	detections     analyzer.DetectionSet
	results        *render.ResultView
	wallet         *wallet.Connector

	// 每次新的操作都会递增, 过期的异步结果据此丢弃
	previewGen  uint64
	analysisGen uint64
	cancel      context.CancelFunc
	pending     *Ticket

	// seq 在 mu 下随每次状态变化递增; published 由 pubMu 保护,
	// 发布顺序与状态变化顺序一致, 过期事件直接丢弃
	seq       uint64
	pubMu     sync.Mutex
	published uint64

	updatedAt time.Time
}

// nextSeqLocked 调用方需持有 s.mu
func (s *session) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// snapshotLocked 调用方需持有 s.mu
func (s *session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		URL:        s.url,
		Status:     s.status,
		Detections: s.detections,
		Analyzing:  s.pending != nil,
		UpdatedAt:  s.updatedAt,
	}
	if s.classification != nil {
		c := *s.classification
		snap.Classification = &c
	}
	if s.preview != nil {
		p := *s.preview
		snap.Preview = &p
	}
	if s.results != nil {
		r := *s.results
		snap.Results = &r
	}
	if s.wallet != nil {
		snap.Wallet = s.wallet.State()
	}
	return snap
}

// cancelPendingLocked 取消进行中的分析, 调用方需持有 s.mu
func (s *session) cancelPendingLocked() {
	s.analysisGen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.pending = nil
}

// Ticket 一次异步分析请求
type Ticket struct {
	ID        string `json:"analysis_id"`
	SessionID string `json:"session_id"`
	URL       string `json:"url"`

	done   chan struct{}
	result analyzer.DetectionSet
	err    error
}

func newTicket(id, sessionID, url string) *Ticket {
	return &Ticket{
		ID:        id,
		SessionID: sessionID,
		URL:       url,
		done:      make(chan struct{}),
	}
}

// resolve 只能调用一次
func (t *Ticket) resolve(set analyzer.DetectionSet, err error) {
	t.result = set
	t.err = err
	close(t.done)
}

// Wait 等待分析结束
func (t *Ticket) Wait(ctx context.Context) (analyzer.DetectionSet, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
