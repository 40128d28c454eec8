package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"vscan/internal/analyzer"
	"vscan/internal/config"
	"vscan/internal/events"
	"vscan/internal/mq"
	"vscan/internal/utils"
	"vscan/internal/wallet"
)

const testConfig = `
analysis:
  max_concurrent: 4
session:
  ttl: 60
samples:
  - name: Rick
    url: https://youtu.be/dQw4w9WgXcQ
  - name: Clip
    url: https://example.com/video.mp4
`

type fakeProber struct {
	err error
}

func (p *fakeProber) Probe(ctx context.Context, url string) error {
	return p.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*mq.AnalysisEvent
}

func (n *fakeNotifier) NotifyAnalysis(ctx context.Context, ev *mq.AnalysisEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// delaySequence 依次返回给定耗时, 用完后返回 0
func delaySequence(ds ...time.Duration) func() time.Duration {
	var mu sync.Mutex
	return func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		if len(ds) == 0 {
			return 0
		}
		d := ds[0]
		ds = ds[1:]
		return d
	}
}

func newTestService(t *testing.T, deps Dependencies) *SessionService {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if deps.Delay == nil {
		deps.Delay = delaySequence()
	}
	svc := NewSessionService(cfg, deps, zap.NewNop())
	t.Cleanup(svc.Close)
	return svc
}

// waitPhase 等待会话进入指定阶段
func waitPhase(t *testing.T, ch <-chan events.StatusEvent, phase Phase) events.StatusEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed before phase %s", phase)
			}
			if ev.Type == events.TypeStatus && ev.Phase == string(phase) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for phase %s", phase)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t, Dependencies{})

	snap := svc.Create(context.Background())
	if snap.ID == "" || snap.Status.Phase != PhaseIdle {
		t.Fatalf("unexpected new session %+v", snap)
	}
	if snap.Wallet.Available {
		t.Fatal("wallet should be unavailable without a provider")
	}

	got, err := svc.Get(snap.ID)
	if err != nil || got.ID != snap.ID {
		t.Fatalf("Get: %+v %v", got, err)
	}
	if _, err := svc.Get("missing"); !errors.Is(err, utils.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if svc.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", svc.Count())
	}
}

func TestPreview_Embed(t *testing.T) {
	svc := newTestService(t, Dependencies{})
	id := svc.Create(context.Background()).ID

	snap, err := svc.Preview(context.Background(), id, "  https://youtu.be/dQw4w9WgXcQ ")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if snap.Status.Phase != PhaseLoaded {
		t.Fatalf("expected loaded, got %+v", snap.Status)
	}
	if snap.Preview == nil || snap.Preview.Src != "https://www.youtube.com/embed/dQw4w9WgXcQ" {
		t.Fatalf("unexpected preview %+v", snap.Preview)
	}
	if snap.URL != "https://youtu.be/dQw4w9WgXcQ" {
		t.Fatalf("url not trimmed: %q", snap.URL)
	}
}

func TestPreview_EmptyKeepsPhase(t *testing.T) {
	svc := newTestService(t, Dependencies{})
	id := svc.Create(context.Background()).ID

	snap, err := svc.Preview(context.Background(), id, "   ")
	if !errors.Is(err, utils.ErrEmptyURL) {
		t.Fatalf("expected ErrEmptyURL, got %v", err)
	}
	if snap.Status.Phase != PhaseIdle || snap.Status.Message != "Please enter a video URL" {
		t.Fatalf("unexpected status %+v", snap.Status)
	}

	if _, err := svc.Analyze(context.Background(), id, ""); !errors.Is(err, utils.ErrEmptyURL) {
		t.Fatalf("expected ErrEmptyURL from Analyze, got %v", err)
	}
}

func TestPreview_UnrecognizedID(t *testing.T) {
	svc := newTestService(t, Dependencies{})
	id := svc.Create(context.Background()).ID

	snap, err := svc.Preview(context.Background(), id, "https://www.youtube.com/feed/trending")
	if !errors.Is(err, utils.ErrUnrecognizedID) {
		t.Fatalf("expected ErrUnrecognizedID, got %v", err)
	}
	if snap.Status.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %+v", snap.Status)
	}
}

func TestPreview_DirectMediaProbe(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		phase Phase
	}{
		{"playable", nil, PhaseLoaded},
		{"broken", utils.ErrMediaLoad, PhaseFailed},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			svc := newTestService(t, Dependencies{Prober: &fakeProber{err: c.err}})
			id := svc.Create(context.Background()).ID

			ch, cancel, _ := svc.Bus().Subscribe(context.Background(), id)
			defer cancel()

			snap, err := svc.Preview(context.Background(), id, "https://example.com/video.mp4")
			if err != nil {
				t.Fatalf("Preview: %v", err)
			}
			if snap.Status.Phase != PhaseLoading || snap.Preview.Mode != "media" {
				t.Fatalf("unexpected initial snapshot %+v", snap)
			}

			waitPhase(t, ch, PhaseLoading)
			waitPhase(t, ch, c.phase)

			got, _ := svc.Get(id)
			if got.Status.Phase != c.phase {
				t.Fatalf("expected %s, got %+v", c.phase, got.Status)
			}
		})
	}
}

func TestAnalyzeWait(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newTestService(t, Dependencies{Notifier: notifier})
	id := svc.Create(context.Background()).ID

	url := "https://youtu.be/dQw4w9WgXcQ"
	set, err := svc.AnalyzeWait(context.Background(), id, url)
	if err != nil {
		t.Fatalf("AnalyzeWait: %v", err)
	}
	if !reflect.DeepEqual(set, analyzer.Analyze(url)) {
		t.Fatalf("unexpected detections %+v", set)
	}

	snap, _ := svc.Get(id)
	if snap.Status.Phase != PhaseComplete || snap.Analyzing {
		t.Fatalf("unexpected status %+v", snap.Status)
	}
	if snap.Results == nil || len(snap.Results.Rows) != len(set) {
		t.Fatalf("unexpected results %+v", snap.Results)
	}

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.count())
	}
}

func TestAnalyze_LastRequestWins(t *testing.T) {
	svc := newTestService(t, Dependencies{Delay: delaySequence(time.Hour, 0)})
	id := svc.Create(context.Background()).ID

	first, err := svc.Analyze(context.Background(), id, "https://example.com/a.mp4")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := svc.Analyze(context.Background(), id, "https://example.com/b.mp4")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := first.Wait(ctx); !errors.Is(err, utils.ErrAnalysisCancelled) {
		t.Fatalf("expected first analysis cancelled, got %v", err)
	}
	set, err := second.Wait(ctx)
	if err != nil {
		t.Fatalf("second analysis: %v", err)
	}

	snap, _ := svc.Get(id)
	if snap.URL != "https://example.com/b.mp4" || !reflect.DeepEqual(snap.Detections, set) {
		t.Fatalf("session shows stale result %+v", snap)
	}
}

func TestReset_CancelsPending(t *testing.T) {
	svc := newTestService(t, Dependencies{Delay: delaySequence(time.Hour)})
	id := svc.Create(context.Background()).ID

	ticket, err := svc.Analyze(context.Background(), id, "https://example.com/a.mp4")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if snap, _ := svc.Get(id); !snap.Analyzing || snap.Status.Phase != PhaseAnalyzing {
		t.Fatalf("expected analyzing, got %+v", snap)
	}

	snap, err := svc.Reset(context.Background(), id)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if snap.Status.Phase != PhaseReset || snap.URL != "" || snap.Results != nil || snap.Analyzing {
		t.Fatalf("unexpected snapshot after reset %+v", snap)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := ticket.Wait(ctx); !errors.Is(err, utils.ErrAnalysisCancelled) {
		t.Fatalf("expected cancelled ticket, got %v", err)
	}
}

func TestPreviewSample(t *testing.T) {
	svc := newTestService(t, Dependencies{})
	id := svc.Create(context.Background()).ID

	if len(svc.Samples()) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(svc.Samples()))
	}
	snap, err := svc.PreviewSample(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("PreviewSample: %v", err)
	}
	if snap.Classification == nil || snap.Classification.ID != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected classification %+v", snap.Classification)
	}
	if _, err := svc.PreviewSample(context.Background(), id, 5); !errors.Is(err, utils.ErrSampleNotFound) {
		t.Fatalf("expected ErrSampleNotFound, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	svc := newTestService(t, Dependencies{})
	id := svc.Create(context.Background()).ID

	if n := svc.Sweep(time.Now()); n != 0 {
		t.Fatalf("fresh session should survive, removed %d", n)
	}
	if n := svc.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected 1 expired session, removed %d", n)
	}
	if _, err := svc.Get(id); !errors.Is(err, utils.ErrSessionNotFound) {
		t.Fatalf("expected session removed, got %v", err)
	}
}

func TestWallet(t *testing.T) {
	provider, err := wallet.NewStaticProvider([]string{"0x1111111111111111111111111111111111111111"}, "0x1")
	if err != nil {
		t.Fatal(err)
	}
	svc := newTestService(t, Dependencies{WalletProvider: provider})
	id := svc.Create(context.Background()).ID

	ch, cancel, _ := svc.Bus().Subscribe(context.Background(), id)
	defer cancel()

	st, err := svc.ConnectWallet(context.Background(), id)
	if err != nil {
		t.Fatalf("ConnectWallet: %v", err)
	}
	if !st.Connected {
		t.Fatalf("expected connected, got %+v", st)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.TypeWallet || ev.Wallet == nil || !ev.Wallet.Connected {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no wallet event")
	}

	// 钱包操作不影响预览/分析状态
	if snap, _ := svc.Get(id); snap.Status.Phase != PhaseIdle {
		t.Fatalf("wallet changed session phase: %+v", snap.Status)
	}

	st, _ = svc.DisconnectWallet(id)
	if st.Connected {
		t.Fatalf("expected disconnected, got %+v", st)
	}
}

func TestWallet_NoProvider(t *testing.T) {
	svc := newTestService(t, Dependencies{})
	id := svc.Create(context.Background()).ID

	st, err := svc.ConnectWallet(context.Background(), id)
	if err != nil {
		t.Fatalf("missing provider should not be an error: %v", err)
	}
	if st.Available || st.Message == "" {
		t.Fatalf("unexpected state %+v", st)
	}
}

// recordingBus 记录每个会话最后发布的状态事件, slow 阶段的事件发布前先等待
type recordingBus struct {
	slow Phase

	mu   sync.Mutex
	last map[string]events.StatusEvent
}

func (b *recordingBus) Publish(ctx context.Context, ev events.StatusEvent) error {
	if ev.Phase == string(b.slow) {
		time.Sleep(200 * time.Microsecond)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Type == events.TypeStatus {
		b.last[ev.SessionID] = ev
	}
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, sessionID string) (<-chan events.StatusEvent, func(), error) {
	return make(chan events.StatusEvent), func() {}, nil
}

func (b *recordingBus) lastEvent(sessionID string) events.StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[sessionID]
}

func TestStatusEvents_FollowStateOrder(t *testing.T) {
	bus := &recordingBus{slow: PhaseAnalyzing, last: make(map[string]events.StatusEvent)}
	svc := newTestService(t, Dependencies{
		Bus:   bus,
		Delay: func() time.Duration { return time.Hour },
	})
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		id := svc.Create(ctx).ID

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.Analyze(ctx, id, "https://example.com/a.mp4")
		}()
		go func() {
			defer wg.Done()
			svc.Reset(ctx, id)
		}()
		wg.Wait()

		snap, _ := svc.Get(id)
		ev := bus.lastEvent(id)
		if ev.Phase != string(snap.Status.Phase) {
			t.Fatalf("iteration %d: last published phase %q, session phase %q", i, ev.Phase, snap.Status.Phase)
		}
	}
}

// blockingBus 开启 block 后钱包事件阻塞到 release 关闭
type blockingBus struct {
	*events.MemoryBus
	block   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBus) Publish(ctx context.Context, ev events.StatusEvent) error {
	if b.block.Load() && ev.Type == events.TypeWallet {
		select {
		case b.entered <- struct{}{}:
		default:
		}
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.MemoryBus.Publish(ctx, ev)
}

func TestSweep_DoesNotBlockLookups(t *testing.T) {
	provider, err := wallet.NewStaticProvider([]string{"0x1111111111111111111111111111111111111111"}, "0x1")
	if err != nil {
		t.Fatal(err)
	}
	bus := &blockingBus{
		MemoryBus: events.NewMemoryBus(),
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	svc := newTestService(t, Dependencies{Bus: bus, WalletProvider: provider})
	ctx := context.Background()

	id := svc.Create(ctx).ID
	if _, err := svc.ConnectWallet(ctx, id); err != nil {
		t.Fatalf("ConnectWallet: %v", err)
	}
	bus.block.Store(true)

	swept := make(chan int, 1)
	go func() { swept <- svc.Sweep(time.Now().Add(2 * time.Minute)) }()

	select {
	case <-bus.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not disconnect the wallet")
	}

	looked := make(chan error, 1)
	go func() {
		live := svc.Create(ctx)
		_, err := svc.Get(live.ID)
		looked <- err
	}()

	select {
	case err := <-looked:
		if err != nil {
			t.Fatalf("Get on live session: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session lookups blocked while sweep publishes")
	}

	close(bus.release)
	if n := <-swept; n != 1 {
		t.Fatalf("expected 1 expired session, removed %d", n)
	}
}

func TestPreview_SameURLKeepsAnalyzing(t *testing.T) {
	svc := newTestService(t, Dependencies{Delay: delaySequence(time.Hour)})
	ctx := context.Background()
	id := svc.Create(ctx).ID

	url := "https://youtu.be/dQw4w9WgXcQ"
	if _, err := svc.Analyze(ctx, id, url); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	snap, err := svc.Preview(ctx, id, url)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if snap.Status.Phase != PhaseAnalyzing || !snap.Analyzing {
		t.Fatalf("preview of the analyzed url changed phase: %+v", snap.Status)
	}
	if snap.Preview == nil || snap.Preview.Mode != "embed" {
		t.Fatalf("preview not rendered %+v", snap.Preview)
	}

	// 不同链接取消分析并更新状态
	snap, err = svc.Preview(ctx, id, "https://youtu.be/aqz-KE-bpKQ")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if snap.Status.Phase != PhaseLoaded || snap.Analyzing {
		t.Fatalf("unexpected status after new url %+v", snap)
	}
}
