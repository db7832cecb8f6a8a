package run

import (
	"context"
	"sync"
	"testing"
	"time"

	"AutoAgent/internal/agent"
	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/observability/metrics"
	"AutoAgent/internal/task"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved map[string]int
}

func (r *recordingSaver) SaveMessages(_ context.Context, runID string, msgs []message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = make(map[string]int)
	}
	r.saved[runID] += len(msgs)
	return nil
}

func (r *recordingSaver) count(runID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved[runID]
}

// gatedGateway 在 Execute 中阻塞，直到 release 被关闭或上下文取消。
type gatedGateway struct {
	*gateway.Echo
	entered chan struct{}
	release chan struct{}
}

func newGatedGateway() *gatedGateway {
	return &gatedGateway{
		Echo:    gateway.NewEcho(),
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (g *gatedGateway) Execute(ctx context.Context, req gateway.ExecuteRequest) (string, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.Echo.Execute(ctx, req)
}

func waitState(t *testing.T, svc *Service, id string, want agent.State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap, err := svc.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if snap.State == want.String() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s did not reach %s, last state %s", id, want, snap.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitEntered(t *testing.T, gw *gatedGateway) {
	t.Helper()
	select {
	case <-gw.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("execute was never called")
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	saver := &recordingSaver{}
	collector := metrics.NewCollector("test")
	svc, err := NewService(gateway.NewEcho(), WithMessageSaver(saver), WithMetrics(collector))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Shutdown(context.Background())

	snap, err := svc.Start(context.Background(), Request{Goal: "plan a trip"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.ID == "" || snap.Goal != "plan a trip" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	final := waitState(t, svc, snap.ID, agent.StateStopped)
	if final.Stats.Completed != 2 || final.Stats.Pending != 0 {
		t.Fatalf("unexpected stats: %+v", final.Stats)
	}
	if len(final.Tasks) != 2 || final.Tasks[0].Status != task.StatusCompleted {
		t.Fatalf("unexpected tasks: %+v", final.Tasks)
	}
	if len(final.Messages) == 0 || final.Messages[0].Type != message.TypeGoal {
		t.Fatalf("first message should be the goal: %+v", final.Messages)
	}
	if saver.count(snap.ID) == 0 {
		t.Fatalf("messages were not persisted")
	}
}

func TestStartValidatesRequest(t *testing.T) {
	svc, _ := NewService(gateway.NewEcho())
	defer svc.Shutdown(context.Background())

	if _, err := svc.Start(context.Background(), Request{Goal: "  "}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty goal should be rejected, got %v", err)
	}
	if _, err := svc.Start(context.Background(), Request{Goal: "g", TaskSelection: "random"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unknown selection should be rejected, got %v", err)
	}
	negative := -1
	if _, err := svc.Start(context.Background(), Request{Goal: "g", MaxLoops: &negative}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("negative max loops should be rejected, got %v", err)
	}
	if _, err := svc.Get("missing"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewServiceRequiresGateway(t *testing.T) {
	if _, err := NewService(nil); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	gw := newGatedGateway()
	svc, _ := NewService(gw)
	defer svc.Shutdown(context.Background())

	snap, err := svc.Start(context.Background(), Request{Goal: "write a report"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, gw)

	if _, err := svc.Pause(snap.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	close(gw.release)

	paused := waitState(t, svc, snap.ID, agent.StatePaused)
	if paused.Stats.Completed != 1 {
		t.Fatalf("only the in-flight task should finish before pausing: %+v", paused.Stats)
	}
	if _, err := svc.Pause(snap.ID); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("pausing a paused run should conflict, got %v", err)
	}

	if _, err := svc.Resume(snap.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	final := waitState(t, svc, snap.ID, agent.StateStopped)
	if final.Stats.Completed != 2 {
		t.Fatalf("resumed run should finish remaining tasks: %+v", final.Stats)
	}
	if _, err := svc.Resume(snap.ID); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("resuming a stopped run should conflict, got %v", err)
	}
}

func TestStopHaltsRun(t *testing.T) {
	gw := newGatedGateway()
	svc, _ := NewService(gw)
	defer svc.Shutdown(context.Background())

	snap, _ := svc.Start(context.Background(), Request{Goal: "g"})
	waitEntered(t, gw)
	if _, err := svc.Stop(snap.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(gw.release)

	final := waitState(t, svc, snap.ID, agent.StateStopped)
	if final.Stats.Pending != 1 {
		t.Fatalf("second task should stay pending after stop: %+v", final.Stats)
	}
	if final.Error != "" {
		t.Fatalf("stop is not an error: %s", final.Error)
	}
}

func TestShutdownCancelsRunningRuns(t *testing.T) {
	gw := newGatedGateway()
	svc, _ := NewService(gw)

	snap, _ := svc.Start(context.Background(), Request{Goal: "g"})
	waitEntered(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	got, _ := svc.Get(snap.ID)
	if got.State != agent.StateStopped.String() {
		t.Fatalf("expected stopped after shutdown, got %s", got.State)
	}
	if _, err := svc.Start(context.Background(), Request{Goal: "late"}); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("start after shutdown should conflict, got %v", err)
	}
}

func TestMirrorsReceiveMessages(t *testing.T) {
	var (
		mu     sync.Mutex
		mirror = map[string]*message.Feed{}
	)
	factory := func(runID string) message.Sink {
		mu.Lock()
		defer mu.Unlock()
		feed := message.NewFeed()
		mirror[runID] = feed
		return feed
	}
	svc, _ := NewService(gateway.NewEcho(), WithMirrors(factory, nil))
	defer svc.Shutdown(context.Background())

	snap, _ := svc.Start(context.Background(), Request{Goal: "g"})
	final := waitState(t, svc, snap.ID, agent.StateStopped)

	mu.Lock()
	feed := mirror[snap.ID]
	mu.Unlock()
	if feed == nil {
		t.Fatalf("mirror factory was not called for %s", snap.ID)
	}
	if feed.Len() != len(final.Messages) {
		t.Fatalf("mirror has %d messages, primary %d", feed.Len(), len(final.Messages))
	}
}

func TestRequestOverridesDefaults(t *testing.T) {
	echo := gateway.NewEcho(gateway.WithInitialTasks("a", "b", "c"))
	svc, _ := NewService(echo, WithDefaults(Defaults{MaxLoops: 10, Analysis: true, FollowUps: true}))
	defer svc.Shutdown(context.Background())

	loops := 1
	noAnalysis := false
	snap, err := svc.Start(context.Background(), Request{Goal: "g", MaxLoops: &loops, Analysis: &noAnalysis})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitState(t, svc, snap.ID, agent.StateStopped)
	if final.Stats.Completed != 1 || final.Stats.Pending != 2 {
		t.Fatalf("max loops override not applied: %+v", final.Stats)
	}
	for _, msg := range final.Messages {
		if msg.Type == message.TypeThinking {
			t.Fatalf("analysis should be disabled")
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	svc, _ := NewService(gateway.NewEcho())
	defer svc.Shutdown(context.Background())

	first, _ := svc.Start(context.Background(), Request{Goal: "first"})
	time.Sleep(2 * time.Millisecond)
	second, _ := svc.Start(context.Background(), Request{Goal: "second"})

	all := svc.List(0)
	if len(all) != 2 || all[0].ID != second.ID || all[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", all)
	}
	if got := svc.List(1); len(got) != 1 || got[0].ID != second.ID {
		t.Fatalf("limit not applied: %+v", got)
	}
	if all[0].Messages != nil {
		t.Fatalf("list should not include messages")
	}
}

func TestMergeSettings(t *testing.T) {
	base := agent.ModelSettings{Model: "m1", Temperature: 0.2, Language: "English"}
	got := mergeSettings(base, &agent.ModelSettings{Model: "m2", MaxTokens: 100})
	if got.Model != "m2" || got.Temperature != 0.2 || got.MaxTokens != 100 || got.Language != "English" {
		t.Fatalf("unexpected merge: %+v", got)
	}
	if mergeSettings(base, nil) != base {
		t.Fatalf("nil override should keep base")
	}
}
