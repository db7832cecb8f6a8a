package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/observability/alerting"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
)

// State 表示编排器的运行状态。
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// DefaultMaxLoops 是未配置时允许到达终态的任务数量上限。
const DefaultMaxLoops = 25

// MessageSaver 持久化一批消息。
type MessageSaver interface {
	SaveMessages(ctx context.Context, runID string, msgs []message.Message) error
}

// Observer 接收工作单元与状态迁移的观测数据。
type Observer interface {
	ObserveWork(kind, outcome string, duration time.Duration)
	ObserveState(state string)
}

// AutonomousAgent 驱动工作单元逐个执行，直到没有后续工作、被停止或出错。
//
// 一个实例只运行一次。Stop 与 Pause 只在两个工作单元之间生效。
type AutonomousAgent struct {
	runID     string
	store     task.Store
	sink      message.Sink
	gateway   gateway.Gateway
	saver     MessageSaver
	alerts    alerting.Dispatcher
	observer  Observer
	selector  task.Selector
	scheduler Scheduler
	settings  ModelSettings
	maxLoops  int
	analyze   bool
	followUps bool
	summarize bool
	log       *slog.Logger

	state    atomic.Int32
	stopReq  atomic.Bool
	pauseReq atomic.Bool

	mu      sync.Mutex
	started bool
	pending AgentWork
	lastErr error
}

// Option 定义可选的编排器配置。
type Option func(*AutonomousAgent)

// WithSelector 设置待执行任务的选择策略。
func WithSelector(selector task.Selector) Option {
	return func(a *AutonomousAgent) {
		if selector != nil {
			a.selector = selector
		}
	}
}

// WithScheduler 替换默认调度策略。
func WithScheduler(scheduler Scheduler) Option {
	return func(a *AutonomousAgent) {
		if scheduler != nil {
			a.scheduler = scheduler
		}
	}
}

// WithMaxLoops 设置到达终态的任务数量上限，小于等于 0 表示不限制。
func WithMaxLoops(n int) Option {
	return func(a *AutonomousAgent) {
		a.maxLoops = n
	}
}

// WithoutAnalysis 跳过分析步骤，任务直接以默认分析执行。
func WithoutAnalysis() Option {
	return func(a *AutonomousAgent) {
		a.analyze = false
	}
}

// WithFollowUps 控制任务完成后是否生成后续任务。
func WithFollowUps(enabled bool) Option {
	return func(a *AutonomousAgent) {
		a.followUps = enabled
	}
}

// WithSummary 控制结束时是否请求总结。
func WithSummary(enabled bool) Option {
	return func(a *AutonomousAgent) {
		a.summarize = enabled
	}
}

// WithModelSettings 设置调用网关时使用的模型参数。
func WithModelSettings(settings ModelSettings) Option {
	return func(a *AutonomousAgent) {
		a.settings = settings
	}
}

// WithMessageSaver 配置消息持久化。
func WithMessageSaver(saver MessageSaver) Option {
	return func(a *AutonomousAgent) {
		a.saver = saver
	}
}

// WithAlertDispatcher 配置进入 Errored 时的告警。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(a *AutonomousAgent) {
		a.alerts = d
	}
}

// WithObserver 配置指标观测。
func WithObserver(o Observer) Option {
	return func(a *AutonomousAgent) {
		a.observer = o
	}
}

// New 创建编排器。store、sink 与 gw 必须提供。
func New(runID string, store task.Store, sink message.Sink, gw gateway.Gateway, opts ...Option) (*AutonomousAgent, error) {
	// 验证必要的组件是否已配置。
	if store == nil || sink == nil || gw == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储、消息流与网关均不能为空")
	}
	a := &AutonomousAgent{
		runID:     runID,
		store:     store,
		sink:      sink,
		gateway:   gw,
		selector:  task.FIFO(),
		scheduler: DefaultScheduler,
		maxLoops:  DefaultMaxLoops,
		analyze:   true,
		followUps: true,
		log:       logger.ForRun(runID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// RunID 返回运行标识。
func (a *AutonomousAgent) RunID() string { return a.runID }

// Store 返回任务存储。
func (a *AutonomousAgent) Store() task.Store { return a.store }

// State 返回当前状态。
func (a *AutonomousAgent) State() State { return State(a.state.Load()) }

// Err 返回导致 Errored 的错误。
func (a *AutonomousAgent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Run 从发送目标开始执行整个运行。
func (a *AutonomousAgent) Run(ctx context.Context) error {
	return a.RunFrom(ctx, NewStartGoalWork(a))
}

// RunFrom 以指定的工作单元开始运行，阻塞直到停止、暂停或出错。
// 进入 Errored 时返回导致停止的错误。
func (a *AutonomousAgent) RunFrom(ctx context.Context, first AgentWork) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return xerrors.New(xerrors.CodeConflict, "智能体已经运行过")
	}
	a.started = true
	a.mu.Unlock()

	logger.Audit().InfoContext(ctx, "运行开始",
		slog.String("run_id", a.runID),
		slog.String("goal", a.store.Goal()),
	)
	a.setState(StateRunning)
	return a.loop(ctx, first)
}

// Resume 从暂停处继续执行保留的工作单元。
func (a *AutonomousAgent) Resume(ctx context.Context) error {
	a.mu.Lock()
	if a.State() != StatePaused {
		a.mu.Unlock()
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("当前状态 %s 无法恢复", a.State()))
	}
	next := a.pending
	a.pending = nil
	a.pauseReq.Store(false)
	a.setState(StateRunning)
	a.mu.Unlock()

	return a.loop(ctx, next)
}

// Stop 请求在当前工作单元结束后停止。暂停中的运行立即停止。
func (a *AutonomousAgent) Stop() {
	a.stopReq.Store(true)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() == StatePaused {
		a.pending = nil
		a.setState(StateStopped)
	}
}

// Pause 请求在当前工作单元结束后暂停，后续工作单元会被保留。
func (a *AutonomousAgent) Pause() {
	if a.State() == StateRunning {
		a.pauseReq.Store(true)
	}
}

func (a *AutonomousAgent) loop(ctx context.Context, w AgentWork) error {
	for w != nil {
		if a.stopReq.Load() || ctx.Err() != nil {
			break
		}
		if a.pauseReq.Load() {
			a.mu.Lock()
			if a.stopReq.Load() {
				a.mu.Unlock()
				break
			}
			a.pending = w
			a.setState(StatePaused)
			a.mu.Unlock()
			return nil
		}

		next, err := a.step(ctx, w)
		if err != nil {
			a.fail(ctx, w, err)
			return err
		}
		w = next
	}
	a.setState(StateStopped)
	return nil
}

// step 执行一个工作单元并决定后续工作。返回错误表示运行必须停止。
func (a *AutonomousAgent) step(ctx context.Context, w AgentWork) (AgentWork, error) {
	start := time.Now()
	err := a.runUnit(ctx, w)
	if err != nil {
		if a.cancelled(ctx, err) {
			a.observe(w.Kind(), "cancelled", time.Since(start))
			a.log.DebugContext(ctx, "工作单元被取消", slog.String("kind", w.Kind()))
			return nil, nil
		}
		a.observe(w.Kind(), "error", time.Since(start))
		a.log.WarnContext(ctx, "工作单元执行失败",
			slog.String("kind", w.Kind()),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		if !a.recoverUnit(ctx, w, err) {
			return nil, err
		}
		if a.stopReq.Load() || ctx.Err() != nil {
			return nil, nil
		}
		return a.scheduler(a, w, false), nil
	}

	a.observe(w.Kind(), "ok", time.Since(start))
	a.log.DebugContext(ctx, "工作单元完成", slog.String("kind", w.Kind()), slog.String("result", w.Result()))

	// 停止请求在 Run 与 Conclude 之后到达时丢弃后续工作。
	if a.stopReq.Load() || ctx.Err() != nil {
		return nil, nil
	}
	if next := w.Next(); next != nil {
		return next, nil
	}
	return a.scheduler(a, w, true), nil
}

func (a *AutonomousAgent) runUnit(ctx context.Context, w AgentWork) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("工作单元 %s 发生 panic: %v", w.Kind(), r))
		}
	}()
	if err := w.Run(ctx); err != nil {
		return err
	}
	return w.Conclude(ctx)
}

func (a *AutonomousAgent) recoverUnit(ctx context.Context, w AgentWork, cause error) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.ErrorContext(ctx, "错误处理发生 panic", slog.String("kind", w.Kind()), slog.Any("panic", r))
			cont = false
		}
	}()
	return w.OnError(ctx, cause)
}

// cancelled 判断失败是否只是停止或上下文取消的结果。
func (a *AutonomousAgent) cancelled(ctx context.Context, err error) bool {
	if !stdErrors.Is(err, context.Canceled) && !stdErrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return a.stopReq.Load() || ctx.Err() != nil
}

func (a *AutonomousAgent) fail(ctx context.Context, w AgentWork, err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
	a.setState(StateErrored)

	logger.Audit().ErrorContext(ctx, "运行异常终止",
		slog.String("run_id", a.runID),
		slog.String("kind", w.Kind()),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("error", xerrors.MessageOf(err)),
	)
	if a.alerts == nil {
		return
	}
	event := alerting.EventFromError(a.runID, err)
	event.Goal = a.store.Goal()
	event.WorkKind = w.Kind()
	if tw, ok := w.(interface{ Task() *task.Task }); ok && tw.Task() != nil {
		event.TaskID = tw.Task().ID
	}
	if alertErr := a.alerts.Notify(context.WithoutCancel(ctx), event); alertErr != nil {
		a.log.WarnContext(ctx, "发送告警失败", slog.String("error", alertErr.Error()))
	}
}

func (a *AutonomousAgent) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if a.observer != nil {
		a.observer.ObserveState(s.String())
	}
	a.log.Info("状态迁移", slog.String("from", prev.String()), slog.String("to", s.String()))
	if s == StateStopped {
		stats := a.store.Stats()
		logger.Audit().Info("运行结束",
			slog.String("run_id", a.runID),
			slog.Int("completed", stats.Completed),
			slog.Int("failed", stats.Failed),
			slog.Int("pending", stats.Pending),
		)
	}
}

func (a *AutonomousAgent) observe(kind, outcome string, d time.Duration) {
	if a.observer != nil {
		a.observer.ObserveWork(kind, outcome, d)
	}
}

// budgetLeft 判断是否还允许执行新的任务。
func (a *AutonomousAgent) budgetLeft() bool {
	return a.maxLoops <= 0 || a.store.Stats().Loops() < a.maxLoops
}

func (a *AutonomousAgent) send(ctx context.Context, msg message.Message) error {
	if err := a.sink.Send(ctx, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "发送消息失败")
	}
	return nil
}

func (a *AutonomousAgent) update(ctx context.Context, msg message.Message) error {
	if err := a.sink.Update(ctx, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "更新消息失败")
	}
	return nil
}

// sendError 把错误作为一条错误消息发送给用户。
func (a *AutonomousAgent) sendError(ctx context.Context, err error) {
	reason := xerrors.MessageOf(err)
	if sendErr := a.sink.SendError(ctx, reason); sendErr != nil {
		a.log.WarnContext(ctx, "发送错误消息失败", slog.String("error", sendErr.Error()))
	}
}

func (a *AutonomousAgent) save(ctx context.Context, msgs []message.Message) error {
	if a.saver == nil || len(msgs) == 0 {
		return nil
	}
	if err := a.saver.SaveMessages(ctx, a.runID, msgs); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存消息失败")
	}
	return nil
}

// failTask 在任务尚未结束时将其标记为失败，返回存储报告的错误。
func (a *AutonomousAgent) failTask(t *task.Task) error {
	if t == nil {
		return nil
	}
	current, err := a.store.Get(t.ID)
	if err != nil {
		return err
	}
	if current.Terminal() {
		return nil
	}
	_, err = a.store.UpdateTaskStatus(t.ID, task.StatusFailed)
	return err
}

// stepHalts 判断步骤错误或任务状态回写错误是否要求停止运行。
func stepHalts(cause, statusErr error) bool {
	return xerrors.FatalError(cause) || task.IsStoreError(cause) ||
		xerrors.FatalError(statusErr) || task.IsStoreError(statusErr)
}
