package run

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"AutoAgent/internal/agent"
	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/gateway"
	"AutoAgent/internal/message"
	"AutoAgent/internal/observability/alerting"
	"AutoAgent/internal/observability/metrics"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
)

// Defaults 是创建运行时使用的默认参数。
type Defaults struct {
	MaxLoops      int
	TaskSelection string
	Analysis      bool
	FollowUps     bool
	Summary       bool
	Settings      agent.ModelSettings
}

// Request 描述一次创建运行的请求，未填写的字段使用 Defaults。
type Request struct {
	Goal          string               `json:"goal"`
	MaxLoops      *int                 `json:"max_loops,omitempty"`
	TaskSelection string               `json:"task_selection,omitempty"`
	Analysis      *bool                `json:"analysis,omitempty"`
	FollowUps     *bool                `json:"follow_ups,omitempty"`
	Summary       *bool                `json:"summary,omitempty"`
	Settings      *agent.ModelSettings `json:"settings,omitempty"`
}

// MirrorFactory 为指定运行创建消息流镜像，返回 nil 表示不镜像。
type MirrorFactory func(runID string) message.Sink

// Snapshot 是某一时刻运行状态的只读副本。
type Snapshot struct {
	ID        string            `json:"id"`
	Goal      string            `json:"goal"`
	State     string            `json:"state"`
	Error     string            `json:"error,omitempty"`
	Stats     task.TaskStats    `json:"stats"`
	Tasks     []*task.Task      `json:"tasks,omitempty"`
	Messages  []message.Message `json:"messages,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type hostedRun struct {
	id        string
	createdAt time.Time
	agent     *agent.AutonomousAgent
	store     *task.MemoryStore
	feed      *message.Feed
}

func (r *hostedRun) snapshot(detail bool) Snapshot {
	snap := Snapshot{
		ID:        r.id,
		Goal:      r.store.Goal(),
		State:     r.agent.State().String(),
		Stats:     r.store.Stats(),
		CreatedAt: r.createdAt,
	}
	if err := r.agent.Err(); err != nil {
		snap.Error = xerrors.MessageOf(err)
	}
	if detail {
		snap.Tasks = r.store.List(task.WithSortOrder(task.SortBySeqAsc))
		snap.Messages = r.feed.Messages()
	}
	return snap
}

// Service 管理守护进程内的全部运行。
type Service struct {
	gateway  gateway.Gateway
	saver    agent.MessageSaver
	alerts   alerting.Dispatcher
	metrics  *metrics.Collector
	mirrors  []MirrorFactory
	defaults Defaults

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.RWMutex
	runs   map[string]*hostedRun
	closed bool
}

// Option 定义可选的服务配置。
type Option func(*Service)

// WithDefaults 设置运行默认参数。
func WithDefaults(d Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

// WithMessageSaver 设置消息持久化实现。
func WithMessageSaver(saver agent.MessageSaver) Option {
	return func(s *Service) { s.saver = saver }
}

// WithAlertDispatcher 设置运行出错时的告警分发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(s *Service) { s.alerts = d }
}

// WithMetrics 设置指标采集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithMirrors 追加消息流镜像。
func WithMirrors(factories ...MirrorFactory) Option {
	return func(s *Service) {
		for _, f := range factories {
			if f != nil {
				s.mirrors = append(s.mirrors, f)
			}
		}
	}
}

// NewService 构造运行服务。
func NewService(gw gateway.Gateway, opts ...Option) (*Service, error) {
	if gw == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行服务缺少网关")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		gateway: gw,
		defaults: Defaults{
			MaxLoops:      agent.DefaultMaxLoops,
			TaskSelection: task.SelectionFIFO,
			Analysis:      true,
			FollowUps:     true,
		},
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*hostedRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start 创建并在后台启动一次运行，立即返回初始快照。
func (s *Service) Start(ctx context.Context, req Request) (Snapshot, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return Snapshot{}, xerrors.New(xerrors.CodeInvalidArgument, "运行目标不能为空")
	}

	opts, err := s.agentOptions(req)
	if err != nil {
		return Snapshot{}, err
	}

	id := uuid.NewString()
	store := task.NewMemoryStore(goal)
	feed := message.NewFeed()
	mirrors := make([]message.Sink, 0, len(s.mirrors))
	for _, factory := range s.mirrors {
		mirrors = append(mirrors, factory(id))
	}

	ag, err := agent.New(id, store, message.NewFanout(feed, mirrors...), s.gateway, opts...)
	if err != nil {
		return Snapshot{}, err
	}
	r := &hostedRun{id: id, createdAt: time.Now().UTC(), agent: ag, store: store, feed: feed}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, xerrors.New(xerrors.CodeConflict, "运行服务已关闭")
	}
	s.runs[id] = r
	s.mu.Unlock()

	logger.Audit().InfoContext(ctx, "创建运行",
		slog.String("run_id", id),
		slog.String("goal", goal),
	)
	s.drive(r, ag.Run)
	return r.snapshot(false), nil
}

// Get 返回运行详情，包含任务与消息。
func (s *Service) Get(id string) (Snapshot, error) {
	r, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(true), nil
}

// List 按创建时间倒序返回运行概要，limit 不大于 0 时返回全部。
func (s *Service) List(limit int) []Snapshot {
	s.mu.RLock()
	runs := make([]*hostedRun, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].createdAt.Equal(runs[j].createdAt) {
			return runs[i].id > runs[j].id
		}
		return runs[i].createdAt.After(runs[j].createdAt)
	})
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	out := make([]Snapshot, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.snapshot(false))
	}
	return out
}

// Stop 请求运行在当前工作单元结束后停止。
func (s *Service) Stop(id string) (Snapshot, error) {
	r, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	r.agent.Stop()
	return r.snapshot(false), nil
}

// Pause 请求运行在当前工作单元结束后暂停。
func (s *Service) Pause(id string) (Snapshot, error) {
	r, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if state := r.agent.State(); state != agent.StateRunning {
		return Snapshot{}, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("当前状态 %s 无法暂停", state))
	}
	r.agent.Pause()
	return r.snapshot(false), nil
}

// Resume 在后台继续一次已暂停的运行。
func (s *Service) Resume(id string) (Snapshot, error) {
	r, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if state := r.agent.State(); state != agent.StatePaused {
		return Snapshot{}, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("当前状态 %s 无法恢复", state))
	}
	s.drive(r, r.agent.Resume)
	return r.snapshot(false), nil
}

// Shutdown 停止所有运行并等待驱动协程退出。
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.runs {
		r.agent.Stop()
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) lookup(id string) (*hostedRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("运行 %s 不存在", id))
	}
	return r, nil
}

// drive 在独立协程中执行 fn，运行错误已记录在 agent 上，这里只做日志与指标。
func (s *Service) drive(r *hostedRun, fn func(context.Context) error) {
	s.metrics.RunStarted()
	s.group.Go(func() error {
		defer s.metrics.RunFinished()
		err := fn(s.ctx)
		log := logger.ForRun(r.id)
		if err != nil {
			log.Warn("运行异常结束",
				slog.String("state", r.agent.State().String()),
				slog.String("code", string(xerrors.CodeOf(err))),
				slog.Any("error", err),
			)
			return nil
		}
		log.Info("运行协程退出", slog.String("state", r.agent.State().String()))
		return nil
	})
}

func (s *Service) agentOptions(req Request) ([]agent.Option, error) {
	d := s.defaults

	maxLoops := d.MaxLoops
	if req.MaxLoops != nil {
		if *req.MaxLoops < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "max_loops 不能为负数")
		}
		maxLoops = *req.MaxLoops
	}

	selection := d.TaskSelection
	if strings.TrimSpace(req.TaskSelection) != "" {
		selection = req.TaskSelection
	}
	selector, err := task.SelectorByName(selection)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "任务选择策略无效")
	}

	analysis := boolOr(req.Analysis, d.Analysis)
	followUps := boolOr(req.FollowUps, d.FollowUps)
	summary := boolOr(req.Summary, d.Summary)

	opts := []agent.Option{
		agent.WithSelector(selector),
		agent.WithMaxLoops(maxLoops),
		agent.WithFollowUps(followUps),
		agent.WithSummary(summary),
		agent.WithModelSettings(mergeSettings(d.Settings, req.Settings)),
		agent.WithAlertDispatcher(s.alerts),
	}
	if !analysis {
		opts = append(opts, agent.WithoutAnalysis())
	}
	if s.saver != nil {
		opts = append(opts, agent.WithMessageSaver(&observedSaver{inner: s.saver, metrics: s.metrics}))
	}
	if s.metrics != nil {
		opts = append(opts, agent.WithObserver(s.metrics))
	}
	return opts, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func mergeSettings(base agent.ModelSettings, override *agent.ModelSettings) agent.ModelSettings {
	if override == nil {
		return base
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Temperature != 0 {
		base.Temperature = override.Temperature
	}
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.Language != "" {
		base.Language = override.Language
	}
	if override.CustomAPIKey != "" {
		base.CustomAPIKey = override.CustomAPIKey
	}
	return base
}

// observedSaver 统计持久化失败次数。
type observedSaver struct {
	inner   agent.MessageSaver
	metrics *metrics.Collector
}

func (o *observedSaver) SaveMessages(ctx context.Context, runID string, msgs []message.Message) error {
	err := o.inner.SaveMessages(ctx, runID, msgs)
	if err != nil {
		o.metrics.ObservePersistFailure()
	}
	return err
}
