package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/ident"
	"github.com/roach88/shufflesync/internal/lists"
	"github.com/roach88/shufflesync/internal/projector"
	"github.com/roach88/shufflesync/internal/session"
	"github.com/roach88/shufflesync/internal/store"
	"github.com/roach88/shufflesync/internal/testutil"
)

// Replica names. Each replica is a pair of engines with its own feed
// publisher over the shared store, standing in for two API processes.
const (
	ReplicaA = "a"
	ReplicaB = "b"
)

// DefaultConvergeTimeout bounds how long Run waits for followed views to
// match the store.
const DefaultConvergeTimeout = 5 * time.Second

// Option configures Run.
type Option func(*options)

type options struct {
	openStore func(context.Context) (store.Store, error)
	logger    *slog.Logger
	timeout   time.Duration
}

// WithStore sets how the scenario's store is opened. The harness closes it
// when the run ends. Defaults to a fresh in-memory store.
func WithStore(open func(context.Context) (store.Store, error)) Option {
	return func(o *options) { o.openStore = open }
}

// WithLogger sets the logger handed to the engines. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConvergeTimeout bounds the wait for view convergence.
func WithConvergeTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

type replica struct {
	sessions *session.Engine
	lists    *lists.Engine
}

// Harness executes one scenario. It is not reused across runs.
type Harness struct {
	store    store.Store
	bus      *feed.Bus
	replicas map[string]*replica
	timeout  time.Duration

	bindings map[string]string
	follows  map[string]*follow

	followCtx    context.Context
	stopFollows  context.CancelFunc
	followersRun sync.WaitGroup
}

// follow is a projector view kept in sync with one saved session or list.
type follow struct {
	id      string
	summary func() any
	truth   func(ctx context.Context) (any, error)
}

// Run executes scenario and returns its result.
//
// Each run gets a fresh store, bus, and deterministic ids and clock. A
// non-nil error means the scenario could not be executed at all; failed
// expectations and assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		openStore: func(context.Context) (store.Store, error) { return store.NewMemory(), nil },
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:   DefaultConvergeTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := o.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, o)
	defer h.stop()

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}
	h.converge(ctx, result)

	actx := &AssertionContext{
		Ctx:     ctx,
		Store:   st,
		Resolve: h.lookup,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st store.Store, o options) *Harness {
	bus := feed.NewBus()
	clk := testutil.NewStepClock(time.Second)
	sessionIDs := ident.NewSequence("session")
	listIDs := ident.NewSequence("list")
	links := ident.NewSequence("link")

	h := &Harness{
		store:    st,
		bus:      bus,
		replicas: make(map[string]*replica),
		timeout:  o.timeout,
		bindings: make(map[string]string),
		follows:  make(map[string]*follow),
	}
	h.followCtx, h.stopFollows = context.WithCancel(context.Background())

	for _, name := range []string{ReplicaA, ReplicaB} {
		pub := feed.NewPublisher(bus, "replica-"+name,
			feed.WithClock(clk),
			feed.WithLogger(o.logger),
		)
		h.replicas[name] = &replica{
			sessions: session.New(st, pub,
				session.WithIDs(sessionIDs),
				session.WithCodes(ident.RandomCodes{Length: ident.DefaultCodeLength}),
				session.WithClock(clk),
				session.WithLogger(o.logger),
				session.WithTopicCloser(bus.CloseTopic),
			),
			lists: lists.New(st, pub,
				lists.WithIDs(listIDs),
				lists.WithTokens(links),
				lists.WithClock(clk),
				lists.WithLogger(o.logger),
				lists.WithTopicCloser(bus.CloseTopic),
			),
		}
	}
	return h
}

func (h *Harness) stop() {
	h.stopFollows()
	h.followersRun.Wait()
	_ = h.bus.Close()
}

// executeFlow runs steps in order. Step numbers count invocations, so a
// concurrent group of two takes two numbers.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	n := 0
	for i, step := range flow {
		if len(step.Concurrent) > 0 {
			if err := h.executeConcurrent(ctx, n, step.Concurrent, result); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			n += len(step.Concurrent)
			continue
		}

		n++
		args, err := h.resolveArgs(step.Args)
		if err != nil {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Invoke, err)
		}
		result.Trace = append(result.Trace, invocation(n, step, false))
		out, err := h.invoke(ctx, step, args)
		c := caseOf(err)
		result.Trace = append(result.Trace, TraceEvent{Step: n, Type: EventCompletion, Case: c})
		h.check(result, n, step, c, out, err)

		if err == nil && step.Save != "" {
			if err := h.save(ctx, step.Save, out); err != nil {
				return fmt.Errorf("flow[%d] %s: save %s: %w", i, step.Invoke, step.Save, err)
			}
		}
	}
	return nil
}

func (h *Harness) executeConcurrent(ctx context.Context, base int, branches []FlowStep, result *Result) error {
	resolved := make([]operationArgs, len(branches))
	for i, step := range branches {
		args, err := h.resolveArgs(step.Args)
		if err != nil {
			return fmt.Errorf("concurrent[%d] %s: %w", i, step.Invoke, err)
		}
		resolved[i] = args
		result.Trace = append(result.Trace, invocation(base+i+1, step, true))
	}

	outs := make([]any, len(branches))
	errs := make([]error, len(branches))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, step := range branches {
		wg.Add(1)
		go func(i int, step FlowStep) {
			defer wg.Done()
			<-start
			outs[i], errs[i] = h.invoke(ctx, step, resolved[i])
		}(i, step)
	}
	close(start)
	wg.Wait()

	for i, step := range branches {
		c := caseOf(errs[i])
		result.Trace = append(result.Trace, TraceEvent{Step: base + i + 1, Type: EventCompletion, Case: c})
		h.check(result, base+i+1, step, c, outs[i], errs[i])
	}
	return nil
}

func invocation(n int, step FlowStep, concurrent bool) TraceEvent {
	return TraceEvent{
		Step:       n,
		Type:       EventInvocation,
		Action:     step.Invoke,
		Actor:      step.As,
		Replica:    step.Via,
		Concurrent: concurrent,
		Args:       step.Args,
	}
}

func (h *Harness) invoke(ctx context.Context, step FlowStep, args operationArgs) (any, error) {
	via := step.Via
	if via == "" {
		via = ReplicaA
	}
	return operations[step.Invoke](ctx, h.replicas[via], step.As, args)
}

// caseOf names the outcome of an operation.
func caseOf(err error) string {
	if err == nil {
		return CaseOK
	}
	if code := domain.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

func (h *Harness) check(result *Result, n int, step FlowStep, got string, out any, err error) {
	want := CaseOK
	if step.Expect != nil && step.Expect.Case != "" {
		want = step.Expect.Case
	}
	if got != want {
		msg := fmt.Sprintf("step %d %s: expected case %s, got %s", n, step.Invoke, want, got)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
		return
	}
	if err != nil || step.Expect == nil || len(step.Expect.Result) == 0 {
		return
	}
	actual, jerr := jsonValue(out)
	if jerr != nil {
		result.AddError(fmt.Sprintf("step %d %s: %v", n, step.Invoke, jerr))
		return
	}
	if mismatch := subsetMismatch(step.Expect.Result, actual); mismatch != "" {
		result.AddError(fmt.Sprintf("step %d %s: result %s", n, step.Invoke, mismatch))
	}
}

// resolveArgs replaces "$name" strings with saved bindings.
func (h *Harness) resolveArgs(args map[string]any) (operationArgs, error) {
	out := make(operationArgs, len(args))
	for k, v := range args {
		r, err := h.resolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("arg %s: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

func (h *Harness) resolveValue(v any) (any, error) {
	switch v := v.(type) {
	case string:
		if !strings.HasPrefix(v, "$") {
			return v, nil
		}
		return h.lookup(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			r, err := h.resolveValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// lookup resolves "$name" or "$name.field". Strings without the prefix are
// returned as is.
func (h *Harness) lookup(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "$")
	if !ok {
		return ref, nil
	}
	v, ok := h.bindings[name]
	if !ok {
		return "", fmt.Errorf("unbound reference %s", ref)
	}
	return v, nil
}

// save binds out under name and starts following saved sessions and lists.
func (h *Harness) save(ctx context.Context, name string, out any) error {
	switch v := out.(type) {
	case *domain.Session:
		h.bindings[name] = v.ID
		h.bindings[name+".code"] = v.Code
		return h.followSession(ctx, name, v.ID)
	case *domain.List:
		h.bindings[name] = v.ID
		h.bindings[name+".link"] = v.ShareLinkID
		return h.followList(ctx, name, v.ID)
	case *domain.ListItem:
		h.bindings[name] = v.ID
	case *domain.Note:
		h.bindings[name] = v.ID
	case *domain.Participant:
		h.bindings[name] = v.ID
	case *domain.Collaborator:
		h.bindings[name] = v.ID
	default:
		return fmt.Errorf("result %T cannot be saved", out)
	}
	return nil
}

func (h *Harness) followSession(ctx context.Context, name, id string) error {
	if f, ok := h.follows[name]; ok && f.id == id {
		return nil
	}
	engine := h.replicas[ReplicaA].sessions
	view := projector.NewSessionView(id)
	resync := func(ctx context.Context) error {
		snap, err := engine.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		view.Reset(snap)
		return nil
	}

	sub, err := h.bus.Subscribe(feed.SessionTopic(id))
	if err != nil {
		return err
	}
	if err := resync(ctx); err != nil {
		sub.Unsubscribe()
		return err
	}
	h.start(sub, view, resync)

	h.follows[name] = &follow{
		id: id,
		summary: func() any {
			if view.Deleted() {
				return &SessionSummary{Deleted: true}
			}
			return summarizeSession(view.Session(), view.Participants())
		},
		truth: func(ctx context.Context) (any, error) {
			snap, err := engine.Snapshot(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return &SessionSummary{Deleted: true}, nil
			}
			if err != nil {
				return nil, err
			}
			return summarizeSession(snap.Session, snap.Participants), nil
		},
	}
	return nil
}

func (h *Harness) followList(ctx context.Context, name, id string) error {
	if f, ok := h.follows[name]; ok && f.id == id {
		return nil
	}
	engine := h.replicas[ReplicaA].lists
	view := projector.NewListView(id)
	resync := func(ctx context.Context) error {
		snap, err := engine.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		view.Reset(snap)
		return nil
	}

	sub, err := h.bus.Subscribe(feed.ListTopic(id))
	if err != nil {
		return err
	}
	if err := resync(ctx); err != nil {
		sub.Unsubscribe()
		return err
	}
	h.start(sub, view, resync)

	h.follows[name] = &follow{
		id: id,
		summary: func() any {
			if view.Deleted() {
				return &ListSummary{Deleted: true}
			}
			return summarizeList(view.List(), view.Items(), view.Collaborators())
		},
		truth: func(ctx context.Context) (any, error) {
			snap, err := engine.Snapshot(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return &ListSummary{Deleted: true}, nil
			}
			if err != nil {
				return nil, err
			}
			return summarizeList(snap.List, snap.Items, snap.Collaborators), nil
		},
	}
	return nil
}

func (h *Harness) start(sub *feed.Subscription, view projector.View, resync func(context.Context) error) {
	h.followersRun.Add(1)
	go func() {
		defer h.followersRun.Done()
		defer sub.Unsubscribe()
		_ = projector.Follow(h.followCtx, sub, view, resync, nil)
	}()
}

// converge waits for every followed view to match the store, then records
// the view summaries.
func (h *Harness) converge(ctx context.Context, result *Result) {
	names := make([]string, 0, len(h.follows))
	for name := range h.follows {
		names = append(names, name)
	}
	sort.Strings(names)

	deadline := time.Now().Add(h.timeout)
	for _, name := range names {
		f := h.follows[name]
		want, err := f.truth(ctx)
		if err != nil {
			result.AddError(fmt.Sprintf("view %s: read store: %v", name, err))
			continue
		}
		got := f.summary()
		for !reflect.DeepEqual(got, want) && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
			got = f.summary()
		}
		if !reflect.DeepEqual(got, want) {
			result.AddError(fmt.Sprintf("view %s did not converge: got %+v, store has %+v", name, got, want))
		}
		result.Views[name] = got
	}
}

func summarizeSession(s *domain.Session, participants []domain.Participant) *SessionSummary {
	if s == nil {
		return &SessionSummary{}
	}
	out := &SessionSummary{
		Status:       string(s.Status),
		Candidates:   len(s.Candidates),
		Participants: len(participants),
	}
	if len(s.EliminatedIDs) > 0 {
		out.Eliminated = append([]string(nil), s.EliminatedIDs...)
		sort.Strings(out.Eliminated)
	}
	if s.Winner != nil {
		out.Winner = s.Winner.ID
	}
	return out
}

func summarizeList(l *domain.List, items []domain.ListItem, collaborators []domain.Collaborator) *ListSummary {
	if l == nil {
		return &ListSummary{}
	}
	out := &ListSummary{Title: l.Title, Shareable: l.IsShareable}
	for _, it := range items {
		out.Items = append(out.Items, it.RestaurantID)
	}
	sort.Strings(out.Items)
	for _, c := range collaborators {
		out.Collaborators = append(out.Collaborators, c.UserID+":"+string(c.Role))
	}
	sort.Strings(out.Collaborators)
	return out
}
