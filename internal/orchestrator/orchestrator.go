// Package orchestrator drives the diagram lifecycle for one repository
// session: cache lookups, fresh generations, modifications and the side
// requests (cost, Q&A, scenarios) that share the same state snapshot.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.trai.ch/zerr"

	"gitdiagram/internal/cachegw"
	"gitdiagram/internal/logging"
	"gitdiagram/internal/metrics"
	"gitdiagram/internal/remote"
	"gitdiagram/internal/types"
)

// Remote is the subset of *remote.Client the orchestrator calls.
type Remote interface {
	Generate(ctx context.Context, req types.GenerationRequest) remote.Result
	EstimateCost(ctx context.Context, req types.GenerationRequest) remote.Result
	Modify(ctx context.Context, req remote.ModifyRequest) remote.Result
	Ask(ctx context.Context, id types.Identity, question, githubPAT string) remote.Result
	Gherkin(ctx context.Context, id types.Identity, githubPAT string) remote.Result
}

// lane groups actions that replace one another. A new action in a lane
// cancels the previous one and its late result is discarded.
type lane int

const (
	laneArtifact lane = iota
	laneCost
	laneAsk
	laneScenarios
	numLanes

	noLane lane = -1
)

func (l lane) String() string {
	switch l {
	case laneArtifact:
		return "artifact"
	case laneCost:
		return "cost"
	case laneAsk:
		return "ask"
	case laneScenarios:
		return "scenarios"
	default:
		return "none"
	}
}

type laneState struct {
	seq    uint64
	cancel context.CancelFunc
}

type Orchestrator struct {
	remote    Remote
	cache     cachegw.Cache
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	githubPAT string

	// writeMu is held by an artifact commit from its staleness check
	// through the cache write. Starting an artifact action or changing the
	// identity takes it first, so a claimed sequence cannot be superseded
	// while its write runs. Lock order: writeMu, then mu.
	writeMu sync.Mutex

	mu    sync.Mutex
	state Snapshot
	// apiKey is the session key sent with generate calls.
	apiKey string
	lanes  [numLanes]laneState
	// errLane is the lane whose failure produced state.Error.
	errLane lane
	// costPrev is the status to restore once a cost estimate ends.
	costPrev Status
	subs     map[uint64]chan Snapshot
	nextSub  uint64
	closed   bool
	// done is closed by Close.
	done chan struct{}
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrDefault(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithGitHubCredential sets the personal access token forwarded with every
// request so private repositories can be read.
func WithGitHubCredential(pat string) Option {
	return func(o *Orchestrator) { o.githubPAT = strings.TrimSpace(pat) }
}

func WithAPIKey(key string) Option {
	return func(o *Orchestrator) { o.apiKey = strings.TrimSpace(key) }
}

func New(r Remote, cache cachegw.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote:  r,
		cache:   cache,
		logger:  slog.Default(),
		now:     time.Now,
		errLane: noLane,
		subs:    make(map[uint64]chan Snapshot),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetIdentity starts a new session for id. Every in-flight action is
// canceled and the artifact, error and cost are cleared before any new
// action can complete. Setting the current identity again is a no-op.
func (o *Orchestrator) SetIdentity(id types.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.state.Identity == id {
		return nil
	}
	for l := range o.lanes {
		o.dropLaneLocked(lane(l))
	}
	o.state = Snapshot{Identity: id, Status: StatusIdle, Version: o.state.Version}
	o.errLane = noLane
	o.costPrev = StatusIdle
	o.metrics.Transition(StatusIdle.String())
	o.logger.Debug("session identity set", "repo", id.Key())
	o.publishLocked()
	return nil
}

func (o *Orchestrator) Identity() types.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Identity
}

// SetAPIKey stores a personal key for subsequent generate calls. It does
// not retry the call that asked for it.
func (o *Orchestrator) SetAPIKey(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.apiKey = strings.TrimSpace(key)
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe delivers the current snapshot immediately and then every change
// until ctx ends or the orchestrator closes. Slow readers only ever see the
// latest snapshot.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.state
	o.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-o.done:
			return
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}()
	return ch
}

// Close cancels in-flight actions and ends every subscription.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
	for l := range o.lanes {
		o.dropLaneLocked(lane(l))
	}
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}

// Generate serves the cached artifact when there is one and otherwise asks
// the remote service for a fresh diagram.
func (o *Orchestrator) Generate(ctx context.Context, instructions string) *Action {
	return o.startGenerate(ctx, instructions, true)
}

// Regenerate skips the cache read but still writes the cache on success.
func (o *Orchestrator) Regenerate(ctx context.Context, instructions string) *Action {
	return o.startGenerate(ctx, instructions, false)
}

func (o *Orchestrator) startGenerate(parent context.Context, instructions string, useCache bool) *Action {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if act := o.precheckLocked(laneArtifact); act != nil {
		return act
	}
	if act := o.checkInstructionsLocked(laneArtifact, instructions, false, ""); act != nil {
		return act
	}
	ctx, act, seq := o.beginLocked(parent, laneArtifact)
	o.clearErrorLocked(noLane)
	o.state.FromCache = false
	if !useCache {
		o.setArtifactStatusLocked(StatusGenerating)
	}
	o.publishLocked()

	req := types.GenerationRequest{
		Identity:         o.state.Identity,
		Instructions:     instructions,
		GitHubCredential: o.githubPAT,
		APIKey:           o.apiKey,
	}
	go o.runGenerate(ctx, act, seq, req, useCache)
	return act
}

func (o *Orchestrator) runGenerate(ctx context.Context, act *Action, seq uint64, req types.GenerationRequest, useCache bool) {
	if useCache {
		if artifact, ok := o.cache.Get(ctx, req.Identity); ok {
			o.mu.Lock()
			defer o.mu.Unlock()
			if err := o.claimLocked(ctx, laneArtifact, seq); err != nil {
				o.abandonLocked(act, laneArtifact, err)
				return
			}
			o.endLaneLocked(laneArtifact)
			o.state.Artifact = artifact
			o.state.FromCache = true
			o.clearErrorLocked(laneArtifact)
			o.setArtifactStatusLocked(StatusReady)
			o.publishLocked()
			act.finish(o.state, nil)
			return
		}

		o.mu.Lock()
		if err := o.claimLocked(ctx, laneArtifact, seq); err != nil {
			o.abandonLocked(act, laneArtifact, err)
			o.mu.Unlock()
			return
		}
		o.setArtifactStatusLocked(StatusGenerating)
		o.publishLocked()
		o.mu.Unlock()
	}

	res := o.remote.Generate(ctx, req)
	if !res.OK() {
		o.failRemote(ctx, act, laneArtifact, seq, res)
		return
	}
	artifact := types.DiagramArtifact{
		Diagram:     res.Response.Diagram,
		Explanation: res.Response.Explanation,
	}
	o.commitArtifact(ctx, act, seq, req.Identity, artifact, res.Response.TokenCount)
}

// Modify applies instructions to the existing artifact. The base is read
// from the cache, falling back to the artifact held in memory; without
// either the call fails locally and nothing is sent.
func (o *Orchestrator) Modify(parent context.Context, instructions string) *Action {
	o.mu.Lock()
	if act := o.precheckLocked(laneArtifact); act != nil {
		o.mu.Unlock()
		return act
	}
	if act := o.checkInstructionsLocked(laneArtifact, instructions, true, "Instructions are required."); act != nil {
		o.mu.Unlock()
		return act
	}
	id := o.state.Identity
	o.mu.Unlock()

	base, ok := o.cache.Get(parent, id)

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return completedAction(o.state, ErrClosed)
	}
	if o.state.Identity != id {
		return completedAction(o.state, ErrSuperseded)
	}
	if !ok {
		base, ok = o.state.Artifact, o.state.Artifact.Complete()
	}
	if !ok {
		o.failLocalLocked(laneArtifact, MessageNoExistingArtifact)
		return completedAction(o.state, ErrNoExistingArtifact)
	}

	ctx, act, seq := o.beginLocked(parent, laneArtifact)
	o.clearErrorLocked(noLane)
	o.setArtifactStatusLocked(StatusModifying)
	o.publishLocked()

	req := remote.ModifyRequest{
		Identity:       id,
		Instructions:   instructions,
		CurrentDiagram: base.Diagram,
		Explanation:    base.Explanation,
	}
	go func() {
		res := o.remote.Modify(ctx, req)
		if !res.OK() {
			o.failRemote(ctx, act, laneArtifact, seq, res)
			return
		}
		// The service only returns a diagram; the explanation carries over.
		artifact := types.DiagramArtifact{
			Diagram:     res.Response.Diagram,
			Explanation: base.Explanation,
		}
		o.commitArtifact(ctx, act, seq, id, artifact, res.Response.TokenCount)
	}()
	return act
}

// EstimateCost asks for a cost estimate. The status shows EstimatingCost
// while the call runs and then returns to what it was before.
func (o *Orchestrator) EstimateCost(parent context.Context, instructions string) *Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	if act := o.precheckLocked(laneCost); act != nil {
		return act
	}
	if act := o.checkInstructionsLocked(laneCost, instructions, false, ""); act != nil {
		return act
	}
	ctx, act, seq := o.beginLocked(parent, laneCost)
	if o.state.Status != StatusEstimatingCost {
		o.costPrev = o.state.Status
	}
	o.state.Cost = ""
	o.clearErrorLocked(laneCost)
	o.setStatusLocked(StatusEstimatingCost)
	o.publishLocked()

	req := types.GenerationRequest{
		Identity:         o.state.Identity,
		Instructions:     instructions,
		GitHubCredential: o.githubPAT,
	}
	go func() {
		res := o.remote.EstimateCost(ctx, req)
		if !res.OK() {
			o.failRemote(ctx, act, laneCost, seq, res)
			return
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if err := o.claimLocked(ctx, laneCost, seq); err != nil {
			o.abandonLocked(act, laneCost, err)
			return
		}
		o.endLaneLocked(laneCost)
		o.restoreAfterCostLocked()
		o.state.Cost = res.Response.Cost
		o.clearErrorLocked(laneCost)
		o.publishLocked()
		act.finish(o.state, nil)
	}()
	return act
}

// Ask sends a free-text question. The answer is published on the snapshot
// and the status is left alone.
func (o *Orchestrator) Ask(parent context.Context, question string) *Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	if act := o.precheckLocked(laneAsk); act != nil {
		return act
	}
	if act := o.checkInstructionsLocked(laneAsk, question, true, "Question is required."); act != nil {
		return act
	}
	ctx, act, seq := o.beginLocked(parent, laneAsk)
	o.state.Answer = ""
	o.clearErrorLocked(laneAsk)
	o.publishLocked()

	id := o.state.Identity
	go func() {
		res := o.remote.Ask(ctx, id, question, o.githubPAT)
		if !res.OK() {
			o.failRemote(ctx, act, laneAsk, seq, res)
			return
		}
		answer := strings.TrimSpace(res.Response.Answer)
		if answer == "" {
			answer = MessageNoAnswer
		}
		o.finishSide(ctx, act, laneAsk, seq, func(s *Snapshot) { s.Answer = answer })
	}()
	return act
}

// Scenarios requests behavioral scenarios for the repository.
func (o *Orchestrator) Scenarios(parent context.Context) *Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	if act := o.precheckLocked(laneScenarios); act != nil {
		return act
	}
	ctx, act, seq := o.beginLocked(parent, laneScenarios)
	o.state.Scenarios = ""
	o.clearErrorLocked(laneScenarios)
	o.publishLocked()

	id := o.state.Identity
	go func() {
		res := o.remote.Gherkin(ctx, id, o.githubPAT)
		if !res.OK() {
			o.failRemote(ctx, act, laneScenarios, seq, res)
			return
		}
		scenarios := res.Response.GherkinScenarios
		o.finishSide(ctx, act, laneScenarios, seq, func(s *Snapshot) { s.Scenarios = scenarios })
	}()
	return act
}

func (o *Orchestrator) finishSide(ctx context.Context, act *Action, l lane, seq uint64, apply func(*Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.claimLocked(ctx, l, seq); err != nil {
		o.abandonLocked(act, l, err)
		return
	}
	o.endLaneLocked(l)
	apply(&o.state)
	o.clearErrorLocked(l)
	o.publishLocked()
	act.finish(o.state, nil)
}

// commitArtifact writes the cache and then publishes the new artifact, both
// only while seq is still the newest artifact action.
func (o *Orchestrator) commitArtifact(ctx context.Context, act *Action, seq uint64, id types.Identity, artifact types.DiagramArtifact, tokens int) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	o.mu.Lock()
	if err := o.claimLocked(ctx, laneArtifact, seq); err != nil {
		o.abandonLocked(act, laneArtifact, err)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	// A cache failure is already logged by the gateway and must not cost
	// the user the result.
	if err := o.cache.Put(context.WithoutCancel(ctx), id, artifact); err != nil {
		o.logger.DebugContext(ctx, "keeping artifact in memory only", "repo", id.Key())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lanes[laneArtifact].seq != seq {
		act.finish(o.state, ErrSuperseded)
		return
	}
	o.endLaneLocked(laneArtifact)
	o.state.Artifact = artifact
	o.state.FromCache = false
	o.state.LastGeneratedAt = o.now()
	if tokens > 0 {
		o.state.TokenCount = tokens
	}
	o.clearErrorLocked(laneArtifact)
	o.setArtifactStatusLocked(StatusReady)
	o.publishLocked()
	act.finish(o.state, nil)
}

// failRemote records a non-OK result for lane l.
func (o *Orchestrator) failRemote(ctx context.Context, act *Action, l lane, seq uint64, res remote.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.claimLocked(ctx, l, seq); err != nil {
		o.abandonLocked(act, l, err)
		return
	}
	o.endLaneLocked(l)

	err := res.Err()
	switch l {
	case laneArtifact:
		status := StatusFailed
		if needsAPIKey(res) {
			status = StatusNeedsAPIKey
			err = remote.NewError(ErrAPIKeyRequired, res.Message, nil)
		}
		o.setArtifactStatusLocked(status)
	case laneCost:
		o.restoreAfterCostLocked()
		o.state.Cost = ""
	case laneAsk:
		o.state.Answer = ""
	case laneScenarios:
		o.state.Scenarios = ""
	}
	o.state.Error = res.Message
	o.errLane = l
	o.logger.WarnContext(ctx, "action failed",
		"repo", o.state.Identity.Key(),
		"lane", l.String(),
		"outcome", res.Outcome.String(),
		"status", o.state.Status.String(),
	)
	o.publishLocked()
	act.finish(o.state, err)
}

// needsAPIKey reports whether a failure should offer the bring-your-own-key
// path instead of a plain failure.
func needsAPIKey(res remote.Result) bool {
	if res.Outcome != remote.OutcomeServiceError {
		return false
	}
	return res.Response.RequiresAPIKey || strings.Contains(res.Message, "API key")
}

func (o *Orchestrator) precheckLocked(l lane) *Action {
	if o.closed {
		return completedAction(o.state, ErrClosed)
	}
	if o.state.Identity.IsZero() {
		o.failLocalLocked(l, MessageInvalidIdentity)
		return completedAction(o.state, zerr.Wrap(ErrInvalidIdentity, "no repository selected"))
	}
	return nil
}

func (o *Orchestrator) checkInstructionsLocked(l lane, text string, required bool, emptyMessage string) *Action {
	err := types.CheckInstructions(text, required)
	if err == nil {
		return nil
	}
	msg := messageInstructionsTooLong
	if strings.TrimSpace(text) == "" {
		msg = emptyMessage
	}
	o.failLocalLocked(l, msg)
	return completedAction(o.state, err)
}

// failLocalLocked surfaces a precondition failure without touching the
// status or any in-flight action.
func (o *Orchestrator) failLocalLocked(l lane, msg string) {
	switch l {
	case laneCost:
		o.state.Cost = ""
	case laneAsk:
		o.state.Answer = ""
	case laneScenarios:
		o.state.Scenarios = ""
	}
	o.state.Error = msg
	o.errLane = l
	o.publishLocked()
}

func (o *Orchestrator) beginLocked(parent context.Context, l lane) (context.Context, *Action, uint64) {
	o.dropLaneLocked(l)
	ctx, cancel := context.WithCancel(parent)
	ls := &o.lanes[l]
	ls.cancel = cancel
	o.logger.DebugContext(ctx, "action started", "repo", o.state.Identity.Key(), "lane", l.String(), "seq", ls.seq)
	return ctx, newAction(cancel), ls.seq
}

// dropLaneLocked cancels whatever runs in l and invalidates its sequence.
func (o *Orchestrator) dropLaneLocked(l lane) {
	ls := &o.lanes[l]
	if ls.cancel != nil {
		ls.cancel()
		ls.cancel = nil
	}
	ls.seq++
}

func (o *Orchestrator) endLaneLocked(l lane) {
	ls := &o.lanes[l]
	if ls.cancel != nil {
		ls.cancel()
		ls.cancel = nil
	}
}

// claimLocked returns nil when a completion for (l, seq) may touch state.
func (o *Orchestrator) claimLocked(ctx context.Context, l lane, seq uint64) error {
	if o.lanes[l].seq != seq {
		return ErrSuperseded
	}
	return ctx.Err()
}

// abandonLocked finishes an action that may not apply its result. A
// canceled action that is still current also unwinds its busy status.
func (o *Orchestrator) abandonLocked(act *Action, l lane, err error) {
	if errors.Is(err, ErrSuperseded) {
		act.finish(o.state, err)
		return
	}
	o.endLaneLocked(l)
	o.lanes[l].seq++
	switch l {
	case laneArtifact:
		if s := o.artifactStatusLocked(); s == StatusGenerating || s == StatusModifying {
			o.setArtifactStatusLocked(o.restingStatusLocked())
		}
	case laneCost:
		o.restoreAfterCostLocked()
	}
	o.publishLocked()
	act.finish(o.state, err)
}

// restingStatusLocked is the status with no artifact action running.
func (o *Orchestrator) restingStatusLocked() Status {
	if o.state.HasArtifact() {
		return StatusReady
	}
	return StatusIdle
}

// artifactStatusLocked is the status the artifact lane last set, looking
// through a running cost estimate.
func (o *Orchestrator) artifactStatusLocked() Status {
	if o.state.Status == StatusEstimatingCost {
		return o.costPrev
	}
	return o.state.Status
}

// setArtifactStatusLocked applies s, deferring it until a running cost
// estimate ends.
func (o *Orchestrator) setArtifactStatusLocked(s Status) {
	if o.state.Status == StatusEstimatingCost {
		o.costPrev = s
		return
	}
	o.setStatusLocked(s)
}

func (o *Orchestrator) restoreAfterCostLocked() {
	if o.state.Status == StatusEstimatingCost {
		o.setStatusLocked(o.costPrev)
	}
}

func (o *Orchestrator) setStatusLocked(s Status) {
	if o.state.Status == s {
		return
	}
	o.state.Status = s
	o.metrics.Transition(s.String())
}

// clearErrorLocked drops the visible error. With a lane it only clears an
// error that lane produced; noLane clears unconditionally.
func (o *Orchestrator) clearErrorLocked(l lane) {
	if l != noLane && o.errLane != l {
		return
	}
	o.state.Error = ""
	o.errLane = noLane
}

func (o *Orchestrator) publishLocked() {
	o.state.Version++
	snap := o.state
	for _, ch := range o.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
