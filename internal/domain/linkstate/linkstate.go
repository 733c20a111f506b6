// Package linkstate implements the per-feed polling state machine: the pure
// transitions that decide when a feed is next probed, and the exponential
// backoff-with-jitter delay calculator that feeds those transitions.
//
// Every exported function here is synchronous and side-effect free; all I/O
// (the HTTP call, the persistence writes) lives in package executor, one
// layer up. This split is what makes the hard logic unit-testable without a
// database or network.
package linkstate

import (
	"fmt"
	"math"

	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
)

// LinkPhase is the closed set of states a feed's poll cycle can be in.
type LinkPhase int

const (
	NeedsInitialGet LinkPhase = iota
	NeedsHead
	NeedsGet
	Sleeping
	ErrorBackoff
)

func (p LinkPhase) String() string {
	switch p {
	case NeedsInitialGet:
		return "needs_initial_get"
	case NeedsHead:
		return "needs_head"
	case NeedsGet:
		return "needs_get"
	case Sleeping:
		return "sleeping"
	case ErrorBackoff:
		return "error_backoff"
	default:
		return "unknown"
	}
}

// State is the per-feed polling state record (LinkState in the design doc).
type State struct {
	FeedID string
	Phase  LinkPhase

	LastHeadAtMs   *int64
	LastHeadStatus *int
	LastHeadError  model.ErrorKind

	LastGetAtMs   *int64
	LastGetStatus *int
	LastGetError  model.ErrorKind

	// Etag and LastModifiedMs are sticky validators: once observed they are
	// never cleared by a later response that omits the header.
	Etag           *string
	LastModifiedMs *int64

	BackoffIndex    uint32
	BasePollSeconds uint64
	MaxPollSeconds  uint64
	JitterFraction  float64

	NextActionAtMs int64
	JitterSeconds  int64

	Note                  string
	ConsecutiveErrorCount uint32
}

// clone returns a shallow copy of s; the pointer-valued fields (Etag,
// LastModifiedMs, the *At/*Status fields) point at immutable ints/strings so
// sharing them across the copy is safe.
func (s State) clone() State {
	return s
}

// Initial builds the state a feed starts in: scheduled to run immediately
// via an initial GET, with no observation history.
func Initial(feedID string, basePollSeconds, maxPollSeconds uint64, jitterFraction float64, nowMs int64) State {
	return State{
		FeedID:          feedID,
		Phase:           NeedsInitialGet,
		BackoffIndex:    0,
		BasePollSeconds: basePollSeconds,
		MaxPollSeconds:  maxPollSeconds,
		JitterFraction:  jitterFraction,
		NextActionAtMs:  nowMs,
		Note:            "initial",
	}
}

// ActionKind distinguishes the three shapes NextAction can take.
type ActionKind int

const (
	ActionDoHead ActionKind = iota
	ActionDoGet
	ActionSleepUntil
)

// NextAction is the decision decide_next_action hands to the executor.
type NextAction struct {
	Kind  ActionKind
	State State // valid for ActionDoHead / ActionDoGet
	AtMs  int64 // valid for ActionSleepUntil
}

// DecideNextAction picks the next action for a feed given its current state
// and the wall-clock time. Sleep precedence always wins: a feed whose
// next_action_at has not yet passed sleeps regardless of phase.
func DecideNextAction(state State, nowMs int64) NextAction {
	if nowMs < state.NextActionAtMs {
		return NextAction{Kind: ActionSleepUntil, AtMs: state.NextActionAtMs}
	}

	switch state.Phase {
	case NeedsInitialGet, NeedsGet:
		return NextAction{Kind: ActionDoGet, State: state.clone()}
	case NeedsHead, Sleeping, ErrorBackoff:
		// Once the scheduled sleep/backoff has elapsed, wake up with a HEAD
		// to re-check cheaply, including after an error backoff so a
		// permanent 4xx keeps its cheap probe cadence.
		return NextAction{Kind: ActionDoHead, State: state.clone()}
	default:
		panic(fmt.Sprintf("linkstate: unhandled phase %v", state.Phase))
	}
}

func isError(status *int, errKind model.ErrorKind) bool {
	if errKind != model.ErrorKindNone {
		return true
	}
	if status != nil && model.IsErrorStatus(*status) {
		return true
	}
	return false
}

func hasChanged(state State, res model.HeadResult) bool {
	byStatus := res.Status != nil && *res.Status == 200 &&
		state.LastHeadStatus != nil && *state.LastHeadStatus == 304
	byEtag := state.Etag != nil && res.Etag != nil && *state.Etag != *res.Etag
	byMod := state.LastModifiedMs != nil && res.LastModifiedMs != nil && *state.LastModifiedMs != *res.LastModifiedMs
	return byStatus || byEtag || byMod
}

// ApplyHeadResult folds a HEAD response into state, producing the next
// state: the new phase, backoff/error counters, sticky validators, and the
// recomputed next_action_at. rand01 must be in [0,1) and is forwarded
// untouched to ComputeDelay.
func ApplyHeadResult(state State, res model.HeadResult, nowMs int64, rand01 float64) State {
	modified := hasChanged(state, res)
	errored := isError(res.Status, res.Error)

	var backoffIdx uint32
	var phase LinkPhase
	var note string
	var consecutiveErrors uint32

	switch {
	case errored:
		backoffIdx = state.BackoffIndex + 1
		phase = ErrorBackoff
		note = fmt.Sprintf("head-error-%s", res.Error)
		consecutiveErrors = state.ConsecutiveErrorCount + 1
	case modified:
		backoffIdx = state.BackoffIndex
		phase = NeedsGet
		note = "head-modified"
		consecutiveErrors = 0
	default:
		backoffIdx = state.BackoffIndex + 1
		phase = Sleeping
		note = "head-not-modified"
		consecutiveErrors = 0
	}

	delay := ComputeDelay(state.BasePollSeconds, backoffIdx, state.MaxPollSeconds, state.JitterFraction, rand01)

	next := state.clone()
	next.Phase = phase
	next.LastHeadAtMs = &nowMs
	next.LastHeadStatus = res.Status
	next.LastHeadError = res.Error
	next.BackoffIndex = backoffIdx
	if res.Etag != nil {
		next.Etag = res.Etag
	}
	if res.LastModifiedMs != nil {
		next.LastModifiedMs = res.LastModifiedMs
	}
	next.NextActionAtMs = nowMs + int64(delay.TotalSeconds)*1000
	next.JitterSeconds = delay.JitterSeconds
	next.Note = note
	next.ConsecutiveErrorCount = consecutiveErrors
	return next
}

// ApplyGetResult folds a GET response into state. bodyChanged must already
// reflect the caller's change-detection decision (plain non-empty-body check
// for ordinary feeds, the watch detector disjunction for watches — see
// package executor).
func ApplyGetResult(state State, res model.GetResult, nowMs int64, bodyChanged bool, rand01 float64) State {
	errored := isError(res.Status, res.Error)

	var backoffIdx uint32
	var phase LinkPhase
	var note string
	var consecutiveErrors uint32

	switch {
	case errored:
		backoffIdx = state.BackoffIndex + 1
		phase = ErrorBackoff
		note = fmt.Sprintf("get-error-%s", res.Error)
		consecutiveErrors = state.ConsecutiveErrorCount + 1
	case bodyChanged:
		backoffIdx = 0
		phase = Sleeping
		note = "get-body-changed"
		consecutiveErrors = 0
	default:
		backoffIdx = state.BackoffIndex + 1
		phase = Sleeping
		note = "get-unchanged"
		consecutiveErrors = 0
	}

	delay := ComputeDelay(state.BasePollSeconds, backoffIdx, state.MaxPollSeconds, state.JitterFraction, rand01)

	next := state.clone()
	// A successful GET always leaves the machine scheduled to HEAD next;
	// only an error outcome keeps it in ErrorBackoff.
	if phase == Sleeping {
		next.Phase = NeedsHead
	} else {
		next.Phase = phase
	}
	next.LastGetAtMs = &nowMs
	next.LastGetStatus = res.Status
	next.LastGetError = res.Error
	if res.Etag != nil {
		next.Etag = res.Etag
	}
	if res.LastModifiedMs != nil {
		next.LastModifiedMs = res.LastModifiedMs
	}
	next.BackoffIndex = backoffIdx
	next.NextActionAtMs = nowMs + int64(delay.TotalSeconds)*1000
	next.JitterSeconds = delay.JitterSeconds
	next.Note = note
	next.ConsecutiveErrorCount = consecutiveErrors
	return next
}

// Delay is the result of ComputeDelay: a whole-second total and the signed
// jitter component that produced it.
type Delay struct {
	TotalSeconds uint64
	JitterSeconds int64
}

// ComputeDelay computes the next-action delay from base period, backoff
// index, a hard cap, and a jitter fraction in [0,1]. rand01 must be in
// [0,1); the zero-centered jitter term is (rand01*2-1) * clamped * jitter.
func ComputeDelay(base uint64, backoffIndex uint32, maxSeconds uint64, jitterFraction float64, rand01 float64) Delay {
	raw := saturatingMulPow2(base, backoffIndex)
	clamped := raw
	if clamped > maxSeconds {
		clamped = maxSeconds
	}

	jitterRaw := float64(clamped) * jitterFraction
	centered := (rand01*2.0 - 1.0) * jitterRaw
	jitterSeconds := int64(math.Round(centered))

	total := int64(clamped) + jitterSeconds
	if total < 0 {
		total = 0
	}

	return Delay{TotalSeconds: uint64(total), JitterSeconds: jitterSeconds}
}

// saturatingMulPow2 computes base*2^exp, clamping to math.MaxUint64 instead
// of overflowing — mirrors Rust's saturating_mul/saturating_pow used by the
// reference implementation this scheduler's backoff formula is drawn from.
func saturatingMulPow2(base uint64, exp uint32) uint64 {
	if base == 0 {
		return 0
	}
	const maxUint64 = ^uint64(0)
	result := base
	for i := uint32(0); i < exp; i++ {
		if result > maxUint64/2 {
			return maxUint64
		}
		result *= 2
	}
	return result
}
