package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Event carries one tool call through the pipeline. Params holds the
// call's arguments; Result and Error are only set for after-hooks.
type Event struct {
	ToolName   string         `json:"tool_name"`
	Params     map[string]any `json:"params"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// CallContext identifies who is making the tool call.
type CallContext struct {
	AgentID        string `json:"agent_id"`
	UserID         string `json:"user_id"`
	ChannelID      string `json:"channel_id"`
	PlatformUserID string `json:"platform_user_id"`
	SessionKey     string `json:"session_key"`
}

// Result is a subscriber's verdict. The zero value is a pass. Block
// short-circuits the pipeline; a non-nil Params replaces the call's
// parameters for downstream subscribers and the eventual execution.
type Result struct {
	Block  bool           `json:"block,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Pass is the no-op result.
var Pass = Result{}

// Handler is one hook subscriber.
type Handler func(ctx context.Context, ev Event, call CallContext) Result

type subscriber struct {
	name     string
	priority int
	seq      int
	fn       Handler
}

// Pipeline dispatches before and after hooks around every tool call.
// Subscribers run highest priority first; registration order breaks ties.
type Pipeline struct {
	mu     sync.RWMutex
	before []subscriber
	after  []subscriber
	seq    int
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// OnBeforeToolCall subscribes fn to run before tool execution.
func (p *Pipeline) OnBeforeToolCall(name string, priority int, fn Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.before = insertSorted(p.before, subscriber{name: name, priority: priority, seq: p.seq, fn: fn})
}

// OnAfterToolCall subscribes fn to run after tool execution.
func (p *Pipeline) OnAfterToolCall(name string, priority int, fn Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.after = insertSorted(p.after, subscriber{name: name, priority: priority, seq: p.seq, fn: fn})
}

func insertSorted(subs []subscriber, s subscriber) []subscriber {
	subs = append(subs, s)
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	return subs
}

// RunBefore invokes the before-subscribers in order. The first block wins
// and stops the chain; parameter replacements compose, and the final
// parameters are returned in the result.
func (p *Pipeline) RunBefore(ctx context.Context, ev Event, call CallContext) Result {
	p.mu.RLock()
	subs := make([]subscriber, len(p.before))
	copy(subs, p.before)
	p.mu.RUnlock()

	for _, s := range subs {
		res := p.invoke(ctx, s, "before_tool_call", ev, call)
		if res.Block {
			return Result{Block: true, Reason: res.Reason}
		}
		if res.Params != nil {
			ev.Params = res.Params
		}
	}
	return Result{Params: ev.Params}
}

// RunAfter invokes the after-subscribers in order. A block replaces the
// tool result and stops the chain.
func (p *Pipeline) RunAfter(ctx context.Context, ev Event, call CallContext) Result {
	p.mu.RLock()
	subs := make([]subscriber, len(p.after))
	copy(subs, p.after)
	p.mu.RUnlock()

	for _, s := range subs {
		res := p.invoke(ctx, s, "after_tool_call", ev, call)
		if res.Block {
			return Result{Block: true, Reason: res.Reason}
		}
	}
	return Pass
}

// invoke runs one subscriber, converting a panic into a pass.
func (p *Pipeline) invoke(ctx context.Context, s subscriber, event string, ev Event, call CallContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hooks.subscriber_panic", "event", event, "subscriber", s.name, "panic", r)
			res = Pass
		}
	}()
	return s.fn(ctx, ev, call)
}
