package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentchorus/conversation/stimulus"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const longReply = "This is a sufficiently long and thoughtful reply that keeps the discussion lively"

func TestStream_EmitsMessagesUntilClientLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	inv := &fakeInvoker{script: replyWith(longReply)}
	sl := &sleeper{stopAfter: 3, cancel: cancel}
	o := newTestOrchestrator(t, inv, st, WithSleep(sl.Sleep), WithRand(&seqRand{vals: []int{0}}))
	sink := &recordingSink{}

	reason, err := o.Stream(ctx, SessionConfig{Providers: []string{"mistral:7b"}, Topic: "space elevators"}, sink)
	require.NoError(t, err)
	assert.Equal(t, StoppedByClient, reason)

	events := sink.received()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, EventMessage, ev.Type)
		assert.Equal(t, i+1, ev.MessageCount)
		assert.Equal(t, "mistral:7b", ev.Provider)
		assert.Equal(t, "Mistral 7B", ev.ProviderName)
		assert.Equal(t, "#7c3aed", ev.Color)
		assert.Equal(t, "2025-03-14T09:26:53.589Z", ev.Timestamp)
		assert.Equal(t, "System architecture, logic design, performance optimization", ev.Expertise)
		assert.NotEqual(t, FatalNotice, ev.Content)
	}
	assert.Len(t, inv.invocations(), 3)

	for _, d := range sl.recorded() {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 5*time.Second)
	}

	turns, err := st.ListTurns(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "space elevators", turns[0].Content)
	assert.Equal(t, store.ProviderInfiniteChat, turns[0].Provider)
	for _, tr := range turns[1:] {
		assert.Equal(t, types.RoleAssistant, tr.Role)
		assert.Equal(t, "mistral:7b", tr.Provider)
	}
}

func TestStream_FirstTurnSendsBareTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{script: replyWith(longReply)}
	sl := &sleeper{stopAfter: 2, cancel: cancel}
	o := newTestOrchestrator(t, inv, nil, WithSleep(sl.Sleep))

	_, err := o.Stream(ctx, SessionConfig{Providers: []string{"codellama:7b"}, Topic: "garbage collectors"}, &recordingSink{})
	require.NoError(t, err)

	calls := inv.invocations()
	require.Len(t, calls, 2)
	first := calls[0].messages
	require.Len(t, first, 2)
	assert.Contains(t, first[0].Content, "(Message #1)")
	assert.Equal(t, "garbage collectors", first[1].Content)

	second := calls[1].messages
	assert.Contains(t, second[0].Content, "(Message #2)")
	assert.Equal(t, "Continue our discussion based on this conversation context:", second[1].Content)
	assert.True(t, strings.HasPrefix(second[2].Content, "codellama:7b: "))
}

func TestStream_SingleProviderFailsFiveTimes(t *testing.T) {
	inv := &fakeInvoker{script: func(int, string, []types.Message) (string, error) {
		return "", errors.New("connection refused")
	}}
	sl := &sleeper{}
	st := store.NewMemoryStore()
	o := newTestOrchestrator(t, inv, st, WithSleep(sl.Sleep))
	sink := &recordingSink{}

	reason, err := o.Stream(context.Background(), SessionConfig{Providers: []string{"llama3.2:3b"}, Topic: "rust vs go"}, sink)
	assert.Equal(t, StoppedOnFailure, reason)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionFatal))

	assert.Len(t, inv.invocations(), 5, "no sixth invocation")

	events := sink.received()
	require.Len(t, events, 5)
	for i, ev := range events[:4] {
		assert.Equal(t, EventError, ev.Type)
		assert.Equal(t, i+1, ev.MessageCount)
		assert.Equal(t, RetryNotice, ev.Content)
		assert.Equal(t, "llama3.2:3b", ev.Provider)
		assert.Equal(t, ErrorColor, ev.Color)
	}
	final := events[4]
	assert.Equal(t, EventError, final.Type)
	assert.Zero(t, final.MessageCount)
	assert.Empty(t, final.Provider)
	assert.Equal(t, FatalNotice, final.Content)
	assert.Equal(t, ErrorColor, final.Color)

	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}, sl.recorded())

	turns, _ := st.ListTurns(context.Background())
	assert.Len(t, turns, 1, "only the topic is persisted")
}

func TestStream_BlankReplyCountsAsFailure(t *testing.T) {
	inv := &fakeInvoker{script: func(int, string, []types.Message) (string, error) { return "   ", nil }}
	o := newTestOrchestrator(t, inv, nil)
	sink := &recordingSink{}

	reason, err := o.Stream(context.Background(), SessionConfig{Providers: []string{"mistral:7b"}}, sink)
	assert.Equal(t, StoppedOnFailure, reason)
	assert.Error(t, err)
	assert.Len(t, inv.invocations(), 5)
}

func TestStream_SwitchesProviderAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{script: func(n int, p string, _ []types.Message) (string, error) {
		if p == "mistral:7b" {
			return "", errors.New("model not loaded")
		}
		return longReply, nil
	}}
	sl := &sleeper{stopAfter: 1, cancel: cancel}
	o := newTestOrchestrator(t, inv, nil, WithSleep(sl.Sleep), WithRand(&seqRand{vals: []int{0}}))
	sink := &recordingSink{}

	reason, err := o.Stream(ctx, SessionConfig{Providers: []string{"mistral:7b", "codellama:7b"}}, sink)
	require.NoError(t, err)
	assert.Equal(t, StoppedByClient, reason)

	calls := inv.invocations()
	require.Len(t, calls, 2)
	assert.Equal(t, "mistral:7b", calls[0].provider)
	assert.Equal(t, "codellama:7b", calls[1].provider)

	events := sink.received()
	require.Len(t, events, 1, "no error event when another provider can take over")
	assert.Equal(t, EventMessage, events[0].Type)
	assert.Equal(t, 2, events[0].MessageCount)
	assert.Len(t, sl.recorded(), 1, "switching does not cool down")
}

func TestStream_StimulusCadence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{script: replyWith(longReply)}
	sl := &sleeper{stopAfter: 10, cancel: cancel}
	o := newTestOrchestrator(t, inv, nil, WithSleep(sl.Sleep), WithRand(&seqRand{vals: []int{0}}))

	_, err := o.Stream(ctx, SessionConfig{Providers: []string{"mistral:7b"}, Topic: "ocean currents"}, &recordingSink{})
	require.NoError(t, err)

	calls := inv.invocations()
	require.Len(t, calls, 10)
	system := func(n int) string { return calls[n-1].messages[0].Content }

	assert.Contains(t, system(6), stimulus.DebatePrompts[0])
	assert.Contains(t, system(10), stimulus.ContinuationPrompts[0])
	assert.NotContains(t, system(10), stimulus.DebatePrompts[0])
	assert.NotContains(t, system(7), stimulus.DebatePrompts[0])
	assert.NotContains(t, system(7), stimulus.ContinuationPrompts[0])
}

func TestStream_DirectiveTopicOverridesStimulus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{script: replyWith(longReply)}
	sl := &sleeper{stopAfter: 6, cancel: cancel}
	o := newTestOrchestrator(t, inv, nil, WithSleep(sl.Sleep), WithRand(&seqRand{vals: []int{0}}))

	sess, err := o.NewSession(ctx, SessionConfig{Providers: []string{"codellama:7b"}, Topic: "/debug the flaky scheduler"})
	require.NoError(t, err)
	assert.False(t, sess.Directive.IsNormal())

	_, err = o.Run(ctx, sess, &recordingSink{})
	require.NoError(t, err)
	sys := inv.invocations()[5].messages[0].Content
	assert.Contains(t, sys, sess.Directive.Instruction)
	assert.NotContains(t, sys, stimulus.DebatePrompts[0])
}

func TestStream_ClientDisconnectStopsLoop(t *testing.T) {
	inv := &fakeInvoker{script: replyWith(longReply)}
	o := newTestOrchestrator(t, inv, nil)
	sink := &recordingSink{onEmit: func(n int, ev Event) error {
		if n == 2 {
			return errors.New("broken pipe")
		}
		return nil
	}}

	reason, err := o.Stream(context.Background(), SessionConfig{Providers: []string{"mistral:7b"}}, sink)
	require.NoError(t, err)
	assert.Equal(t, StoppedByClient, reason)
	assert.Len(t, sink.received(), 1)
	assert.Len(t, inv.invocations(), 2, "no iteration starts after the disconnect")
}

func TestStream_CancelDuringInvocation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{script: replyWith(longReply)}
	inv.before = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	o := newTestOrchestrator(t, inv, nil)
	sink := &recordingSink{}

	reason, err := o.Stream(ctx, SessionConfig{Providers: []string{"mistral:7b"}}, sink)
	require.NoError(t, err)
	assert.Equal(t, StoppedByClient, reason)
	assert.Len(t, sink.received(), 2, "nothing is emitted once cancellation is observed")
	assert.Len(t, inv.invocations(), 3)
}

func TestStream_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &fakeInvoker{script: replyWith(longReply)}
	o := newTestOrchestrator(t, inv, nil)
	reason, err := o.Stream(ctx, SessionConfig{Providers: []string{"mistral:7b"}}, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, StoppedByClient, reason)
	assert.Empty(t, inv.invocations())
}

func TestStream_ContextualPreload(t *testing.T) {
	st := store.NewMemoryStore()
	bg := context.Background()
	_, _ = st.AppendTurn(bg, types.RoleUser, "Should we shard the database?", store.ProviderUser)
	_, _ = st.AppendTurn(bg, types.RoleSystem, "project brief", store.ProviderProjectManager)
	_, _ = st.AppendTurn(bg, types.RoleAssistant, "Sharding adds operational cost; start with read replicas.", "mistral:7b")

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	inv := &fakeInvoker{script: replyWith(longReply)}
	sl := &sleeper{stopAfter: 1, cancel: cancel}
	o := newTestOrchestrator(t, inv, st, WithSleep(sl.Sleep))

	sess, err := o.NewSession(ctx, SessionConfig{Providers: []string{"codellama:7b"}, Topic: "databases", Contextual: true})
	require.NoError(t, err)
	hist := sess.history.Messages()
	require.Len(t, hist, 2, "system turns are not preloaded")
	assert.Equal(t, "Should we shard the database?", hist[0].Content)
	assert.Equal(t, "mistral:7b", hist[1].Provider)

	_, err = o.Run(ctx, sess, &recordingSink{})
	require.NoError(t, err)

	msgs := inv.invocations()[0].messages
	assert.Contains(t, msgs[0].Content, "Continue the existing conversation naturally")
	assert.Equal(t, "Continue our discussion based on this conversation context:", msgs[1].Content)
	assert.Equal(t, "Should we shard the database?", msgs[2].Content)
	assert.Equal(t, "mistral:7b: Sharding adds operational cost; start with read replicas.", msgs[3].Content)
}

func TestStream_HistoryTrimmed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{script: replyWith(longReply)}
	sl := &sleeper{stopAfter: 13, cancel: cancel}
	o := newTestOrchestrator(t, inv, nil, WithSleep(sl.Sleep))

	sess, err := o.NewSession(ctx, SessionConfig{Providers: []string{"mistral:7b"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, sess.Topic)
	assert.NotEmpty(t, sess.ID)

	_, err = o.Run(ctx, sess, &recordingSink{})
	require.NoError(t, err)
	assert.False(t, sess.Active)
	assert.Equal(t, 13, sess.MessageCount)

	hist := sess.history.Messages()
	assert.Len(t, hist, 8)
	assert.Contains(t, hist[len(hist)-1].Content, "#13")
}

func TestStream_UnknownProvidersRejected(t *testing.T) {
	st := store.NewMemoryStore()
	inv := &fakeInvoker{script: replyWith(longReply)}
	o := newTestOrchestrator(t, inv, st)
	sink := &recordingSink{}

	_, err := o.Stream(context.Background(), SessionConfig{Providers: []string{"gpt-99", " "}}, sink)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, sink.received())
	turns, _ := st.ListTurns(context.Background())
	assert.Empty(t, turns)
}

func TestStream_CounterProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		providers := rapid.SampledFrom([][]string{
			{"mistral:7b"},
			{"mistral:7b", "codellama:7b"},
			{"mistral:7b", "codellama:7b", "llama3.2:3b"},
		}).Draw(rt, "providers")
		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 30).Draw(rt, "outcomes")
		picks := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 10).Draw(rt, "picks")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		inv := &fakeInvoker{script: func(n int, p string, _ []types.Message) (string, error) {
			if n > len(outcomes) {
				cancel()
				return "", context.Canceled
			}
			if !outcomes[n-1] {
				return "", errors.New("flaky")
			}
			return longReply, nil
		}}
		o := newTestOrchestrator(t, inv, nil, WithRand(&seqRand{vals: picks}))
		sink := &recordingSink{}
		_, _ = o.Stream(ctx, SessionConfig{Providers: providers}, sink)

		prev := 0
		for _, ev := range sink.received() {
			if ev.Content == FatalNotice {
				continue
			}
			if ev.MessageCount <= prev {
				rt.Fatalf("counter not increasing: %d after %d", ev.MessageCount, prev)
			}
			if len(providers) == 1 && ev.MessageCount != prev+1 {
				rt.Fatalf("single provider counter skipped: %d after %d", ev.MessageCount, prev)
			}
			prev = ev.MessageCount
		}
		if len(inv.invocations()) > len(outcomes)+1 {
			rt.Fatalf("loop kept running after cancellation")
		}
	})
}

// 客户端在收到回复的同时断开，回复仍然要写入日志
func TestStream_ReplyPersistedWhenClientLeavesAfterEmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	inv := &fakeInvoker{script: replyWith(longReply)}
	o := newTestOrchestrator(t, inv, st)
	sink := &recordingSink{onEmit: func(n int, ev Event) error {
		cancel()
		return nil
	}}

	reason, err := o.Stream(ctx, SessionConfig{Providers: []string{"mistral:7b"}, Topic: "tidal power"}, sink)
	require.NoError(t, err)
	assert.Equal(t, StoppedByClient, reason)
	require.Len(t, sink.received(), 1)

	turns, err := st.ListTurns(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "tidal power", turns[0].Content)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Equal(t, "mistral:7b", turns[1].Provider)
	assert.Equal(t, longReply, turns[1].Content)
}
