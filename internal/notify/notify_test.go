package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/ledger"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func decode(t *testing.T, m message) Event {
	t.Helper()
	var ev Event
	require.NoError(t, json.Unmarshal(m.data, &ev))
	return ev
}

func TestHook_PublishesOnlyOutcomesNeedingAHuman(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, "", nil)
	n.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	var forwarded []string
	hook := n.Hook(func(ev flow.ProgressEvent) { forwarded = append(forwarded, ev.Step) })

	hook(flow.ProgressEvent{Step: "run_started", RunID: "r1"})
	hook(flow.ProgressEvent{Step: "candidate_finished", RunID: "r1", URL: "https://a", Status: ledger.StatusSubmitted})
	hook(flow.ProgressEvent{Step: "candidate_finished", RunID: "r1", URL: "https://b", Status: ledger.StatusCaptcha, Detail: "captcha present"})
	hook(flow.ProgressEvent{Step: "candidate_finished", RunID: "r1", URL: "https://c", Status: ledger.StatusError})
	hook(flow.ProgressEvent{Step: "run_completed", RunID: "r1", Content: map[ledger.Status]int{ledger.StatusCaptcha: 1}})

	assert.Equal(t, []string{"run_started", "candidate_finished", "candidate_finished", "candidate_finished", "run_completed"}, forwarded)
	require.Len(t, pub.msgs, 2)

	assert.Equal(t, DefaultSubject, pub.msgs[0].subject)
	ev := decode(t, pub.msgs[0])
	assert.Equal(t, "needs_human", ev.Type)
	assert.Equal(t, "https://b", ev.URL)
	assert.Equal(t, ledger.StatusCaptcha, ev.Status)
	assert.Equal(t, "captcha present", ev.Detail)
	assert.Equal(t, "r1", ev.RunID)
	assert.True(t, ev.Timestamp.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)))

	summary := decode(t, pub.msgs[1])
	assert.Equal(t, "run_completed", summary.Type)
	assert.Equal(t, map[string]any{"captcha": float64(1)}, summary.Counts)
}

func TestHook_PublishFailureIsNotFatal(t *testing.T) {
	n := New(&fakePublisher{err: errors.New("nats: connection closed")}, "custom.subject", nil)
	called := false
	hook := n.Hook(func(flow.ProgressEvent) { called = true })

	assert.NotPanics(t, func() {
		hook(flow.ProgressEvent{Step: "candidate_finished", URL: "https://b", Status: ledger.StatusNeedsAccount})
	})
	assert.True(t, called)
	assert.Equal(t, "custom.subject", n.Subject())
}

func TestPublish_Error(t *testing.T) {
	n := New(&fakePublisher{err: errors.New("boom")}, "s", nil)
	err := n.Publish(Event{Type: "needs_human"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish to s")
}

func TestNilNotifier(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Publish(Event{Type: "x"}))
	assert.Equal(t, "", n.Subject())
	n.Close()

	called := false
	n.Hook(func(flow.ProgressEvent) { called = true })(flow.ProgressEvent{Step: "run_completed"})
	assert.True(t, called)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}
