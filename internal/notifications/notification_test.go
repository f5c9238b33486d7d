package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	messages []*SlackMessage
}

func (r *recordingSender) SendSlackMessage(_ context.Context, m *SlackMessage) error {
	r.messages = append(r.messages, m)
	return nil
}

func passResult(jobs ...runner.JobResult) *runner.Result {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	return &runner.Result{
		Status:     runner.StatusCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Jobs:       jobs,
	}
}

func newTestService(sender Sender) *NotificationService {
	s := NewNotificationService(sender)
	s.host = "worker-1"
	s.now = func() time.Time { return time.Unix(1710072000, 0) }
	return s
}

func TestPassSummaryFormatting(t *testing.T) {
	sender := &recordingSender{}
	s := newTestService(sender)

	res := passResult(
		runner.JobResult{Name: "CleanUp", Outcome: runner.OutcomeRan, Duration: 250 * time.Millisecond},
		runner.JobResult{Name: "Report", Outcome: runner.OutcomeSkipped},
		runner.JobResult{Name: "Newsletter", Outcome: runner.OutcomeFailed, Err: errors.New("smtp down")},
	)
	require.NoError(t, s.SendPassSummary(context.Background(), res))
	require.Len(t, sender.messages, 1)

	msg := sender.messages[0]
	assert.Equal(t, "❌ Scheduler pass on worker-1: 1 ran, 1 failed, 1 skipped", msg.Text)
	require.Len(t, msg.Attachments, 1)

	att := msg.Attachments[0]
	assert.Equal(t, "danger", att.Color)
	assert.Equal(t, int64(1710072000), att.Ts)
	assert.Contains(t, att.Footer, "Took: 1.50s")
	assert.Equal(t, []Field{
		{Title: "CleanUp", Value: "Ran in 250ms", Short: true},
		{Title: "Newsletter", Value: "Failed: smtp down", Short: false},
	}, att.Fields)
}

func TestPassSummarySkipsQuietPasses(t *testing.T) {
	tests := []struct {
		name string
		res  *runner.Result
	}{
		{"nil result", nil},
		{"nothing due", passResult(runner.JobResult{Name: "Report", Outcome: runner.OutcomeSkipped})},
		{"already running", &runner.Result{Status: runner.StatusAlreadyRunning}},
		{"dry run", func() *runner.Result {
			r := passResult(runner.JobResult{Name: "Report", Outcome: runner.OutcomeDue})
			r.DryRun = true
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			require.NoError(t, newTestService(sender).SendPassSummary(context.Background(), tt.res))
			assert.Empty(t, sender.messages)
		})
	}
}

func TestSlackServicePostsJSON(t *testing.T) {
	var received SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	slack := NewSlackServiceWithURL(logger, server.URL, server.Client())

	err := newTestService(slack).SendPassSummary(context.Background(),
		passResult(runner.JobResult{Name: "CleanUp", Outcome: runner.OutcomeRan}))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(received.Text, "✅ Scheduler pass on worker-1"))
	assert.Equal(t, "good", received.Attachments[0].Color)
}

func TestSlackServiceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	err := NewSlackServiceWithURL(logger, server.URL, server.Client()).
		SendSlackMessage(context.Background(), &SlackMessage{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	err = NewSlackServiceWithURL(logger, "", nil).SendSlackMessage(context.Background(), &SlackMessage{Text: "hi"})
	assert.Error(t, err)

	t.Setenv("SLACK_WEBHOOK_URL", "")
	_, err = NewSlackService(logger)
	assert.Error(t, err)
}
