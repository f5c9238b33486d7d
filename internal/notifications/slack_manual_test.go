package notifications

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Posts a real message. Runs only when SLACK_WEBHOOK_URL is set, either in
// the environment or in .env.test at the project root.
func TestSlackPassSummaryManual(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	rootDir := filepath.Dir(filepath.Dir(wd))
	if err := godotenv.Load(filepath.Join(rootDir, ".env.test")); err != nil {
		t.Log("No .env.test file found, using environment variables")
	}

	if os.Getenv("SLACK_WEBHOOK_URL") == "" {
		t.Skip("SLACK_WEBHOOK_URL not set")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	slackService, err := NewSlackService(logger)
	if err != nil {
		t.Fatal(err)
	}

	started := time.Now().Add(-3 * time.Second)
	res := &runner.Result{
		Status:     runner.StatusCompleted,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Jobs: []runner.JobResult{
			{Name: "CleanUp", Task: "CleanUp", Action: "main", Outcome: runner.OutcomeRan, Duration: 1200 * time.Millisecond},
			{Name: "Newsletter", Task: "Newsletter", Action: "send", Outcome: runner.OutcomeFailed, Err: errors.New("smtp: connection refused")},
			{Name: "Report", Task: "Report", Action: "weekly", Outcome: runner.OutcomeSkipped},
		},
	}

	if err := NewNotificationService(slackService).SendPassSummary(context.Background(), res); err != nil {
		t.Fatal(err)
	}
	t.Log("Successfully sent test pass summary")
}
