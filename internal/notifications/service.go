package notifications

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/0xPuncker/periodic/pkg/utils"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Sender posts a prepared message somewhere.
type Sender interface {
	SendSlackMessage(ctx context.Context, message *SlackMessage) error
}

type NotificationService struct {
	sender Sender
	host   string
	now    func() time.Time
}

func NewNotificationService(sender Sender) *NotificationService {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown host"
	}
	return &NotificationService{
		sender: sender,
		host:   host,
		now:    time.Now,
	}
}

// SendPassSummary reports a finished pass. Passes that neither ran nor
// failed a job are not worth a message and return nil without sending.
func (s *NotificationService) SendPassSummary(ctx context.Context, res *runner.Result) error {
	message := s.formatPassSummary(res)
	if message == nil {
		return nil
	}
	return s.sender.SendSlackMessage(ctx, message)
}

func (s *NotificationService) formatPassSummary(res *runner.Result) *SlackMessage {
	if res == nil || res.Status != runner.StatusCompleted || res.DryRun {
		return nil
	}
	ran, failed := res.Ran(), res.Failed()
	if len(ran) == 0 && len(failed) == 0 {
		return nil
	}

	color := "good"
	icon := "✅"
	if len(failed) > 0 {
		color = "danger"
		icon = "❌"
	}

	title := cases.Title(language.English)
	var fields []Field
	for _, job := range res.Jobs {
		if job.Outcome != runner.OutcomeRan && job.Outcome != runner.OutcomeFailed {
			continue
		}
		value := fmt.Sprintf("%s in %s", title.String(string(job.Outcome)), utils.FormatElapsed(job.Duration))
		if job.Err != nil {
			value = fmt.Sprintf("%s: %s", title.String(string(job.Outcome)), job.Error())
		}
		fields = append(fields, Field{
			Title: job.Name,
			Value: value,
			Short: job.Err == nil,
		})
	}

	return &SlackMessage{
		Text: fmt.Sprintf("%s Scheduler pass on %s: %d ran, %d failed, %d skipped",
			icon, s.host, len(ran), len(failed), len(res.Skipped())),
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: fmt.Sprintf("Started: %s | Took: %s",
					res.StartedAt.Format("Mon, 02 Jan 2006 15:04:05 MST"),
					utils.FormatElapsed(res.FinishedAt.Sub(res.StartedAt))),
				Ts: s.now().Unix(),
			},
		},
	}
}
