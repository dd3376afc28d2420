// Package mailer sends outbound notification email. Delivery goes through
// Resend; a noop implementation keeps the pipeline decoupled from email in
// environments without an API key.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// Notifier is the outbound-notification boundary the import pipeline sees.
type Notifier interface {
	NotifyImportFinished(ctx context.Context, summary ImportSummary) error
}

// ImportSummary carries the fields rendered into the notification email.
type ImportSummary struct {
	JobID    string
	FileName string
	Status   string
	Imported int
	Errors   int
	Skipped  int
}

// ResendMailer delivers notifications through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
	to     string
	logger *slog.Logger
}

// NewResendMailer creates a mailer sending from/to the configured addresses.
func NewResendMailer(apiKey, from, to string, logger *slog.Logger) *ResendMailer {
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
		logger: logger,
	}
}

// NotifyImportFinished emails a short summary of a finished import job.
func (m *ResendMailer) NotifyImportFinished(ctx context.Context, summary ImportSummary) error {
	subject := fmt.Sprintf("Import %s: %s", summary.Status, summary.FileName)
	body := fmt.Sprintf(
		"<p>Import job %s finished with status <strong>%s</strong>.</p>"+
			"<ul><li>Imported: %d</li><li>Errors: %d</li><li>Skipped: %d</li></ul>",
		summary.JobID, summary.Status, summary.Imported, summary.Errors, summary.Skipped,
	)

	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{m.to},
		Subject: subject,
		Html:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to send import notification: %w", err)
	}

	m.logger.Info("import notification sent",
		slog.String("job_id", summary.JobID),
		slog.String("status", summary.Status),
	)
	return nil
}

// NoopNotifier drops notifications. Used when email is not configured.
type NoopNotifier struct{}

// NotifyImportFinished does nothing.
func (NoopNotifier) NotifyImportFinished(ctx context.Context, summary ImportSummary) error {
	return nil
}
