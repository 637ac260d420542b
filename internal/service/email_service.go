package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openscholar/journal-api/pkg/jobs"
	"github.com/openscholar/journal-api/pkg/mailer"
)

// EmailConfig defines configuration for outbound account email.
type EmailConfig struct {
	PublicBaseURL string
	Workers       int
	MaxRetries    int
}

// EmailService queues account emails for background delivery. It satisfies
// the Notifier contract used by the session flows: enqueueing is cheap and
// never blocks a request on the mail provider.
type EmailService struct {
	sender mailer.Sender
	queue  *jobs.Queue
	config EmailConfig
	logger *zap.Logger
}

// NewEmailService builds an email service backed by a worker queue.
func NewEmailService(sender mailer.Sender, config EmailConfig, logger *zap.Logger) *EmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EmailService{
		sender: sender,
		config: config,
		logger: logger,
	}
	s.queue = jobs.NewQueue("account-email", s.deliver, jobs.QueueConfig{
		Workers:    config.Workers,
		MaxRetries: config.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *EmailService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *EmailService) Stop() {
	s.queue.Stop()
}

// SendVerificationEmail queues the account activation email.
func (s *EmailService) SendVerificationEmail(_ context.Context, to, verifyToken string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.config.PublicBaseURL, url.QueryEscape(verifyToken))
	return s.enqueue(mailer.Message{
		To:      to,
		Subject: "Verify your email address",
		HTML: fmt.Sprintf(`<p>Welcome! Please confirm your email address.</p>
<p><a href="%s">Verify email</a></p>
<p>The link expires shortly; request a new one if it no longer works.</p>`, link),
	})
}

// SendPasswordResetEmail queues the password reset email.
func (s *EmailService) SendPasswordResetEmail(_ context.Context, to, resetToken string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.config.PublicBaseURL, url.QueryEscape(resetToken))
	return s.enqueue(mailer.Message{
		To:      to,
		Subject: "Reset your password",
		HTML: fmt.Sprintf(`<p>A password reset was requested for your account.</p>
<p><a href="%s">Choose a new password</a></p>
<p>If you did not request this, you can ignore this email.</p>`, link),
	})
}

func (s *EmailService) enqueue(msg mailer.Message) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "send-email",
		Payload: msg,
	})
}

func (s *EmailService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("email job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.sender.Send(ctx, msg)
}
