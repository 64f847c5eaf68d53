package services

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// EmailSender is satisfied by *sendgrid.Client.
type EmailSender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// SMSSender is satisfied by the Twilio REST client's Api service.
type SMSSender interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type NotificationConfig struct {
	ToEmail         string
	FromEmail       string
	ToPhone         string
	FromPhone       string
	SendgridSandbox bool
}

// NotificationService tells the requester that a mirrored issue's
// payment-review window has opened and how long is left to block it.
type NotificationService struct {
	cfg   NotificationConfig
	email EmailSender
	sms   SMSSender
}

func NewNotificationService(cfg NotificationConfig, email EmailSender, sms SMSSender) *NotificationService {
	return &NotificationService{cfg: cfg, email: email, sms: sms}
}

// NewNotificationServiceFromKeys builds the SendGrid and Twilio clients
// for whichever credentials are present.
func NewNotificationServiceFromKeys(cfg NotificationConfig, sendGridAPIKey, twilioSID, twilioToken string) *NotificationService {
	var (
		email EmailSender
		sms   SMSSender
	)
	if sendGridAPIKey != "" && cfg.ToEmail != "" {
		email = sendgrid.NewSendClient(sendGridAPIKey)
	}
	if twilioSID != "" && twilioToken != "" && cfg.ToPhone != "" {
		tw := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: twilioSID,
			Password: twilioToken,
		})
		sms = tw.Api
	}
	return NewNotificationService(cfg, email, sms)
}

func (s *NotificationService) Enabled() bool {
	return s != nil && (s.email != nil || s.sms != nil)
}

// ReviewWindowOpen sends the notice on every configured channel. A failure
// on one channel does not stop the other.
func (s *NotificationService) ReviewWindowOpen(ctx context.Context, b *models.GitHubIssueBinding, remaining time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	subject := fmt.Sprintf(constants.EmailSubjectReviewWindowOpen, b.RepoURL, b.IssueNumber)
	body := fmt.Sprintf(
		"Issue %s#%d (%s) was closed and its payment will be released in %s.\n"+
			"Run `market block %s %d` before then to withhold payment.",
		b.RepoURL, b.IssueNumber, b.Title, timewindow.FormatRemaining(remaining), b.RepoURL, b.IssueNumber,
	)

	var result *multierror.Error

	if s.sms != nil {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(s.cfg.ToPhone)
		params.SetFrom(s.cfg.FromPhone)
		params.SetBody(subject + " :: " + body)
		if _, err := s.sms.CreateMessage(params); err != nil {
			utils.Logger.WithError(err).Warnf("Failed to send review SMS for %s", b.Key())
			result = multierror.Append(result, fmt.Errorf("sms: %w", err))
		}
	}

	if s.email != nil {
		from := mail.NewEmail(constants.NotificationOrgName, s.cfg.FromEmail)
		to := mail.NewEmail("", s.cfg.ToEmail)
		msg := mail.NewSingleEmail(from, subject, to, body, "<p>"+body+"</p>")
		if s.cfg.SendgridSandbox {
			ms := mail.NewMailSettings()
			ms.SetSandboxMode(mail.NewSetting(true))
			msg.MailSettings = ms
		}
		resp, err := s.email.Send(msg)
		if err == nil && resp != nil && resp.StatusCode >= 300 {
			err = fmt.Errorf("sendgrid returned %d", resp.StatusCode)
		}
		if err != nil {
			utils.Logger.WithError(err).Warnf("Failed to send review email for %s", b.Key())
			result = multierror.Append(result, fmt.Errorf("email: %w", err))
		}
	}

	return result.ErrorOrNil()
}
