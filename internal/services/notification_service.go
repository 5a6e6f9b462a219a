package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/everkeep/legacy-access-service/internal/config"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// NotificationDispatcher is everything the state machine is allowed to say
// to the outside world. Every call is fire-and-forget from the caller's
// perspective: delivery failures are logged (and retried) here and never
// propagate back into a status transition.
type NotificationDispatcher interface {
	NotifyTrusteesOfRequest(ctx context.Context, req *models.LegacyAccessRequest, trustees []*models.Trustee, confirmations []*models.TrusteeConfirmation)
	NotifyOwnerOfRequest(ctx context.Context, owner *models.Owner, req *models.LegacyAccessRequest)
	NotifyRequesterGracePeriodStarted(ctx context.Context, req *models.LegacyAccessRequest)
	NotifyRequesterRejected(ctx context.Context, req *models.LegacyAccessRequest)
	NotifyRequesterCancelled(ctx context.Context, req *models.LegacyAccessRequest)
	NotifyRequesterAccessGranted(ctx context.Context, req *models.LegacyAccessRequest, accessLink string)
}

const trusteeConfirmEmailHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Legacy Access Confirmation Needed</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; background-color: #f3f4f6; color: #1f2937; margin: 0; padding: 20px; }
  .container { max-width: 600px; margin: auto; background: #fff; border: 1px solid #e5e7eb; border-radius: 8px; }
  .header { background-color: #ede9fe; padding: 15px 20px; border-bottom: 1px solid #ddd6fe; }
  .header h1 { margin: 0; font-size: 20px; color: #5b21b6; }
  .content { padding: 20px; }
  ul { list-style: none; padding: 0; }
  li { padding: 8px; border-bottom: 1px solid #eee; }
  li:last-child { border-bottom: none; }
  .button-container { text-align: center; margin: 20px 0; }
  .button {
    background-color: #7c3aed;
    color: white !important;
    padding: 12px 25px;
    text-decoration: none;
    border-radius: 5px;
    font-weight: bold;
    display: inline-block;
  }
</style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%s</h1>
    </div>
    <div class="content">
      <p>Someone has requested access to a vault you are a trustee for. Please confirm or deny this request.</p>
      <ul>
        <li><strong>Requester:</strong> %s</li>
        <li><strong>Claimed relationship:</strong> %s</li>
        <li><strong>Verification method:</strong> %s</li>
        <li><strong>Submitted (UTC):</strong> %s</li>
      </ul>
      <div class="button-container">
        <a href="%s" class="button">Review Request</a>
      </div>
      <p>If you do not recognize this request, deny it and the account owner will be alerted.</p>
    </div>
  </div>
</body>
</html>`

const requesterStatusEmailHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Legacy Access Update</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; background-color: #f3f4f6; color: #1f2937; margin: 0; padding: 20px; }
  .container { max-width: 600px; margin: auto; background: #fff; border: 1px solid #e5e7eb; border-radius: 8px; }
  .header { background-color: #dbeafe; padding: 15px 20px; border-bottom: 1px solid #bfdbfe; }
  .header h1 { margin: 0; font-size: 20px; color: #1e40af; }
  .content { padding: 20px; }
</style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%s</h1>
    </div>
    <div class="content">
      %s
    </div>
  </div>
</body>
</html>`

type notificationService struct {
	cfg            *config.Config
	twilioClient   *twilio.RestClient
	sendgridClient *sendgrid.Client
}

func NewNotificationService(
	cfg *config.Config,
	twClient *twilio.RestClient,
	sgClient *sendgrid.Client,
) NotificationDispatcher {
	return &notificationService{
		cfg:            cfg,
		twilioClient:   twClient,
		sendgridClient: sgClient,
	}
}

func (s *notificationService) NotifyTrusteesOfRequest(
	ctx context.Context,
	req *models.LegacyAccessRequest,
	trustees []*models.Trustee,
	confirmations []*models.TrusteeConfirmation,
) {
	// Token lookup per trustee; fan-out created one confirmation per trustee.
	tokens := make(map[string]string, len(confirmations))
	for _, c := range confirmations {
		tokens[c.TrusteeID.String()] = c.Token
	}

	subject := "Action needed: legacy access request"
	for _, t := range trustees {
		token, ok := tokens[t.ID.String()]
		if !ok {
			utils.Logger.Warnf("No confirmation token for trustee %s on request %s", t.ID, req.ID)
			continue
		}
		confirmLink := fmt.Sprintf("%s/legacy-access/confirm?token=%s", s.cfg.AppUrl, token)

		plainText := fmt.Sprintf(
			"Someone has requested access to a vault you are a trustee for.\n\nRequester: %s\nClaimed relationship: %s\nVerification method: %s\n\nReview: %s",
			req.RequesterName,
			req.Relationship,
			req.VerificationMethod,
			confirmLink,
		)
		htmlBody := fmt.Sprintf(
			trusteeConfirmEmailHTML,
			subject,
			req.RequesterName,
			req.Relationship,
			req.VerificationMethod,
			req.CreatedAt.UTC().Format(time.RFC1123Z),
			confirmLink,
		)
		s.sendEmail(t.Name, t.Email, subject, plainText, htmlBody)

		if t.PhoneNumber != nil {
			s.sendSMS(*t.PhoneNumber, fmt.Sprintf(
				"%s :: %s has requested legacy access. Review: %s",
				subject, req.RequesterName, confirmLink,
			))
		}
	}
}

func (s *notificationService) NotifyOwnerOfRequest(
	ctx context.Context,
	owner *models.Owner,
	req *models.LegacyAccessRequest,
) {
	subject := "Security alert: someone requested access to your vault"
	body := fmt.Sprintf(
		"<p>%s (%s) has requested access to your vault, claiming to be your %s.</p>"+
			"<p>If this is a false alarm, sign in and cancel the request. Your trustees have been asked to confirm it; nothing will be released before the grace period ends.</p>",
		req.RequesterName, req.RequesterEmail, req.Relationship,
	)
	plainText := fmt.Sprintf(
		"%s (%s) has requested access to your vault, claiming to be your %s. If this is a false alarm, sign in and cancel the request.",
		req.RequesterName, req.RequesterEmail, req.Relationship,
	)
	s.sendEmail(owner.Name, owner.Email, subject, plainText, fmt.Sprintf(requesterStatusEmailHTML, subject, body))

	if owner.PhoneNumber != nil {
		s.sendSMS(*owner.PhoneNumber, fmt.Sprintf(
			"%s: %s requested access to your %s vault. Sign in to review.",
			s.cfg.OrganizationName, req.RequesterName, s.cfg.OrganizationName,
		))
	}
}

func (s *notificationService) NotifyRequesterGracePeriodStarted(ctx context.Context, req *models.LegacyAccessRequest) {
	subject := "Your legacy access request was confirmed"
	end := "soon"
	if req.GracePeriodEnd != nil {
		end = req.GracePeriodEnd.UTC().Format(time.RFC1123Z)
	}
	body := fmt.Sprintf(
		"<p>The trustees have confirmed your request. A mandatory waiting period now applies; access will be released after <strong>%s</strong> unless the account owner cancels.</p>",
		end,
	)
	plainText := fmt.Sprintf("The trustees have confirmed your request. Access will be released after %s unless the account owner cancels.", end)
	s.sendEmail(req.RequesterName, req.RequesterEmail, subject, plainText, fmt.Sprintf(requesterStatusEmailHTML, subject, body))
}

func (s *notificationService) NotifyRequesterRejected(ctx context.Context, req *models.LegacyAccessRequest) {
	subject := "Your legacy access request was declined"
	body := "<p>The designated trustees have declined your request for access. If you believe this is in error, please contact the trustees directly.</p>"
	plainText := "The designated trustees have declined your request for access."
	s.sendEmail(req.RequesterName, req.RequesterEmail, subject, plainText, fmt.Sprintf(requesterStatusEmailHTML, subject, body))
}

func (s *notificationService) NotifyRequesterCancelled(ctx context.Context, req *models.LegacyAccessRequest) {
	subject := "Your legacy access request was cancelled"
	body := "<p>The account owner has cancelled this access request. No content will be released.</p>"
	plainText := "The account owner has cancelled this access request. No content will be released."
	s.sendEmail(req.RequesterName, req.RequesterEmail, subject, plainText, fmt.Sprintf(requesterStatusEmailHTML, subject, body))
}

func (s *notificationService) NotifyRequesterAccessGranted(ctx context.Context, req *models.LegacyAccessRequest, accessLink string) {
	subject := "Your legacy access is ready"
	expires := ""
	if req.AccessExpiresAt != nil {
		expires = fmt.Sprintf(" This link is valid until %s.", req.AccessExpiresAt.UTC().Format(time.RFC1123Z))
	}
	body := fmt.Sprintf(
		`<p>The waiting period has ended and access has been granted.%s</p><p><a href="%s">Open the vault</a></p><p>Treat this link like a password; anyone holding it can view the released content.</p>`,
		expires, accessLink,
	)
	plainText := fmt.Sprintf("The waiting period has ended and access has been granted.%s\n\nOpen the vault: %s", expires, accessLink)
	s.sendEmail(req.RequesterName, req.RequesterEmail, subject, plainText, fmt.Sprintf(requesterStatusEmailHTML, subject, body))
}

/* ---------- delivery plumbing ---------- */

func (s *notificationService) sendEmail(toName, toEmail, subject, plainText, htmlBody string) {
	if s.sendgridClient == nil {
		utils.Logger.Warnf("SendGrid client is nil, skipping email to %s", toEmail)
		return
	}
	from := mail.NewEmail(s.cfg.OrganizationName, s.cfg.LDFlag_SendgridFromEmail)
	to := mail.NewEmail(toName, toEmail)
	msg := mail.NewSingleEmail(from, subject, to, plainText, htmlBody)
	msg.TrackingSettings = &mail.TrackingSettings{
		ClickTracking: &mail.ClickTrackingSetting{
			Enable: utils.Ptr(false),
		},
	}
	if s.cfg.LDFlag_SendgridSandboxMode {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		msg.MailSettings = ms
	}
	if _, err := s.sendgridClient.Send(msg); err != nil {
		utils.Logger.WithError(err).Warnf("Email send failure to %s", toEmail)
	}
}

func (s *notificationService) sendSMS(toPhone, body string) {
	if s.twilioClient == nil {
		utils.Logger.Warnf("Twilio client is nil, skipping SMS to %s", toPhone)
		return
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(toPhone)
	params.SetFrom(s.cfg.LDFlag_TwilioFromPhone)
	params.SetBody(body)
	if _, err := s.twilioClient.Api.CreateMessage(params); err != nil {
		utils.Logger.WithError(err).Warnf("Failed to send SMS to %s", toPhone)
	}
}
