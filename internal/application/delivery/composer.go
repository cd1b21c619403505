package delivery

import (
	"fmt"
	"html"
	"time"

	"github.com/comnecter/verifymail/internal/domain"
)

// Fixed message identity.
const (
	SenderName    = "Comnecter"
	Subject       = "Your Comnecter Verification Code"
	ExpiryMinutes = 5
)

const textLayout = "Your Comnecter verification code is: %s\n\n" +
	"This code will expire in %d minutes.\n\n" +
	"If you didn't request this code, please ignore this email."

// htmlLayout verbs: code, expiry minutes, year.
const htmlLayout = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Verification Code</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f5f5f5; margin: 0; padding: 20px;">
  <div style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; padding: 40px; box-shadow: 0 2px 4px rgba(0,0,0,0.1);">
    <div style="text-align: center; margin-bottom: 30px;">
      <h1 style="color: #6366f1; margin: 0; font-size: 28px;">Comnecter</h1>
      <p style="color: #6b7280; margin-top: 8px; font-size: 14px;">Your verification code</p>
    </div>
    <div style="background-color: #f9fafb; border-radius: 8px; padding: 30px; text-align: center; margin: 30px 0;">
      <p style="color: #374151; font-size: 14px; margin: 0 0 10px 0;">Your verification code is:</p>
      <div style="background-color: #ffffff; border: 2px dashed #6366f1; border-radius: 8px; padding: 20px; margin: 20px 0;">
        <p style="font-size: 36px; font-weight: bold; color: #6366f1; letter-spacing: 8px; margin: 0; font-family: 'Courier New', monospace;">%s</p>
      </div>
      <p style="color: #6b7280; font-size: 12px; margin: 10px 0 0 0;">This code will expire in %d minutes</p>
    </div>
    <div style="border-top: 1px solid #e5e7eb; padding-top: 20px; margin-top: 30px;">
      <p style="color: #6b7280; font-size: 12px; line-height: 1.6; margin: 0;">
        If you didn't request this verification code, you can safely ignore this email.
      </p>
      <p style="color: #6b7280; font-size: 12px; line-height: 1.6; margin: 10px 0 0 0;">
        For security reasons, never share this code with anyone.
      </p>
    </div>
    <div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #e5e7eb; text-align: center;">
      <p style="color: #9ca3af; font-size: 11px; margin: 0;">
        &copy; %d Comnecter. All rights reserved.
      </p>
    </div>
  </div>
</body>
</html>
`

// Composer builds verification emails. The footer year is the only input taken from the clock.
type Composer struct {
	now func() time.Time
}

func NewComposer(now func() time.Time) *Composer {
	if now == nil {
		now = time.Now
	}
	return &Composer{now: now}
}

// Compose builds the message for (email, code, senderEmail). Callers validate presence first.
func (c *Composer) Compose(email, code, senderEmail string) domain.EmailMessage {
	return domain.EmailMessage{
		To:      email,
		From:    domain.Address{Email: senderEmail, Name: SenderName},
		Subject: Subject,
		Text:    fmt.Sprintf(textLayout, code, ExpiryMinutes),
		HTML:    fmt.Sprintf(htmlLayout, html.EscapeString(code), ExpiryMinutes, c.now().Year()),
	}
}
