package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

// InviteData fills the brand invitation email
type InviteData struct {
	BrandName   string
	InviterName string
	Role        string
	AcceptURL   string
	ExpiresAt   time.Time
}

var inviteHTML = template.Must(template.New("invite").Parse(`<p>{{.InviterName}} invited you to join <strong>{{.BrandName}}</strong> on BrandViz as {{.Role}}.</p>
<p><a href="{{.AcceptURL}}">Accept the invitation</a></p>
<p>This link expires on {{.ExpiresAt.Format "Jan 2, 2006"}}.</p>`))

// AcceptURL builds the link the invitee follows
func AcceptURL(appURL, token string) string {
	return strings.TrimRight(appURL, "/") + "/invites/accept?token=" + url.QueryEscape(token)
}

// InviteMessage renders the invitation for toEmail
func InviteMessage(toEmail string, data InviteData) (Message, error) {
	var html bytes.Buffer
	if err := inviteHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render invite email: %w", err)
	}

	plain := fmt.Sprintf(
		"%s invited you to join %s on BrandViz as %s.\n\nAccept the invitation: %s\n\nThis link expires on %s.\n",
		data.InviterName, data.BrandName, data.Role, data.AcceptURL, data.ExpiresAt.Format("Jan 2, 2006"),
	)

	return Message{
		ToEmail:   toEmail,
		Subject:   fmt.Sprintf("You're invited to %s on BrandViz", data.BrandName),
		PlainText: plain,
		HTML:      html.String(),
	}, nil
}

// PurchaseReceipt renders the confirmation sent after a credit purchase
func PurchaseReceipt(toEmail string, credits int, balance float64) Message {
	plain := fmt.Sprintf("Thanks for your purchase. %d credits were added to your account. Your balance is now %.0f credits.\n", credits, balance)
	return Message{
		ToEmail:   toEmail,
		Subject:   "Your BrandViz credits",
		PlainText: plain,
		HTML:      "<p>" + template.HTMLEscapeString(plain) + "</p>",
	}
}
