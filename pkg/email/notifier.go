package email

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// Sender delivers one email.
type Sender interface {
	SendRawEmail(ctx context.Context, toEmail, toName, subject, htmlBody, plainTextBody string) error
}

// Notifier e-mails operators about new payout requests and creators about
// the outcome of theirs. Mail goes out in the background after the ledger
// change has committed.
type Notifier struct {
	sender     Sender
	adminEmail string
	unit       currency.Unit
	lang       language.Tag
	timeout    time.Duration
	logger     logger.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier. adminEmail may be empty to skip operator mail.
func NewNotifier(sender Sender, adminEmail string, log logger.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		adminEmail: adminEmail,
		unit:       currency.USD,
		lang:       language.AmericanEnglish,
		timeout:    10 * time.Second,
		logger:     log,
	}
}

// Wait blocks until queued mail has been handed to the sender.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) CommissionPosted(context.Context, *ledger.Posting, ledger.Account) {}

func (n *Notifier) PayoutChanged(ctx context.Context, r *ledger.PayoutRequest, from ledger.State, _ ledger.Account) {
	switch {
	case from == "" && r.State == ledger.StatePending:
		if n.adminEmail != "" {
			n.send(ctx, r.ID, n.adminEmail, "Payout team", n.newRequestMail(r))
		}
	case r.State.IsTerminal():
		if r.Destination.ContactEmail != "" {
			n.send(ctx, r.ID, r.Destination.ContactEmail, r.Destination.AccountHolderName, n.outcomeMail(r))
		}
	}
}

type message struct {
	subject, html, text string
}

func (n *Notifier) send(ctx context.Context, requestID, to, name string, m message) {
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		if err := n.sender.SendRawEmail(ctx, to, name, m.subject, m.html, m.text); err != nil {
			n.logger.Error("Failed to send payout email", "request_id", requestID, "subject", m.subject, "error", err)
		}
	}()
}

func (n *Notifier) newRequestMail(r *ledger.PayoutRequest) message {
	amount := r.Amount.Display(n.unit, n.lang)
	subject := fmt.Sprintf("New payout request: %s from %s", amount, r.CreatorID)

	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>New payout request</h2>
			<p>Creator <strong>%s</strong> asked to withdraw <strong>%s</strong>.</p>
			<p>Request: %s<br>Method: %s<br>Requested at: %s</p>
			<p>The request is waiting in the review queue.</p>
		</body>
		</html>
	`, html.EscapeString(r.CreatorID), html.EscapeString(amount), html.EscapeString(r.ID),
		html.EscapeString(r.Destination.Method), r.RequestedAt.Format(time.RFC1123))

	text := fmt.Sprintf(`
Creator %s asked to withdraw %s.

Request: %s
Method: %s
Requested at: %s

The request is waiting in the review queue.
	`, r.CreatorID, amount, r.ID, r.Destination.Method, r.RequestedAt.Format(time.RFC1123))

	return message{subject: subject, html: htmlBody, text: text}
}

func (n *Notifier) outcomeMail(r *ledger.PayoutRequest) message {
	amount := r.Amount.Display(n.unit, n.lang)

	var subject, detail string
	switch r.State {
	case ledger.StateCompleted:
		subject = fmt.Sprintf("Your payout of %s has been sent", amount)
		detail = "Settlement reference: " + r.SettlementReference
	case ledger.StateRejected:
		subject = fmt.Sprintf("Your payout request of %s was rejected", amount)
		detail = "Reason: " + r.RejectionReason + ". The funds are available again in your balance."
	default:
		subject = fmt.Sprintf("Your payout of %s could not be completed", amount)
		detail = "Reason: " + r.FailureReason + ". The funds are available again in your balance."
	}

	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>%s</h2>
			<p>%s</p>
			<p>Request: %s<br>Destination: %s</p>
		</body>
		</html>
	`, html.EscapeString(subject), html.EscapeString(detail), html.EscapeString(r.ID),
		html.EscapeString(maskedLabel(r.Destination)))

	text := fmt.Sprintf(`
%s

%s

Request: %s
Destination: %s
	`, subject, detail, r.ID, maskedLabel(r.Destination))

	return message{subject: subject, html: htmlBody, text: text}
}

func maskedLabel(d ledger.Destination) string {
	m := d.Masked()
	if m.Method == ledger.MethodStripeConnect {
		return "Stripe account " + m.StripeAccountID
	}
	return fmt.Sprintf("%s account %s", m.BankName, m.AccountNumber)
}
