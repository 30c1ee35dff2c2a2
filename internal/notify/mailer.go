package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	model "live-auction/internal/models"
	"live-auction/utils"
)

// SMTPConfig holds outbound mail settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendFunc delivers one message. It must return once ctx is done.
type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends the seller and winner messages when an auction closes with a winner.
type Mailer struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewMailer creates a mailer. It is disabled unless Host and From are set.
func NewMailer(cfg SMTPConfig) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	m := &Mailer{cfg: cfg}
	m.send = m.sendMail
	return m
}

// Enabled reports whether outbound mail is configured.
func (m *Mailer) Enabled() bool {
	return m.cfg.Host != "" && m.cfg.From != ""
}

var sellerTemplate = template.Must(template.New("seller").Parse(`<h2>Your Auction Has Ended!</h2>
<p>Dear {{.Seller.Name}},</p>
<p>Your auction for <strong>{{.ItemName}}</strong> has ended.</p>
<p><strong>Winning Bid:</strong> ${{.Amount}}</p>
<p><strong>Winner:</strong> {{.Winner.Name}}</p>
<p><strong>Winner's Email:</strong> {{.Winner.Email}}</p>
<p>Please contact the winner to complete the transaction.</p>
`))

var winnerTemplate = template.Must(template.New("winner").Parse(`<h2>Congratulations! You Won the Auction!</h2>
<p>Dear {{.Winner.Name}},</p>
<p>You have won the auction for <strong>{{.ItemName}}</strong>!</p>
<p><strong>Your Winning Bid:</strong> ${{.Amount}}</p>
<p><strong>Seller:</strong> {{.Seller.Name}}</p>
<p><strong>Seller's Email:</strong> {{.Seller.Email}}</p>
<p>The seller will contact you soon to complete the transaction.</p>
`))

type mailData struct {
	ItemName string
	Amount   string
	Seller   model.Party
	Winner   model.Party
}

// NotifyAuctionEnded emails the seller and the winner. Both sends are attempted;
// failures are joined and returned for the caller to log.
func (m *Mailer) NotifyAuctionEnded(ctx context.Context, result model.AuctionResult) error {
	if !m.Enabled() {
		utils.Info("mail not configured, skipping auction end notifications", map[string]any{"auction_id": result.AuctionID})
		return nil
	}
	if result.Winner == nil {
		return nil
	}

	data := mailData{
		ItemName: result.ItemName,
		Amount:   result.FinalAmount.StringFixed(model.MonetaryPrecision),
		Seller:   result.Seller,
		Winner:   *result.Winner,
	}

	var errs []error
	if err := m.sendTemplate(ctx, result.Seller, "Auction Ended - "+result.ItemName, sellerTemplate, data); err != nil {
		errs = append(errs, fmt.Errorf("seller mail: %w", err))
	}
	if err := m.sendTemplate(ctx, *result.Winner, "Congratulations! You Won - "+result.ItemName, winnerTemplate, data); err != nil {
		errs = append(errs, fmt.Errorf("winner mail: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	utils.Info("auction end emails sent", map[string]any{"auction_id": result.AuctionID})
	return nil
}

func (m *Mailer) sendTemplate(ctx context.Context, to model.Party, subject string, tmpl *template.Template, data mailData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// A single bare address only, so the envelope and header cannot be extended.
	rcpt, err := mail.ParseAddress(to.Email)
	if err != nil || rcpt.Name != "" {
		return fmt.Errorf("invalid recipient %q: %w", to.Email, errors.Join(errInvalidRecipient, err))
	}
	header := (&mail.Address{Name: sanitizeHeader(to.Name), Address: rcpt.Address}).String()

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}

	var msg bytes.Buffer
	msg.WriteString("From: " + sanitizeHeader(m.cfg.From) + "\r\n")
	msg.WriteString("To: " + header + "\r\n")
	msg.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	done := make(chan error, 1)
	go func() {
		done <- m.send(ctx, addr, auth, m.cfg.From, []string{rcpt.Address}, msg.Bytes())
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send to %s: %w", rcpt.Address, ctx.Err())
	}
}

var errInvalidRecipient = errors.New("invalid recipient")

// sendMail does what smtp.SendMail does, bounded by ctx: the dial honors it
// and the connection deadline follows it.
func (m *Mailer) sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting from %s: %w", addr, err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}
	return c.Quit()
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
