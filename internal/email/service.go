package email

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/rx-portal/internal/model"
)

type Service interface {
	SendRefillRequested(ctx context.Context, to string, evt model.RefillRequestedEvent) error
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

// Dialer is the part of *gomail.Dialer the service uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPService struct {
	dialer Dialer
	from   string
}

func NewSMTPService(cfg Config) *SMTPService {
	return NewService(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From)
}

func NewService(d Dialer, from string) *SMTPService {
	return &SMTPService{dialer: d, from: from}
}

var refillBody = template.Must(template.New("refill").Parse(`A refill was requested.

Prescription: {{.PrescriptionID}}
Medication:   {{.MedicationName}} {{.Dosage}}
Prescriber:   {{.PrescribingDoctor}}
Requested at: {{.RequestedAt.Format "2006-01-02 15:04 MST"}}
`))

func (s *SMTPService) SendRefillRequested(ctx context.Context, to string, evt model.RefillRequestedEvent) error {
	var body bytes.Buffer
	if err := refillBody.Execute(&body, evt); err != nil {
		return fmt.Errorf("failed to render refill email: %w", err)
	}
	subject := fmt.Sprintf("Refill requested: %s (#%s)", evt.MedicationName, evt.PrescriptionID)
	return s.SendCustom(ctx, to, subject, body.String())
}

func (s *SMTPService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/plain", content)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
