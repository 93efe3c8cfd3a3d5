package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"path/filepath"
	"strings"
	"time"

	"bloglytics/internal/config"
)

const (
	KindOTP           = "otp"
	KindPasswordReset = "password_reset"
)

// Notifier delivers a templated message. The result only reports whether the
// message left; callers never fail on false.
type Notifier interface {
	Notify(ctx context.Context, kind, recipient string, data map[string]any) bool
}

type mailTemplate struct {
	file    string
	subject string
}

var mailTemplates = map[string]mailTemplate{
	KindOTP:           {file: "otp.html", subject: "Your Bloglytics verification code"},
	KindPasswordReset: {file: "reset.html", subject: "Reset your Bloglytics password"},
}

type MailService struct {
	Host        string
	Port        string
	Username    string
	Password    string
	From        string
	Enabled     bool
	TemplateDir string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func NewMailService(cfg *config.Config, logger *slog.Logger) *MailService {
	s := &MailService{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUser,
		Password:    cfg.SMTPPass,
		From:        cfg.SMTPFrom,
		Enabled:     cfg.MailEnabled(),
		TemplateDir: filepath.Join("web", "templates", "email"),
		DialTimeout: 10 * time.Second,
		Logger:      logger,
	}
	if !s.Enabled {
		logger.Warn("mail service disabled: missing SMTP settings")
	}
	return s
}

func (s *MailService) Notify(ctx context.Context, kind, recipient string, data map[string]any) bool {
	tpl, ok := mailTemplates[kind]
	if !ok {
		s.Logger.Error("unknown notification kind", "kind", kind)
		return false
	}
	if !s.Enabled {
		s.Logger.Info("mail disabled, message dropped", "kind", kind, "to", recipient)
		return false
	}

	body, err := s.render(tpl.file, data)
	if err != nil {
		s.Logger.Error("render mail", "kind", kind, "err", err)
		return false
	}
	if err := s.send(ctx, recipient, tpl.subject, body); err != nil {
		s.Logger.Error("send mail", "kind", kind, "to", recipient, "err", err)
		return false
	}
	s.Logger.Info("mail sent", "kind", kind, "to", recipient)
	return true
}

func (s *MailService) render(name string, data map[string]any) (string, error) {
	t, err := template.ParseFiles(filepath.Join(s.TemplateDir, name))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "From: Bloglytics <%s>\r\n", from)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// send 同步发送，连接受 DialTimeout 和 ctx 限制
func (s *MailService) send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(s.Host, s.Port)
	d := net.Dialer{Timeout: s.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(3 * s.DialTimeout))
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(s.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(s.From, to, subject, body)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
