// Package email implements a platform.Platform that sends the
// rendered report as a plain-text email via net/smtp, only on
// terminal statuses.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/repo"
)

// Config carries SMTP connection and addressing details.
type Config struct {
	Host string
	Port string
	From string
	To   []string
	Auth smtp.Auth
}

// Platform sends one email per terminal pipeline status.
type Platform struct {
	cfg  Config
	info *repo.Info
}

// New builds an email Platform.
func New(cfg Config, info *repo.Info) *Platform {
	return &Platform{cfg: cfg, info: info}
}

// FromEnv builds a Platform from SMTP_HOST, SMTP_PORT, SMTP_FROM,
// SMTP_TO (comma-separated), SMTP_USER and SMTP_PASSWORD.
func FromEnv(ctx context.Context, info *repo.Info) (*Platform, error) {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return nil, &pipeline.ConfigError{Reason: "SMTP_HOST is not set"}
	}
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	from := os.Getenv("SMTP_FROM")
	to := strings.Split(os.Getenv("SMTP_TO"), ",")
	if from == "" || len(to) == 0 || to[0] == "" {
		return nil, &pipeline.ConfigError{Reason: "SMTP_FROM and SMTP_TO must be set"}
	}

	var auth smtp.Auth
	if user := os.Getenv("SMTP_USER"); user != "" {
		auth = smtp.PlainAuth("", user, os.Getenv("SMTP_PASSWORD"), host)
	}

	return New(Config{Host: host, Port: port, From: from, To: to, Auth: auth}, info), nil
}

func (p *Platform) Setup(ctx context.Context) error { return nil }

func (p *Platform) Teardown(ctx context.Context) error { return nil }

// Publish sends an email only when status is terminal; intermediate
// pending statuses would otherwise flood the recipient's inbox every
// scheduler tick.
func (p *Platform) Publish(ctx context.Context, report string, status pipeline.ExternalStatus) error {
	if status == pipeline.ExternalPending {
		return nil
	}

	addr := p.cfg.Host + ":" + p.cfg.Port
	if err := smtp.SendMail(addr, p.cfg.Auth, p.cfg.From, p.cfg.To, p.buildMessage(report, status)); err != nil {
		return &pipeline.PlatformError{Err: fmt.Errorf("send mail: %w", err)}
	}
	return nil
}

// buildMessage assembles the raw RFC 5322 message. Each send gets a
// fresh Message-ID so threaded mail clients never collapse reports from
// distinct runs.
func (p *Platform) buildMessage(report string, status pipeline.ExternalStatus) []byte {
	subject := fmt.Sprintf("[jayporeci-ci] %s %s: %s", p.info.Branch, p.info.SHA()[:shortSHALen(p.info.SHA())], status)
	msgID := fmt.Sprintf("<%s@%s>", uuid.NewString(), p.cfg.Host)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nMessage-ID: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		p.cfg.From, strings.Join(p.cfg.To, ","), msgID, subject, report)
	return []byte(msg)
}

func shortSHALen(sha string) int {
	if len(sha) < 8 {
		return len(sha)
	}
	return 8
}
