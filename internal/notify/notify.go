// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify sends the one-per-run completion email.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	mail "github.com/wneessen/go-mail"

	"github.com/tombee/catsync/internal/config"
	catsynclog "github.com/tombee/catsync/internal/log"
)

// Summary is the run outcome carried into the notification.
type Summary struct {
	RunID        string
	Status       string
	TriggerType  string
	WarningCount int
	RuntimeMS    int64
	Metrics      map[string]int64
	Error        string
}

// Notifier delivers one notification per run.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
}

// Subject renders the notification subject line.
func Subject(s Summary) string {
	return fmt.Sprintf("[catsync] run %s: %s", s.RunID, s.Status)
}

// Body renders the plain-text notification body.
func Body(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Catalog sync run %s finished with status %s.\n\n", s.RunID, s.Status)
	fmt.Fprintf(&b, "Trigger:  %s\n", s.TriggerType)
	fmt.Fprintf(&b, "Runtime:  %dms\n", s.RuntimeMS)
	fmt.Fprintf(&b, "Warnings: %d\n", s.WarningCount)
	if s.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", s.Error)
	}
	if len(s.Metrics) > 0 {
		b.WriteString("\nMetrics:\n")
		keys := make([]string, 0, len(s.Metrics))
		for k := range s.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %-24s %d\n", k, s.Metrics[k])
		}
	}
	return b.String()
}

// Mailer sends notifications over SMTP.
type Mailer struct {
	cfg    config.MailConfig
	logger *slog.Logger
}

// NewMailer creates an SMTP notifier.
func NewMailer(cfg config.MailConfig, logger *slog.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: catsynclog.WithComponent(logger, "notify")}
}

// Notify sends the run summary to the configured recipients.
func (m *Mailer) Notify(ctx context.Context, summary Summary) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(m.cfg.To...); err != nil {
		return fmt.Errorf("invalid recipients %v: %w", m.cfg.To, err)
	}
	msg.Subject(Subject(summary))
	msg.SetBodyString(mail.TypeTextPlain, Body(summary))

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.User),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client setup failed: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notification send failed: %w", err)
	}
	m.logger.Info("notification sent",
		slog.String(catsynclog.RunIDKey, summary.RunID),
		slog.String("status", summary.Status),
		slog.Int("recipients", len(m.cfg.To)))
	return nil
}

// Nop logs the summary instead of sending it. Used when mail delivery
// is disabled.
type Nop struct {
	Logger *slog.Logger
}

// Notify logs and succeeds.
func (n Nop) Notify(ctx context.Context, summary Summary) error {
	if n.Logger != nil {
		n.Logger.Info("notification suppressed",
			slog.String(catsynclog.RunIDKey, summary.RunID),
			slog.String("status", summary.Status))
	}
	return nil
}
