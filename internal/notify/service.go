package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/pkg/logging"
)

// Service sends operational alerts when the call engine needs a human.
// Alerts are best-effort: a missing sender or recipient downgrades them to
// log lines rather than failing the caller.
type Service struct {
	email  EmailSender
	to     string
	env    string
	logger *logging.Logger
}

// NewService creates an alert service. email may be nil when alerting is
// disabled.
func NewService(email EmailSender, to, env string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:  email,
		to:     strings.TrimSpace(to),
		env:    env,
		logger: logger,
	}
}

// ReportDeadLetter alerts operators that a call outcome could not be
// delivered upstream and the order needs manual reconciliation.
func (s *Service) ReportDeadLetter(ctx context.Context, st *call.State, reason string) error {
	if st == nil {
		return nil
	}

	subject := fmt.Sprintf("[voice/%s] outcome report dead-lettered: %s", s.env, st.CallSid)

	var b strings.Builder
	b.WriteString("An outcome report could not be delivered to the order brain.\n\n")
	fmt.Fprintf(&b, "Call SID:  %s\n", st.CallSid)
	fmt.Fprintf(&b, "Kind:      %s\n", st.Kind)
	fmt.Fprintf(&b, "Order:     %s\n", st.OrderID)
	fmt.Fprintf(&b, "Outcome:   %s\n", st.Outcome)
	fmt.Fprintf(&b, "Lifecycle: %s\n", st.Lifecycle)
	if st.TerminalAt != nil {
		fmt.Fprintf(&b, "Ended:     %s\n", st.TerminalAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\nReason: %s\n", reason)
	fmt.Fprintf(&b, "\nThe order side does not know this result; reconcile order %s by hand.\n", st.OrderID)

	return s.send(ctx, subject, b.String())
}

func (s *Service) send(ctx context.Context, subject, body string) error {
	if s.email == nil || s.to == "" {
		s.logger.Warn("alert not sent: email not configured", "subject", subject)
		return nil
	}

	msg := EmailMessage{
		To:      s.to,
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: alert send: %w", err)
	}
	return nil
}
