package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/mailer"
	"go.uber.org/zap"
)

// emailSubject heads every daily notification email.
const emailSubject = "Your daily leaderboard update"

// SendOutbox is the outbox surface the send phase consumes.
type SendOutbox interface {
	GetPendingForDate(ctx context.Context, date string) ([]*types.DailyOutbox, error)
	MarkSent(ctx context.Context, id int64) error
}

// SendResult summarizes one send-phase run.
type SendResult struct {
	Sent    int
	Skipped int
}

// Sender drains today's outbox rows into emails. Rows where neither phase
// produced content are skipped without sending; rows with both get one
// combined message.
type Sender struct {
	outbox SendOutbox
	mail   mailer.Mailer
	logger *zap.Logger
}

// NewSender creates an outbox sender.
func NewSender(outbox SendOutbox, mail mailer.Mailer, logger *zap.Logger) *Sender {
	return &Sender{
		outbox: outbox,
		mail:   mail,
		logger: logger.Named("send_phase"),
	}
}

// RunSendPhase sends every pending row for today. A failing send leaves its
// row pending for a later run and does not stop the remaining rows.
func (s *Sender) RunSendPhase(ctx context.Context) (*SendResult, error) {
	date := time.Now().Format(time.DateOnly)

	rows, err := s.outbox.GetPendingForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox rows: %w", err)
	}

	result := &SendResult{}

	for _, row := range rows {
		if row.IsEmpty() {
			result.Skipped++
			continue
		}

		messageID, err := s.mail.Send(ctx, row.Email, emailSubject, composeBody(row))
		if err != nil {
			s.logger.Error("Failed to send outbox row",
				zap.String("username", row.Username),
				zap.Error(err))

			continue
		}

		if err := s.outbox.MarkSent(ctx, row.ID); err != nil {
			// The mail went out; a failed mark means a possible duplicate on
			// the next run, which at-least-once delivery tolerates
			s.logger.Error("Failed to mark outbox row sent",
				zap.String("username", row.Username),
				zap.String("messageID", messageID),
				zap.Error(err))

			continue
		}

		result.Sent++
	}

	s.logger.Info("Send phase finished",
		zap.String("date", date),
		zap.Int("sent", result.Sent),
		zap.Int("skipped", result.Skipped))

	return result, nil
}

// composeBody combines whichever phase contents are present.
func composeBody(row *types.DailyOutbox) string {
	var sections []string

	if row.MapperContent != "" {
		sections = append(sections, "New records on your maps:\n"+row.MapperContent)
	}

	if row.DriverContent != "" {
		sections = append(sections, "Your standings:\n"+row.DriverContent)
	}

	return strings.Join(sections, "\n\n")
}
