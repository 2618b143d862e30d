package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gendoc/internal/consultation"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName, caption string) error
}

type Service struct {
	renderer     Renderer
	tgClient     TelegramClient
	doctorChatID int64
	log          *slog.Logger
	now          func() time.Time
}

// NewService builds the report service. Sharing is disabled when tg is nil
// or doctorChatID is zero.
func NewService(renderer Renderer, tg TelegramClient, doctorChatID int64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		renderer:     renderer,
		tgClient:     tg,
		doctorChatID: doctorChatID,
		log:          log,
		now:          time.Now,
	}
}

func (s *Service) Render(sess consultation.Session) ([]byte, error) {
	return s.renderer.Render(Build(sess))
}

// Share sends a short summary message followed by the PDF to the doctor's
// Telegram chat.
func (s *Service) Share(ctx context.Context, sess consultation.Session) error {
	if s.tgClient == nil || s.doctorChatID == 0 {
		return consultation.ErrSharingDisabled
	}
	data, err := s.Render(sess)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	if err := s.tgClient.SendMessage(ctx, s.doctorChatID, summary(sess, s.now())); err != nil {
		return fmt.Errorf("%w: %w", consultation.ErrUpstream, err)
	}
	if err := s.tgClient.SendDocument(ctx, s.doctorChatID, data, FileName, Title); err != nil {
		s.log.Error("sending report document failed", "session_id", sess.ID.String(), "error", err)
		return fmt.Errorf("%w: %w", consultation.ErrUpstream, err)
	}
	s.log.Info("report shared", "session_id", sess.ID.String(), "bytes", len(data))
	return nil
}

func summary(sess consultation.Session, now time.Time) string {
	diag := sess.Diagnosis
	if diag == "" {
		diag = "not determined"
	}
	msg := fmt.Sprintf("New GenDoc report (%s)\nSession: %s\nLeading diagnosis: %s",
		now.Format("02.01.2006 15:04"), sess.ID, diag)
	if sess.Specialty != "" {
		msg += "\nSuggested specialty: " + sess.Specialty
	}
	return msg
}
