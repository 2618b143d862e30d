package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gendoc/internal/diagnosis"
)

// MaxSpecialists bounds the nearby-specialist listing.
const MaxSpecialists = 5

var errEmptyAnalysis = errors.New("model returned an empty analysis")

// ModelClient is the generative model used for image analysis and follow-up chat.
type ModelClient interface {
	Analyze(ctx context.Context, img Image, prompt string) (string, error)
	// StartChat opens a new conversation and sends seed as its first turn.
	StartChat(ctx context.Context, seed string) (ChatSession, error)
}

// PlacesFinder looks up specialists near a location code. An unknown location
// yields an empty listing, not an error.
type PlacesFinder interface {
	NearbySpecialists(ctx context.Context, locationCode, specialty string) ([]Specialist, error)
}

type Service interface {
	NewSession() Session
	Analyze(ctx context.Context, s Session, profile PatientProfile, img Image) (Session, error)
	UpdateLocation(ctx context.Context, s Session, locationCode string) (Session, error)
	Ask(ctx context.Context, s Session, question string) (Session, error)
}

type Options struct {
	ModelTimeout  time.Duration
	PlacesTimeout time.Duration
	Router        *diagnosis.Router
	Logger        *slog.Logger
	Now           func() time.Time
}

type service struct {
	model  ModelClient
	places PlacesFinder
	router *diagnosis.Router
	log    *slog.Logger
	now    func() time.Time

	modelTimeout  time.Duration
	placesTimeout time.Duration
}

func NewService(model ModelClient, places PlacesFinder, opts Options) Service {
	s := &service{
		model:         model,
		places:        places,
		router:        opts.Router,
		log:           opts.Logger,
		now:           opts.Now,
		modelTimeout:  opts.ModelTimeout,
		placesTimeout: opts.PlacesTimeout,
	}
	if s.router == nil {
		s.router = diagnosis.NewRouter(nil, diagnosis.Physician)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.modelTimeout <= 0 {
		s.modelTimeout = 90 * time.Second
	}
	if s.placesTimeout <= 0 {
		s.placesTimeout = 15 * time.Second
	}
	return s
}

// AnalyzeBudget is the longest an analyze action can take: the analysis call,
// the chat seed call and one places lookup.
func AnalyzeBudget(modelTimeout, placesTimeout time.Duration) time.Duration {
	return 2*modelTimeout + placesTimeout
}

func (s *service) NewSession() Session {
	now := s.now()
	return Session{
		ID:          uuid.New(),
		Specialists: []Specialist{},
		History:     []Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Analyze runs the single-shot image analysis and, on success, replaces the
// analysis, derived listing and chat of the session. On failure the input
// session is returned unchanged.
func (s *service) Analyze(ctx context.Context, sess Session, profile PatientProfile, img Image) (Session, error) {
	profile.LocationCode = strings.TrimSpace(profile.LocationCode)
	if err := profile.Validate(); err != nil {
		return sess, err
	}
	if !SupportedImageType(img.MIMEType) || len(img.Data) == 0 {
		return sess, fmt.Errorf("%w: %q", ErrUnsupportedImage, img.MIMEType)
	}

	ctx, cancel := context.WithTimeout(ctx, AnalyzeBudget(s.modelTimeout, s.placesTimeout))
	defer cancel()

	text, err := s.analyze(ctx, img, BuildPrompt(profile))
	if err != nil {
		analysesTotal.WithLabelValues("error").Inc()
		return sess, fmt.Errorf("image analysis failed: %w: %w", ErrUpstream, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		analysesTotal.WithLabelValues("error").Inc()
		return sess, fmt.Errorf("image analysis failed: %w: %w", ErrUpstream, errEmptyAnalysis)
	}

	chat, err := s.startChat(ctx, text)
	if err != nil {
		analysesTotal.WithLabelValues("error").Inc()
		return sess, fmt.Errorf("starting chat session failed: %w: %w", ErrUpstream, err)
	}
	analysesTotal.WithLabelValues("ok").Inc()

	next := sess.clone()
	next.Profile = &profile
	next.Analysis = text
	next.Chat = chat
	next.History = []Message{}
	s.deriveSpecialists(ctx, &next)
	next.UpdatedAt = s.now()

	s.log.Info("analysis completed",
		"session_id", next.ID.String(),
		"diagnosis", next.Diagnosis,
		"specialty", next.Specialty,
		"specialists", len(next.Specialists),
	)
	return next, nil
}

// UpdateLocation changes the location code of the analysed profile and
// recomputes the diagnosis label and specialist listing.
func (s *service) UpdateLocation(ctx context.Context, sess Session, locationCode string) (Session, error) {
	if sess.Profile == nil || sess.Analysis == "" {
		return sess, ErrNoAnalysis
	}
	next := sess.clone()
	next.Profile.LocationCode = strings.TrimSpace(locationCode)
	s.deriveSpecialists(ctx, &next)
	next.UpdatedAt = s.now()
	return next, nil
}

// Ask sends one follow-up question to the active chat. The history only grows
// when the model replied.
func (s *service) Ask(ctx context.Context, sess Session, question string) (Session, error) {
	if !sess.ChatActive() {
		return sess, ErrNoActiveChat
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return sess, ErrEmptyQuestion
	}

	ctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()

	start := time.Now()
	reply, err := sess.Chat.Send(ctx, question)
	modelCallDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	if err != nil {
		chatTurnsTotal.WithLabelValues("error").Inc()
		return sess, fmt.Errorf("chat turn failed: %w: %w", ErrUpstream, err)
	}
	chatTurnsTotal.WithLabelValues("ok").Inc()

	next := sess.clone()
	now := s.now()
	next.History = append(next.History,
		Message{Role: RoleUser, Content: question, Timestamp: now},
		Message{Role: RoleAssistant, Content: reply, Timestamp: now},
	)
	next.UpdatedAt = now
	return next, nil
}

func (s *service) analyze(ctx context.Context, img Image, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		modelCallDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
	}()
	return s.model.Analyze(ctx, img, prompt)
}

func (s *service) startChat(ctx context.Context, seed string) (ChatSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		modelCallDuration.WithLabelValues("chat_seed").Observe(time.Since(start).Seconds())
	}()
	return s.model.StartChat(ctx, seed)
}

// deriveSpecialists recomputes Diagnosis, Specialty and Specialists. They are
// only set when both the analysis and the location code are non-empty.
// Lookup failures do not fail the action; they are reported in
// SpecialistsError.
func (s *service) deriveSpecialists(ctx context.Context, sess *Session) {
	sess.Diagnosis = ""
	sess.Specialty = ""
	sess.Specialists = []Specialist{}
	sess.SpecialistsError = ""

	code := sess.LocationCode()
	if sess.Analysis == "" || code == "" {
		return
	}
	label, ok := diagnosis.Extract(sess.Analysis)
	if !ok {
		specialistLookups.WithLabelValues("no_diagnosis").Inc()
		return
	}
	specialty := s.router.Route(label)
	sess.Diagnosis = label
	sess.Specialty = string(specialty)

	if s.places == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.placesTimeout)
	defer cancel()

	list, err := s.places.NearbySpecialists(ctx, code, string(specialty))
	if err != nil {
		specialistLookups.WithLabelValues("error").Inc()
		s.log.Warn("specialist lookup failed",
			"session_id", sess.ID.String(),
			"specialty", string(specialty),
			"error", err,
		)
		sess.SpecialistsError = "Nearby specialist lookup is unavailable right now."
		return
	}
	if len(list) == 0 {
		specialistLookups.WithLabelValues("empty").Inc()
		return
	}
	specialistLookups.WithLabelValues("found").Inc()
	if len(list) > MaxSpecialists {
		list = list[:MaxSpecialists]
	}
	sess.Specialists = list
}

// SupportedImageType reports whether the MIME type may be sent for analysis.
func SupportedImageType(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/png", "image/jpeg":
		return true
	}
	return false
}
