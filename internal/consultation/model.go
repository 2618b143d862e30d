package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// ParseGender accepts the three form values case-insensitively.
func ParseGender(s string) (Gender, error) {
	for _, g := range []Gender{GenderMale, GenderFemale, GenderOther} {
		if strings.EqualFold(strings.TrimSpace(s), string(g)) {
			return g, nil
		}
	}
	return "", fmt.Errorf("%w: gender must be Male, Female or Other", ErrInvalidProfile)
}

// PatientProfile is captured once per analysis and not modified afterwards,
// except for LocationCode which may be changed through UpdateLocation.
type PatientProfile struct {
	Age                 int    `json:"age"`
	Gender              Gender `json:"gender"`
	SymptomDurationDays int    `json:"symptom_duration_days"`
	FeverPresent        bool   `json:"fever_present"`
	LocationCode        string `json:"location_code"`
}

func (p PatientProfile) Validate() error {
	if p.Age < 0 || p.Age > 120 {
		return fmt.Errorf("%w: age must be between 0 and 120", ErrInvalidProfile)
	}
	if _, err := ParseGender(string(p.Gender)); err != nil {
		return err
	}
	if p.SymptomDurationDays < 0 || p.SymptomDurationDays > 365 {
		return fmt.Errorf("%w: symptom duration must be between 0 and 365 days", ErrInvalidProfile)
	}
	return nil
}

// Image is the uploaded picture sent along with the analysis prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Specialist is one entry of the nearby-places listing.
type Specialist struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ChatSession is a provider-held multi-turn conversation.
type ChatSession interface {
	Send(ctx context.Context, text string) (string, error)
}

// Session is the complete per-user state. Actions take a Session and return
// the next one; nothing else holds consultation state.
type Session struct {
	ID uuid.UUID `json:"session_id"`

	Profile  *PatientProfile `json:"profile,omitempty"`
	Analysis string          `json:"analysis"`

	// Derived from Analysis and Profile.LocationCode.
	Diagnosis        string       `json:"diagnosis,omitempty"`
	Specialty        string       `json:"specialty,omitempty"`
	Specialists      []Specialist `json:"specialists"`
	SpecialistsError string       `json:"specialists_error,omitempty"`

	History []Message   `json:"chat_history"`
	Chat    ChatSession `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Session) ChatActive() bool {
	return s.Chat != nil
}

// LocationCode returns the location of the current profile, or "".
func (s Session) LocationCode() string {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.LocationCode
}

// clone copies the slices so a returned Session never aliases its input.
func (s Session) clone() Session {
	out := s
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	out.Specialists = append([]Specialist(nil), s.Specialists...)
	out.History = append([]Message(nil), s.History...)
	return out
}
