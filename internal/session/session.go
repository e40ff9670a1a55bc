// Package session implements the per-member interview state machine.
// A session is ephemeral and exclusively owned by the orchestrator
// invocation that created it; it never outlives the interview.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spec-kit/membership-bot/internal/config"
	"github.com/spec-kit/membership-bot/internal/domain"
	"github.com/spec-kit/membership-bot/internal/registry"
	"github.com/spec-kit/membership-bot/internal/roster"
)

// Answer keys for the fixed question set.
const (
	KeyName         = "name"
	KeyRegistration = "registration"
	KeyEmail        = "email"
)

// Outcome is the terminal result of a session.
type Outcome int

const (
	OutcomeUndetermined Outcome = iota
	OutcomeAccepted
	OutcomeRejected
)

// Rejection reasons, part of normal control flow rather than errors.
const (
	ReasonUnknownRegistration = "registration id not in roster"
	ReasonDuplicateBinding    = "registration id already held by another member"
	ReasonRosterMismatch      = "name or email does not match the roster"
)

// Question pairs a prompt with the predicate an answer must satisfy
// before the interview may advance past it.
type Question struct {
	Key     string
	Prompt  string
	Pattern *regexp.Regexp
}

// QuestionsFromConfig compiles the configured predicates into the fixed
// ordered question set.
func QuestionsFromConfig(cfg config.VerifyConfig) ([]Question, error) {
	specs := []struct {
		key, prompt, pattern string
	}{
		{KeyName, "What is your full name?", cfg.NamePattern},
		{KeyRegistration, "Enter your roll no (like CSE/20/38)", cfg.RegistrationPattern},
		{KeyEmail, "Enter your college email id", cfg.EmailPattern},
	}

	questions := make([]Question, 0, len(specs))
	for _, spec := range specs {
		re, err := regexp.Compile(spec.pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern for %s: %w", spec.key, err)
		}
		questions = append(questions, Question{Key: spec.key, Prompt: spec.prompt, Pattern: re})
	}
	return questions, nil
}

// Session walks a member through the ordered question set. It is not
// safe for concurrent use; the owning orchestrator feeds it answers one
// at a time.
type Session struct {
	member    domain.Member
	questions []Question
	answers   map[string]string
	index     int
	outcome   Outcome
	reason    string
}

// New starts a session in AwaitingQuestion(0).
func New(member domain.Member, questions []Question) *Session {
	return &Session{
		member:    member,
		questions: questions,
		answers:   make(map[string]string, len(questions)),
	}
}

// Current returns the question the session is waiting on.
func (s *Session) Current() (Question, bool) {
	if s.index >= len(s.questions) {
		return Question{}, false
	}
	return s.questions[s.index], true
}

// AwaitingAnswers reports whether questions remain.
func (s *Session) AwaitingAnswers() bool {
	return s.index < len(s.questions)
}

// Submit evaluates the candidate answer against the current question's
// predicate. A failing answer is discarded and the index does not move;
// a passing answer is recorded and the session advances. The return
// value tells the caller which acknowledgement to signal.
func (s *Session) Submit(answer string) bool {
	q, ok := s.Current()
	if !ok {
		return false
	}
	if !q.Pattern.MatchString(answer) {
		return false
	}
	s.answers[q.Key] = answer
	s.index++
	return true
}

// Answer returns the collected answer for a key.
func (s *Session) Answer(key string) string {
	return s.answers[key]
}

// Outcome returns the terminal outcome once decided.
func (s *Session) Outcome() Outcome { return s.outcome }

// Reason returns the rejection reason, empty unless rejected.
func (s *Session) Reason() string { return s.reason }

// Decision is the result of the decision step.
type Decision struct {
	Outcome        Outcome
	Reason         string
	RegistrationID string
	Nickname       string
}

// Decide runs the decision step once all answers are collected. On
// acceptance it derives the display nickname and binds the membership;
// a bind persistence failure does not overturn the acceptance, the
// registry surfaces it to operators itself.
func (s *Session) Decide(ctx context.Context, ros *roster.Roster, reg *registry.Registry) (Decision, error) {
	if s.AwaitingAnswers() {
		return Decision{}, fmt.Errorf("decision before all answers collected")
	}

	registrationID := s.answers[KeyRegistration]

	rec, ok := ros.Lookup(registrationID)
	if !ok {
		return s.reject(ReasonUnknownRegistration, registrationID), nil
	}

	if reg.IsBoundElsewhere(s.member.UserID, s.member.CommunityID, registrationID) {
		return s.reject(ReasonDuplicateBinding, registrationID), nil
	}

	if !rec.NameMatches(s.answers[KeyName]) || !rec.EmailMatches(s.answers[KeyEmail]) {
		return s.reject(ReasonRosterMismatch, registrationID), nil
	}

	s.outcome = OutcomeAccepted
	nickname := DeriveNickname(s.answers[KeyName], registrationID)

	err := reg.Bind(ctx, s.member.UserID, registrationID, s.member.CommunityID)
	return Decision{
		Outcome:        OutcomeAccepted,
		RegistrationID: registrationID,
		Nickname:       nickname,
	}, err
}

func (s *Session) reject(reason, registrationID string) Decision {
	s.outcome = OutcomeRejected
	s.reason = reason
	return Decision{Outcome: OutcomeRejected, Reason: reason, RegistrationID: registrationID}
}

// DeriveNickname builds the deterministic display nickname: the first
// token of the name joined to the first two "/"-delimited segments of
// the registration id ("John Doe", "CSE/20/38" -> "John_CSE20").
func DeriveNickname(name, registrationID string) string {
	first := name
	if fields := strings.Fields(strings.TrimSpace(name)); len(fields) > 0 {
		first = fields[0]
	}
	segments := strings.Split(registrationID, "/")
	suffix := segments[0]
	if len(segments) > 1 {
		suffix += segments[1]
	}
	return first + "_" + suffix
}
