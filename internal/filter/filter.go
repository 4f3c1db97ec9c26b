// Package filter decides which chat messages are admitted into the speech queue.
package filter

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/john/chatvoice/internal/message"
)

var (
	ErrEmptyKeyword     = errors.New("please enter a keyword")
	ErrDuplicateKeyword = errors.New("this keyword already exists")
	ErrKeywordNotFound  = errors.New("keyword not found")
)

// Rule is a single keyword. Text is matched as a plain substring.
type Rule struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// Matches reports whether text contains the rule's keyword
func (r Rule) Matches(text string) bool {
	if r.CaseSensitive {
		return strings.Contains(text, r.Text)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(r.Text))
}

// Admits is the admission predicate. A disabled or empty rule set admits
// everything; otherwise any matching rule admits.
func Admits(msg message.Message, enabled bool, rules []Rule) bool {
	if !enabled || len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r.Matches(msg.Message) {
			return true
		}
	}
	return false
}

// RuleSet is the mutable keyword list. Safe for concurrent use.
type RuleSet struct {
	mu      sync.RWMutex
	enabled bool
	rules   []Rule
}

// NewRuleSet creates an empty, disabled rule set
func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

// Add inserts a keyword. Text is trimmed; empty text and case-insensitive
// duplicates are rejected without changing the set.
func (s *RuleSet) Add(text string, caseSensitive bool) (Rule, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Rule{}, ErrEmptyKeyword
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if strings.EqualFold(r.Text, text) {
			return Rule{}, ErrDuplicateKeyword
		}
	}

	rule := Rule{ID: "kw-" + uuid.NewString(), Text: text, CaseSensitive: caseSensitive}
	s.rules = append(s.rules, rule)
	return rule, nil
}

// Remove deletes the rule with the given id
func (s *RuleSet) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return ErrKeywordNotFound
}

// SetCaseSensitive changes how a rule compares text
func (s *RuleSet) SetCaseSensitive(id string, caseSensitive bool) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].CaseSensitive = caseSensitive
			return s.rules[i], nil
		}
	}
	return Rule{}, ErrKeywordNotFound
}

// SetEnabled turns filtering on or off
func (s *RuleSet) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether filtering is on
func (s *RuleSet) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Rules returns a copy of the current rules in insertion order
func (s *RuleSet) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Admits applies the current rules to msg
func (s *RuleSet) Admits(msg message.Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Admits(msg, s.enabled, s.rules)
}
