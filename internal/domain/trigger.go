package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxFinalResponseLen bounds Trigger.FinalResponse, in runes.
const MaxFinalResponseLen = 160

// Trigger binds a keyword to a form definition.
type Trigger struct {
	ID            string         `json:"id" yaml:"id,omitempty"`
	Keyword       string         `json:"keyword" yaml:"keyword"`
	FormPath      string         `json:"formPath" yaml:"formPath"`
	Language      string         `json:"language,omitempty" yaml:"language,omitempty"`
	FinalResponse string         `json:"finalResponse,omitempty" yaml:"finalResponse,omitempty"`
	Context       map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	CreatedAt     time.Time      `json:"createdAt" yaml:"-"`
}

// NormalizeKeyword returns the form used to store and match keywords.
func NormalizeKeyword(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}

// KeywordOf returns the normalized first whitespace-delimited token of text.
func KeywordOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return NormalizeKeyword(fields[0])
}

// Validate checks the fields an operator supplies.
func (t *Trigger) Validate() error {
	kw := strings.TrimSpace(t.Keyword)
	switch {
	case kw == "":
		return errors.New("keyword is required")
	case len(strings.Fields(kw)) != 1:
		return fmt.Errorf("keyword %q must be a single word", kw)
	case strings.TrimSpace(t.FormPath) == "":
		return errors.New("form path is required")
	case utf8.RuneCountInString(t.FinalResponse) > MaxFinalResponseLen:
		return fmt.Errorf("final response is longer than %d characters", MaxFinalResponseLen)
	}
	return nil
}
