// Package rules implements the boolean predicates evaluated against
// each message. The set of rule kinds is closed: New is the only way
// to construct a Rule, and unknown rule keys are rejected there.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nhle/mailfiler/internal/message"
	"github.com/nhle/mailfiler/internal/model"
)

// recipientHeaders is the fixed header set a recipient rule expands
// over.
var recipientHeaders = []string{"to", "cc"}

// mailingListHeader identifies list traffic per RFC 2919.
const mailingListHeader = "List-Id"

// Rule is a pure predicate over a message's metadata. Match never
// performs I/O and never fails; malformed input evaluates to a
// documented fallback instead.
type Rule interface {
	Match(msg *message.Message) bool
}

// New builds a Rule from its configuration entry. The rule keys are
// checked in a fixed order; a spec with none of them is a
// configuration error.
func New(spec model.RuleSpec) (Rule, error) {
	switch {
	case spec.Or != nil:
		children, err := newChildren(spec.Or.Rules)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return &orRule{children: children}, nil
	case spec.And != nil:
		children, err := newChildren(spec.And.Rules)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return &andRule{children: children}, nil
	case len(spec.Headers) > 0:
		matchers := make([]Rule, 0, len(spec.Headers))
		for _, h := range spec.Headers {
			m, err := newHeaderMatcher(h)
			if err != nil {
				return nil, err
			}
			matchers = append(matchers, m)
		}
		return &headersRule{matchers: matchers}, nil
	case spec.Recipient != nil:
		return newRecipient(*spec.Recipient)
	case spec.IsMailingList != nil:
		return &mailingListRule{}, nil
	case spec.TimeLimit != nil:
		return &timeLimitRule{age: spec.TimeLimit.Age, now: time.Now}, nil
	}
	return nil, fmt.Errorf("unknown rule type %+v", spec)
}

func newChildren(specs []model.RuleSpec) ([]Rule, error) {
	children := make([]Rule, 0, len(specs))
	for i, s := range specs {
		child, err := New(s)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		children = append(children, child)
	}
	return children, nil
}

// newRecipient expands a recipient rule into an OR of header rules
// over the standard recipient headers.
func newRecipient(spec model.MatchSpec) (Rule, error) {
	children := make([]Rule, 0, len(recipientHeaders))
	for _, name := range recipientHeaders {
		m, err := newHeaderMatcher(model.HeaderMatchSpec{
			Name:      name,
			Substring: spec.Substring,
			Regex:     spec.Regex,
		})
		if err != nil {
			return nil, fmt.Errorf("recipient: %w", err)
		}
		children = append(children, m)
	}
	return &orRule{children: children}, nil
}

func newHeaderMatcher(spec model.HeaderMatchSpec) (Rule, error) {
	switch {
	case spec.Substring != "":
		return &headerSubstring{
			name:      spec.Name,
			substring: strings.ToLower(spec.Substring),
		}, nil
	case spec.Regex != "":
		// Header text is lower-cased before comparison, so the
		// pattern is folded the same way.
		re, err := regexp.Compile(strings.ToLower(spec.Regex))
		if err != nil {
			return nil, fmt.Errorf("header %q: bad regex: %w", spec.Name, err)
		}
		return &headerRegex{name: spec.Name, re: re}, nil
	case spec.Value != "":
		return &headerValue{
			name:  spec.Name,
			value: strings.ToLower(spec.Value),
		}, nil
	}
	return nil, fmt.Errorf("header %q: no substring, regex, or value", spec.Name)
}

// orRule is true when any child matches. No children means false.
type orRule struct {
	children []Rule
}

func (r *orRule) Match(msg *message.Message) bool {
	for _, c := range r.children {
		if c.Match(msg) {
			return true
		}
	}
	return false
}

// andRule is true when every child matches. No children means true.
type andRule struct {
	children []Rule
}

func (r *andRule) Match(msg *message.Message) bool {
	for _, c := range r.children {
		if !c.Match(msg) {
			return false
		}
	}
	return true
}

// headersRule requires every configured header matcher to pass.
type headersRule struct {
	matchers []Rule
}

func (r *headersRule) Match(msg *message.Message) bool {
	if len(r.matchers) == 0 {
		return false
	}
	for _, m := range r.matchers {
		if !m.Match(msg) {
			return false
		}
	}
	return true
}

type headerSubstring struct {
	name      string
	substring string
}

func (r *headerSubstring) Match(msg *message.Message) bool {
	return strings.Contains(strings.ToLower(msg.Header(r.name)), r.substring)
}

type headerRegex struct {
	name string
	re   *regexp.Regexp
}

func (r *headerRegex) Match(msg *message.Message) bool {
	return r.re.MatchString(strings.ToLower(msg.Header(r.name)))
}

type headerValue struct {
	name  string
	value string
}

func (r *headerValue) Match(msg *message.Message) bool {
	return strings.ToLower(msg.Header(r.name)) == r.value
}

// mailingListRule is true when the message carries a non-empty
// list identifier header.
type mailingListRule struct{}

func (r *mailingListRule) Match(msg *message.Message) bool {
	return strings.TrimSpace(msg.Header(mailingListHeader)) != ""
}

// timeLimitRule is true when the message is older than the configured
// number of days. An age of zero disables the rule, and a missing or
// unparsable date never matches.
type timeLimitRule struct {
	age int
	now func() time.Time
}

func (r *timeLimitRule) Match(msg *message.Message) bool {
	if r.age <= 0 {
		return false
	}
	date, err := msg.Date()
	if err != nil {
		return false
	}
	limit := time.Duration(r.age) * 24 * time.Hour
	return r.now().Sub(date) > limit
}
