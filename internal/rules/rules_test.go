package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailfiler/internal/message"
	"github.com/nhle/mailfiler/internal/model"
)

func newTestMessage(t *testing.T, headers map[string]string) *message.Message {
	t.Helper()
	raw := ""
	for name, value := range headers {
		raw += fmt.Sprintf("%s: %s\r\n", name, value)
	}
	raw += "\r\nbody\r\n"
	msg, err := message.New("1", []byte(raw), nil)
	require.NoError(t, err)
	return msg
}

func testMessage(t *testing.T) *message.Message {
	return newTestMessage(t, map[string]string{
		"From":    "Sender Name <sender@example.com>",
		"To":      "recipient1@example.com",
		"CC":      "recipient2@example.com",
		"Subject": "Re: reply to previous message",
		"Date":    "Sat, 23 Jan 2016 16:19:10 -0500",
	})
}

func TestFactoryUnknown(t *testing.T) {
	_, err := New(model.RuleSpec{})
	assert.Error(t, err)
}

func TestFactoryBadRegex(t *testing.T) {
	_, err := New(model.RuleSpec{
		Headers: []model.HeaderMatchSpec{{Name: "to", Regex: "("}},
	})
	assert.Error(t, err)
}

func TestFactoryHeaderWithoutMatcher(t *testing.T) {
	_, err := New(model.RuleSpec{
		Headers: []model.HeaderMatchSpec{{Name: "to"}},
	})
	assert.Error(t, err)
}

func TestHeaderSubstring(t *testing.T) {
	msg := testMessage(t)

	tests := []struct {
		name      string
		header    string
		substring string
		want      bool
	}{
		{name: "match", header: "to", substring: "recipient1@example.com", want: true},
		{name: "case insensitive pattern", header: "subject", substring: "RE: REPLY", want: true},
		{name: "no match", header: "to", substring: "someone-else", want: false},
		{name: "absent header", header: "x-not-present", substring: "recipient1", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(model.RuleSpec{
				Headers: []model.HeaderMatchSpec{{Name: tt.header, Substring: tt.substring}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Match(msg))
		})
	}
}

func TestHeaderRegex(t *testing.T) {
	msg := testMessage(t)

	tests := []struct {
		name   string
		header string
		regex  string
		want   bool
	}{
		{name: "match", header: "to", regex: "recipient.*@example.com", want: true},
		{name: "case folded", header: "subject", regex: "RE: .*MESSAGE", want: true},
		{name: "no match", header: "to", regex: "nobody.*@example.com", want: false},
		{name: "absent header", header: "x-not-present", regex: "recipient.*", want: false},
		{name: "absent header empty pattern match", header: "x-not-present", regex: ".*", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(model.RuleSpec{
				Headers: []model.HeaderMatchSpec{{Name: tt.header, Regex: tt.regex}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Match(msg))
		})
	}
}

func TestHeaderValue(t *testing.T) {
	msg := testMessage(t)

	tests := []struct {
		name   string
		header string
		value  string
		want   bool
	}{
		{name: "match", header: "to", value: "recipient1@example.com", want: true},
		{name: "case folded", header: "to", value: "RECIPIENT1@EXAMPLE.COM", want: true},
		{name: "substring is not a value match", header: "to", value: "recipient1", want: false},
		{name: "absent header", header: "x-not-present", value: "recipient1@example.com", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(model.RuleSpec{
				Headers: []model.HeaderMatchSpec{{Name: tt.header, Value: tt.value}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Match(msg))
		})
	}
}

func TestHeadersAllMustMatch(t *testing.T) {
	msg := testMessage(t)

	r, err := New(model.RuleSpec{
		Headers: []model.HeaderMatchSpec{
			{Name: "to", Substring: "recipient1@example.com"},
			{Name: "cc", Substring: "recipient2@example.com"},
		},
	})
	require.NoError(t, err)
	assert.True(t, r.Match(msg))

	r, err = New(model.RuleSpec{
		Headers: []model.HeaderMatchSpec{
			{Name: "to", Substring: "recipient1@example.com"},
			{Name: "cc", Substring: "nobody@example.com"},
		},
	})
	require.NoError(t, err)
	assert.False(t, r.Match(msg))
}

func TestRecipient(t *testing.T) {
	msg := testMessage(t)

	tests := []struct {
		name string
		spec model.MatchSpec
		want bool
	}{
		{name: "to substring", spec: model.MatchSpec{Substring: "recipient1@example.com"}, want: true},
		{name: "cc substring", spec: model.MatchSpec{Substring: "recipient2@example.com"}, want: true},
		{name: "regex", spec: model.MatchSpec{Regex: `recipient\d@example.com`}, want: true},
		{name: "no match", spec: model.MatchSpec{Substring: "sender@example.com"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(model.RuleSpec{Recipient: &tt.spec})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Match(msg))
		})
	}
}

func TestIsMailingList(t *testing.T) {
	r, err := New(model.RuleSpec{IsMailingList: &model.MailingListSpec{}})
	require.NoError(t, err)

	list := newTestMessage(t, map[string]string{
		"List-Id": "Python ATL <pyatl.example.com>",
	})
	assert.True(t, r.Match(list))

	plain := testMessage(t)
	assert.False(t, r.Match(plain))

	blank := newTestMessage(t, map[string]string{"List-Id": "   "})
	assert.False(t, r.Match(blank))
}

func TestAndOrEmpty(t *testing.T) {
	msg := testMessage(t)

	and, err := New(model.RuleSpec{And: &model.NestedRules{}})
	require.NoError(t, err)
	assert.True(t, and.Match(msg), "empty and is vacuously true")

	or, err := New(model.RuleSpec{Or: &model.NestedRules{}})
	require.NoError(t, err)
	assert.False(t, or.Match(msg), "empty or is vacuously false")
}

func TestAndOrNested(t *testing.T) {
	msg := testMessage(t)

	toRule := model.RuleSpec{
		Headers: []model.HeaderMatchSpec{{Name: "to", Substring: "recipient1"}},
	}
	missRule := model.RuleSpec{
		Headers: []model.HeaderMatchSpec{{Name: "to", Substring: "nobody"}},
	}

	and, err := New(model.RuleSpec{And: &model.NestedRules{Rules: []model.RuleSpec{toRule, missRule}}})
	require.NoError(t, err)
	assert.False(t, and.Match(msg))

	or, err := New(model.RuleSpec{Or: &model.NestedRules{Rules: []model.RuleSpec{missRule, toRule}}})
	require.NoError(t, err)
	assert.True(t, or.Match(msg))
}

func TestTimeLimit(t *testing.T) {
	now := time.Date(2016, time.February, 1, 12, 0, 0, 0, time.UTC)
	// testMessage is dated 2016-01-23, nine days before now.
	msg := testMessage(t)

	tests := []struct {
		name string
		age  int
		want bool
	}{
		{name: "older than limit", age: 5, want: true},
		{name: "younger than limit", age: 30, want: false},
		{name: "age zero never matches", age: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &timeLimitRule{age: tt.age, now: func() time.Time { return now }}
			assert.Equal(t, tt.want, r.Match(msg))
		})
	}
}

func TestTimeLimitUnparsableDate(t *testing.T) {
	now := time.Date(2016, time.February, 1, 12, 0, 0, 0, time.UTC)
	r := &timeLimitRule{age: 5, now: func() time.Time { return now }}

	noDate := newTestMessage(t, map[string]string{"Subject": "no date"})
	assert.False(t, r.Match(noDate))

	badDate := newTestMessage(t, map[string]string{"Date": "not a date"})
	assert.False(t, r.Match(badDate))
}
