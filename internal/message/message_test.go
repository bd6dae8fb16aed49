package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawMessage = "From: Sender Name <sender@example.com>\r\n" +
	"To: recipient1@example.com\r\n" +
	"CC: recipient2@example.com\r\n" +
	"Subject: Re: reply to previous message\r\n" +
	"Date: Sat, 23 Jan 2016 16:19:10 -0500\r\n" +
	"Message-Id: <4FF56508-357B-4E73@example.com>\r\n" +
	"\r\n" +
	"body text\r\n"

func newTestMessage(t *testing.T, flags ...string) *Message {
	t.Helper()
	msg, err := New("42", []byte(rawMessage), flags)
	require.NoError(t, err)
	return msg
}

func TestHeaderLookup(t *testing.T) {
	msg := newTestMessage(t)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "exact case", header: "Subject", want: "Re: reply to previous message"},
		{name: "lower case", header: "subject", want: "Re: reply to previous message"},
		{name: "mixed case", header: "cC", want: "recipient2@example.com"},
		{name: "absent header is empty", header: "x-not-present", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, msg.Header(tt.header))
		})
	}
}

func TestHeaderDecodesEncodedWords(t *testing.T) {
	raw := "Subject: =?utf-8?q?Re=3A_r=C3=A9sum=C3=A9?=\r\n\r\n"
	msg, err := New("1", []byte(raw), nil)
	require.NoError(t, err)
	assert.Equal(t, "Re: résumé", msg.Header("subject"))
}

func TestDate(t *testing.T) {
	msg := newTestMessage(t)
	date, err := msg.Date()
	require.NoError(t, err)
	assert.Equal(t, 2016, date.Year())
	assert.Equal(t, time.January, date.Month())
}

func TestDateMissing(t *testing.T) {
	msg, err := New("1", []byte("Subject: no date\r\n\r\n"), nil)
	require.NoError(t, err)
	_, err = msg.Date()
	assert.Error(t, err)
}

func TestDateMalformed(t *testing.T) {
	msg, err := New("1", []byte("Date: not a date\r\n\r\n"), nil)
	require.NoError(t, err)
	_, err = msg.Date()
	assert.Error(t, err)
}

func TestFlags(t *testing.T) {
	msg := newTestMessage(t, FlagSeen)

	assert.True(t, msg.HasFlag(FlagSeen))
	assert.False(t, msg.HasFlag(FlagFlagged))

	msg.SetFlag(FlagFlagged)
	msg.SetFlag(FlagFlagged) // setting twice keeps it set
	assert.True(t, msg.HasFlag(FlagFlagged))

	msg.ClearFlag(FlagFlagged)
	msg.ClearFlag(FlagFlagged)
	assert.False(t, msg.HasFlag(FlagFlagged))

	assert.Equal(t, []string{FlagSeen}, msg.Flags())
}
