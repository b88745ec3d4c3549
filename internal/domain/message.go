package domain

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CommandPrefix marks the start of a command word in message text.
const CommandPrefix = "/"

// Envelope is one classified inbound unit decoded from the daemon's output.
// It is built once by NewEnvelope and never modified afterwards.
type Envelope struct {
	Source          string
	DisplayName     string
	TimestampMillis int64
	FullText        string
	Text            string // remainder after the command and first argument when Command is set
	GroupID         string
	QuotedText      string
	Receipt         json.RawMessage

	Command      string   // command word without the prefix, lower-cased
	CommandArgs  []string // tokens after the command word
	Remainder    string
	HasRemainder bool
}

// EnvelopeFields carries the raw values extracted from a daemon envelope.
type EnvelopeFields struct {
	Source          string
	SourceName      string
	TimestampMillis int64
	Text            string
	GroupID         string
	QuotedText      string
	Receipt         json.RawMessage
}

// NewEnvelope builds an Envelope and derives its command fields.
// When the text starts with CommandPrefix, Text is replaced by the text after
// the first argument (empty when there is none), kept exactly as written.
func NewEnvelope(f EnvelopeFields) *Envelope {
	env := &Envelope{
		Source:          f.Source,
		DisplayName:     f.SourceName,
		TimestampMillis: f.TimestampMillis,
		FullText:        f.Text,
		Text:            f.Text,
		GroupID:         f.GroupID,
		QuotedText:      f.QuotedText,
		Receipt:         f.Receipt,
	}
	if env.DisplayName == "" {
		env.DisplayName = f.Source
	}
	if !strings.HasPrefix(f.Text, CommandPrefix) {
		return env
	}

	parts := strings.Fields(f.Text)
	env.Command = strings.ToLower(strings.TrimPrefix(parts[0], CommandPrefix))
	if len(parts) > 1 {
		env.CommandArgs = parts[1:]
	}
	env.Text = ""
	if len(env.CommandArgs) > 1 {
		_, afterCommand := cutSpace(f.Text)
		_, env.Remainder = cutSpace(strings.TrimLeftFunc(afterCommand, unicode.IsSpace))
		env.HasRemainder = true
		env.Text = env.Remainder
	}
	return env
}

// cutSpace splits s around its first whitespace rune. The text after the
// separator is returned verbatim.
func cutSpace(s string) (before, after string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return s[:i], s[i+size:]
}

// IsCommand reports whether the envelope carried a command word.
func (e *Envelope) IsCommand() bool {
	return strings.HasPrefix(e.FullText, CommandPrefix)
}

// Arg returns the i-th command argument or "".
func (e *Envelope) Arg(i int) string {
	if i < 0 || i >= len(e.CommandArgs) {
		return ""
	}
	return e.CommandArgs[i]
}

// ReplyAddress is where replies to this envelope go: the group when the
// envelope arrived in one, otherwise the sender.
func (e *Envelope) ReplyAddress() Address {
	if e.GroupID != "" {
		return Address{Group: e.GroupID}
	}
	return Address{Recipient: e.Source}
}
