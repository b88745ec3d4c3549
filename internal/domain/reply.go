package domain

import "strings"

// Field is one key/value line of a tabular reply.
type Field struct {
	Key   string
	Value string
}

// Reply is what a handler sends back: each entry becomes one message.
type Reply struct {
	Messages []string
}

// Text is a reply with a single message.
func Text(s string) Reply {
	return Reply{Messages: []string{s}}
}

// Lines is a reply sent as successive messages.
func Lines(msgs ...string) Reply {
	return Reply{Messages: msgs}
}

// Table is a single message rendered as "key:\tvalue" lines.
func Table(fields ...Field) Reply {
	return Text(RenderFields(fields))
}

// Empty reports whether there is nothing to send.
func (r Reply) Empty() bool { return len(r.Messages) == 0 }

// RenderFields joins fields as "key:\tvalue" lines in order.
func RenderFields(fields []Field) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, f.Key+":\t"+f.Value)
	}
	return strings.Join(lines, "\n")
}

// ParseFields is the inverse of RenderFields: each "key: value" line becomes a
// field with the value trimmed. Lines without a colon are skipped.
func ParseFields(text string) []Field {
	var fields []Field
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields = append(fields, Field{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return fields
}

// Lookup returns the value of the first field named key.
func Lookup(fields []Field, key string) (string, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}
