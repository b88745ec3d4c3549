package protocol

import (
	"encoding/json"
	"regexp"

	"contactbot/internal/domain"
	"contactbot/internal/phone"
)

// Kind is the classification of one decoded daemon output line.
type Kind int

const (
	KindMalformed Kind = iota // not JSON
	KindNotObject             // JSON, but not an object
	KindError                 // object carrying an "error" key
	KindGroup                 // group-association side channel
	KindEnvelope              // message or receipt
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindNotObject:
		return "not_object"
	case KindError:
		return "error"
	case KindGroup:
		return "group"
	case KindEnvelope:
		return "envelope"
	}
	return "unknown"
}

// Item is the result of classifying one line. Exactly one of Envelope,
// Group and Error is meaningful, according to Kind.
type Item struct {
	Kind     Kind
	Envelope *domain.Envelope
	Group    *GroupEvent
	Error    json.RawMessage
}

// GroupEvent reports that a group created for an SMS conversation now has a
// stable id. Matched is false when the group name did not follow the
// "SMS with <their> via <our>" pattern.
type GroupEvent struct {
	GroupID string
	Name    string
	Matched bool
	Route   domain.GroupRoute
}

var groupNamePattern = regexp.MustCompile(`^SMS with (\S+) via (\S+)$`)

// GroupName is the name given to a group relaying SMS between their and our.
func GroupName(their, our string) string {
	return "SMS with " + their + " via " + our
}

type wireLine struct {
	Envelope *wireEnvelope   `json:"envelope"`
	Error    json.RawMessage `json:"error"`
	Group    *string         `json:"group"`
	Name     string          `json:"name"`
}

type wireEnvelope struct {
	Source         string          `json:"source"`
	SourceName     string          `json:"sourceName"`
	Timestamp      int64           `json:"timestamp"`
	ReceiptMessage json.RawMessage `json:"receiptMessage"`
	DataMessage    struct {
		Message   string `json:"message"`
		GroupInfo struct {
			GroupID string `json:"groupId"`
		} `json:"groupInfo"`
		Quote struct {
			Text string `json:"text"`
		} `json:"quote"`
	} `json:"dataMessage"`
}

// Classify decodes one line of daemon output.
func Classify(line []byte) Item {
	var raw any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Item{Kind: KindMalformed}
	}
	if _, ok := raw.(map[string]any); !ok {
		return Item{Kind: KindNotObject}
	}

	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		// An object whose known keys have unexpected types.
		return Item{Kind: KindMalformed}
	}
	if w.Error != nil {
		return Item{Kind: KindError, Error: w.Error}
	}
	if w.Group != nil {
		return Item{Kind: KindGroup, Group: parseGroupEvent(*w.Group, w.Name)}
	}

	var f domain.EnvelopeFields
	if e := w.Envelope; e != nil {
		f = domain.EnvelopeFields{
			Source:          e.Source,
			SourceName:      e.SourceName,
			TimestampMillis: e.Timestamp,
			Text:            e.DataMessage.Message,
			GroupID:         e.DataMessage.GroupInfo.GroupID,
			QuotedText:      e.DataMessage.Quote.Text,
			Receipt:         e.ReceiptMessage,
		}
	}
	return Item{Kind: KindEnvelope, Envelope: domain.NewEnvelope(f)}
}

func parseGroupEvent(groupID, name string) *GroupEvent {
	ev := &GroupEvent{GroupID: groupID, Name: name}
	m := groupNamePattern.FindStringSubmatch(name)
	if m == nil {
		return ev
	}
	their, err := phone.TeliFormat(m[1])
	if err != nil {
		return ev
	}
	our, err := phone.TeliFormat(m[2])
	if err != nil {
		return ev
	}
	ev.Matched = true
	ev.Route = domain.GroupRoute{GroupID: groupID, Their: their, Our: our}
	return ev
}
