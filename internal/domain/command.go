package domain

import (
	"errors"
	"fmt"
)

// CommandKind enumerates the instructions the daemon accepts on stdin.
type CommandKind string

const (
	KindSend          CommandKind = "send"
	KindSendReaction  CommandKind = "sendReaction"
	KindUpdateGroup   CommandKind = "updateGroup"
	KindUpdateProfile CommandKind = "updateProfile"
)

// ErrNoAddress is returned when a message command has neither or both of
// recipient and group set.
var ErrNoAddress = errors.New("exactly one of recipient or group must be set")

// Command is one outbound instruction, serialized as a single JSON line.
// Unset optional fields are omitted rather than written as null.
type Command struct {
	Kind       CommandKind `json:"command"`
	Recipient  []string    `json:"recipient,omitempty"`
	Group      string      `json:"group,omitempty"`
	Message    string      `json:"message,omitempty"`
	EndSession bool        `json:"endsession,omitempty"`

	Emoji           string `json:"emoji,omitempty"`
	TargetAuthor    string `json:"target-author,omitempty"`
	TargetTimestamp int64  `json:"target-timestamp,omitempty"`

	Member []string `json:"member,omitempty"`
	Name   string   `json:"name,omitempty"`

	GivenName  string `json:"given-name,omitempty"`
	FamilyName string `json:"family-name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

// Address names the destination of a message: one user or one group.
type Address struct {
	Recipient string
	Group     string
}

// Valid reports whether exactly one of Recipient and Group is set.
func (a Address) Valid() bool {
	return (a.Recipient == "") != (a.Group == "")
}

func (a Address) String() string {
	if a.Group != "" {
		return "group:" + a.Group
	}
	return a.Recipient
}

func (a Address) apply(cmd *Command) error {
	if !a.Valid() {
		return ErrNoAddress
	}
	if a.Group != "" {
		cmd.Group = a.Group
	} else {
		cmd.Recipient = []string{a.Recipient}
	}
	return nil
}

// NewSend builds a send command for one message body.
func NewSend(to Address, body string, endSession bool) (Command, error) {
	cmd := Command{Kind: KindSend, Message: body, EndSession: endSession}
	if err := to.apply(&cmd); err != nil {
		return Command{}, fmt.Errorf("send: %w", err)
	}
	return cmd, nil
}

// NewReaction builds a reaction to env, addressed to the group it came from
// or to its sender.
func NewReaction(emoji string, env *Envelope) (Command, error) {
	cmd := Command{
		Kind:            KindSendReaction,
		Emoji:           emoji,
		TargetAuthor:    env.Source,
		TargetTimestamp: env.TimestampMillis,
	}
	if err := env.ReplyAddress().apply(&cmd); err != nil {
		return Command{}, fmt.Errorf("reaction: %w", err)
	}
	return cmd, nil
}

// NewUpdateGroup builds a command that creates or updates a group.
func NewUpdateGroup(name string, members ...string) Command {
	return Command{Kind: KindUpdateGroup, Name: name, Member: members}
}

// NewUpdateProfile builds a profile update command.
func NewUpdateProfile(givenName, familyName, avatar string) Command {
	return Command{Kind: KindUpdateProfile, GivenName: givenName, FamilyName: familyName, Avatar: avatar}
}
