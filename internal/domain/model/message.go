package model

import (
	"sort"
	"strings"
	"time"
)

// DeliveryFlag alters how a single message is persisted and mutated.
type DeliveryFlag string

const (
	// FlagRemoveDelivered purges the stored row once delivery is confirmed.
	FlagRemoveDelivered DeliveryFlag = "remove_delivered"
	// FlagEditable lets non-senders patch the payload.
	FlagEditable DeliveryFlag = "editable"
	// FlagDeletable lets non-senders delete the message.
	FlagDeletable DeliveryFlag = "deletable"
)

// DeliveryFlags is the recognized subset carried by a message.
type DeliveryFlags map[DeliveryFlag]struct{}

// ParseFlags keeps recognized flags and silently drops the rest, the same
// lenient treatment the wire envelope gets everywhere else.
func ParseFlags(raw []string) DeliveryFlags {
	flags := DeliveryFlags{}
	for _, f := range raw {
		switch DeliveryFlag(strings.ToLower(strings.TrimSpace(f))) {
		case FlagRemoveDelivered:
			flags[FlagRemoveDelivered] = struct{}{}
		case FlagEditable:
			flags[FlagEditable] = struct{}{}
		case FlagDeletable:
			flags[FlagDeletable] = struct{}{}
		}
	}
	return flags
}

// ValidFlags reports whether every entry of raw names a recognized flag.
func ValidFlags(raw []string) bool {
	for _, f := range raw {
		switch DeliveryFlag(strings.ToLower(strings.TrimSpace(f))) {
		case FlagRemoveDelivered, FlagEditable, FlagDeletable:
		default:
			return false
		}
	}
	return true
}

func (f DeliveryFlags) Has(flag DeliveryFlag) bool {
	_, ok := f[flag]
	return ok
}

// List returns the flags sorted, for stable wire and storage encoding.
func (f DeliveryFlags) List() []string {
	if len(f) == 0 {
		return nil
	}
	out := make([]string, 0, len(f))
	for flag := range f {
		out = append(out, string(flag))
	}
	sort.Strings(out)
	return out
}

// Dump encodes flags for the message_flags column, comma-joined.
func (f DeliveryFlags) Dump() string {
	return strings.Join(f.List(), ",")
}

// FlagsFromColumn decodes the message_flags column.
func FlagsFromColumn(column string) DeliveryFlags {
	if column == "" {
		return DeliveryFlags{}
	}
	return ParseFlags(strings.Split(column, ","))
}

// Message is the core history entity. MessageID is storage-assigned and
// monotonic; MessageUUID is the externally addressable identity, unique
// per gamespace.
type Message struct {
	MessageID      int64
	MessageUUID    string
	GamespaceID    string
	Sender         string
	RecipientClass string
	Recipient      string
	MessageType    string
	Payload        map[string]any
	Time           time.Time
	Delivered      bool
	Flags          DeliveryFlags
}

// LastReadMessage is the per-conversation-stream read watermark.
// The key is the message's (recipient_class, recipient), which for group
// messages is the group stream, not the reader's own inbox.
type LastReadMessage struct {
	GamespaceID     string
	AccountID       string
	RecipientClass  string
	Recipient       string
	LastMessageTime time.Time
	LastMessageUUID string
}
