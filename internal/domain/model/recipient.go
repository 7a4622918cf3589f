package model

import "fmt"

// ClassUser addresses a single account's private inbox. Any other class
// value names a group class owned by the group directory.
const ClassUser = "user"

// ExchangePrefix namespaces every conversation exchange on the broker.
const ExchangePrefix = "conv"

// Recipient is the broker-level address of a message target.
type Recipient struct {
	Class string
	Key   string
}

func UserRecipient(accountID string) Recipient {
	return Recipient{Class: ClassUser, Key: accountID}
}

// Exchange returns the fan-out exchange name, conv.<class>.<key>.
func (r Recipient) Exchange() string {
	return fmt.Sprintf("%s.%s.%s", ExchangePrefix, r.Class, r.Key)
}

func (r Recipient) IsUser() bool { return r.Class == ClassUser }

func (r Recipient) String() string { return r.Class + "/" + r.Key }
