package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Action:         ActionNewMessage,
		GamespaceID:    "1",
		MessageUUID:    "u-1",
		Sender:         "42",
		RecipientClass: ClassUser,
		RecipientKey:   "7",
		MessageType:    "hello",
		Payload:        map[string]any{"s": "hi"},
		Flags:          []string{"editable"},
	}
	env.Stamp(time.Unix(1700000000, 500))

	body, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
	assert.Equal(t, int64(1700000000), decoded.Time)
}

func TestDecodeEnvelopeCorruptedBody(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{not json"))
	assert.True(t, IsKind(err, KindBadInput))
}

func TestEnvelopeValidateMissingFields(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"action", Envelope{GamespaceID: "1", MessageUUID: "u", Sender: "s", RecipientClass: "user", RecipientKey: "k"}},
		{"gamespace", Envelope{Action: ActionNewMessage, MessageUUID: "u", Sender: "s", RecipientClass: "user", RecipientKey: "k", MessageType: "t"}},
		{"uuid", Envelope{Action: ActionNewMessage, GamespaceID: "1", Sender: "s", RecipientClass: "user", RecipientKey: "k", MessageType: "t"}},
		{"sender", Envelope{Action: ActionNewMessage, GamespaceID: "1", MessageUUID: "u", RecipientClass: "user", RecipientKey: "k", MessageType: "t"}},
		{"class", Envelope{Action: ActionNewMessage, GamespaceID: "1", MessageUUID: "u", Sender: "s", RecipientKey: "k", MessageType: "t"}},
		{"key", Envelope{Action: ActionNewMessage, GamespaceID: "1", MessageUUID: "u", Sender: "s", RecipientClass: "user", MessageType: "t"}},
		{"type", Envelope{Action: ActionNewMessage, GamespaceID: "1", MessageUUID: "u", Sender: "s", RecipientClass: "user", RecipientKey: "k"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, IsKind(tc.env.Validate(), KindBadInput))
		})
	}
}

func TestEnvelopeUpdateNeedsNoType(t *testing.T) {
	env := Envelope{
		Action:         ActionMessageUpdated,
		GamespaceID:    "1",
		MessageUUID:    "u",
		Sender:         "s",
		RecipientClass: "chat",
		RecipientKey:   "10",
		Payload:        map[string]any{"x": 1},
	}
	assert.NoError(t, env.Validate())
}

func TestRecipientExchangeNaming(t *testing.T) {
	assert.Equal(t, "conv.user.42", UserRecipient("42").Exchange())
	assert.Equal(t, "conv.chat.11-0", Recipient{Class: "chat", Key: "11-0"}.Exchange())
}

func TestGroupParticipationRecipientKey(t *testing.T) {
	clustered := GroupParticipation{
		Group:         Group{GroupID: 11, Class: "chat", Clustered: true, ClusterSize: 2},
		Participation: Participation{ClusterID: 0},
	}
	assert.Equal(t, "11-0", clustered.RecipientKey())
	assert.Equal(t, "conv.chat.11-0", clustered.Recipient().Exchange())

	flat := GroupParticipation{
		Group:         Group{GroupID: 10, Class: "chat"},
		Participation: Participation{ClusterID: 0},
	}
	assert.Equal(t, "10", flat.RecipientKey())
}
