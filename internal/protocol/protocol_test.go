package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want protocol.Inbound
	}{
		{
			name: "validate-user",
			raw:  `{"event":"validate-user","data":{"userId":"u1","connectionKey":"k1"}}`,
			want: &protocol.ValidateUser{UserID: "u1", ConnectionKey: "k1"},
		},
		{
			name: "local",
			raw:  `{"event":"local","data":{"msg":"hi","map":"forest","x":1.5,"y":2,"z":-3}}`,
			want: &protocol.Local{Msg: "hi", Map: "forest", X: 1.5, Y: 2, Z: -3},
		},
		{
			name: "whisper",
			raw:  `{"event":"whisper","data":{"targetName":"bob","msg":"psst"}}`,
			want: &protocol.Whisper{TargetName: "bob", Msg: "psst"},
		},
		{
			name: "group",
			raw:  `{"event":"group","data":{"groupId":"g1","msg":"hey all"}}`,
			want: &protocol.GroupMessage{GroupID: "g1", Msg: "hey all"},
		},
		{
			name: "group-list without data",
			raw:  `{"event":"group-list"}`,
			want: &protocol.GroupListRequest{},
		},
		{
			name: "kick-user",
			raw:  `{"event":"kick-user","data":{"userId":"u2","groupId":"g1"}}`,
			want: &protocol.KickUser{UserID: "u2", GroupID: "g1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not json", `hello`, protocol.ErrInvalidPayload},
		{"unknown event", `{"event":"teleport","data":{}}`, protocol.ErrUnknownEvent},
		{"outbound-only event", `{"event":"group-join","data":{}}`, protocol.ErrUnknownEvent},
		{"missing field", `{"event":"global","data":{}}`, protocol.ErrInvalidPayload},
		{"blank field", `{"event":"whisper","data":{"targetName":"  ","msg":"x"}}`, protocol.ErrInvalidPayload},
		{"unknown field", `{"event":"global","data":{"msg":"x","userId":"spoofed"}}`, protocol.ErrInvalidPayload},
		{"wrong type", `{"event":"local","data":{"msg":"x","x":"far"}}`, protocol.ErrInvalidPayload},
		{"unknown envelope field", `{"event":"global","data":{"msg":"x"},"extra":1}`, protocol.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(tt.raw))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncode(t *testing.T) {
	raw, err := protocol.Encode(protocol.EventWhisper, protocol.WhisperOut{
		UserID: "a", UserID2: "b", Name: "Ann", Name2: "Bob", Msg: "hi",
	})
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, protocol.EventWhisper, env.Event)
	assert.JSONEq(t, `{"userId":"a","userId2":"b","name":"Ann","name2":"Bob","msg":"hi"}`, string(env.Data))
}
