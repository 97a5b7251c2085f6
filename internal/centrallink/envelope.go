package centrallink

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// envelope is the cheaply-peeked shape of an inbound frame: type and
// messageId are read with gjson without unmarshalling the full payload,
// since most frames are dispatched by type alone and only a minority
// (staff_login/verify responses) need the messageId.
type envelope struct {
	Type      string
	MessageID string
	Payload   json.RawMessage
}

func parseEnvelope(data []byte) (envelope, error) {
	if !gjson.ValidBytes(data) {
		return envelope{}, fmt.Errorf("invalid json frame")
	}
	parsed := gjson.ParseBytes(data)
	typ := parsed.Get("type")
	if !typ.Exists() {
		return envelope{}, fmt.Errorf("frame missing type field")
	}

	env := envelope{
		Type:      typ.String(),
		MessageID: parsed.Get("messageId").String(),
	}
	if payload := parsed.Get("payload"); payload.Exists() {
		env.Payload = json.RawMessage(payload.Raw)
	}
	return env, nil
}
