package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"nostr-signer/go-backend/pkg/models"
)

const (
	TypeReq    = "REQ"
	TypeEvent  = "EVENT"
	TypeClose  = "CLOSE"
	TypeEOSE   = "EOSE"
	TypeOK     = "OK"
	TypeNotice = "NOTICE"
	TypeClosed = "CLOSED"
	TypeAuth   = "AUTH"
)

// Message is a decoded relay protocol array in either direction.
type Message struct {
	Type           string
	SubscriptionID string
	Event          *models.Event
	Filters        []models.Filter
	EventID        string
	Accepted       bool
	Text           string
}

func EncodeReq(subID string, filters ...models.Filter) ([]byte, error) {
	if subID == "" || len(filters) == 0 {
		return nil, ErrMalformedMessage
	}
	out := make([]any, 0, 2+len(filters))
	out = append(out, TypeReq, subID)
	for _, f := range filters {
		out = append(out, f)
	}
	return marshalNoEscape(out)
}

// EncodeEvent builds an outbound publish, or a subscription delivery when
// subID is set.
func EncodeEvent(ev models.Event, subID string) ([]byte, error) {
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	if subID == "" {
		return marshalNoEscape([]any{TypeEvent, ev})
	}
	return marshalNoEscape([]any{TypeEvent, subID, ev})
}

func EncodeClose(subID string) ([]byte, error) {
	return marshalNoEscape([]any{TypeClose, subID})
}

func EncodeOK(eventID string, accepted bool, reason string) ([]byte, error) {
	return marshalNoEscape([]any{TypeOK, eventID, accepted, reason})
}

func EncodeEOSE(subID string) ([]byte, error) {
	return marshalNoEscape([]any{TypeEOSE, subID})
}

func EncodeNotice(text string) ([]byte, error) {
	return marshalNoEscape([]any{TypeNotice, text})
}

func ParseMessage(raw []byte) (Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) < 2 {
		return Message{}, ErrMalformedMessage
	}
	var msg Message
	if err := json.Unmarshal(parts[0], &msg.Type); err != nil {
		return Message{}, ErrMalformedMessage
	}
	var err error
	switch msg.Type {
	case TypeEvent:
		evRaw := parts[1]
		if len(parts) >= 3 {
			err = json.Unmarshal(parts[1], &msg.SubscriptionID)
			evRaw = parts[2]
		}
		if err == nil {
			var ev models.Event
			err = json.Unmarshal(evRaw, &ev)
			msg.Event = &ev
		}
	case TypeReq:
		err = json.Unmarshal(parts[1], &msg.SubscriptionID)
		for _, p := range parts[2:] {
			if err != nil {
				break
			}
			var f models.Filter
			err = json.Unmarshal(p, &f)
			msg.Filters = append(msg.Filters, f)
		}
	case TypeClose, TypeEOSE:
		err = json.Unmarshal(parts[1], &msg.SubscriptionID)
	case TypeClosed:
		err = json.Unmarshal(parts[1], &msg.SubscriptionID)
		if err == nil && len(parts) >= 3 {
			err = json.Unmarshal(parts[2], &msg.Text)
		}
	case TypeOK:
		if len(parts) < 3 {
			return Message{}, ErrMalformedMessage
		}
		err = json.Unmarshal(parts[1], &msg.EventID)
		if err == nil {
			err = json.Unmarshal(parts[2], &msg.Accepted)
		}
		if err == nil && len(parts) >= 4 {
			err = json.Unmarshal(parts[3], &msg.Text)
		}
	case TypeNotice, TypeAuth:
		err = json.Unmarshal(parts[1], &msg.Text)
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, msg.Type, err)
	}
	return msg, nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
