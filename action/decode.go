package action

import (
	"mini-socket/message"
)

// Decode turns a dynamic action object into its variant.
// The input is never modified.
func Decode(obj map[string]any) Action {
	msg := message.Message(obj)

	if flag, _ := obj[FieldSendToServer].(bool); flag {
		wants, _ := obj[FieldPromise].(bool)
		send := Send{
			Message:      msg.Without(FieldSendToServer, FieldPromise, message.FieldRequestID),
			WantsPromise: wants,
		}
		if id, ok := msg.RequestID(); ok {
			send.RequestID = &id
		}
		return send
	}

	switch msg.Type() {
	case TypeConnect:
		payload, _ := obj[FieldPayload].(map[string]any)
		uri, _ := payload["uri"].(string)
		service, _ := payload["service"].(string)
		return Connect{URI: uri, Service: service}
	case TypeClose:
		return Close{}
	}

	return Plain{Kind: msg.Type(), Payload: msg.Clone()}
}

// Encode renders a variant back into its dynamic object form, e.g. for logging or bridging.
func Encode(a Action) map[string]any {
	switch v := a.(type) {
	case Connect:
		payload := map[string]any{"uri": v.URI}
		if v.Service != "" {
			payload["service"] = v.Service
		}
		return map[string]any{message.FieldType: TypeConnect, FieldPayload: payload}
	case Close:
		return map[string]any{message.FieldType: TypeClose}
	case Send:
		obj := v.Message.Clone()
		obj[FieldSendToServer] = true
		if v.WantsPromise {
			obj[FieldPromise] = true
		}
		if v.RequestID != nil {
			obj[message.FieldRequestID] = *v.RequestID
		}
		return obj
	case Outgoing:
		return v.Message.Clone()
	case Incoming:
		return v.Message.Clone()
	case Opened:
		return map[string]any{message.FieldType: TypeOpened}
	case Closed:
		return map[string]any{
			message.FieldType: TypeClosed,
			FieldPayload:      map[string]any{"wasClean": v.WasClean, "code": v.Code, "reason": v.Reason},
		}
	case Error:
		return map[string]any{
			message.FieldType: TypeError,
			FieldPayload:      map[string]any{"code": v.Code, "message": v.Message},
		}
	case Plain:
		obj := make(map[string]any, len(v.Payload)+1)
		for k, val := range v.Payload {
			obj[k] = val
		}
		obj[message.FieldType] = v.Kind
		return obj
	}
	return map[string]any{message.FieldType: a.Type()}
}
