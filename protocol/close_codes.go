package protocol

// Close codes from RFC 6455 section 7.4.1 and the IANA websocket close code registry.
const (
	CloseNormalClosure           = 1000
	CloseGoingAway               = 1001
	CloseProtocolError           = 1002
	CloseUnsupportedData         = 1003
	CloseReserved                = 1004
	CloseNoStatusReceived        = 1005
	CloseAbnormalClosure         = 1006
	CloseInvalidFramePayloadData = 1007
	ClosePolicyViolation         = 1008
	CloseMessageTooBig           = 1009
	CloseMandatoryExtension      = 1010
	CloseInternalServerErr       = 1011
	CloseServiceRestart          = 1012
	CloseTryAgainLater           = 1013
	CloseBadGateway              = 1014
	CloseTLSHandshake            = 1015
)

// UnknownCloseReason is returned by CloseText for codes outside the table.
const UnknownCloseReason = "Unknown reason"

var closeText = map[int]string{
	CloseNormalClosure:           "Normal closure: the purpose for which the connection was established has been fulfilled.",
	CloseGoingAway:               "An endpoint is going away, e.g. a server shutting down or a client navigating away.",
	CloseProtocolError:           "An endpoint is terminating the connection due to a protocol error.",
	CloseUnsupportedData:         "An endpoint received a type of data it cannot accept.",
	CloseReserved:                "Reserved. The meaning might be defined in the future.",
	CloseNoStatusReceived:        "No status code was present in the close frame.",
	CloseAbnormalClosure:         "The connection was closed abnormally, without a close frame being sent or received.",
	CloseInvalidFramePayloadData: "An endpoint received data inconsistent with the message type (e.g. non-UTF-8 text).",
	ClosePolicyViolation:         "An endpoint received a message that violates its policy.",
	CloseMessageTooBig:           "An endpoint received a message too big to process.",
	CloseMandatoryExtension:      "The client expected the server to negotiate one or more extensions, but the server did not.",
	CloseInternalServerErr:       "The server encountered an unexpected condition that prevented it from fulfilling the request.",
	CloseServiceRestart:          "The server is restarting.",
	CloseTryAgainLater:           "The server is overloaded or temporarily unavailable; try again later.",
	CloseBadGateway:              "A gateway or proxy received an invalid response from the upstream server.",
	CloseTLSHandshake:            "The connection was closed due to a failure to perform a TLS handshake.",
}

// CloseText maps a close code to a human readable message.
func CloseText(code int) string {
	if text, ok := closeText[code]; ok {
		return text
	}
	return UnknownCloseReason
}
