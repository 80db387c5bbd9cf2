package codec

// CloseCode is a 16-bit close status as defined by RFC6455.
type CloseCode uint16

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseProtocolError   CloseCode = 1002
	CloseUnsupportedData CloseCode = 1003
	CloseFrameTooLarge   CloseCode = 1004
	CloseInvalidPayload  CloseCode = 1007
	ClosePolicyViolation CloseCode = 1008
)

// closeReasons maps close codes to the short reason carried in the close
// frame payload. Codes without an entry carry an empty reason.
var closeReasons = map[CloseCode]string{
	CloseNormal:          "normal closure",
	CloseGoingAway:       "going away",
	CloseProtocolError:   "protocol error",
	CloseUnsupportedData: "unsupported data",
	CloseFrameTooLarge:   "frame too large",
	CloseInvalidPayload:  "invalid payload encoding",
	ClosePolicyViolation: "policy violation",
}

// Reason returns the human-readable reason for the code, empty if unmapped.
func (c CloseCode) Reason() string {
	return closeReasons[c]
}
