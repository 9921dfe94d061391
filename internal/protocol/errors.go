package protocol

import "errors"

var (
	ErrBadFrame      = errors.New("protocol: malformed frame")
	ErrUnknownPacket = errors.New("protocol: unknown packet type")
	ErrVersion       = errors.New("protocol: version mismatch")
)

// Disconnect reason codes.
const (
	ReasonMatchFull   = "E_MATCH_FULL"
	ReasonBadRequest  = "E_BAD_REQUEST"
	ReasonServerClose = "E_SERVER_CLOSE"
	ReasonTimeout     = "E_TIMEOUT"
)

var knownReasons = map[string]struct{}{
	ReasonMatchFull:   {},
	ReasonBadRequest:  {},
	ReasonServerClose: {},
	ReasonTimeout:     {},
}

func IsKnownReason(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownReasons[code]
	return ok
}
