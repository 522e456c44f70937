package websocket

import "fmt"

// AuthPolicy decides what a realtime submission must prove before it is
// persisted.
type AuthPolicy string

const (
	// PolicyPerEvent re-validates the session on every submission.
	PolicyPerEvent AuthPolicy = "per-event"
	// PolicyHandshake trusts the session resolved when the socket connected.
	PolicyHandshake AuthPolicy = "handshake"
	// PolicyOpen accepts submissions from anyone.
	PolicyOpen AuthPolicy = "open"
)

func ParsePolicy(s string) (AuthPolicy, error) {
	switch p := AuthPolicy(s); p {
	case PolicyPerEvent, PolicyHandshake, PolicyOpen:
		return p, nil
	case "":
		return PolicyPerEvent, nil
	}
	return "", fmt.Errorf("unknown realtime auth policy %q", s)
}
