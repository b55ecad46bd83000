package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Inbound frame types. Everything except join is forwarded to the rest of the
// room verbatim; the relay never interprets SDP or candidate payloads.
const (
	frameTypeJoin        = "join"
	frameTypeOffer       = "offer"
	frameTypeAnswer      = "answer"
	frameTypeCandidate   = "candidate"
	frameTypeBye         = "bye"
	frameTypeOrientation = "orientation"
)

// Outbound frame types.
const (
	frameTypeError      = "error"
	frameTypeRoomInfo   = "room-info"
	frameTypePeerJoined = "peer-joined"
	frameTypePeerLeft   = "peer-left"
)

const (
	roleOfferer  = "offerer"
	roleAnswerer = "answerer"

	layoutPortrait  = "portrait"
	layoutLandscape = "landscape"
)

const maxPeerIDLen = 128

// frame is the superset of all inbound signaling messages. Payload fields
// stay raw so broadcasts forward the client's bytes untouched; unknown extra
// fields are tolerated.
type frame struct {
	Type      string          `json:"type"`
	PeerID    string          `json:"peerId"`
	Role      string          `json:"role"`
	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
	Layout    string          `json:"layout"`
}

// protocolError is a frame rejection the client can key off of. It never
// carries internal details.
type protocolError struct {
	Code    string
	Message string
}

func (e *protocolError) Error() string { return e.Code + ": " + e.Message }

func errBadFrame(code, format string, args ...any) *protocolError {
	return &protocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// validate checks the frame against its type's required shape. The returned
// error is always a *protocolError.
func (f *frame) validate() error {
	switch f.Type {
	case frameTypeJoin:
		if err := validatePeerID(f.PeerID); err != nil {
			return errBadFrame("bad_join", "%v", err)
		}
		if f.Role != roleOfferer && f.Role != roleAnswerer {
			return errBadFrame("bad_join", "role must be %q or %q", roleOfferer, roleAnswerer)
		}
	case frameTypeOffer, frameTypeAnswer:
		if err := validatePeerID(f.PeerID); err != nil {
			return errBadFrame("bad_sdp", "%v", err)
		}
		if isNullRaw(f.SDP) {
			return errBadFrame("bad_sdp", "missing sdp")
		}
	case frameTypeCandidate:
		if err := validatePeerID(f.PeerID); err != nil {
			return errBadFrame("bad_candidate", "%v", err)
		}
		if isNullRaw(f.Candidate) {
			return errBadFrame("bad_candidate", "missing candidate")
		}
	case frameTypeBye:
		if err := validatePeerID(f.PeerID); err != nil {
			return errBadFrame("bad_bye", "%v", err)
		}
	case frameTypeOrientation:
		if err := validatePeerID(f.PeerID); err != nil {
			return errBadFrame("bad_orientation", "%v", err)
		}
		if f.Layout != layoutPortrait && f.Layout != layoutLandscape {
			return errBadFrame("bad_orientation", "layout must be %q or %q", layoutPortrait, layoutLandscape)
		}
	default:
		return errBadFrame("unknown_type", "unknown type: %s", f.Type)
	}
	return nil
}

func validatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("missing peerId")
	}
	if len(peerID) > maxPeerIDLen {
		return fmt.Errorf("peerId longer than %d chars", maxPeerIDLen)
	}
	return nil
}

func isNullRaw(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// standardCandidate reports whether the candidate payload matches the W3C
// RTCIceCandidateInit wire shape. The relay forwards the payload either way;
// this only feeds a counter so operators can spot clients sending
// non-standard ICE.
func standardCandidate(raw json.RawMessage) bool {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return false
	}
	return init.Candidate != ""
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorFrame(code, message string) errorFrame {
	return errorFrame{Type: frameTypeError, Code: code, Message: message}
}

type roomInfoFrame struct {
	Type  string   `json:"type"`
	Peers []string `json:"peers"`
	Max   int      `json:"max"`
}

type peerEventFrame struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}
