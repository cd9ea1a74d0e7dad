package client

import "errors"

var (
	// ErrTransportUnavailable means the signaling channel is not
	// connected; room operations fail fast rather than queue.
	ErrTransportUnavailable = errors.New("signaling transport unavailable")

	// ErrDeviceUnavailable and ErrPermissionDenied are returned by
	// capture providers; a failed acquisition aborts joining before any
	// peer link exists.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrPermissionDenied  = errors.New("capture permission denied")

	// ErrNegotiationTimeout marks a peer link that never reached the
	// connected state. Reported per peer; other links are unaffected.
	ErrNegotiationTimeout = errors.New("peer negotiation timed out")

	// ErrPeerFailed marks a link whose underlying connection failed
	// after negotiation.
	ErrPeerFailed = errors.New("peer connection failed")

	// ErrScreenShareDenied leaves the call exactly as it was.
	ErrScreenShareDenied = errors.New("screen capture denied")

	ErrNotInRoom     = errors.New("not in a room")
	ErrSessionClosed = errors.New("session closed")
)
