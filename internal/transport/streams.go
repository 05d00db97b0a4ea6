// Package transport wraps a QUIC connection into the four logical streams
// a transfer multiplexes over it, plus heartbeat and migration-detection
// policy layered on top.
package transport

// StreamID identifies one of the four logical streams a transfer opens
// over a single QUIC connection.
type StreamID uint8

const (
	StreamControl  StreamID = 0
	StreamManifest StreamID = 1
	StreamData     StreamID = 2
	StreamStatus   StreamID = 3
)

func (s StreamID) String() string {
	switch s {
	case StreamControl:
		return "control"
	case StreamManifest:
		return "manifest"
	case StreamData:
		return "data"
	case StreamStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Urgency orders streams for scheduling preference; lower values win ties
// when more than one stream has data ready to send.
type Urgency uint8

const (
	UrgencyHighest Urgency = iota
	UrgencyHigh
	UrgencyNormal
	UrgencyLow
)

// StreamProfile describes one logical stream's scheduling characteristics.
type StreamProfile struct {
	ID          StreamID
	Purpose     string
	Urgency     Urgency
	Incremental bool
}

// Profiles is the fixed table of the four logical streams, in priority
// order (index 0 is serviced first when more than one stream is ready).
var Profiles = [4]StreamProfile{
	{ID: StreamControl, Purpose: "ack/nack/retransmit/pause/resume", Urgency: UrgencyHighest, Incremental: false},
	{ID: StreamManifest, Purpose: "one message per transfer", Urgency: UrgencyHigh, Incremental: false},
	{ID: StreamData, Purpose: "framed chunks", Urgency: UrgencyNormal, Incremental: true},
	{ID: StreamStatus, Purpose: "progress telemetry", Urgency: UrgencyLow, Incremental: true},
}

// ProfileFor looks up a stream's scheduling profile by id.
func ProfileFor(id StreamID) (StreamProfile, bool) {
	for _, p := range Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return StreamProfile{}, false
}
