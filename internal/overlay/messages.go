package overlay

import "github.com/kozaktomas/cue/internal/presence"

// Inbound message types sent by the overlay page.
const (
	msgFrame     = "frame"
	msgRetry     = "retry"
	msgRecording = "recording"
)

// Outbound message types sent to the overlay page.
const (
	msgState    = "state"
	msgPosition = "position"
	msgPerson   = "person"
	msgRecord   = "record"
	msgPlay     = "play"
)

// inbound is any message from the overlay page. Fields are used per type.
type inbound struct {
	Type string `json:"type"`

	// frame
	Face  bool          `json:"face,omitempty"`
	Box   *presence.Box `json:"box,omitempty"`
	Image string        `json:"image,omitempty"`

	// recording
	Data  string `json:"data,omitempty"`
	Final bool   `json:"final,omitempty"`
}

// Person is the display payload shown next to a recognized face.
type Person struct {
	Name        string  `json:"name"`
	Relation    string  `json:"relation"`
	Routine     string  `json:"routine,omitempty"`
	Familiarity float64 `json:"familiarity"`
}

type outbound struct {
	Type     string         `json:"type"`
	State    presence.State `json:"state,omitempty"`
	Episode  uint64         `json:"episode,omitempty"`
	Position *presence.Box  `json:"position,omitempty"`
	Person   *Person        `json:"person,omitempty"`
	Action   string         `json:"action,omitempty"`
	Audio    string         `json:"audio,omitempty"`
}
