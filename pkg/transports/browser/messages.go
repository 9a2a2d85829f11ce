package browser

import "encoding/json"

// Inbound message types sent by the browser client.
const (
	TypeTranscript         = "transcript"
	TypePageContext        = "page_context"
	TypeControl            = "control"
	TypeCaptureUnsupported = "capture_unsupported"
)

// Outbound message types sent to the browser client.
const (
	TypeSpeak           = "speak"
	TypeNavigate        = "navigate"
	TypeNotice          = "notice"
	TypeState           = "state"
	TypeCapture         = "capture"
	TypeResetTranscript = "reset_transcript"
)

// Inbound is a JSON text frame from the browser. Transcript messages echo the
// latest reset epoch the client has applied; older epochs are dropped.
type Inbound struct {
	Type       string          `json:"type"`
	Transcript string          `json:"transcript,omitempty"`
	Capturing  bool            `json:"capturing,omitempty"`
	Epoch      uint64          `json:"epoch,omitempty"`
	Action     string          `json:"action,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Outbound is a JSON text frame sent to the browser.
type Outbound struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Route      string `json:"route,omitempty"`
	Level      string `json:"level,omitempty"`
	Message    string `json:"message,omitempty"`
	State      string `json:"state,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Action     string `json:"action,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Epoch      uint64 `json:"epoch,omitempty"`
}
