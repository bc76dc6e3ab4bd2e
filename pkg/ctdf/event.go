package ctdf

const MsgTypeSytral = "sytral"

// WireEvent is the envelope for every frame sent to a live subscriber
type WireEvent struct {
	MsgType string      `json:"msg_type"`
	Message interface{} `json:"message"`
}
