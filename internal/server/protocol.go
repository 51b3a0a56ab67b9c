package server

import "encoding/json"

// Outbound frame shapes. Every text frame the server sends is one of these,
// marshalled as a single JSON object.

// statusFrame carries a bare lifecycle status: "connected", "listening" or
// "processing".
type statusFrame struct {
	Status string `json:"status"`
}

// resultFrame carries one transcription result. Translation mirrors the
// source text until a translation stage exists behind the same protocol.
type resultFrame struct {
	Status      string `json:"status"`
	Source      string `json:"source"`
	Translation string `json:"translation"`
	Lang        string `json:"lang"`
}

// errorFrame reports a per-segment or admission failure without ending the
// session.
type errorFrame struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// pongFrame answers a ping command.
type pongFrame struct {
	Pong bool `json:"pong"`
}

// command is the inbound control-frame shape. Unrecognised commands and
// unparseable payloads are ignored.
type command struct {
	Command string `json:"command"`
}

func newResultFrame(text, lang string) resultFrame {
	return resultFrame{
		Status:      "result",
		Source:      text,
		Translation: text,
		Lang:        lang,
	}
}

// parseCommand decodes an inbound control frame. ok is false when the payload
// is not valid JSON for the command shape.
func parseCommand(data []byte) (command, bool) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return command{}, false
	}
	return cmd, true
}
