// Package channel carries commands to the embedded worker and its replies back.
//
// Delivery is fire-and-forget: a Post either hands the message to the
// transport or fails, and nothing guarantees a reply or its ordering.
package channel

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Message type tags.
const (
	TypeCommand      = "command"
	TypeFromEmbedded = "from-embedded"
)

// Command is a host-to-embedded instruction.
type Command string

const (
	CommandInit     Command = "init"
	CommandEnable   Command = "enable"
	CommandDisable  Command = "disable"
	CommandGetStats Command = "get-stats"
	CommandHideNow  Command = "hide-now"
)

// Event is an embedded-to-host notification.
type Event string

const (
	EventStats         Event = "stats"
	EventElementHidden Event = "element-hidden"
	EventError         Event = "error"
	EventHideNowResult Event = "hide-now-result"
)

var (
	ErrNotConnected = errors.New("channel: no embedded peer connected")
	ErrChannelFull  = errors.New("channel: buffer full")
	ErrClosed       = errors.New("channel: closed")
)

// Outbound is a command sent to the embedded document.
type Outbound struct {
	Type      string  `json:"type"`
	Command   Command `json:"command"`
	RequestID string  `json:"requestId,omitempty"`
}

// NewCommand builds an outbound command message.
func NewCommand(cmd Command, requestID string) Outbound {
	return Outbound{Type: TypeCommand, Command: cmd, RequestID: requestID}
}

// Inbound is a message received from the embedded document.
type Inbound struct {
	Type      string          `json:"type"`
	Command   Event           `json:"command"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewEvent builds an inbound message; data is JSON-encoded.
func NewEvent(ev Event, data any) (Inbound, error) {
	msg := Inbound{Type: TypeFromEmbedded, Command: ev}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Inbound{}, errors.Wrapf(err, "encode %s payload", ev)
		}
		msg.Data = raw
	}
	return msg, nil
}

// FromEmbedded reports whether the message carries the embedded type tag.
func (m Inbound) FromEmbedded() bool {
	return m.Type == TypeFromEmbedded
}

// StatsSnapshot is the payload of a stats event.
type StatsSnapshot struct {
	HiddenCount int `json:"hiddenCount"`
}

// HideResult is the payload of a hide-now-result event.
type HideResult struct {
	Hidden int `json:"hidden"`
}

// Stats decodes a stats payload. A missing payload decodes as zero.
func (m Inbound) Stats() (StatsSnapshot, error) {
	var s StatsSnapshot
	return s, m.decode(&s)
}

// HideResult decodes a hide-now-result payload. A missing payload decodes as zero.
func (m Inbound) HideResult() (HideResult, error) {
	var r HideResult
	return r, m.decode(&r)
}

func (m Inbound) decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", m.Command)
	}
	return nil
}

// Port is the host side of a channel.
type Port interface {
	Post(ctx context.Context, msg Outbound) error
	Inbound() <-chan Inbound
}
