package oracle

import "context"

// TranscriptSource identifies which side of the conversation a transcript
// fragment belongs to.
type TranscriptSource int

const (
	SourceUser TranscriptSource = iota
	SourceOracle
)

func (s TranscriptSource) String() string {
	if s == SourceUser {
		return "user"
	}
	return "oracle"
}

// ChannelEvent is a sealed union of everything a session channel can deliver.
// Consumers switch on the concrete type.
type ChannelEvent interface {
	channelEventType() string
}

// OpenedEvent is delivered once, after the remote side acknowledges setup.
type OpenedEvent struct{}

// TranscriptEvent carries an incremental transcript fragment. Fragments for
// the same turn arrive in order and are concatenated by the receiver.
type TranscriptEvent struct {
	Source TranscriptSource
	Text   string
}

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

// AudioEvent carries one chunk of synthesized speech as base64-encoded
// 16-bit little-endian PCM at the playback rate.
type AudioEvent struct {
	Data string
}

// ErrorEvent reports a terminal channel fault. No further events follow it
// except ClosedEvent.
type ErrorEvent struct {
	Err *Error
}

// ClosedEvent is delivered when the remote side closes the channel.
type ClosedEvent struct{}

func (OpenedEvent) channelEventType() string       { return "opened" }
func (TranscriptEvent) channelEventType() string   { return "transcript" }
func (TurnCompleteEvent) channelEventType() string { return "turn_complete" }
func (AudioEvent) channelEventType() string        { return "audio" }
func (ErrorEvent) channelEventType() string        { return "error" }
func (ClosedEvent) channelEventType() string       { return "closed" }

// ChannelConfig selects the remote session parameters.
type ChannelConfig struct {
	// Voice names the prebuilt voice used for synthesized replies.
	Voice string
	// SystemPrompt steers the persona of the remote model. Optional.
	SystemPrompt string
}

// Channel is a live bidirectional session with the oracle service.
//
// Events returns a channel that is closed when the session ends, after any
// ErrorEvent or ClosedEvent has been delivered. Send and Close are safe for
// concurrent use; Close is idempotent and unblocks a pending Send.
type Channel interface {
	Events() <-chan ChannelEvent
	// Send transmits one chunk of captured audio as base64-encoded 16-bit
	// little-endian PCM at the capture rate.
	Send(data string) error
	Close() error
}

// ChannelOpener dials a new session channel.
type ChannelOpener func(ctx context.Context, cfg ChannelConfig) (Channel, error)
