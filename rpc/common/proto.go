package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Addressing
// --------------------------------------------------------------------------

// Rank identifies a process in the job. The master always has rank 0,
// workers have ranks in [1, WorldSize).
type Rank uint32

// MasterRank is the rank reserved for the master process
const MasterRank Rank = 0

// --------------------------------------------------------------------------
// Channel payloads
// --------------------------------------------------------------------------

// Message is the contract the channel expects from a remote-operation message.
// The channel transmits Bytes() as-is and never interprets them.
type Message interface {
	// Len returns the number of serialized bytes
	Len() int
	// Bytes returns the serialized message
	Bytes() []byte
}

// RawMessage is an already serialized message
type RawMessage []byte

func (m RawMessage) Len() int      { return len(m) }
func (m RawMessage) Bytes() []byte { return m }

// ReportKind classifies where an ErrorReport came from
type ReportKind uint8

const (
	// ReportKindWorker is an error frame sent by the worker itself
	ReportKindWorker ReportKind = iota
	// ReportKindHangup is synthesized when a worker connection was closed
	ReportKindHangup
	// ReportKindRecv is synthesized when an error frame could not be read
	ReportKindRecv
	// ReportKindPoll is synthesized when the poll loop woke up without a worker
	ReportKindPoll
)

func (k ReportKind) String() string {
	switch k {
	case ReportKindWorker:
		return "worker"
	case ReportKindHangup:
		return "hangup"
	case ReportKindRecv:
		return "recv"
	case ReportKindPoll:
		return "poll"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ErrorReport is a failure observed on the master side
type ErrorReport struct {
	Rank Rank
	Text string
	Kind ReportKind
}

// String formats the report the way it is latched by the master
func (r ErrorReport) String() string {
	return fmt.Sprintf("error (rank %d): %s", r.Rank, r.Text)
}

// --------------------------------------------------------------------------
// Commands (remote operations sent from the master to the workers)
// --------------------------------------------------------------------------

// CommandType is the type of remote operation
type CommandType uint8

const (
	// CmdTUnknown is the zero value, it is never sent
	CmdTUnknown CommandType = iota

	// CmdTEcho makes the worker log its arguments
	CmdTEcho
	// CmdTSleep makes the worker sleep for Args[0] (a time.Duration string)
	CmdTSleep
	// CmdTFail makes the worker fail with Args joined as the error text
	CmdTFail
	// CmdTExit ends the worker's serve loop
	CmdTExit

	// CmdTCustom is reserved for application defined handlers
	CmdTCustom
)

func (t CommandType) String() string {
	switch t {
	case CmdTUnknown:
		return "unknown"
	case CmdTEcho:
		return "echo"
	case CmdTSleep:
		return "sleep"
	case CmdTFail:
		return "fail"
	case CmdTExit:
		return "exit"
	case CmdTCustom:
		return "custom"
	default:
		return fmt.Sprintf("CommandType(%d)", uint8(t))
	}
}

// ParseCommandType converts the textual name back to a CommandType
func ParseCommandType(s string) (CommandType, error) {
	for t := CmdTEcho; t <= CmdTCustom; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return CmdTUnknown, fmt.Errorf("unknown command type: %s", s)
}

func (t CommandType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *CommandType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == CmdTUnknown.String() {
		*t = CmdTUnknown
		return nil
	}
	parsed, err := ParseCommandType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Command is a single remote operation. Which fields are used depends on the type.
type Command struct {
	// Type of command
	CmdType CommandType `json:"cmd_type"`

	// ID is assigned by the client, unique per master process
	ID uint64 `json:"id,omitempty"`
	// JobID identifies the job the command belongs to
	JobID string `json:"job_id,omitempty"`

	Args    []string `json:"args,omitempty"`    // Used for: Echo, Sleep, Fail
	Payload []byte   `json:"payload,omitempty"` // Used for: Custom
}

// NewEchoCommand creates a new Echo command
func NewEchoCommand(args ...string) *Command {
	return &Command{CmdType: CmdTEcho, Args: args}
}

// NewSleepCommand creates a new Sleep command
func NewSleepCommand(d string) *Command {
	return &Command{CmdType: CmdTSleep, Args: []string{d}}
}

// NewFailCommand creates a new Fail command
func NewFailCommand(reason string) *Command {
	return &Command{CmdType: CmdTFail, Args: []string{reason}}
}

// NewExitCommand creates a new Exit command
func NewExitCommand() *Command {
	return &Command{CmdType: CmdTExit}
}

// NewCustomCommand creates a new Custom command carrying an opaque payload
func NewCustomCommand(payload []byte) *Command {
	return &Command{CmdType: CmdTCustom, Payload: payload}
}
