// Package protocol defines the wire protocol spoken between the input
// front-end and the external conversion engine process.
//
// Every message, in both directions, is a 4-byte big-endian unsigned length
// prefix followed by exactly that many bytes of UTF-8 JSON. There is no
// other envelope. Requests carry a monotonically increasing "seq" used to
// correlate the engine's response, and a "session_id" once the engine has
// assigned one.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request type tags.
const (
	TypeInit          = "init"
	TypeConvert       = "convert"
	TypeCommit        = "commit"
	TypeAdjustSegment = "adjust_segment"
	TypeShutdown      = "shutdown"
)

// Response type tags.
const (
	TypeInitResult          = "init_result"
	TypeConvertResult       = "convert_result"
	TypeCommitResult        = "commit_result"
	TypeAdjustSegmentResult = "adjust_segment_result"
	TypeShutdownResult      = "shutdown_result"
	TypeError               = "error"
)

// Decode errors.
var (
	ErrUnknownType  = errors.New("protocol: unknown message type")
	ErrMissingField = errors.New("protocol: missing required field")
)

// Direction names a segment boundary adjustment.
type Direction string

const (
	DirectionShrink Direction = "shrink"
	DirectionExtend Direction = "extend"
)

// Segment is the wire representation of one conversion segment: a
// contiguous span of the reading with its own candidate list. Start and
// Length are rune offsets into the reading and must be carried back
// unchanged in adjust_segment requests.
type Segment struct {
	Reading    string   `json:"reading"`
	Start      int      `json:"start"`
	Length     int      `json:"length"`
	Candidates []string `json:"candidates"`
}

// EngineOptions is the capability configuration block optionally sent with
// init. It is passed through to the engine opaquely; the front-end only
// loads it from configuration.
type EngineOptions struct {
	Enabled        bool   `json:"enabled"`
	ModelPath      string `json:"model_path,omitempty"`
	InferenceLimit int    `json:"inference_limit,omitempty"`
	Contextual     bool   `json:"contextual,omitempty"`
}

// header carries the fields common to every request. It is embedded in each
// request type so the connection can stamp seq and session id uniformly.
type header struct {
	Type      string `json:"type"`
	Seq       uint64 `json:"seq"`
	SessionID string `json:"session_id,omitempty"`
}

func (h *header) Kind() string           { return h.Type }
func (h *header) SetSeq(seq uint64)      { h.Seq = seq }
func (h *header) SetSessionID(id string) { h.SessionID = id }
func (h *header) RequestSeq() uint64     { return h.Seq }

// Request is any outgoing message. The connection stamps Seq and SessionID
// immediately before encoding; callers construct requests with the New*
// functions and never set those fields themselves.
type Request interface {
	Kind() string
	RequestSeq() uint64
	SetSeq(uint64)
	SetSessionID(string)
}

// Init asks the engine to set up a session. Options configures the neural
// conversion backend when present. A previously assigned session id may be
// carried for reconnection.
type Init struct {
	header
	Options *EngineOptions `json:"options,omitempty"`
}

// NewInit returns an init request. opts may be nil.
func NewInit(opts *EngineOptions) *Init {
	return &Init{header: header{Type: TypeInit}, Options: opts}
}

// ConvertOptions tunes a single conversion request.
type ConvertOptions struct {
	// Live marks the request as fired from live typing rather than an
	// explicit conversion command; engines may trade accuracy for latency.
	Live bool `json:"live"`
}

// Convert submits a reading for candidate generation.
type Convert struct {
	header
	Reading string         `json:"reading"`
	Cursor  int            `json:"cursor"`
	Options ConvertOptions `json:"options"`
}

// NewConvert returns a convert request for the given reading. cursor is the
// rune offset of the editing position within the reading.
func NewConvert(reading string, cursor int, live bool) *Convert {
	return &Convert{
		header:  header{Type: TypeConvert},
		Reading: reading,
		Cursor:  cursor,
		Options: ConvertOptions{Live: live},
	}
}

// Commit notifies the engine that the user committed a candidate so it can
// update its learning data.
type Commit struct {
	header
	Reading   string `json:"reading"`
	Candidate string `json:"candidate"`
}

// NewCommit returns a commit notification.
func NewCommit(reading, candidate string) *Commit {
	return &Commit{header: header{Type: TypeCommit}, Reading: reading, Candidate: candidate}
}

// AdjustSegment asks the engine to move one segment boundary and reconvert.
// SegmentIndex is 0-based on the wire.
type AdjustSegment struct {
	header
	Reading      string    `json:"reading"`
	Segments     []Segment `json:"segments"`
	SegmentIndex int       `json:"segment_index"`
	Direction    Direction `json:"direction"`
}

// NewAdjustSegment returns an adjust_segment request.
func NewAdjustSegment(reading string, segments []Segment, index int, dir Direction) *AdjustSegment {
	return &AdjustSegment{
		header:       header{Type: TypeAdjustSegment},
		Reading:      reading,
		Segments:     segments,
		SegmentIndex: index,
		Direction:    dir,
	}
}

// Shutdown asks the engine process to exit after acknowledging.
type Shutdown struct {
	header
}

// NewShutdown returns a shutdown request.
func NewShutdown() *Shutdown {
	return &Shutdown{header: header{Type: TypeShutdown}}
}

// EncodeRequest serializes a request to its JSON payload (without framing).
func EncodeRequest(req Request) ([]byte, error) {
	if req.Kind() == "" {
		return nil, fmt.Errorf("%w: request has no type tag", ErrUnknownType)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", req.Kind(), err)
	}
	return data, nil
}

// Response is any incoming message. ResponseSeq returns the seq echoed from
// the originating request; engine-side parse failures may echo seq 0.
type Response interface {
	ResponseKind() string
	ResponseSeq() uint64
}

// InitResult acknowledges init and assigns the session id.
type InitResult struct {
	Seq           uint64 `json:"seq"`
	SessionID     string `json:"session_id"`
	Version       string `json:"version"`
	HasDictionary bool   `json:"has_dictionary"`
}

func (r *InitResult) ResponseKind() string { return TypeInitResult }
func (r *InitResult) ResponseSeq() uint64  { return r.Seq }

// ConvertResult carries the candidates for a convert request. Segments is
// empty when the engine produced only a flat candidate list.
type ConvertResult struct {
	Seq        uint64    `json:"seq"`
	SessionID  string    `json:"session_id"`
	Candidates []string  `json:"candidates"`
	Segments   []Segment `json:"segments"`
}

func (r *ConvertResult) ResponseKind() string { return TypeConvertResult }
func (r *ConvertResult) ResponseSeq() uint64  { return r.Seq }

// CommitResult acknowledges a commit notification.
type CommitResult struct {
	Seq       uint64 `json:"seq"`
	SessionID string `json:"session_id"`
	Success   bool   `json:"success"`
}

func (r *CommitResult) ResponseKind() string { return TypeCommitResult }
func (r *CommitResult) ResponseSeq() uint64  { return r.Seq }

// AdjustSegmentResult carries the full replacement segment list after a
// boundary adjustment.
type AdjustSegmentResult struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Segments  []Segment `json:"segments"`
}

func (r *AdjustSegmentResult) ResponseKind() string { return TypeAdjustSegmentResult }
func (r *AdjustSegmentResult) ResponseSeq() uint64  { return r.Seq }

// ShutdownResult acknowledges a shutdown request; the process exits after
// sending it.
type ShutdownResult struct {
	Seq uint64 `json:"seq"`
}

func (r *ShutdownResult) ResponseKind() string { return TypeShutdownResult }
func (r *ShutdownResult) ResponseSeq() uint64  { return r.Seq }

// Error is the engine's failure response. Seq may be 0 when the engine
// could not recover the originating seq from a malformed request.
type Error struct {
	Seq       uint64 `json:"seq"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"error"`
}

func (r *Error) ResponseKind() string { return TypeError }
func (r *Error) ResponseSeq() uint64  { return r.Seq }

// DecodeResponse parses one frame payload into its tagged response type.
// An unknown or absent type tag, or a response missing a field the type
// requires, is an error: the caller logs it and skips the frame.
func DecodeResponse(data []byte) (Response, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("protocol: decode response: %w", err)
	}

	switch probe.Type {
	case TypeInitResult:
		var r InitResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", probe.Type, err)
		}
		if r.SessionID == "" {
			return nil, fmt.Errorf("%w: %s.session_id", ErrMissingField, probe.Type)
		}
		return &r, nil

	case TypeConvertResult:
		var r ConvertResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", probe.Type, err)
		}
		if r.Candidates == nil && r.Segments == nil {
			return nil, fmt.Errorf("%w: %s.candidates", ErrMissingField, probe.Type)
		}
		return &r, nil

	case TypeCommitResult:
		var r CommitResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", probe.Type, err)
		}
		return &r, nil

	case TypeAdjustSegmentResult:
		var r AdjustSegmentResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", probe.Type, err)
		}
		if r.Segments == nil {
			return nil, fmt.Errorf("%w: %s.segments", ErrMissingField, probe.Type)
		}
		return &r, nil

	case TypeShutdownResult:
		var r ShutdownResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", probe.Type, err)
		}
		return &r, nil

	case TypeError:
		var r Error
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", probe.Type, err)
		}
		if r.Message == "" {
			return nil, fmt.Errorf("%w: %s.error", ErrMissingField, probe.Type)
		}
		return &r, nil

	case "":
		return nil, fmt.Errorf("%w: type tag absent", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}
