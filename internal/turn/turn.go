// Package turn defines the tagged-union history model for kaiwa sessions:
// the five turn variants that make up a conversation, and the Collection
// that holds them in chronological order with the prompt-assembly and
// expiration algorithms.
package turn

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates the turn variants in serialized form.
type Type string

const (
	TypeUserTask          Type = "user_task"
	TypeModelResponse     Type = "model_response"
	TypeFunctionCall      Type = "function_calling"
	TypeToolResponse      Type = "tool_response"
	TypeCompressedHistory Type = "compressed_history"
)

// StatusSucceeded marks a tool response that completed successfully.
// Only succeeded responses are eligible for expiration.
const StatusSucceeded = "succeeded"

// ExpiredMessage replaces the message of an expired tool response.
const ExpiredMessage = "This tool response has expired to save tokens."

// Turn is one atomic event in a session's history. The concrete types are
// UserTask, ModelResponse, FunctionCall, ToolResponse, and
// CompressedHistory; the set is closed and decode fails on anything else.
//
// Ordering is defined by array position within a Collection, not by
// re-sorting on timestamp. Timestamps are assumed monotonic with position
// but the model does not enforce this.
type Turn interface {
	Type() Type
	Time() time.Time

	json.Marshaler
}

// UserTask is an instruction from the user.
type UserTask struct {
	Timestamp   time.Time `json:"timestamp"`
	Instruction string    `json:"instruction"`
}

func (t *UserTask) Type() Type      { return TypeUserTask }
func (t *UserTask) Time() time.Time { return t.Timestamp }

// ModelResponse is a text reply from the model.
type ModelResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

func (t *ModelResponse) Type() Type      { return TypeModelResponse }
func (t *ModelResponse) Time() time.Time { return t.Timestamp }

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
}

func (t *FunctionCall) Type() Type      { return TypeFunctionCall }
func (t *FunctionCall) Time() time.Time { return t.Timestamp }

// ToolResult is the outcome payload of a tool invocation.
type ToolResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ToolResponse is the result of a tool invocation.
type ToolResponse struct {
	Timestamp time.Time  `json:"timestamp"`
	Name      string     `json:"name,omitempty"`
	Response  ToolResult `json:"response"`
}

func (t *ToolResponse) Type() Type      { return TypeToolResponse }
func (t *ToolResponse) Time() time.Time { return t.Timestamp }

// Expired reports whether this response's message has already been
// replaced by the expiration placeholder.
func (t *ToolResponse) Expired() bool { return t.Response.Message == ExpiredMessage }

// CompressedHistory is a lossy summary replacing a contiguous range of
// original turns. OriginalTurnsRange identifies the [start, end] original
// indices the summary stands in for.
type CompressedHistory struct {
	Timestamp          time.Time `json:"timestamp"`
	Summary            string    `json:"summary"`
	OriginalTurnsRange [2]int    `json:"original_turns_range"`
}

func (t *CompressedHistory) Type() Type      { return TypeCompressedHistory }
func (t *CompressedHistory) Time() time.Time { return t.Timestamp }

// MarshalJSON implementations inject the type discriminator so a Turn
// round-trips through its envelope.

func (t *UserTask) MarshalJSON() ([]byte, error) {
	type alias UserTask
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeUserTask, (*alias)(t)})
}

func (t *ModelResponse) MarshalJSON() ([]byte, error) {
	type alias ModelResponse
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeModelResponse, (*alias)(t)})
}

func (t *FunctionCall) MarshalJSON() ([]byte, error) {
	type alias FunctionCall
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeFunctionCall, (*alias)(t)})
}

func (t *ToolResponse) MarshalJSON() ([]byte, error) {
	type alias ToolResponse
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeToolResponse, (*alias)(t)})
}

func (t *CompressedHistory) MarshalJSON() ([]byte, error) {
	type alias CompressedHistory
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeCompressedHistory, (*alias)(t)})
}

// Decode parses one serialized turn, dispatching on its type
// discriminator. Unknown or missing discriminators are an error; the
// variant set is validated here, at deserialization time.
func Decode(data []byte) (Turn, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse turn envelope: %w", err)
	}

	var t Turn
	switch envelope.Type {
	case TypeUserTask:
		t = &UserTask{}
	case TypeModelResponse:
		t = &ModelResponse{}
	case TypeFunctionCall:
		t = &FunctionCall{}
	case TypeToolResponse:
		t = &ToolResponse{}
	case TypeCompressedHistory:
		t = &CompressedHistory{}
	case "":
		return nil, fmt.Errorf("turn is missing a type discriminator")
	default:
		return nil, fmt.Errorf("unknown turn type %q", envelope.Type)
	}

	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse %s turn: %w", envelope.Type, err)
	}
	return t, nil
}
