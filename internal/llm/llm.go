package llm

import (
	"context"
	"fmt"
	"iter"

	"paperlens/internal/domain"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one element of a turn: Text or Blob.
type Part interface {
	part()
}

type Text string

func (Text) part() {}

type Blob struct {
	MIMEType string
	Data     []byte
}

func (Blob) part() {}

type Turn struct {
	Role  Role
	Parts []Part
}

// Request describes one call to the model service. A non-empty History
// makes it a chat request continuing those turns.
type Request struct {
	Model             string
	SystemInstruction string
	Temperature       *float32
	History           []Turn
	Parts             []Part
}

// Stream yields response fragments in arrival order. An error is yielded
// at most once and ends the sequence.
type Stream = iter.Seq2[string, error]

type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// PayloadParts returns the parts carrying payload, preceded by
// instruction when it is not empty.
func PayloadParts(payload domain.Payload, instruction string) ([]Part, error) {
	parts := make([]Part, 0, 2)
	if instruction != "" {
		parts = append(parts, Text(instruction))
	}

	switch p := payload.(type) {
	case domain.TextPayload:
		return append(parts, Text(p.Content)), nil
	case domain.BinaryPayload:
		data, err := p.Bytes()
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return append(parts, Blob{MIMEType: p.MIMEType, Data: data}), nil
	default:
		return nil, fmt.Errorf("unknown payload type %T", payload)
	}
}

func Float32(v float32) *float32 {
	return &v
}
