package domain

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PayloadKind string

const (
	PayloadKindText   PayloadKind = "text"
	PayloadKindBinary PayloadKind = "binary"
)

// Payload is the canonical document content sent to the model service.
// It is either a TextPayload or a BinaryPayload.
type Payload interface {
	Kind() PayloadKind
	payload()
}

type TextPayload struct {
	Content string
}

func (TextPayload) Kind() PayloadKind { return PayloadKindText }
func (TextPayload) payload()          {}

// BinaryPayload carries base64-encoded bytes tagged with their MIME type.
type BinaryPayload struct {
	Data     string
	MIMEType string
}

func (BinaryPayload) Kind() PayloadKind { return PayloadKindBinary }
func (BinaryPayload) payload()          {}

func (p BinaryPayload) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	return b, nil
}

// SamePayload reports whether a and b carry the same document content.
func SamePayload(a, b Payload) bool {
	switch pa := a.(type) {
	case TextPayload:
		pb, ok := b.(TextPayload)
		return ok && pa.Content == pb.Content
	case BinaryPayload:
		pb, ok := b.(BinaryPayload)
		return ok && pa.MIMEType == pb.MIMEType && pa.Data == pb.Data
	default:
		return false
	}
}

type Source string

const (
	SourceFile Source = "file"
	SourceURL  Source = "url"
	SourceText Source = "text"
)

type Document struct {
	Name    string
	Source  Source
	Size    int64
	Payload Payload
}

// MIMEType returns the payload MIME type, text/plain for pasted text.
func (d Document) MIMEType() string {
	switch p := d.Payload.(type) {
	case BinaryPayload:
		return p.MIMEType
	case TextPayload:
		return "text/plain"
	default:
		return ""
	}
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type ChatMessage struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
	Streaming bool
}

func NewChatMessage(role Role, text string, now time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}
}

type RequestKind string

const (
	RequestKindSummary RequestKind = "summary"
	RequestKindChat    RequestKind = "chat"
)

type RequestStatus string

const (
	RequestStatusStarted RequestStatus = "started"
	RequestStatusDone    RequestStatus = "done"
	RequestStatusFailed  RequestStatus = "failed"
)

type RequestRecord struct {
	ID          int64
	ChatID      int64
	Kind        RequestKind
	Source      Source
	MIMEType    string
	Size        int64
	Status      RequestStatus
	Chars       int
	ErrorDetail string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

type ChatStats struct {
	ChatID          int64
	Summaries       int64
	FailedSummaries int64
	Questions       int64
	FailedQuestions int64
}
