package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient streams responses from the Gemini API.
type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{client: client}, nil
}

func (c *GeminiClient) Stream(ctx context.Context, req Request) (Stream, error) {
	parts, err := geminiParts(req.Parts)
	if err != nil {
		return nil, err
	}

	history, err := geminiHistory(req.History)
	if err != nil {
		return nil, err
	}

	model := c.client.GenerativeModel(req.Model)
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemInstruction)},
		}
	}
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}

	return func(yield func(string, error) bool) {
		var it *genai.GenerateContentResponseIterator
		if len(history) > 0 {
			cs := model.StartChat()
			cs.History = history
			it = cs.SendMessageStream(ctx, parts...)
		} else {
			it = model.GenerateContentStream(ctx, parts...)
		}

		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("receive chunk: %w", err))
				return
			}

			if !yield(chunkText(resp), nil) {
				return
			}
		}
	}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func geminiParts(parts []Part) ([]genai.Part, error) {
	out := make([]genai.Part, 0, len(parts))

	for _, part := range parts {
		switch p := part.(type) {
		case Text:
			out = append(out, genai.Text(p))
		case Blob:
			out = append(out, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
		default:
			return nil, fmt.Errorf("unknown part type %T", part)
		}
	}

	return out, nil
}

func geminiHistory(turns []Turn) ([]*genai.Content, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	history := make([]*genai.Content, 0, len(turns))

	for _, turn := range turns {
		parts, err := geminiParts(turn.Parts)
		if err != nil {
			return nil, fmt.Errorf("convert %s turn: %w", turn.Role, err)
		}

		history = append(history, &genai.Content{
			Role:  string(turn.Role),
			Parts: parts,
		})
	}

	return history, nil
}

func chunkText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return b.String()
}
