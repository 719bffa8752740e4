package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const outputTextDeltaEvent = "response.output_text.delta"

// OpenAIClient streams responses from OpenAI's Responses API.
type OpenAIClient struct {
	client openai.Client
	log    *slog.Logger
}

func NewOpenAIClient(apiKey string, log *slog.Logger, opts ...option.RequestOption) *OpenAIClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		log:    log,
	}
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	params, err := openAIParams(req)
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		stream := c.client.Responses.NewStreaming(ctx, params)
		defer func() {
			if err := stream.Close(); err != nil {
				c.log.WarnContext(ctx, "Failed to close response stream",
					"error", err,
					"model", req.Model)
			}
		}()

		for stream.Next() {
			ev := stream.Current()
			if ev.Type != outputTextDeltaEvent {
				continue
			}

			if !yield(ev.AsResponseOutputTextDelta().Delta, nil) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("receive event: %w", err))
		}
	}, nil
}

func openAIParams(req Request) (responses.ResponseNewParams, error) {
	input := make(responses.ResponseInputParam, 0, len(req.History)+1)

	for _, turn := range req.History {
		item, err := openAIItem(turn)
		if err != nil {
			return responses.ResponseNewParams{}, err
		}
		input = append(input, item)
	}

	item, err := openAIItem(Turn{Role: RoleUser, Parts: req.Parts})
	if err != nil {
		return responses.ResponseNewParams{}, err
	}
	input = append(input, item)

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
	}
	if req.SystemInstruction != "" {
		params.Instructions = openai.String(req.SystemInstruction)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}

	return params, nil
}

func openAIItem(turn Turn) (responses.ResponseInputItemUnionParam, error) {
	switch turn.Role {
	case RoleModel:
		text, err := plainText(turn.Parts)
		if err != nil {
			return responses.ResponseInputItemUnionParam{}, err
		}
		return responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleAssistant), nil
	case RoleUser:
		content, err := openAIContent(turn.Parts)
		if err != nil {
			return responses.ResponseInputItemUnionParam{}, err
		}
		return responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser), nil
	default:
		return responses.ResponseInputItemUnionParam{}, fmt.Errorf("unknown role %q", turn.Role)
	}
}

func openAIContent(parts []Part) (responses.ResponseInputMessageContentListParam, error) {
	content := make(responses.ResponseInputMessageContentListParam, 0, len(parts))

	for _, part := range parts {
		switch p := part.(type) {
		case Text:
			content = append(content, inputText(string(p)))
		case Blob:
			if isTextMIMEType(p.MIMEType) {
				if !utf8.Valid(p.Data) {
					return nil, fmt.Errorf("blob of type %s is not valid UTF-8", p.MIMEType)
				}
				content = append(content, inputText(string(p.Data)))
				continue
			}

			content = append(content, responses.ResponseInputContentUnionParam{
				OfInputFile: &responses.ResponseInputFileParam{
					FileData: openai.String(dataURL(p)),
					Filename: openai.String(blobFilename(p.MIMEType)),
				},
			})
		default:
			return nil, fmt.Errorf("unknown part type %T", part)
		}
	}

	return content, nil
}

func inputText(text string) responses.ResponseInputContentUnionParam {
	return responses.ResponseInputContentUnionParam{
		OfInputText: &responses.ResponseInputTextParam{Text: text},
	}
}

func plainText(parts []Part) (string, error) {
	var b strings.Builder

	for _, part := range parts {
		text, ok := part.(Text)
		if !ok {
			return "", fmt.Errorf("model turn carries %T part", part)
		}
		b.WriteString(string(text))
	}

	return b.String(), nil
}

func isTextMIMEType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/")
}

func dataURL(b Blob) string {
	return "data:" + b.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}

func blobFilename(mimeType string) string {
	if mimeType == "application/pdf" {
		return "document.pdf"
	}

	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return "document"
	}

	return "document" + exts[0]
}
