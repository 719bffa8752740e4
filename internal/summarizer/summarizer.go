package summarizer

import (
	"context"
	"fmt"
	"log/slog"

	"paperlens/internal/domain"
	"paperlens/internal/llm"
)

const (
	temperature = 0.3

	systemInstruction = `You are an expert academic researcher and synthesizer. Your task is to analyze the provided research paper or text and produce a high-quality, structured summary in Markdown.

Structure the response exactly as follows:
1. **Title & Authors**: (If extractable from the text, otherwise omit)
2. **Executive Summary**: A concise 2-3 sentence overview of the paper's core contribution.
3. **Problem Statement**: What specific problem or gap is this research addressing?
4. **Methodology**: Briefly describe the methods, data sources, or experimental setup used.
5. **Key Findings**: A bulleted list of the most significant results or discoveries.
6. **Implications**: Why does this matter? What is the impact?
7. **Limitations**: (If mentioned) Any constraints or limitations noted by the authors.

Keep the tone professional, objective, and academic yet accessible.`

	fileInstruction = "Please summarize this document according to the system instructions."
)

// Orchestrator issues structured-summary requests to the model service.
type Orchestrator struct {
	client llm.Client
	model  string
	log    *slog.Logger
}

func New(client llm.Client, model string, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client: client,
		model:  model,
		log:    log,
	}
}

// Summarize starts one summary request and returns its fragment stream.
// The caller concatenates fragments.
func (o *Orchestrator) Summarize(ctx context.Context, payload domain.Payload) (llm.Stream, error) {
	parts, err := summaryParts(payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	stream, err := o.client.Stream(ctx, llm.Request{
		Model:             o.model,
		SystemInstruction: systemInstruction,
		Temperature:       llm.Float32(temperature),
		Parts:             parts,
	})
	if err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}

	return stream, nil
}

func summaryParts(payload domain.Payload) ([]llm.Part, error) {
	switch payload.(type) {
	case domain.BinaryPayload:
		return llm.PayloadParts(payload, fileInstruction)
	case domain.TextPayload:
		return llm.PayloadParts(payload, "")
	default:
		return nil, fmt.Errorf("unknown payload type %T", payload)
	}
}
