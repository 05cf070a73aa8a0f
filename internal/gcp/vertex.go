package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Token Reader Prompts ---
const TokenReaderSystemPrompt = "You are a precise document reader. You read student QR code sheets and copy identifying text exactly as printed. You never guess or invent text."
const TokenReaderUserPrompt = `You will be provided with a PDF containing one student's QR code sheet.

Find the line that starts with the label "UUID:" and copy it exactly, including the label.
Then copy the student's full name, which is printed on the next non-empty line after it.

Return exactly two lines and nothing else:
UUID: <identifier>
<student full name>

If there is no "UUID:" label anywhere in the document, return an empty response.`

// ErrRefusal is returned when the model declines to answer.
var ErrRefusal = errors.New("gemini response indicates refusal")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient reads segment tokens with Gemini when a PDF has no usable
// text layer, e.g. scanned sheets.
type VertexClient struct {
	TokenModel *genai.GenerativeModel
	baseClient *genai.Client
}

func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	tokenModel := baseClient.GenerativeModel(modelName)
	tokenModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TokenReaderSystemPrompt)},
	}
	tokenModel.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.0),
		MaxOutputTokens: genai.Ptr[int32](128),
	}

	return &VertexClient{TokenModel: tokenModel, baseClient: baseClient}, nil
}

// ReadToken returns the marker line and the name line read from pdf, or ""
// when the model found no marker.
func (c *VertexClient) ReadToken(ctx context.Context, pdf []byte) (string, error) {
	resp, err := c.TokenModel.GenerateContent(ctx,
		genai.Blob{MIMEType: "application/pdf", Data: pdf},
		genai.Text(TokenReaderUserPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := responseText(resp)
	if isRefusal(text) {
		slog.Warn("Gemini refused to read the segment.", "response", text)
		return "", ErrRefusal
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	s := strings.TrimSpace(b.String())
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
