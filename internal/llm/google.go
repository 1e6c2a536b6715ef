package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	googleoption "google.golang.org/api/option"
)

// googleProvider implements Provider using the Google Generative AI SDK. Only
// the API key and model name live on the struct; the genai client is built per
// call so the stage's context bounds the connection and the client is closed
// as soon as the response is in.
type googleProvider struct {
	apiKey string
	model  string
}

func newGoogleProvider(model string) (Provider, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llm: GOOGLE_API_KEY environment variable not set")
	}
	return &googleProvider{apiKey: apiKey, model: model}, nil
}

func (p *googleProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (string, error) {
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(p.apiKey))
	if err != nil {
		return "", fmt.Errorf("google: genai client: %w", err)
	}
	defer client.Close()

	gm := client.GenerativeModel(p.model)
	gm.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	maxOut := int32(maxTokens)
	gm.MaxOutputTokens = &maxOut
	temp32 := float32(temperature)
	gm.Temperature = &temp32
	// Every stage parses the reply as JSON, so ask Gemini for JSON output
	// directly instead of relying on the fence stripper.
	gm.ResponseMIMEType = "application/json"

	resp, err := gm.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("google: generate content: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("google: response contained no text content")
	}
	return sb.String(), nil
}
