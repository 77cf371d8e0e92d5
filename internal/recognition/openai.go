package recognition

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI implements the Engine interface using an OpenAI vision model
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI Engine instance. A non-empty baseURL points
// the client at an OpenAI-compatible server.
func NewOpenAI(apiKey, modelName, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = openai.GPT4o
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  modelName,
	}, nil
}

func (o *OpenAI) Name() string {
	return "openai"
}

// Recognize sends the cheque as a data URL in a single chat completion
func (o *OpenAI) Recognize(ctx context.Context, imageData []byte, contentType string, progress ProgressFunc) (*Result, error) {
	report(progress, "preparing image", 0.1)
	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
	parts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: transcriptionPrompt,
		},
		{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    imageURL,
				Detail: openai.ImageURLDetailHigh,
			},
		},
	}

	report(progress, "recognizing text", 0.3)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("calling openai API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	result, err := parseTranscript(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing transcript: %w", err)
	}
	report(progress, "done", 1)
	return result, nil
}

// Close is a no-op; the client holds no resources
func (o *OpenAI) Close() error {
	return nil
}
