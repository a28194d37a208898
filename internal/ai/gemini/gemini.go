package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"advisory-service/internal/models"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// maxSnippetLength keeps generated text short enough for an SMS body.
const maxSnippetLength = 320

type GeminiClient struct {
	Client     *genai.Client
	FlashModel *genai.GenerativeModel
}

func NewGenAIClient(ctx context.Context, apiKey, flashModelName string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("genai client init failed: %w", err)
	}

	model := client.GenerativeModel(flashModelName)
	model.SetTemperature(0.2)

	return &GeminiClient{
		Client:     client,
		FlashModel: model,
	}, nil
}

func (g *GeminiClient) SendText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.FlashModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no content returned from AI")
	}
	textPart, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("response part is not text, received %T", resp.Candidates[0].Content.Parts[0])
	}
	return string(textPart), nil
}

func (g *GeminiClient) Close() error {
	return g.Client.Close()
}

// SnippetGenerator writes short advisory texts, failing over across the configured API keys.
type SnippetGenerator struct {
	selector *GeminiClientSelector
	log      *zap.Logger
}

func NewSnippetGenerator(selector *GeminiClientSelector, log *zap.Logger) *SnippetGenerator {
	return &SnippetGenerator{selector: selector, log: log}
}

func (s *SnippetGenerator) GenerateSnippet(ctx context.Context, req models.SnippetRequest) (string, error) {
	prompt := BuildSnippetPrompt(req)

	var snippet string
	err := s.selector.TryAllClients(ctx, func(client *GeminiClient, _ int) error {
		text, err := client.SendText(ctx, prompt)
		if err != nil {
			return err
		}
		snippet = text
		return nil
	})
	if err != nil {
		return "", err
	}

	snippet = CleanSnippet(snippet)
	if snippet == "" {
		return "", errors.New("AI returned an empty snippet")
	}
	return snippet, nil
}

// BuildSnippetPrompt renders the advisory prompt for one farmer context.
func BuildSnippetPrompt(req models.SnippetRequest) string {
	signals := "none"
	if len(req.Signals) > 0 {
		signals = strings.Join(models.SignalsToStrings(req.Signals), ", ")
	}
	crop := "unspecified"
	if req.CropType != nil && *req.CropType != "" {
		crop = *req.CropType
	}
	stage := "unspecified"
	if req.GrowthStage != nil && *req.GrowthStage != "" {
		stage = *req.GrowthStage
	}
	language := req.Language
	if language == "" {
		language = "en"
	}

	return fmt.Sprintf(SnippetPromptTemplate,
		language, maxSnippetLength, req.Title, req.Severity, signals, req.District, crop, stage)
}

// CleanSnippet strips markdown fences and quotes and caps the length.
func CleanSnippet(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.Trim(strings.TrimSpace(text), `"`)
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > maxSnippetLength {
		text = strings.TrimSpace(string(runes[:maxSnippetLength-1])) + "…"
	}
	return text
}
