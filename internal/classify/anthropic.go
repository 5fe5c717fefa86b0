package classify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClassifier implements Classifier using Claude vision.
type AnthropicClassifier struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicClassifier creates a vision classifier with the given API key
// and model.
func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClassifier{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// classifierResult is the JSON shape the model is asked to return.
type classifierResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// buildPrompt constructs the system and user prompts for image labeling.
func buildPrompt(labels map[string]string) (system string, user string) {
	system = `You classify photos of civic conditions for a municipal routing system. Return ONLY a JSON object with these fields:
- "label": exactly one label from the provided list
- "confidence": your confidence in that label as a number between 0 and 1

Rules:
- Pick the single label whose criteria best match what is visible in the image
- Use the catch-all label when no criteria clearly match
- Confidence reflects how clearly the image matches the chosen label's criteria
- Return valid JSON only, no markdown fencing or explanation`

	// Stable ordering keeps the classifier deterministic across calls.
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Labels and their criteria:\n")
	for _, name := range names {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(labels[name])
		sb.WriteString("\n")
	}
	sb.WriteString("\nClassify the attached image.")
	user = sb.String()
	return
}

// Classify sends the image to the model and parses the label/confidence pair.
func (c *AnthropicClassifier) Classify(ctx context.Context, image []byte, mediaType string, labels map[string]string) (string, float64, error) {
	systemPrompt, userPrompt := buildPrompt(labels)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(userPrompt),
			),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", 0, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var result classifierResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return "", 0, fmt.Errorf("parse classifier response as JSON: %w\nraw response: %s", err, text)
	}

	if _, ok := labels[result.Label]; !ok {
		return "", 0, fmt.Errorf("classifier returned unknown label %q", result.Label)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return "", 0, fmt.Errorf("classifier confidence %v out of range", result.Confidence)
	}
	return result.Label, result.Confidence, nil
}
