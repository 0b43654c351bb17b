package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joelkehle/designwatch/internal/patent"
)

// AnthropicMessager is the slice of the Anthropic client the caller needs.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicCaller sends one vision message per analysis: the patent
// drawing (when available), the product reference images and the patent
// metadata, and returns the reply text verbatim.
type AnthropicCaller struct {
	messages  AnthropicMessager
	model     string
	maxTokens int
}

func NewAnthropicCaller(apiKey, model string, maxTokens int) (*AnthropicCaller, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicCaller{messages: &c.Messages, model: model, maxTokens: maxTokens}, nil
}

func NewAnthropicCallerFromEnv(model string, maxTokens int) (*AnthropicCaller, error) {
	return NewAnthropicCaller(os.Getenv("ANTHROPIC_API_KEY"), model, maxTokens)
}

func (a *AnthropicCaller) Analyze(ctx context.Context, system string, p patent.Patent, patentImage []byte, productImages []Image) (string, error) {
	var blocks []anthropic.ContentBlockParamUnion

	if patentImage != nil {
		blocks = append(blocks,
			anthropic.NewTextBlock("PATENT DRAWING (the design being analyzed):"),
			anthropic.NewImageBlockBase64(guessMediaType(patentImage, ""),
				base64.StdEncoding.EncodeToString(patentImage)),
		)
	}
	for i, img := range productImages {
		blocks = append(blocks,
			anthropic.NewTextBlock(fmt.Sprintf("PRODUCT REFERENCE IMAGE %d (%s):", i+1, img.Name)),
			anthropic.NewImageBlockBase64(guessMediaType(img.Data, img.Name),
				base64.StdEncoding.EncodeToString(img.Data)),
		)
	}
	blocks = append(blocks, anthropic.NewTextBlock(metadataPrompt(p)))

	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func metadataPrompt(p patent.Patent) string {
	return fmt.Sprintf(`PATENT METADATA:
- Patent Number: %s
- Title: %s
- Issue Date: %s
- Assignee: %s
- US Classification: %s
- CPC Classification: %s
- Abstract: %s

Compare the patent design against the product reference image(s) and provide your analysis as JSON.`,
		p.PatentNumber,
		p.Title,
		p.IssueDate.Format("2006-01-02"),
		orDefault(p.Assignee, "Unknown"),
		orDefault(p.ClassificationUS, "N/A"),
		orDefault(p.ClassificationCPC, "N/A"),
		orDefault(p.Abstract, "No abstract available"),
	)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// guessMediaType sniffs magic bytes first and falls back to the filename
// extension, defaulting to PNG.
func guessMediaType(data []byte, filename string) string {
	switch {
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(data) >= 2 && data[0] == 0xff && data[1] == 0xd8:
		return "image/jpeg"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	switch strings.ToLower(extOf(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return "image/png"
}

func extOf(filename string) string {
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		return filename[i:]
	}
	return ""
}
