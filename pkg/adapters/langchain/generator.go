// Package langchain provides a ports.Generator backed by a langchaingo model.
//
// The generator turns a domain.GenerationRequest into a short system/human
// exchange and returns the first choice. Any OpenAI-compatible endpoint works:
//
//	gen, err := langchain.NewOpenAI(langchain.Config{
//	    BaseURL: "http://localhost:11434/v1",
//	    Model:   "llama3.2",
//	})
//	engine, err := blueprint.New(blueprint.WithGenerator(gen))
package langchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyCompletion is returned when the model produced no usable text.
	ErrEmptyCompletion = errors.New("empty completion")
)

const systemPrompt = `You help a teacher plan a project-based learning unit, one field at a time.
Answer with a single short paragraph addressed to the teacher. No preamble, no markdown.`

// Config holds the model endpoint.
type Config struct {
	// BaseURL of an OpenAI-compatible API.
	BaseURL string
	// Model name.
	Model string
	// APIKey is optional for local endpoints.
	APIKey string
}

// ConfigFromEnv reads BLUEPRINT_LLM_BASE_URL, BLUEPRINT_LLM_MODEL and OPENAI_API_KEY.
func ConfigFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("BLUEPRINT_LLM_BASE_URL"),
		Model:   os.Getenv("BLUEPRINT_LLM_MODEL"),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Generator implements ports.Generator.
type Generator struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

// Option configures the Generator.
type Option func(*Generator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// New wraps an existing model.
func New(model llms.Model, opts ...Option) *Generator {
	g := &Generator{model: model, temperature: 0.4, maxTokens: 200}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewOpenAI creates a generator over an OpenAI-compatible endpoint.
func NewOpenAI(config Config, opts ...Option) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for local servers
		apiKey = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return New(llm, opts...), nil
}

// Generate asks the model for wording and returns the trimmed first choice.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, Instruction(req)),
	}
	resp, err := g.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generating %s wording: %w", req.Kind, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Instruction renders the human turn for a request.
func Instruction(req domain.GenerationRequest) string {
	var b strings.Builder
	switch req.Kind {
	case domain.GenerationSuggest:
		fmt.Fprintf(&b, "Propose a value for %q in the %s stage.", req.Field, req.Stage)
		if req.Input != "" {
			fmt.Fprintf(&b, " The teacher's last attempt was: %q. Improve on it.", req.Input)
		}
	case domain.GenerationComposite:
		fmt.Fprintf(&b, "Combine the parts below into one coherent %s.", req.Stage)
	default:
		fmt.Fprintf(&b, "Ask the teacher for %q in the %s stage.", req.Field, req.Stage)
		if req.Input != "" {
			fmt.Fprintf(&b, " Base the question on: %q.", req.Input)
		}
	}

	if len(req.Fields) > 0 {
		b.WriteString("\n\nWhat the teacher has written so far:")
		keys := make([]string, 0, len(req.Fields))
		for k := range req.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, req.Fields[k])
		}
	}
	return b.String()
}
