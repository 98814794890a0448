package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rasha-hantash/locscout/steps/types"
)

const temperature = 0.3

// Config configures the completion client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Now stamps ExtractedAt; defaults to time.Now.
	Now func() time.Time
}

// Analyzer turns PageContent into a LocationRecord with a chat completion.
type Analyzer struct {
	client openai.Client
	model  string
	apiKey string
	now    func() time.Time
}

// NewAnalyzer creates an analyzer. Extra request options are applied to
// every call.
func NewAnalyzer(cfg Config, opts ...option.RequestOption) *Analyzer {
	if cfg.BaseURL != "" {
		opts = append([]option.RequestOption{option.WithBaseURL(cfg.BaseURL)}, opts...)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Analyzer{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		now:    now,
	}
}

// Name implements the Step interface
func (a *Analyzer) Name() string {
	return "analyzer"
}

// Run implements the Step interface
func (a *Analyzer) Run(ctx context.Context, run *types.Run) error {
	if run.Page == nil {
		return &types.AnalysisError{Err: errors.New("no page content to analyze")}
	}
	key := run.APIKey
	if key == "" {
		key = a.apiKey
	}
	if key == "" {
		return &types.AnalysisError{Err: types.ErrNoAPIKey}
	}

	record, err := a.Analyze(ctx, run.Page, key)
	if err != nil {
		return err
	}
	run.Record = record

	slog.Info("analyzed page",
		slog.String("location", record.LocationName),
		slog.String("quality", string(record.SourceInfo.DataQuality)),
		slog.Int("fields", len(record.SourceInfo.ExtractedFields)))
	return nil
}

// Analyze sends one completion request for page and parses the reply.
func (a *Analyzer) Analyze(ctx context.Context, page *types.PageContent, apiKey string) (*types.LocationRecord, error) {
	params := openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(page)),
		},
		Temperature: openai.Float(temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := a.client.Chat.Completions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = fmt.Sprintf("status %d", apiErr.StatusCode)
			}
			return nil, &types.AnalysisError{Err: fmt.Errorf("OpenAI API error: %s", msg)}
		}
		return nil, &types.AnalysisError{Err: fmt.Errorf("calling completion endpoint: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &types.AnalysisError{Err: types.ErrNoChoice}
	}

	record, err := ParseRecord(resp.Choices[0].Message.Content, page)
	if err != nil {
		return nil, &types.AnalysisError{Err: err}
	}
	record.ExtractedAt = a.now().UTC()

	slog.Debug("completion usage",
		slog.String("model", resp.Model),
		slog.Int64("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int64("completion_tokens", resp.Usage.CompletionTokens))
	return record, nil
}
