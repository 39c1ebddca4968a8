package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/paygate/internal/domain"
)

// Config contains the analyzer settings.
type Config struct {
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// contentGenerator is the subset of *genai.Models the analyzer uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Analyzer produces matchup analyses with a Gemini model.
type Analyzer struct {
	models contentGenerator
	config Config
	logger *slog.Logger
	rng    *rand.Rand
}

// NewAnalyzer creates an Analyzer backed by the Gemini API.
func NewAnalyzer(ctx context.Context, cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newAnalyzer(client.Models, cfg, logger), nil
}

func newAnalyzer(models contentGenerator, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		models: models,
		config: cfg,
		logger: logger.With("component", "gemini"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// answer is the JSON object the model is asked to produce.
type answer struct {
	HomeWinProbability float64  `json:"homeWinProbability"`
	AwayWinProbability float64  `json:"awayWinProbability"`
	Summary            string   `json:"summary"`
	KeyFactors         []string `json:"keyFactors"`
}

// Analyze asks the model for a read on the matchup.
func (a *Analyzer) Analyze(ctx context.Context, mc *domain.MatchupContext) (*domain.Analysis, error) {
	prompt, err := buildPrompt(mc)
	if err != nil {
		return nil, err
	}

	temperature := float32(0.2)
	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}

	for attempt := 0; ; attempt++ {
		a.logger.InfoContext(ctx, "making Gemini API call",
			"attempt", attempt+1,
			"max_attempts", a.config.MaxRetries+1,
			"game_id", mc.Game.ID)

		analysis, err := a.call(ctx, prompt, genCfg)
		if err == nil {
			return analysis, nil
		}

		if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrContentBlocked) {
			a.logger.WarnContext(ctx, "permanent Gemini error, not retrying", "error", err)
			return nil, err
		}
		a.logger.ErrorContext(ctx, "Gemini API call failed", "attempt", attempt+1, "error", err)

		if attempt >= a.config.MaxRetries {
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				ErrTransientFailure, a.config.MaxRetries, err)
		}

		// delay = base * 2^attempt * [0.5, 1.0)
		backoff := float64(a.config.RetryDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + a.rng.Float64()*0.5))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransientFailure, ctx.Err())
		}
	}
}

func (a *Analyzer) call(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (*domain.Analysis, error) {
	resp, err := a.models.GenerateContent(ctx, a.config.Model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	var ans answer
	if err := json.Unmarshal([]byte(stripFence(text.String())), &ans); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}

	analysis := &domain.Analysis{
		HomeWinProbability: ans.HomeWinProbability,
		AwayWinProbability: ans.AwayWinProbability,
		Summary:            strings.TrimSpace(ans.Summary),
		KeyFactors:         ans.KeyFactors,
		Model:              a.config.Model,
	}
	if analysis.KeyFactors == nil {
		analysis.KeyFactors = []string{}
	}
	if err := analysis.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return analysis, nil
}

// stripFence removes a Markdown code fence around a JSON answer.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
