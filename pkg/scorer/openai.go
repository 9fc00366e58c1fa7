package scorer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/soundprediction/ordino/pkg/letor"
)

// OpenAIConfig configures the API-backed reranker.
type OpenAIConfig struct {
	Model          string `json:"model" mapstructure:"model"`
	APIKey         string `json:"-" mapstructure:"api_key"`
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	MaxConcurrency int    `json:"max_concurrency" mapstructure:"max_concurrency"`
}

// completionAPI is the slice of the OpenAI client the scorer uses,
// narrowed so tests can substitute a fake.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI scores pairs by asking a chat model whether the document is
// relevant to the query, one request per pair with bounded concurrency.
// Scores derive from the log-probabilities of the True/False answer
// tokens, falling back to the literal answer when the API returns no
// logprobs. Inference only: it does not satisfy Trainable, and asking it
// to train fails fast.
type OpenAI struct {
	api       completionAPI
	cfg       OpenAIConfig
	retry     retryPolicy
	semaphore chan struct{}
}

// NewOpenAI builds the reranker with a real API client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai scorer requires an API key", letor.ErrConfiguration)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOpenAIWithClient(openai.NewClientWithConfig(clientCfg), cfg)
}

// NewOpenAIWithClient builds the reranker around an existing client.
func NewOpenAIWithClient(api completionAPI, cfg OpenAIConfig) (*OpenAI, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: openai scorer requires a client", letor.ErrConfiguration)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	return &OpenAI{
		api:       api,
		cfg:       cfg,
		retry:     defaultRetryPolicy(),
		semaphore: make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Initialize implements Scorer. There are no parameters to seed.
func (s *OpenAI) Initialize(*letor.Random) error { return nil }

// ScorePairs implements Scorer.
func (s *OpenAI) ScorePairs(ctx context.Context, queries, documents []string, tc *letor.Context) (*Scores, error) {
	if tc != nil {
		return nil, fmt.Errorf("%w: the openai scorer cannot backpropagate through a remote API", letor.ErrConfiguration)
	}
	values, err := s.ScoreTexts(ctx, queries, documents)
	if err != nil {
		return nil, err
	}
	return NewScores(values, nil), nil
}

// ScoreTexts implements Scorer (and retrieval.Reranker).
func (s *OpenAI) ScoreTexts(ctx context.Context, queries, documents []string) ([]float64, error) {
	if err := checkPairs(queries, documents); err != nil {
		return nil, err
	}

	values := make([]float64, len(queries))
	errs := make([]error, len(queries))
	var wg sync.WaitGroup
	for i := range queries {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			s.semaphore <- struct{}{}
			defer func() { <-s.semaphore }()

			values[idx], errs[idx] = s.scorePair(ctx, queries[idx], documents[idx])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to score pair %d: %w", i, err)
		}
	}
	return values, nil
}

func (s *OpenAI) scorePair(ctx context.Context, query, document string) (float64, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Temperature: 0,
		MaxTokens:   1,
		LogProbs:    true,
		TopLogProbs: 5,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert tasked with determining whether the passage is relevant to the query",
			},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(`Respond with "True" if PASSAGE is relevant to QUERY and "False" otherwise.
<PASSAGE>
%s
</PASSAGE>
<QUERY>
%s
</QUERY>`, document, query),
			},
		},
	}
	var resp openai.ChatCompletionResponse
	err := s.retry.do(ctx, func() error {
		var err error
		resp, err = s.api.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("empty completion response")
	}
	choice := resp.Choices[0]

	if score, ok := logprobScore(choice.LogProbs); ok {
		return score, nil
	}
	return answerScore(choice.Message.Content), nil
}

// logprobScore derives P(relevant) from the answer token distribution.
func logprobScore(lp *openai.LogProbs) (float64, bool) {
	if lp == nil || len(lp.Content) == 0 {
		return 0, false
	}
	var pTrue, pFalse float64
	seen := false
	for _, top := range lp.Content[0].TopLogProbs {
		switch normalizeAnswer(top.Token) {
		case "true":
			pTrue += math.Exp(top.LogProb)
			seen = true
		case "false":
			pFalse += math.Exp(top.LogProb)
			seen = true
		}
	}
	if !seen || pTrue+pFalse == 0 {
		return 0, false
	}
	return pTrue / (pTrue + pFalse), true
}

// answerScore is the coarse fallback when logprobs are unavailable.
func answerScore(content string) float64 {
	first := content
	if i := strings.IndexAny(content, " \n\t"); i >= 0 {
		first = content[:i]
	}
	switch normalizeAnswer(first) {
	case "true", "yes":
		return 0.8
	case "false", "no":
		return 0.2
	default:
		return 0.5
	}
}

func normalizeAnswer(token string) string {
	return strings.ToLower(strings.Trim(token, " .,!\"'"))
}
