package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	config "aide0/app/configs"
	"aide0/app/pkg/logger"
	"aide0/app/pkg/types"
)

// Completer is the NLU/NLG collaborator surface the orchestrator consumes.
// The model is untrusted: callers validate every returned object against the
// shape they expect before acting on it.
type Completer interface {
	Complete(ctx context.Context, system string, user string) (string, error)
	CompleteJSON(ctx context.Context, system string, user string, defaults map[string]interface{}) ([]byte, error)
}

type Client struct {
	api     openai.Client
	model   string
	timeout time.Duration
}

// NewClient fails fast when the configured key env var is unset; that is an
// operator error, not something a fallback path should paper over.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	key := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if key == "" {
		return nil, fmt.Errorf("%w: %s is not set", types.ErrUpstream, cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		api:     openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

func (c *Client) Complete(ctx context.Context, system string, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		logger.Warn("llm call failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON runs a JSON-only prompt and returns the first JSON object
// found in the reply. Missing keys listed in defaults are patched in before
// the caller decodes, so absent optional fields never fail a strict decode.
func (c *Client) CompleteJSON(ctx context.Context, system string, user string, defaults map[string]interface{}) ([]byte, error) {
	out, err := c.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return ExtractJSON(out, defaults)
}

// ExtractJSON pulls the outermost JSON object out of free-form model text.
func ExtractJSON(text string, defaults map[string]interface{}) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("json object not found in model output")
	}
	payload := []byte(text[start : end+1])
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("model output is not valid json")
	}

	for key, value := range defaults {
		if gjson.GetBytes(payload, key).Exists() {
			continue
		}
		patched, err := sjson.SetBytes(payload, key, value)
		if err != nil {
			return nil, fmt.Errorf("patch default %q: %w", key, err)
		}
		payload = patched
	}
	return payload, nil
}
