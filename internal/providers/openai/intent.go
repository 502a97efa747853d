package openai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go/v2"

	"friday/internal/domain"
	"friday/internal/pipeline"
)

const intentPrompt = `You route commands for a personal knowledge app.
Classify the user's command into one of: "pdf" (parse a PDF document),
"video" (process an online video), "audio" (transcribe an audio file) or
"unknown". Extract the file path or URL the command refers to, if any.
Answer with a single JSON object and nothing else:
{"kind": "...", "action": "...", "target": "..."}`

// IntentParser asks a chat model to classify commands.
type IntentParser struct {
	cfg Config
}

var _ pipeline.IntentParser = (*IntentParser)(nil)

func NewIntentParser(cfg Config) *IntentParser {
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	return &IntentParser{cfg: cfg}
}

type intentAnswer struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Target string `json:"target"`
}

// Parse classifies command.
func (p *IntentParser) Parse(ctx context.Context, command string, settings domain.Settings) (pipeline.Intent, error) {
	client, err := newClient(p.cfg, settings)
	if err != nil {
		return pipeline.Intent{}, err
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.ChatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(intentPrompt),
			openai.UserMessage(command),
		},
	})
	if err != nil {
		return pipeline.Intent{}, classify(err, "intent parsing")
	}
	if len(resp.Choices) == 0 {
		return pipeline.Intent{}, domain.IOError(nil, "intent parsing: empty response")
	}
	return parseAnswer(resp.Choices[0].Message.Content, command), nil
}

// parseAnswer is lenient: anything it cannot read becomes an unknown intent.
func parseAnswer(content, command string) pipeline.Intent {
	intent := pipeline.Intent{Action: "unknown", Source: ProviderName}

	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var ans intentAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return intent
	}
	kind, err := domain.ParseRequestKind(ans.Kind)
	if err != nil || kind == domain.RequestKindCommand {
		return intent
	}
	intent.Kind = kind
	intent.Action = strings.TrimSpace(ans.Action)
	if intent.Action == "" {
		intent.Action = "process"
	}
	intent.Target = strings.TrimSpace(ans.Target)
	if intent.Target == "" {
		intent.Target = pipeline.ExtractTarget(kind, command)
	}
	return intent
}
