package pipeline

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"friday/internal/domain"
)

//go:embed rules/intents.yaml
var defaultIntentRules []byte

// IntentRule maps keywords onto a request kind.
type IntentRule struct {
	Kind     domain.RequestKind `yaml:"kind"`
	Action   string             `yaml:"action"`
	Keywords []string           `yaml:"keywords"`
}

type intentRuleFile struct {
	Intents []IntentRule `yaml:"intents"`
}

// RuleParser is the offline IntentParser driven by keyword rules.
type RuleParser struct {
	rules []IntentRule
}

// NewRuleParser parses YAML rules.
func NewRuleParser(raw []byte) (*RuleParser, error) {
	var file intentRuleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse intent rules: %w", err)
	}
	for i, rule := range file.Intents {
		if _, err := domain.ParseRequestKind(string(rule.Kind)); err != nil || rule.Kind == domain.RequestKindCommand {
			return nil, fmt.Errorf("intent rule %d: unsupported kind %q", i, rule.Kind)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("intent rule %d (%s) has no keywords", i, rule.Kind)
		}
		for j, kw := range rule.Keywords {
			file.Intents[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return &RuleParser{rules: file.Intents}, nil
}

// DefaultRuleParser uses the built-in rules.
func DefaultRuleParser() *RuleParser {
	p, err := NewRuleParser(defaultIntentRules)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadRuleParser reads rules from path, falling back to the built-in rules
// when path is empty.
func LoadRuleParser(path string) (*RuleParser, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRuleParser(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent rules: %w", err)
	}
	return NewRuleParser(raw)
}

// Parse never fails; unmatched commands yield an unknown intent.
func (p *RuleParser) Parse(_ context.Context, command string, _ domain.Settings) (Intent, error) {
	lower := strings.ToLower(command)
	for _, rule := range p.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return Intent{
					Kind:   rule.Kind,
					Action: rule.Action,
					Target: ExtractTarget(rule.Kind, command),
					Source: "rules",
				}, nil
			}
		}
	}
	return Intent{Action: "unknown", Source: "rules"}, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>，。]+`)

// ExtractTarget pulls the URL or file path a command refers to.
func ExtractTarget(kind domain.RequestKind, command string) string {
	if kind == domain.RequestKindVideo {
		return urlPattern.FindString(command)
	}
	for _, field := range splitCommand(command) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(field))
		switch kind {
		case domain.RequestKindPDF:
			if ext == ".pdf" {
				return expandHome(field)
			}
		case domain.RequestKindAudio:
			for _, a := range audioExtensions {
				if ext == a {
					return expandHome(field)
				}
			}
		}
	}
	return ""
}

// splitCommand splits on whitespace while honoring double or single quotes
// so paths with spaces survive.
func splitCommand(command string) []string {
	var (
		fields []string
		cur    strings.Builder
		quote  rune
	)
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range command {
		switch {
		case quote != 0 && r == quote:
			quote = 0
			flush()
		case quote == 0 && (r == '"' || r == '\'' || r == '“' || r == '”'):
			flush()
			quote = r
			if r == '“' {
				quote = '”'
			}
		case quote == 0 && (r == ' ' || r == '\t' || r == '\n' || r == '，'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return fields
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
