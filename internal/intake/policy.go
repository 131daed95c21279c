package intake

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"intake-agent/internal/domain"
)

const (
	defaultConclusionThreshold = 6
	defaultMaxQuestionLength   = 240
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Policy is the data-driven part of the controller: the ordered domain plan,
// the keyword heuristics per topic and the conclusion threshold.
type Policy struct {
	plan                []domain.Topic
	keywords            map[domain.Topic][]string
	conclusionThreshold int
	maxQuestionLength   int
}

type policyFile struct {
	ConclusionThreshold int           `yaml:"conclusion_threshold"`
	MaxQuestionLength   int           `yaml:"max_question_length"`
	Plan                []topicConfig `yaml:"plan"`
}

type topicConfig struct {
	Topic    string   `yaml:"topic"`
	Keywords []string `yaml:"keywords"`
}

// DefaultPolicy returns the policy embedded in the binary.
func DefaultPolicy() *Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("intake: embedded policy is invalid: %v", err))
	}
	return p
}

// LoadPolicy reads a policy file, or returns the embedded default when path
// is empty.
func LoadPolicy(path string) (*Policy, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intake: read policy %q: %w", path, err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(raw []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("intake: decode policy: %w", err)
	}
	if len(f.Plan) == 0 {
		return nil, errors.New("intake: policy plan must not be empty")
	}

	p := &Policy{
		plan:                make([]domain.Topic, 0, len(f.Plan)),
		keywords:            make(map[domain.Topic][]string, len(f.Plan)),
		conclusionThreshold: f.ConclusionThreshold,
		maxQuestionLength:   f.MaxQuestionLength,
	}
	for _, tc := range f.Plan {
		topic := domain.Topic(strings.TrimSpace(tc.Topic))
		if topic == "" {
			return nil, errors.New("intake: policy topic name must not be empty")
		}
		if _, dup := p.keywords[topic]; dup {
			return nil, fmt.Errorf("intake: policy lists topic %q twice", topic)
		}
		kws := make([]string, 0, len(tc.Keywords))
		for _, kw := range tc.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		p.plan = append(p.plan, topic)
		p.keywords[topic] = kws
	}

	if p.conclusionThreshold == 0 {
		p.conclusionThreshold = min(defaultConclusionThreshold, len(p.plan))
	}
	if p.conclusionThreshold < 1 || p.conclusionThreshold > len(p.plan) {
		return nil, fmt.Errorf("intake: conclusion threshold %d must be between 1 and %d", p.conclusionThreshold, len(p.plan))
	}
	if p.maxQuestionLength == 0 {
		p.maxQuestionLength = defaultMaxQuestionLength
	}
	if p.maxQuestionLength < 2 {
		return nil, fmt.Errorf("intake: max question length %d is too small", p.maxQuestionLength)
	}
	return p, nil
}

// Plan returns the ordered topic catalogue.
func (p *Policy) Plan() []domain.Topic {
	return append([]domain.Topic(nil), p.plan...)
}

// Keywords returns the keyword list for topic.
func (p *Policy) Keywords(topic domain.Topic) []string {
	return append([]string(nil), p.keywords[topic]...)
}

func (p *Policy) ConclusionThreshold() int { return p.conclusionThreshold }

func (p *Policy) MaxQuestionLength() int { return p.maxQuestionLength }
