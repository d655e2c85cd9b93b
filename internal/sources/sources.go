// Package sources loads the configured feeds, search queries and topics.
package sources

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/newsroom/internal/logger"
	"github.com/deusflow/newsroom/internal/news"
)

// Topic is one scoring and report target.
//
//	topics:
//	  - label: ecb
//	    category: economy
//	    instructions: "European Central Bank decisions and inflation"
//	    topKPerSource: 2
type Topic struct {
	Label         string `yaml:"label"`
	Category      string `yaml:"category"`
	Instructions  string `yaml:"instructions"`
	TopKPerSource int    `yaml:"topKPerSource"`
	MaxItems      int    `yaml:"maxItems"`
}

// Provider supplies the active sources and topics of a run.
type Provider interface {
	Sources() ([]news.SourceConfig, error)
	Topics() ([]Topic, error)
}

type fileConfig struct {
	Sources []sourceEntry `yaml:"sources"`
	Topics  []Topic       `yaml:"topics"`
}

// sourceEntry is a source as written in YAML. A missing active key means
// the source is active.
type sourceEntry news.SourceConfig

func (e *sourceEntry) UnmarshalYAML(n *yaml.Node) error {
	type plain news.SourceConfig
	v := plain{IsActive: true}
	if err := n.Decode(&v); err != nil {
		return err
	}
	*e = sourceEntry(v)
	return nil
}

// YAMLProvider reads sources and topics from one YAML document.
type YAMLProvider struct {
	path string
}

func NewYAMLProvider(path string) *YAMLProvider {
	return &YAMLProvider{path: path}
}

func (p *YAMLProvider) load() (*fileConfig, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open sources config: %w", err)
	}
	defer f.Close()

	var cfg fileConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode sources config %s: %w", p.path, err)
	}
	return &cfg, nil
}

// Sources returns the active sources. Only an explicit "active: false" drops
// a source; an invalid or duplicated source fails the whole load.
func (p *YAMLProvider) Sources() ([]news.SourceConfig, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	active := make([]news.SourceConfig, 0, len(cfg.Sources))
	for _, entry := range cfg.Sources {
		src := news.SourceConfig(entry)
		if err := src.Validate(); err != nil {
			return nil, err
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("source %s: duplicate id", src.ID)
		}
		seen[src.ID] = true
		if !src.IsActive {
			logger.Info("skipping inactive source", "source", src.ID)
			continue
		}
		active = append(active, src)
	}
	return active, nil
}

// Topics returns the configured topics; a missing label falls back to the
// category.
func (p *YAMLProvider) Topics() ([]Topic, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, err
	}
	for i := range cfg.Topics {
		t := &cfg.Topics[i]
		if t.Label == "" {
			t.Label = t.Category
		}
		if t.Label == "" {
			return nil, fmt.Errorf("topic %d: label or category is required", i)
		}
		if t.TopKPerSource < 0 || t.MaxItems < 0 {
			return nil, fmt.Errorf("topic %s: limits must not be negative", t.Label)
		}
	}
	return cfg.Topics, nil
}

// Static is a fixed Provider.
type Static struct {
	SourceList []news.SourceConfig
	TopicList  []Topic
}

func (s Static) Sources() ([]news.SourceConfig, error) { return s.SourceList, nil }
func (s Static) Topics() ([]Topic, error)              { return s.TopicList, nil }
