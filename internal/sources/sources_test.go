package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sample = `
sources:
  - id: dr
    type: rss
    name: DR Nyheder
    url: https://www.dr.dk/nyheder/service/feeds/allenyheder
    categories: [denmark]
    active: true
  - id: ecb-search
    type: search
    name: ECB search
    query: "European Central Bank"
    categories: [economy]
    active: true
  - id: old
    type: rss
    name: Retired
    url: https://old.example.com/rss
    active: false
topics:
  - label: ecb
    category: economy
    instructions: European Central Bank decisions
    topKPerSource: 2
  - category: denmark
    instructions: Danish politics
`

func TestYAMLProviderSources(t *testing.T) {
	p := NewYAMLProvider(writeConfig(t, sample))
	srcs, err := p.Sources()
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 2 {
		t.Fatalf("got %d sources, want 2 active", len(srcs))
	}
	if srcs[0].ID != "dr" || srcs[1].Query != "European Central Bank" {
		t.Errorf("sources = %+v", srcs)
	}
	if !srcs[1].HasCategory("economy") || srcs[1].HasCategory("denmark") {
		t.Errorf("categories = %v", srcs[1].Categories)
	}
}

func TestYAMLProviderSourceActiveByDefault(t *testing.T) {
	p := NewYAMLProvider(writeConfig(t, `
sources:
  - id: tv2
    type: rss
    name: TV 2
    url: https://feeds.tv2.dk/nyheder/rss
  - id: paused
    type: rss
    name: Paused
    url: https://paused.example.com/rss
    active: false
`))
	srcs, err := p.Sources()
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 1 || srcs[0].ID != "tv2" {
		t.Fatalf("sources = %+v, want only tv2", srcs)
	}
	if !srcs[0].IsActive {
		t.Error("source without active key must be active")
	}
}

func TestYAMLProviderTopics(t *testing.T) {
	topics, err := NewYAMLProvider(writeConfig(t, sample)).Topics()
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 2 {
		t.Fatalf("got %d topics", len(topics))
	}
	if topics[0].TopKPerSource != 2 || topics[1].Label != "denmark" {
		t.Errorf("topics = %+v", topics)
	}
}

func TestYAMLProviderRejectsInvalidSource(t *testing.T) {
	cases := map[string]string{
		"rss without url": `
sources:
  - id: a
    type: rss
    name: A
    active: true
`,
		"search with url": `
sources:
  - id: a
    type: search
    name: A
    url: https://a.example.com
    query: q
    active: true
`,
		"duplicate": `
sources:
  - {id: a, type: rss, name: A, url: "https://a.example.com", active: true}
  - {id: a, type: rss, name: B, url: "https://b.example.com", active: true}
`,
	}
	for name, body := range cases {
		if _, err := NewYAMLProvider(writeConfig(t, body)).Sources(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestYAMLProviderMissingFile(t *testing.T) {
	_, err := NewYAMLProvider(filepath.Join(t.TempDir(), "nope.yaml")).Sources()
	if err == nil || !strings.Contains(err.Error(), "open sources config") {
		t.Errorf("err = %v", err)
	}
}
