package scoring

import (
	"sort"
	"strings"
	"time"

	"github.com/deusflow/newsroom/internal/news"
)

const (
	relevanceWeight = 0.65
	recencyWeight   = 0.25
	summaryWeight   = 0.05
	positiveWeight  = 0.05

	maxOccurrences = 3
)

// RecencyScore decays with age, halving after one day, and never reaches
// zero. A nil date scores 0; items dated in the future score 1.
func RecencyScore(published *time.Time, now time.Time) float64 {
	if published == nil {
		return 0
	}
	ageHours := now.Sub(*published).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return 1 / (1 + ageHours/24)
}

// RelevanceScore is the capped, weighted share of profile terms found in text.
func RelevanceScore(p Profile, text string) float64 {
	if p.Empty() {
		return 0
	}
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))

	var matched float64
	for _, t := range p.Terms {
		n := countOccurrences(text, t.Text)
		if n > maxOccurrences {
			n = maxOccurrences
		}
		matched += t.Weight * float64(n)
	}
	rel := matched / (p.TotalWeight * maxOccurrences)
	if rel > 1 {
		rel = 1
	}
	return rel
}

// RankingScore blends the component scores into [0,100].
func RankingScore(relevance, recency float64, hasSummary, positive bool) float64 {
	s := relevanceWeight*relevance + recencyWeight*recency
	if hasSummary {
		s += summaryWeight
	}
	if positive {
		s += positiveWeight
	}
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return 100 * s
}

// ScoreItemsForInstructions scores every item against the instructions and
// returns them sorted best first.
func ScoreItemsForInstructions(items []news.AIProcessedItem, instructions string, now time.Time) []news.RankedItem {
	return ScoreItems(items, instructions, now, nil)
}

// ScoreItems is ScoreItemsForInstructions with a per-source fetch time used
// as the recency reference of undated items. The items keep a nil
// PublishedAt, so they still sort after dated ties.
func ScoreItems(items []news.AIProcessedItem, instructions string, now time.Time, fetchedAt map[string]time.Time) []news.RankedItem {
	profile := BuildProfile(instructions)

	ranked := make([]news.RankedItem, 0, len(items))
	for _, it := range items {
		rel := RelevanceScore(profile, itemText(it))
		rec := RecencyScore(recencyReference(it, fetchedAt), now)
		ranked = append(ranked, news.RankedItem{
			AIProcessedItem: it,
			RelevanceScore:  rel,
			RecencyScore:    rec,
			RankingScore:    RankingScore(rel, rec, it.HasSummary, it.Sentiment == news.SentimentPositive),
		})
	}
	SortRanked(ranked)
	return ranked
}

func recencyReference(it news.AIProcessedItem, fetchedAt map[string]time.Time) *time.Time {
	if it.PublishedAt != nil {
		return it.PublishedAt
	}
	if t, ok := fetchedAt[it.SourceID]; ok && !t.IsZero() {
		return &t
	}
	return nil
}

func itemText(it news.AIProcessedItem) string {
	return it.Title + "\n" + it.Summary + "\n" + it.Content + "\n" + it.RawContent
}

// SortRanked orders by score, breaking ties with the newer publication date.
func SortRanked(items []news.RankedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RankingScore != items[j].RankingScore {
			return items[i].RankingScore > items[j].RankingScore
		}
		return news.NewerThan(items[i].PublishedAt, items[j].PublishedAt)
	})
}

// SelectTopRankedItems keeps the best topKPerSource items of every source
// and returns the union in global order. topKPerSource <= 0 keeps all.
func SelectTopRankedItems(items []news.RankedItem, topKPerSource int) []news.RankedItem {
	groups := map[string][]news.RankedItem{}
	var order []string
	for _, it := range items {
		if _, ok := groups[it.SourceID]; !ok {
			order = append(order, it.SourceID)
		}
		groups[it.SourceID] = append(groups[it.SourceID], it)
	}

	selected := make([]news.RankedItem, 0, len(items))
	for _, src := range order {
		group := groups[src]
		SortRanked(group)
		if topKPerSource > 0 && len(group) > topKPerSource {
			group = group[:topKPerSource]
		}
		selected = append(selected, group...)
	}
	SortRanked(selected)
	return selected
}

// NewAuditRecord snapshots one scoring pass. The slices are copied so later
// changes by the caller cannot alter the record.
func NewAuditRecord(label, instructions string, scored, selected []news.RankedItem, topKPerSource int, at time.Time) news.ScoringAuditRecord {
	return news.ScoringAuditRecord{
		Label:              label,
		CustomInstructions: instructions,
		ScoredItems:        append([]news.RankedItem(nil), scored...),
		SelectedItems:      append([]news.RankedItem(nil), selected...),
		TopKPerSource:      topKPerSource,
		ScoredAt:           at,
	}
}
