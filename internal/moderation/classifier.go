package moderation

import (
	"context"
	"maps"
	"slices"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

const (
	TagBilling = "billing"
	TagBug     = "bug"
	TagAbusive = "abusive"
)

// Classifier produces a moderation verdict for a piece of text.
type Classifier interface {
	Classify(ctx context.Context, text string) (types.Classification, error)
}

// DefaultKeywords maps each matched keyword to the tag it implies.
var DefaultKeywords = map[string]string{
	"refund": TagBilling,
	"charge": TagBilling,
	"error":  TagBug,
	"bug":    TagBug,
	"hate":   TagAbusive,
	"kill":   TagAbusive,
	"die":    TagAbusive,
	"abuse":  TagAbusive,
}

var tagOrder = []string{TagBilling, TagBug, TagAbusive}

// KeywordClassifier tags text by substring match against a keyword table.
// Abusive text is escalated; abusive or billing text is high priority.
type KeywordClassifier struct {
	matcher *goahocorasick.Machine
	tags    map[string]string
}

var _ Classifier = (*KeywordClassifier)(nil)

func NewKeywordClassifier(keywords map[string]string) (*KeywordClassifier, error) {
	if len(keywords) == 0 {
		return &KeywordClassifier{}, nil
	}

	patterns := make([][]rune, 0, len(keywords))
	for _, word := range slices.Sorted(maps.Keys(keywords)) {
		patterns = append(patterns, lower(word))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(keywords))
	for word, tag := range keywords {
		tags[string(lower(word))] = tag
	}
	return &KeywordClassifier{matcher: m, tags: tags}, nil
}

func (k *KeywordClassifier) Classify(_ context.Context, text string) (types.Classification, error) {
	found := make(map[string]bool)
	if k.matcher != nil && text != "" {
		for _, term := range k.matcher.MultiPatternSearch(lower(text), false) {
			found[k.tags[string(term.Word)]] = true
		}
	}

	tags := []string{}
	for _, tag := range tagOrder {
		if found[tag] {
			tags = append(tags, tag)
			delete(found, tag)
		}
	}
	// custom tables may carry tags outside the built-in set
	extra := slices.Sorted(maps.Keys(found))
	tags = append(tags, extra...)

	c := types.Classification{
		Tags:     tags,
		Priority: types.PriorityNormal,
		Action:   types.ActionAllow,
		Notes:    "keyword match",
	}
	if slices.Contains(tags, TagAbusive) || slices.Contains(tags, TagBilling) {
		c.Priority = types.PriorityHigh
	}
	if slices.Contains(tags, TagAbusive) {
		c.Action = types.ActionEscalate
	}
	return c, nil
}

func lower(text string) []rune {
	runes := []rune(text)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}
