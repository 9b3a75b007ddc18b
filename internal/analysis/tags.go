package analysis

import "strings"

// maxTags caps how many tags a description may yield.
const maxTags = 10

// maxSignificantWords caps how many free-form words supplement the keyword tags.
const maxSignificantWords = 3

type tagCategory struct {
	name     string
	keywords []string
}

// Categories are scanned in a fixed order so repeated runs over the same
// description yield the same tag list.
var tagCategories = []tagCategory{
	{name: "water", keywords: []string{"water", "pool", "swimming", "lake", "ocean", "sea", "river"}},
	{name: "people", keywords: []string{"person", "people", "man", "woman", "child", "boy", "girl"}},
	{name: "animals", keywords: []string{"dog", "cat", "bird", "animal", "pet"}},
	{name: "nature", keywords: []string{"tree", "grass", "flower", "garden", "park", "forest"}},
	{name: "buildings", keywords: []string{"house", "building", "home", "room", "kitchen", "bathroom"}},
	{name: "vehicles", keywords: []string{"car", "truck", "bike", "bicycle", "vehicle"}},
	{name: "sports", keywords: []string{"ball", "game", "sport", "playing"}},
	{name: "food", keywords: []string{"food", "eating", "meal", "kitchen"}},
	{name: "outdoor", keywords: []string{"outdoor", "outside", "sky", "cloud", "sun"}},
	{name: "indoor", keywords: []string{"indoor", "inside", "room"}},
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "and": {}, "or": {},
	"but": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "up": {}, "about": {}, "into": {},
	"through": {}, "during": {}, "before": {}, "after": {}, "above": {},
	"below": {}, "between": {}, "among": {}, "under": {}, "over": {},
}

// ExtractTags derives tags from a generated description. Matched keywords come
// first with their category names, then up to three remaining significant
// words from the description itself.
func ExtractTags(description string) []string {
	if strings.TrimSpace(description) == "" {
		return nil
	}

	lower := strings.ToLower(description)
	tags := []string{}
	seen := map[string]struct{}{}

	appendTag := func(tag string) {
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	for _, category := range tagCategories {
		matched := false
		for _, keyword := range category.keywords {
			if !strings.Contains(lower, keyword) {
				continue
			}
			appendTag(keyword)
			if !matched {
				matched = true
				appendTag(category.name)
			}
		}
	}

	added := 0
	for _, word := range strings.Fields(lower) {
		if added >= maxSignificantWords {
			break
		}
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, ok := seen[word]; ok {
			continue
		}
		appendTag(word)
		added++
	}

	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}
