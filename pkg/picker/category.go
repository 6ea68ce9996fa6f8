package picker

import (
	"regexp"
	"strings"
)

const categoryOther = "other"

var categoryPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"bed", regexp.MustCompile(`\bbed\b|\bplatform\b.*\bbed\b|\bbed frame\b`)},
	{"nightstand", regexp.MustCompile(`\bnight\s*stand\b|\bbedside\b`)},
	{"dresser", regexp.MustCompile(`\bdresser\b|\bchest\b|\bdrawer\b`)},
	{"sofa", regexp.MustCompile(`\bsofa\b|\bcouch\b|\bsectional\b|\bloveseat\b`)},
	{"chair", regexp.MustCompile(`\baccent chair\b|\barmchair\b|\bdining chair\b|\boffice chair\b|\bstool\b`)},
	{"coffee_table", regexp.MustCompile(`\bcoffee table\b`)},
	{"side_table", regexp.MustCompile(`\bside table\b|\bend table\b`)},
	{"desk", regexp.MustCompile(`\bdesk\b|\bworkspace\b|\bcomputer desk\b`)},
	{"rug", regexp.MustCompile(`\brug\b|\b8x10\b|\b5x7\b|\brunner\b`)},
	{"lamp", regexp.MustCompile(`\blamp\b|\bfloor lamp\b|\btable lamp\b`)},
	{"ceiling_fan", regexp.MustCompile(`\bceiling fan\b|\bflush mount fan\b`)},
	{"shelf", regexp.MustCompile(`\bshelf\b|\bbookshelf\b|\bbookcase\b|\bwall shelf\b`)},
	{"media_console", regexp.MustCompile(`\btv stand\b|\bmedia console\b|\bentertainment center\b`)},
	{"curtains", regexp.MustCompile(`\bcurtain\b|\bdrape\b`)},
	{"mirror", regexp.MustCompile(`\bmirror\b`)},
	{"wall_art", regexp.MustCompile(`\bwall art\b|\bposter\b|\bprint\b|\bframed\b`)},
	{"plant", regexp.MustCompile(`\bplanter\b|\bfaux plant\b|\bpotted\b`)},
}

// wizardGroups expands the categories offered by the design wizard into the
// fine-grained categories inferred from listing titles.
var wizardGroups = map[string][]string{
	"furniture":  {"bed", "nightstand", "dresser", "sofa", "chair", "coffee_table", "side_table", "desk", "shelf", "media_console"},
	"lighting":   {"lamp", "ceiling_fan"},
	"decor":      {"mirror", "plant", "wall_art"},
	"frames":     {"wall_art", "mirror"},
	"textiles":   {"rug", "curtains"},
	"appliances": {categoryOther},
}

// InferCategory maps free text to the first matching category, "other" when
// nothing matches.
func InferCategory(text string) string {
	t := strings.ToLower(text)
	for _, c := range categoryPatterns {
		if c.pattern.MatchString(t) {
			return c.name
		}
	}
	return categoryOther
}

func selectedCategorySet(selected []string) map[string]bool {
	set := make(map[string]bool, len(selected))
	for _, s := range selected {
		if group, ok := wizardGroups[strings.ToLower(strings.TrimSpace(s))]; ok {
			for _, c := range group {
				set[c] = true
			}
			continue
		}
		set[InferCategory(s)] = true
	}
	return set
}
