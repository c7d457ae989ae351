package ranking

import "strings"

// FallbackGroup keys entries without a search keyword. It always sorts last.
const FallbackGroup = "기타 (Uncategorized)"

// LabelRule relabels every keyword containing Match.
type LabelRule struct {
	Match string
	Label string
}

// DefaultLabelRules decorate the best known item families.
var DefaultLabelRules = []LabelRule{
	{Match: "신라면", Label: "🍜 신라면 (Shin Ramyun)"},
	{Match: "불닭", Label: "🔥 불닭볶음면 (Buldak)"},
	{Match: "김치", Label: "🥬 김치 (Kimchi)"},
	{Match: "고추장", Label: "🌶️ 고추장 (Gochujang)"},
	{Match: "된장", Label: "🫘 된장 (Doenjang)"},
	{Match: "햇반", Label: "🍚 햇반 (Cooked Rice)"},
	{Match: "떡", Label: "🍡 떡볶이떡 (Rice Cake)"},
	{Match: "참기름", Label: "🫙 참기름 (Sesame Oil)"},
	{Match: "마스크팩", Label: "🧖 마스크팩 (Sheet Mask)"},
	{Match: "선크림", Label: "☀️ 선크림 (Sunscreen)"},
}

// Labeler turns a search keyword into the group key shown to users.
type Labeler struct {
	rules []LabelRule
}

// NewLabeler builds a labeler; the first matching rule wins.
func NewLabeler(rules []LabelRule) *Labeler {
	out := make([]LabelRule, 0, len(rules))
	for _, r := range rules {
		if r.Match != "" && r.Label != "" {
			out = append(out, r)
		}
	}
	return &Labeler{rules: out}
}

// Label returns the display key for keyword.
func (l *Labeler) Label(keyword string) string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return FallbackGroup
	}
	for _, r := range l.rules {
		if strings.Contains(keyword, r.Match) {
			return r.Label
		}
	}
	return keyword
}
