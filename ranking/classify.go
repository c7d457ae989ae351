package ranking

import "strings"

// Category is the closed set of comparison tabs.
type Category string

const (
	CategoryFood   Category = "food"
	CategoryBeauty Category = "beauty"
)

// ParseCategory maps a query value onto a Category. Unknown values fall back to food.
func ParseCategory(s string) Category {
	if strings.EqualFold(strings.TrimSpace(s), string(CategoryBeauty)) {
		return CategoryBeauty
	}
	return CategoryFood
}

// DefaultBeautyTerms is the substring table used to spot cosmetics. Cream terms are
// qualified because ice cream and cream snacks are sold in the same marts.
var DefaultBeautyTerms = []string{
	"마스크", "샴푸", "토너", "세럼", "에센스", "로션", "화장품", "선크림", "클렌징",
	"핸드크림", "아이크림", "수분크림", "달팽이크림", "크림 스킨",
	"mask", "shampoo", "toner", "serum", "essence", "lotion", "cosmetic", "sunscreen", "cleanser", "beauty",
	"face cream", "hand cream", "eye cream", "snail cream", "night cream", "sun cream",
}

// Classifier assigns a Category from lower-cased entry text.
type Classifier struct {
	beauty []string
}

// NewClassifier builds a classifier from a beauty substring table.
func NewClassifier(beautyTerms []string) *Classifier {
	terms := make([]string, 0, len(beautyTerms))
	for _, t := range beautyTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return &Classifier{beauty: terms}
}

// Classify returns beauty when text contains any beauty term, food otherwise.
// text is expected to be lower-cased already.
func (c *Classifier) Classify(text string) Category {
	for _, t := range c.beauty {
		if strings.Contains(text, t) {
			return CategoryBeauty
		}
	}
	return CategoryFood
}
