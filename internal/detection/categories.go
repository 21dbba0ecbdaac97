package detection

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CategoryRule maps any of its keywords to one canonical label
type CategoryRule struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

// Categories canonicalizes free-form labels by case-insensitive substring
// match. Rules are tried in order, so more specific keywords ("glass bottle")
// must come before general ones ("bottle").
type Categories struct {
	rules    []CategoryRule
	keywords [][]string
}

// DefaultCategoryRules is the Blue Bin category list
var DefaultCategoryRules = []CategoryRule{
	// non-bin items whose names contain bin keywords ("scanner" holds "can")
	{Label: "Electronics", Keywords: []string{"scanner", "electronic", "phone", "charger"}},
	{Label: "Coffee Capsule", Keywords: []string{"capsule"}},

	{Label: "Aerosol Can", Keywords: []string{"aerosol"}},
	{Label: "Ring Pull", Keywords: []string{"ring pull"}},
	{Label: "Glass Bottle", Keywords: []string{"glass bottle", "wine bottle", "beer bottle", "sauce bottle"}},
	{Label: "Glass Jar", Keywords: []string{"jar"}},
	{Label: "Plastic Container", Keywords: []string{"plastic container", "takeaway container", "food container", "container"}},
	{Label: "Food Tin", Keywords: []string{"food can", "food tin", "tin can", "tin"}},
	{Label: "Paint Can", Keywords: []string{"paint can"}},
	{Label: "Aluminium Can", Keywords: []string{"aluminium can", "aluminum can", "soda can", "drink can", "can"}},
	{Label: "Metal Cap", Keywords: []string{"bottle cap", "metal cap"}},
	{Label: "Plastic Bottle", Keywords: []string{"bottle"}},
	{Label: "Plastic Egg Tray", Keywords: []string{"plastic egg tray"}},
	{Label: "Paper Egg Tray", Keywords: []string{"egg tray", "egg carton"}},
	{Label: "Toilet Roll", Keywords: []string{"toilet roll", "toilet paper roll"}},
	{Label: "Paper Towel Roll", Keywords: []string{"paper towel roll"}},
	{Label: "Paper Towel", Keywords: []string{"paper towel"}},
	{Label: "Newspaper", Keywords: []string{"newspaper"}},
	{Label: "Magazine", Keywords: []string{"magazine", "glossy paper"}},
	{Label: "Cardboard", Keywords: []string{"cardboard", "carton box"}},
	{Label: "Beverage Carton", Keywords: []string{"tetra pak", "beverage carton", "drink carton", "milk carton"}},
	{Label: "Paper Bag", Keywords: []string{"paper bag"}},
	{Label: "Gift Wrapping Paper", Keywords: []string{"gift wrap", "wrapping paper"}},
	{Label: "Paper", Keywords: []string{"paper"}},
	{Label: "Metal Cap", Keywords: []string{"cap"}},
	{Label: "Lid", Keywords: []string{"lid"}},
}

// NewCategories compiles rules into a matcher
func NewCategories(rules []CategoryRule) (*Categories, error) {
	c := &Categories{
		rules:    rules,
		keywords: make([][]string, len(rules)),
	}
	for i, rule := range rules {
		if strings.TrimSpace(rule.Label) == "" {
			return nil, fmt.Errorf("category rule %d has no label", i)
		}
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			c.keywords[i] = append(c.keywords[i], kw)
		}
	}
	return c, nil
}

// DefaultCategories returns the built-in Blue Bin table
func DefaultCategories() *Categories {
	c, err := NewCategories(DefaultCategoryRules)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCategories reads an ordered rule list from a YAML file
func LoadCategories(path string) (*Categories, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading categories file: %w", err)
	}

	var doc struct {
		Categories []CategoryRule `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing categories file: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("categories file %s has no rules", path)
	}

	return NewCategories(doc.Categories)
}

// Canonicalize returns the canonical label for a raw model label.
// Empty labels and the literal "unknown" give UnknownLabel; labels that match
// no rule are kept as the model wrote them, trimmed.
func (c *Categories) Canonicalize(raw string) string {
	label := strings.Join(strings.Fields(raw), " ")
	if label == "" || strings.EqualFold(label, UnknownLabel) {
		return UnknownLabel
	}

	lower := strings.ToLower(label)
	for i, keywords := range c.keywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return c.rules[i].Label
			}
		}
	}
	return label
}
