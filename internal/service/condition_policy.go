package service

import (
	"strings"
	"unicode"

	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/pkg/config"
)

// ConditionPolicy decides an item's condition after a return from the
// student's notes.
type ConditionPolicy interface {
	Assess(current models.ItemCondition, notes string) models.ItemCondition
}

// KeepConditionPolicy leaves the condition unchanged.
type KeepConditionPolicy struct{}

// Assess implements ConditionPolicy.
func (KeepConditionPolicy) Assess(current models.ItemCondition, _ string) models.ItemCondition {
	return current
}

type conditionRule struct {
	condition models.ItemCondition
	keywords  []string
}

// negationWindow is how many preceding words a negator may sit in front of a
// keyword, as in "no visible stains".
const negationWindow = 2

var (
	negators = map[string]struct{}{
		"no": {}, "not": {}, "without": {}, "nothing": {}, "none": {}, "never": {},
		"isn't": {}, "wasn't": {}, "aren't": {}, "weren't": {}, "zero": {},
	}
	keywordSuffixes = []string{"", "s", "es", "ed", "d", "ing"}
)

// KeywordConditionPolicy downgrades the condition when the notes mention
// damage. Keywords match whole words (with plural or past-tense endings) and
// are ignored when negated within the same clause. It never upgrades.
type KeywordConditionPolicy struct {
	rules []conditionRule
}

// NewKeywordConditionPolicy builds the policy with the default vocabulary.
// Rules are checked worst first.
func NewKeywordConditionPolicy() *KeywordConditionPolicy {
	return &KeywordConditionPolicy{rules: []conditionRule{
		{condition: models.ConditionBad, keywords: []string{"broken", "torn", "ripped", "crack", "missing", "unusable", "damage"}},
		{condition: models.ConditionWornOut, keywords: []string{"worn", "stain", "faded", "fray", "loose", "scratch", "dent"}},
	}}
}

// Assess implements ConditionPolicy.
func (p *KeywordConditionPolicy) Assess(current models.ItemCondition, notes string) models.ItemCondition {
	mentioned := mentionedWords(notes)
	if len(mentioned) == 0 {
		return current
	}
	for _, rule := range p.rules {
		for _, keyword := range rule.keywords {
			if !mentionsKeyword(mentioned, keyword) {
				continue
			}
			if rule.condition.WorseThan(current) {
				return rule.condition
			}
			return current
		}
	}
	return current
}

// mentionedWords returns the lower-cased words of notes that are not negated.
func mentionedWords(notes string) []string {
	clauses := strings.FieldsFunc(strings.ToLower(notes), func(r rune) bool {
		return strings.ContainsRune(".,;:!?()\n", r)
	})
	var words []string
	for _, clause := range clauses {
		tokens := strings.FieldsFunc(clause, func(r rune) bool {
			return !unicode.IsLetter(r) && r != '\''
		})
		for i, token := range tokens {
			if !negated(tokens, i) {
				words = append(words, token)
			}
		}
	}
	return words
}

func negated(tokens []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-negationWindow; j-- {
		if _, ok := negators[tokens[j]]; ok {
			return true
		}
	}
	return false
}

func mentionsKeyword(words []string, keyword string) bool {
	for _, word := range words {
		for _, suffix := range keywordSuffixes {
			if word == keyword+suffix {
				return true
			}
		}
	}
	return false
}

// ConditionPolicyFromConfig maps a configured policy name to its implementation.
func ConditionPolicyFromConfig(name string) ConditionPolicy {
	if name == config.ConditionPolicyKeywords {
		return NewKeywordConditionPolicy()
	}
	return KeepConditionPolicy{}
}
