package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/pkg/config"
)

func TestKeywordConditionPolicy(t *testing.T) {
	policy := NewKeywordConditionPolicy()

	cases := []struct {
		name    string
		current models.ItemCondition
		notes   string
		want    models.ItemCondition
	}{
		{name: "no notes", current: models.ConditionGood, notes: "  ", want: models.ConditionGood},
		{name: "stain wears item", current: models.ConditionGood, notes: "Minor STAIN on collar", want: models.ConditionWornOut},
		{name: "torn is bad", current: models.ConditionExcellent, notes: "sleeve torn", want: models.ConditionBad},
		{name: "never upgrades", current: models.ConditionBad, notes: "slightly faded", want: models.ConditionBad},
		{name: "clean notes keep", current: models.ConditionFair, notes: "all good, thanks", want: models.ConditionFair},
		{name: "whole words only", current: models.ConditionGood, notes: "undamaged, all good", want: models.ConditionGood},
		{name: "negated list", current: models.ConditionGood, notes: "no stains, nothing missing", want: models.ConditionGood},
		{name: "not broken", current: models.ConditionGood, notes: "not broken", want: models.ConditionGood},
		{name: "negator two words back", current: models.ConditionGood, notes: "returned without any damage", want: models.ConditionGood},
		{name: "contraction negates", current: models.ConditionGood, notes: "it isn't torn", want: models.ConditionGood},
		{name: "negation stays in its clause", current: models.ConditionGood, notes: "no stains. zipper broken", want: models.ConditionBad},
		{name: "negated bad still wears", current: models.ConditionGood, notes: "not ripped but faded", want: models.ConditionWornOut},
		{name: "inflected keyword", current: models.ConditionGood, notes: "two scratches and a dented rim", want: models.ConditionWornOut},
		{name: "distant negator ignored", current: models.ConditionGood, notes: "no idea how it got torn", want: models.ConditionBad},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.Assess(tc.current, tc.notes))
		})
	}
}

func TestConditionPolicyFromConfig(t *testing.T) {
	assert.IsType(t, &KeywordConditionPolicy{}, ConditionPolicyFromConfig(config.ConditionPolicyKeywords))
	assert.IsType(t, KeepConditionPolicy{}, ConditionPolicyFromConfig(config.ConditionPolicyKeep))
	assert.Equal(t, models.ConditionGood, KeepConditionPolicy{}.Assess(models.ConditionGood, "broken"))
}
