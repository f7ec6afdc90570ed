package invoker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RuleOrder(t *testing.T) {
	rules := ValidationRules(10)
	tests := []struct {
		content string
		want    string
	}{
		{"", "empty"},
		{"   ", "empty"},
		{"short", "too_short"},
		{"...", "too_short"},
		{"............", "placeholder"},
		{"NO RESPONSE", "placeholder"},
		{"no response", "placeholder"},
		{"No response here, sorry", ""},
		{"A perfectly fine answer.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got := Validate(rules, tt.content)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Reason)
			assert.ErrorIs(t, got.Err, ErrValidation)
		})
	}
}

func TestDefaultRefusalPatterns(t *testing.T) {
	refusals, err := CompileRefusals(DefaultRefusalPatterns)
	require.NoError(t, err)

	refused := []string{
		"I can't provide that information.",
		"i cannot assist with this",
		"I'm not able to help here.",
		"I apologize, but I cannot continue.",
		"As an AI language model, I cannot do that.",
		"I don't feel comfortable answering.",
		"That's not something I can talk about.",
		"This would be illegal, harmful and dangerous.",
	}
	for _, s := range refused {
		assert.True(t, matchesAny(refusals, s), s)
	}

	allowed := []string{
		"Sure! Here is what I think.",
		"Honestly, I can't wait to explore this.",
		"Well, I cannot provide a definitive answer, but",
	}
	assert.False(t, matchesAny(refusals, allowed[0]))
	assert.False(t, matchesAny(refusals, allowed[1]))
	assert.False(t, matchesAny(refusals, allowed[2]), "patterns are anchored at the start")
}

// 任何短于阈值的非空内容都必须被拒绝；任何通过校验的内容长度都不小于阈值
func TestValidate_MinLengthProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("accepted content respects min length", prop.ForAll(
		func(content string, minLength int) bool {
			rule := Validate(ValidationRules(minLength), content)
			if rule == nil {
				return utf8.RuneCountInString(content) >= minLength && strings.TrimSpace(content) != ""
			}
			return true
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.Property("short content always rejected", prop.ForAll(
		func(content string) bool {
			if utf8.RuneCountInString(content) >= 10 {
				return true
			}
			return Validate(ValidationRules(10), content) != nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
