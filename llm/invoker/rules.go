package invoker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationRule 是一条有序的内容校验规则，命中即拒绝本次尝试。
type ValidationRule struct {
	Reason string
	Match  func(content string) bool
	Err    error
}

var placeholderPattern = regexp.MustCompile(`(?i)^(no response|\.+|\s*\.\s*)$`)

// ValidationRules 返回默认规则表：空内容、过短、占位符。
func ValidationRules(minLength int) []ValidationRule {
	return []ValidationRule{
		{
			Reason: "empty",
			Match:  func(c string) bool { return strings.TrimSpace(c) == "" },
			Err:    ErrEmptyResponse,
		},
		{
			Reason: "too_short",
			Match:  func(c string) bool { return utf8.RuneCountInString(c) < minLength },
			Err:    ErrResponseTooShort,
		},
		{
			Reason: "placeholder",
			Match:  placeholderPattern.MatchString,
			Err:    ErrPlaceholderResponse,
		},
	}
}

// Validate 按顺序应用规则，返回首个命中规则；全部通过时返回 nil。
func Validate(rules []ValidationRule, content string) *ValidationRule {
	for i := range rules {
		if rules[i].Match(content) {
			return &rules[i]
		}
	}
	return nil
}

// DefaultRefusalPatterns 是默认的"过度拒绝"识别规则，大小写不敏感。
var DefaultRefusalPatterns = []string{
	`^I can't (provide|discuss|help with|assist)`,
	`^I cannot (provide|discuss|help with|assist)`,
	`^I'm not able to (help|assist|discuss)`,
	`^I apologize, but I cannot`,
	`^As an AI.*I cannot`,
	`^I don't feel comfortable`,
	`^That's not something I can`,
	`illegal.*harmful.*dangerous`,
}

// CompileRefusals 编译拒绝规则，统一加上 (?i)。
func CompileRefusals(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile refusal pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// matchesAny 判断内容是否命中任一拒绝规则
func matchesAny(patterns []*regexp.Regexp, content string) bool {
	for _, re := range patterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}
