// Package directive 将用户文本归类为协作指令。分类是纯函数，规则以数据表形式声明。
package directive

import "strings"

// Kind 指令类型
type Kind string

const (
	KindNormal  Kind = "normal"
	KindProject Kind = "project"
	KindCode    Kind = "code"
	KindDebug   Kind = "debug"
	KindReview  Kind = "review"
	KindAnalyze Kind = "analyze"
)

// Priority 指令优先级
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Directive 是分类结果。Kind 为 normal 时 Instruction 为空。
type Directive struct {
	Kind        Kind     `json:"kind"`
	Instruction string   `json:"instruction,omitempty"`
	Priority    Priority `json:"priority"`
}

// IsNormal 报告是否为普通消息
func (d Directive) IsNormal() bool {
	return d.Kind == KindNormal || d.Kind == ""
}

// Normal 是未命中任何规则时的结果
var Normal = Directive{Kind: KindNormal, Priority: PriorityNormal}

// Rule 一条分类规则：文本（小写）以 "/<kind>" 开头，或包含 "<kind>:" 时命中。
type Rule struct {
	Kind        Kind
	Instruction string
	Priority    Priority
}

// Matches 判断 lowered（已转小写）是否命中该规则
func (r Rule) Matches(lowered string) bool {
	k := string(r.Kind)
	return strings.HasPrefix(lowered, "/"+k) || strings.Contains(lowered, k+":")
}

// Directive 返回规则对应的指令
func (r Rule) Directive() Directive {
	return Directive{Kind: r.Kind, Instruction: r.Instruction, Priority: r.Priority}
}

// Rules 按顺序求值，先命中者胜出。
var Rules = []Rule{
	{
		Kind:     KindProject,
		Priority: PriorityCritical,
		Instruction: "PRIORITY PROJECT DIRECTIVE: Collaborate systematically to execute this request. " +
			"Break down into specific tasks, assign AI responsibilities based on expertise. " +
			"CodeLlama handles implementation, Mistral does architecture, Llama 3.2 3B manages coordination, " +
			"others provide specialized support. Work toward concrete deliverables with clear action items.",
	},
	{
		Kind:     KindCode,
		Priority: PriorityHigh,
		Instruction: "CODE COLLABORATION REQUEST: Work together to write, review, and improve code. " +
			"CodeLlama should lead implementation, Mistral provides architecture guidance, " +
			"others contribute testing, documentation, and optimization suggestions. " +
			"Focus on clean, working code with explanations.",
	},
	{
		Kind:     KindDebug,
		Priority: PriorityHigh,
		Instruction: "DEBUG COLLABORATION: Analyze the provided code/error systematically. " +
			"CodeLlama identifies syntax issues, Mistral examines logic flow, Llama models suggest testing approaches. " +
			"Provide specific fixes and explanations.",
	},
	{
		Kind:     KindReview,
		Priority: PriorityHigh,
		Instruction: "CODE REVIEW SESSION: Examine the provided code for quality, security, performance, and best practices. " +
			"Each AI should focus on their expertise area and provide constructive feedback with specific improvement suggestions.",
	},
	{
		Kind:     KindAnalyze,
		Priority: PriorityHigh,
		Instruction: "DOCUMENT ANALYSIS: Analyze the provided documents/files systematically. " +
			"Extract key information, identify patterns, suggest improvements or implementations. " +
			"Focus on actionable insights based on file content.",
	},
}

// Classify 使用默认规则表分类
func Classify(text string) Directive {
	return ClassifyWith(Rules, text)
}

// ClassifyWith 使用给定规则表分类。对任意输入都有结果。
func ClassifyWith(rules []Rule, text string) Directive {
	lowered := strings.ToLower(text)
	for _, r := range rules {
		if r.Matches(lowered) {
			return r.Directive()
		}
	}
	return Normal
}
