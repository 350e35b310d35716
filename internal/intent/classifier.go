// Package intent classifies natural-language prompts into coarse goal
// categories. Classification is rule-based keyword matching: it runs in
// microseconds, works offline, and its labels only steer fallback template
// selection and future ranking, so a model is not required here.
package intent

import (
	"regexp"
	"strings"
)

// Known intent labels.
const (
	SystemUpdate   = "system_update"
	InstallPackage = "install_package"
	SearchFiles    = "search_files"
	DiskUsage      = "disk_usage"
	ProcessStatus  = "process_status"
	Network        = "network"
	Git            = "git"
	Unknown        = "unknown"
)

// Result is a classified intent with its own confidence, kept separate from
// any per-candidate score: it answers "what does the user want", not "how
// good is this command".
type Result struct {
	Label      string
	Confidence float64
	// Package is the extracted package name for install_package intents.
	Package string
}

// Classifier turns a prompt into an intent Result. The rule-based
// implementation below is the default; an ML classifier can be swapped in
// behind the same interface.
type Classifier interface {
	Classify(prompt string) Result
}

type rule struct {
	label    string
	patterns []*regexp.Regexp
	weight   float64
}

// RuleClassifier matches keyword patterns against the lowercased prompt.
// The first matching rule wins; rules are ordered most-specific first.
type RuleClassifier struct {
	rules []rule
}

var installPackageRe = regexp.MustCompile(`(?:install|add|get)\s+(?:the\s+)?(?:package\s+)?([A-Za-z0-9][A-Za-z0-9._+:@-]*)`)

// NewRuleClassifier builds the default rule set.
func NewRuleClassifier() *RuleClassifier {
	mk := func(exprs ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(exprs))
		for i, e := range exprs {
			out[i] = regexp.MustCompile(e)
		}
		return out
	}

	return &RuleClassifier{rules: []rule{
		{
			label:  SystemUpdate,
			weight: 0.9,
			patterns: mk(
				`\bupdate\b.*\b(system|machine|computer|packages|everything|all)\b`,
				`\b(system|machine|computer|packages|everything|all)\b.*\bupdate\b`,
				`\bupgrade\b.*\b(system|packages|everything|all)\b`,
				`\bupdate my\b`,
				`\bupgrade my\b`,
			),
		},
		{
			label:  InstallPackage,
			weight: 0.85,
			patterns: mk(
				`\binstall\b`,
				`\badd\b.*\bpackage\b`,
			),
		},
		{
			label:  SearchFiles,
			weight: 0.8,
			patterns: mk(
				`\b(find|search|locate|look for)\b.*\b(file|files|folder|directory|directories)\b`,
				`\bfiles?\b.*\b(named|called|containing|matching)\b`,
			),
		},
		{
			label:  DiskUsage,
			weight: 0.8,
			patterns: mk(
				`\b(disk|storage|space)\b.*\b(usage|used|left|free|full)\b`,
				`\bhow (much|big)\b.*\b(disk|space|folder|directory)\b`,
				`\b(size of|taking up)\b`,
			),
		},
		{
			label:  ProcessStatus,
			weight: 0.75,
			patterns: mk(
				`\b(process|processes|running|cpu|memory|ram)\b.*\b(using|usage|status|top|most)\b`,
				`\bwhat('s| is)\b.*\b(running|eating|using)\b`,
				`\bkill\b.*\bprocess\b`,
			),
		},
		{
			label:  Network,
			weight: 0.75,
			patterns: mk(
				`\b(ip address|network|wifi|dns|ping|port|ports|connection)\b`,
				`\b(listening|open)\b.*\bports?\b`,
			),
		},
		{
			label:  Git,
			weight: 0.75,
			patterns: mk(
				`\bgit\b`,
				`\b(commit|branch|merge|rebase|stash|repo|repository)\b`,
			),
		},
	}}
}

// Classify matches the prompt against the rule set. Unmatched prompts get
// the unknown label with zero confidence, never an error.
func (c *RuleClassifier) Classify(prompt string) Result {
	p := strings.ToLower(strings.TrimSpace(prompt))
	if p == "" {
		return Result{Label: Unknown, Confidence: 0}
	}

	for _, r := range c.rules {
		for _, re := range r.patterns {
			if !re.MatchString(p) {
				continue
			}
			res := Result{Label: r.label, Confidence: r.weight}
			if r.label == InstallPackage {
				if m := installPackageRe.FindStringSubmatch(p); m != nil {
					res.Package = m[1]
				}
			}
			return res
		}
	}

	return Result{Label: Unknown, Confidence: 0}
}
