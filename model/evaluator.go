package model

import "github.com/life4/genesis/slices"

// EvaluateToolCalls compares the expected tool-name set against the tools the
// agent actually invoked in one iteration. Pure function, called exactly once
// per iteration after the step loop terminates.
//
// Expected names form a set: duplicates in expected are meaningless, and a
// tool called more often than expected is not penalized. Every unexpected
// occurrence in called is preserved, duplicates included. An iteration that
// carried an error never passes, whatever the tool overlap looks like.
func EvaluateToolCalls(expected, called []string, errMsg string) EvaluationResult {
	missing := slices.Filter(dedupe(expected), func(name string) bool {
		return !slices.Contains(called, name)
	})

	unexpected := slices.Filter(called, func(name string) bool {
		return !slices.Contains(expected, name)
	})

	passed := len(missing) == 0 && len(unexpected) == 0 && errMsg == ""

	return EvaluationResult{
		Passed:            passed,
		ExpectedToolCalls: copyNames(expected),
		CalledTools:       copyNames(called),
		MissingTools:      missing,
		UnexpectedTools:   unexpected,
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func copyNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}
