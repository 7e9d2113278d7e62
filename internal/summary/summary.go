// Package summary synthesizes the deterministic, LLM-friendly record of a
// terminal run's outcome (spec §4.7). The transformation is pure and
// total: given the same inputs it always returns the same output, and it
// never touches the filesystem or the repository itself.
package summary

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/workspace"
)

var textExtensions = map[string]struct{}{
	".md": {}, ".txt": {}, ".csv": {}, ".json": {}, ".py": {}, ".go": {},
	".yaml": {}, ".yml": {}, ".html": {}, ".js": {}, ".ts": {},
}

// Input bundles everything the synthesizer needs about a finalized run.
type Input struct {
	Instructions string
	Status       model.RunStatus
	Steps        []*model.Step
	Files        []workspace.FileInfo
	Errors       []model.RunError
}

// Synthesize builds a MachineSummary from a finalized run's state.
func Synthesize(in Input) *model.MachineSummary {
	s := &model.MachineSummary{
		Goal:               trim(in.Instructions),
		ExecutionAttempted: len(in.Steps) > 0,
		ExecutionSucceeded: in.Status == model.RunSucceeded,
	}

	if len(in.Errors) > 0 {
		s.ReasonForFailure = in.Errors[len(in.Errors)-1].Code
	}

	candidates := candidateFiles(in)
	if len(candidates) > 0 {
		primary := pickPrimary(candidates, in.Steps)
		s.PrimaryArtifact = primary
		for _, c := range candidates {
			if c.RelPath != primary {
				s.SecondaryArtifacts = append(s.SecondaryArtifacts, c.RelPath)
			}
		}
		sort.Strings(s.SecondaryArtifacts)
	}

	return s
}

func trim(s string) string {
	s = strings.TrimSpace(s)
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}

func candidateFiles(in Input) []workspace.FileInfo {
	touched := map[string]struct{}{}
	for _, s := range in.Steps {
		for _, f := range s.TouchedFiles {
			touched[f] = struct{}{}
		}
	}

	var out []workspace.FileInfo
	for _, f := range in.Files {
		if len(touched) > 0 {
			if _, ok := touched[f.RelPath]; !ok {
				continue
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

// pickPrimary applies the selection rule of spec §4.7: prefer files
// referenced by the last assistant step, then the largest non-binary file
// by extension allow-list (by actual byte size), then the
// lexicographically first. Ties break lexicographically.
func pickPrimary(candidates []workspace.FileInfo, steps []*model.Step) string {
	if lastRef := lastAssistantFile(steps, candidates); lastRef != "" {
		return lastRef
	}

	best := ""
	var bestBytes int64 = -1
	for _, c := range candidates {
		if _, ok := textExtensions[strings.ToLower(filepath.Ext(c.RelPath))]; !ok {
			continue
		}
		if c.Bytes > bestBytes || (c.Bytes == bestBytes && c.RelPath < best) {
			best = c.RelPath
			bestBytes = c.Bytes
		}
	}
	if best != "" {
		return best
	}

	sorted := append([]workspace.FileInfo(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })
	return sorted[0].RelPath
}

func lastAssistantFile(steps []*model.Step, candidates []workspace.FileInfo) string {
	candidateSet := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		candidateSet[c.RelPath] = struct{}{}
	}

	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Role != model.RoleAssistant {
			continue
		}
		var matches []string
		for _, f := range steps[i].TouchedFiles {
			if _, ok := candidateSet[f]; ok {
				matches = append(matches, f)
			}
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0]
		}
		return ""
	}
	return ""
}
