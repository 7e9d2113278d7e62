// Package pattern distills a bounded, reusable workflow from a run's
// steps. Extraction is total and idempotent, and the variable-discovery
// pass is registry-keyed by task type, each variant a pure function —
// following the small-registry-of-pure-functions idiom used elsewhere in
// the corpus for per-category rule evaluation.
package pattern

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/loomrun/loom/internal/model"
)

const (
	maxSteps      = 12
	maxStepLength = 160
)

// Extract distills steps into a Pattern for runID under projectID, given
// the task type and the run's original instructions (used for the
// variable-discovery pass). Returns nil if no qualifying step survives —
// extraction never errors.
func Extract(runID, projectID string, taskType model.TaskType, instructions string, steps []*model.Step) *model.Pattern {
	kept := keepQualifying(steps)
	if len(kept) == 0 {
		return nil
	}

	summary := oneLineSummary(kept)
	variables := discoverVariables(taskType, instructions, kept)

	p := &model.Pattern{
		ID:        runID,
		ProjectID: projectID,
		Name:      fmt.Sprintf("pattern-%s", runID),
		Summary:   summary,
		Steps:     kept,
		Variables: variables,
	}
	p.XML = render(runID, summary, kept, variables)
	return p
}

// keepQualifying returns the normalized content of every step whose role
// is assistant or tool and whose OutcomeOK is true, in original order,
// capped at maxSteps.
func keepQualifying(steps []*model.Step) []string {
	var out []string
	for _, s := range steps {
		if s.Role != model.RoleAssistant && s.Role != model.RoleTool {
			continue
		}
		if !s.OutcomeOK {
			continue
		}
		out = append(out, normalize(s.Content))
		if len(out) == maxSteps {
			break
		}
	}
	return out
}

func normalize(content string) string {
	fields := strings.Fields(content)
	joined := strings.Join(fields, " ")
	if len(joined) > maxStepLength {
		return joined[:maxStepLength]
	}
	return joined
}

func oneLineSummary(steps []string) string {
	if len(steps) == 0 {
		return ""
	}
	return steps[0]
}

func render(runID, summary string, steps []string, variables []model.PatternVariable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<reference_workflow id=\"pat-%s\">\n", runID)
	fmt.Fprintf(&b, "What worked before: %s\n\n", summary)
	b.WriteString("Sequence:\n")
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\nVariables:\n")
	for _, v := range variables {
		fmt.Fprintf(&b, "- %s: %s (ex: %s)\n", v.Name, v.Type, v.Example)
	}
	b.WriteString("\nApply the same sequence when it fits...\n")
	b.WriteString("</reference_workflow>")
	return b.String()
}

// variableMatcher recognizes one variable class via a precompiled regular
// expression over the joined instruction+step text.
type variableMatcher struct {
	name    string
	typeTag string
	re      *regexp.Regexp
}

var (
	fileRefRe    = regexp.MustCompile(`\b[\w./-]+\.(go|py|js|ts|md|txt|csv|json|yaml|yml|html|pdf|docx?|xlsx?)\b`)
	rangeRe      = regexp.MustCompile(`\b\d+\s*(?:-|to|\.\.)\s*\d+\b`)
	substRe      = regexp.MustCompile(`\{\{?\s*\w+\s*\}\}?`)
	citationRe   = regexp.MustCompile(`\[\d+\]|\(\w+,?\s*\d{4}\)`)
	urlRe        = regexp.MustCompile(`https?://[^\s)]+`)
	docFormatRe  = regexp.MustCompile(`\b(pdf|docx?|markdown|md|html|pptx?)\b`)
	templateRe   = regexp.MustCompile(`\btemplate[s]?[:=]?\s*[\w.-]+`)
	chartTypeRe  = regexp.MustCompile(`\b(bar|line|pie|scatter|histogram)\s*chart\b`)
	datasetRe    = regexp.MustCompile(`\bdataset[s]?[:=]?\s*[\w.-]+`)
	toneRe       = regexp.MustCompile(`\b(formal|casual|technical|executive|friendly)\s*(tone|audience)?\b`)
)

var baseMatchers = []variableMatcher{
	{"file_reference", "file", fileRefRe},
	{"range", "range", rangeRe},
	{"substitution", "placeholder", substRe},
	{"url", "url", urlRe},
}

var matchersByTaskType = map[model.TaskType][]variableMatcher{
	model.TaskCode: append(append([]variableMatcher{}, baseMatchers...),
		variableMatcher{"template", "template", templateRe}),
	model.TaskResearch: append(append([]variableMatcher{}, baseMatchers...),
		variableMatcher{"citation", "citation", citationRe}),
	model.TaskWriting: append(append([]variableMatcher{}, baseMatchers...),
		variableMatcher{"tone_audience", "tone", toneRe}),
	model.TaskDataAnalysis: append(append([]variableMatcher{}, baseMatchers...),
		variableMatcher{"chart_type", "chart", chartTypeRe},
		variableMatcher{"dataset", "dataset", datasetRe}),
	model.TaskDocumentProcessing: append(append([]variableMatcher{}, baseMatchers...),
		variableMatcher{"document_format", "format", docFormatRe}),
	model.TaskDocumentWriting: append(append([]variableMatcher{}, baseMatchers...),
		variableMatcher{"document_format", "format", docFormatRe},
		variableMatcher{"template", "template", templateRe}),
	model.TaskDocumentAnalysis: append(append([]variableMatcher{}, baseMatchers...),
		variableMatcher{"document_format", "format", docFormatRe},
		variableMatcher{"citation", "citation", citationRe}),
}

func discoverVariables(taskType model.TaskType, instructions string, steps []string) []model.PatternVariable {
	matchers, ok := matchersByTaskType[taskType]
	if !ok {
		matchers = baseMatchers
	}

	joined := instructions + "\n" + strings.Join(steps, "\n")

	seen := make(map[string]struct{})
	var out []model.PatternVariable
	for _, m := range matchers {
		matches := m.re.FindAllString(joined, -1)
		for _, example := range matches {
			key := m.name + ":" + example
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, model.PatternVariable{
				Name:        m.name,
				Type:        m.typeTag,
				Example:     example,
				Description: describe(m.name),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Example < out[j].Example
	})
	return out
}

var descriptions = map[string]string{
	"file_reference": "a file path referenced in the instructions or steps",
	"range":          "a numeric range",
	"substitution":   "a template placeholder to substitute",
	"url":            "a referenced URL",
	"template":       "a named template",
	"citation":       "a citation marker",
	"chart_type":     "a requested chart type",
	"dataset":        "a named dataset",
	"document_format": "a target document format",
	"tone_audience":  "a tone or audience descriptor",
}

func describe(name string) string {
	if d, ok := descriptions[name]; ok {
		return d
	}
	return name
}
