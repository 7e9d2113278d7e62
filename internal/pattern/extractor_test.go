package pattern_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/pattern"
)

func step(role model.StepRole, content string, ok bool) *model.Step {
	return &model.Step{Role: role, Content: content, OutcomeOK: ok}
}

func TestExtract_EmptyStepsYieldsNil(t *testing.T) {
	assert.Nil(t, pattern.Extract("run-1", "demo", model.TaskCode, "do it", nil))
}

func TestExtract_AllFailedYieldsNil(t *testing.T) {
	steps := []*model.Step{
		step(model.RoleAssistant, "tried something", false),
		step(model.RoleTool, "command failed", false),
	}
	assert.Nil(t, pattern.Extract("run-1", "demo", model.TaskCode, "do it", steps))
}

func TestExtract_FiltersRoleAndOutcome(t *testing.T) {
	steps := []*model.Step{
		step(model.RoleUser, "please do x", true),
		step(model.RoleAssistant, "writing main.go", true),
		step(model.RoleTool, "command failed", false),
		step(model.RoleTool, "go build ok", true),
	}
	p := pattern.Extract("run-1", "demo", model.TaskCode, "write main.go", steps)
	require.NotNil(t, p)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "writing main.go", p.Steps[0])
	assert.Equal(t, "go build ok", p.Steps[1])
}

func TestExtract_CapsAtTwelveSteps(t *testing.T) {
	var steps []*model.Step
	for i := 0; i < 20; i++ {
		steps = append(steps, step(model.RoleTool, fmt.Sprintf("step %d", i), true))
	}
	p := pattern.Extract("run-1", "demo", model.TaskCode, "x", steps)
	require.NotNil(t, p)
	assert.Len(t, p.Steps, 12)
	assert.Equal(t, "step 0", p.Steps[0])
}

func TestExtract_NormalizesWhitespaceAndClamps(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	steps := []*model.Step{step(model.RoleTool, "  a   b\tc\n "+long, true)}
	p := pattern.Extract("run-1", "demo", model.TaskCode, "x", steps)
	require.NotNil(t, p)
	assert.LessOrEqual(t, len(p.Steps[0]), 160)
	assert.NotContains(t, p.Steps[0], "\t")
}

func TestExtract_Idempotent(t *testing.T) {
	steps := []*model.Step{
		step(model.RoleAssistant, "writing report.md with citation [1]", true),
		step(model.RoleTool, "fetched https://example.com/data.csv", true),
	}
	p1 := pattern.Extract("run-1", "demo", model.TaskResearch, "cite sources, see https://example.com/data.csv", steps)
	p2 := pattern.Extract("run-1", "demo", model.TaskResearch, "cite sources, see https://example.com/data.csv", steps)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	assert.Equal(t, p1.XML, p2.XML)
}

func TestExtract_RenderedXMLContainsIDAndSequence(t *testing.T) {
	steps := []*model.Step{step(model.RoleAssistant, "did the thing", true)}
	p := pattern.Extract("run-42", "demo", model.TaskCode, "do the thing", steps)
	require.NotNil(t, p)
	assert.Contains(t, p.XML, `id="pat-run-42"`)
	assert.Contains(t, p.XML, "1. did the thing")
}

func TestExtract_DiscoversTaskSpecificVariables(t *testing.T) {
	steps := []*model.Step{step(model.RoleAssistant, "wrote notes.md", true)}
	p := pattern.Extract("run-1", "demo", model.TaskDataAnalysis, "plot a bar chart from dataset=sales.csv", steps)
	require.NotNil(t, p)

	var found []string
	for _, v := range p.Variables {
		found = append(found, v.Name)
	}
	assert.Contains(t, found, "chart_type")
	assert.Contains(t, found, "dataset")
}

func TestExtract_UnknownTaskTypeFallsBackToBaseMatchers(t *testing.T) {
	steps := []*model.Step{step(model.RoleAssistant, "see https://example.com", true)}
	p := pattern.Extract("run-1", "demo", model.TaskType("bogus"), "see https://example.com", steps)
	require.NotNil(t, p)
	var found []string
	for _, v := range p.Variables {
		found = append(found, v.Name)
	}
	assert.Contains(t, found, "url")
}
