package mcp

import (
	"context"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomrun/loom/internal/broker"
	"github.com/loomrun/loom/internal/codexec"
	"github.com/loomrun/loom/internal/store/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	tool := &codexec.Tool{Store: st, Broker: broker.New(), Registry: codexec.NewRegistry(), ArtifactsRoot: t.TempDir()}
	return New(tool, nil), st
}

func callRequest(args map[string]interface{}) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "loom_codex_exec",
			Arguments: args,
		},
	}
}

func TestNew_RegistersCodexExecTool(t *testing.T) {
	s, _ := newTestServer(t)
	require.NotNil(t, s.MCPServer())
}

func TestHandleCodexExec_RejectsMissingRequiredFields(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleCodexExec(context.Background(), callRequest(map[string]interface{}{
		"run_id": "run-1",
	}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestHandleCodexExec_RejectsUnknownTaskType(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleCodexExec(context.Background(), callRequest(map[string]interface{}{
		"run_id":         "run-1",
		"workspace_path": "/tmp/ws",
		"prompt":         "do it",
		"task_type":      "bogus",
	}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestHandleCodexExec_FakeModeIgnoresBundleFakeFlag(t *testing.T) {
	// codexec.Tool.Exec's FakeMode comes from the Bundle the MCP handler
	// builds; since the handler never sets it, a missing codex binary on
	// the test host surfaces as CODEX_NOT_INSTALLED rather than panicking.
	s, _ := newTestServer(t)
	s.tool.Binary = "loom-codex-definitely-not-installed"
	res, err := s.handleCodexExec(context.Background(), callRequest(map[string]interface{}{
		"run_id":         "run-1",
		"workspace_path": t.TempDir(),
		"prompt":         "touch hello.txt",
	}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "CODEX_NOT_INSTALLED")
}
