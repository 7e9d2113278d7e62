package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/loomrun/loom/internal/codexec"
	"github.com/loomrun/loom/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("loom_codex_exec",
			mcplib.WithDescription(`Run the code-generation CLI once against a workspace and return a
short summary of what it did.

WHEN TO USE: when you need to delegate a concrete coding, research, or
document task to the external CLI rather than reasoning about it
yourself. Each call streams the CLI's JSONL output into persisted steps
under run_id, so repeated calls against the same run_id build one
continuous transcript.

WHAT YOU GET BACK: a one-line summary of the exit code and the number of
files touched, or an error code from the closed taxonomy
(CODEX_NOT_INSTALLED, CODEX_AUTH_REQUIRED, WORKSPACE_PATH_INVALID,
TIMEOUT, TOOL_FAILURE, CANCELLED) if the call did not succeed.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run this invocation's steps and artifacts are recorded under."),
				mcplib.Required(),
			),
			mcplib.WithString("workspace_path",
				mcplib.Description("Absolute path to the prepared workspace directory the CLI should run in."),
				mcplib.Required(),
			),
			mcplib.WithString("prompt",
				mcplib.Description("The instruction to pass to the CLI."),
				mcplib.Required(),
			),
			mcplib.WithString("task_type",
				mcplib.Description("One of: code, research, writing, data_analysis, document_processing, document_writing, document_analysis."),
				mcplib.DefaultString(string(model.TaskCode)),
			),
			mcplib.WithString("profile",
				mcplib.Description("Optional named CLI profile."),
			),
			mcplib.WithString("prior_session_id",
				mcplib.Description("Optional upstream session id to resume."),
			),
		),
		s.handleCodexExec,
	)
}

func (s *Server) handleCodexExec(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	workspacePath := request.GetString("workspace_path", "")
	prompt := request.GetString("prompt", "")
	if runID == "" || workspacePath == "" || prompt == "" {
		return errorResult("run_id, workspace_path, and prompt are all required"), nil
	}

	taskType := model.TaskType(request.GetString("task_type", string(model.TaskCode)))
	if !taskType.Valid() {
		return errorResult(fmt.Sprintf("unknown task_type %q", taskType)), nil
	}

	bundle := codexec.Bundle{
		WorkspacePath:  workspacePath,
		RunID:          runID,
		TaskType:       taskType,
		PriorSessionID: request.GetString("prior_session_id", ""),
		Profile:        request.GetString("profile", ""),
	}

	seq := &codexec.SeqCounter{}
	res, err := s.tool.Exec(ctx, bundle, prompt, seq, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("exec failed: %v", err)), nil
	}
	if res.ErrorCode != "" {
		return errorResult(fmt.Sprintf("%s: %s", res.ErrorCode, res.ErrorText)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: res.Summary},
		},
	}, nil
}

func errorResult(message string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: message},
		},
	}
}
