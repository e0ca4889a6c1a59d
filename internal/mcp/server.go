// Package mcp serves the worktree tools over the Model Context Protocol on
// stdio.
package mcp

import (
	"context"
	"io"
	"log"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/tools"
)

const (
	ServerName    = "wt"
	ServerVersion = "1.0.0"
)

// Tool names
const (
	ToolCreate = "wt_create"
	ToolList   = "wt_list"
	ToolResume = "wt_resume"
	ToolFinish = "wt_finish"
)

const instructions = "Create, list, resume and finish git worktrees paired with forked sessions."

// Tools is the tool surface the server exposes.
type Tools interface {
	Create(ctx context.Context, inv reconcile.Invocation, args tools.CreateArgs) *tools.Report
	List(ctx context.Context, inv reconcile.Invocation, checkSessions bool) *tools.Report
	Resume(ctx context.Context, inv reconcile.Invocation, args tools.ResumeArgs) *tools.Report
	Finish(ctx context.Context, inv reconcile.Invocation, args tools.FinishArgs) *tools.Report
}

// Server registers the worktree tools on an MCP server.
type Server struct {
	mcp   *server.MCPServer
	tools Tools
	inv   reconcile.Invocation
	log   *logrus.Entry
}

// NewServer creates a server for t. inv is the invocation context used when
// a call does not carry its own session_id or directory.
func NewServer(t Tools, inv reconcile.Invocation) *Server {
	s := &Server{
		tools: t,
		inv:   inv,
		log:   logging.NewLogger("mcp"),
	}
	s.mcp = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	s.mcp.AddTool(createTool(), s.handleCreate)
	s.mcp.AddTool(listTool(), s.handleList)
	s.mcp.AddTool(resumeTool(), s.handleResume)
	s.mcp.AddTool(finishTool(), s.handleFinish)
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve reads requests from in and writes responses to out until in reaches
// EOF or ctx is cancelled. Protocol errors are logged through logrus.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	errLog := s.log.WriterLevel(logrus.ErrorLevel)
	defer errLog.Close()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(errLog, "", 0))

	s.log.Info("server starting")
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() == nil {
		s.log.WithError(err).Error("server stopped")
		return err
	}
	s.log.Info("server stopped")
	return nil
}

func withContextArgs(opts ...mcpgo.ToolOption) []mcpgo.ToolOption {
	return append(opts,
		mcpgo.WithString("session_id", mcpgo.Description("Calling session ID. Defaults to the server's session.")),
		mcpgo.WithString("directory", mcpgo.Description("Calling working directory. Defaults to the server's directory.")),
	)
}

const refDescription = "Branch, session ID, path, or omit to infer from current context."

func createTool() mcpgo.Tool {
	return mcpgo.NewTool(ToolCreate, withContextArgs(
		mcpgo.WithDescription("Create or reuse a git worktree, fork the current session, and open it in tmux or Ghostty."),
		mcpgo.WithString("ref", mcpgo.Description("Branch name, story:<name>, scratch:<name>, Shortcut URL, or empty for scratch.")),
		mcpgo.WithString("base", mcpgo.Description("Optional base ref when creating a new branch.")),
		mcpgo.WithBoolean("open", mcpgo.Description("Auto-open tmux/Ghostty for the forked session."), mcpgo.DefaultBool(true)),
	)...)
}

func listTool() mcpgo.Tool {
	return mcpgo.NewTool(ToolList, withContextArgs(
		mcpgo.WithDescription("List tracked worktree/session mappings for the current repository scope."),
		mcpgo.WithBoolean("checkSessions", mcpgo.Description("Verify whether mapped sessions still exist."), mcpgo.DefaultBool(false)),
	)...)
}

func resumeTool() mcpgo.Tool {
	return mcpgo.NewTool(ToolResume, withContextArgs(
		mcpgo.WithDescription("Resume a tracked worktree session by branch, session ID, or path and open it in tmux/Ghostty."),
		mcpgo.WithString("ref", mcpgo.Description(refDescription)),
		mcpgo.WithBoolean("open", mcpgo.Description("Auto-open tmux/Ghostty for the session."), mcpgo.DefaultBool(true)),
	)...)
}

func finishTool() mcpgo.Tool {
	return mcpgo.NewTool(ToolFinish, withContextArgs(
		mcpgo.WithDescription("Mark a tracked worktree workflow finished. Non-destructive by default; optionally remove worktree path."),
		mcpgo.WithString("ref", mcpgo.Description(refDescription)),
		mcpgo.WithBoolean("remove", mcpgo.Description("When true, run git worktree remove on the tracked path. Branch is preserved."), mcpgo.DefaultBool(false)),
	)...)
}

// invocation applies the per-call session_id and directory overrides.
func (s *Server) invocation(req mcpgo.CallToolRequest) reconcile.Invocation {
	inv := s.inv
	if v := req.GetString("session_id", ""); v != "" {
		inv.SessionID = v
	}
	if v := req.GetString("directory", ""); v != "" {
		inv.Directory = v
		inv.Worktree = ""
	}
	return inv
}

func (s *Server) handleCreate(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	report := s.tools.Create(ctx, s.invocation(req), tools.CreateArgs{
		Ref:  req.GetString("ref", ""),
		Base: req.GetString("base", ""),
		Open: req.GetBool("open", true),
	})
	return s.result(ToolCreate, report), nil
}

func (s *Server) handleList(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	report := s.tools.List(ctx, s.invocation(req), req.GetBool("checkSessions", false))
	return s.result(ToolList, report), nil
}

func (s *Server) handleResume(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	report := s.tools.Resume(ctx, s.invocation(req), tools.ResumeArgs{
		Ref:  req.GetString("ref", ""),
		Open: req.GetBool("open", true),
	})
	return s.result(ToolResume, report), nil
}

func (s *Server) handleFinish(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	report := s.tools.Finish(ctx, s.invocation(req), tools.FinishArgs{
		Ref:    req.GetString("ref", ""),
		Remove: req.GetBool("remove", false),
	})
	return s.result(ToolFinish, report), nil
}

// result turns a report into tool output. A failed report is still a
// successful call; the failure is carried by IsError.
func (s *Server) result(tool string, report *tools.Report) *mcpgo.CallToolResult {
	s.log.WithFields(logrus.Fields{"tool": tool, "failed": report.Failed()}).Info("tool finished")
	if report.Failed() {
		return mcpgo.NewToolResultError(report.String())
	}
	return mcpgo.NewToolResultText(report.String())
}
