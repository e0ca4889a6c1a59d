package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/tools"
)

var (
	createBase   string
	createNoOpen bool
	listCheck    bool
	listTable    bool
	resumeNoOpen bool
	finishRemove bool
)

var createCmd = &cobra.Command{
	Use:   "create [ref]",
	Short: "Create or reuse the worktree for a branch and fork a session into it",
	Long: `Create or reuse the worktree for a branch and pair it with a session
forked from the calling one.

The ref may be a plain branch name, story:<name> or scratch:<name>
(which map to story/<name> and scratch/<name>), a story number or
Shortcut story URL (sc-<id>), or refs/heads/<name>. Without a ref a
scratch branch wt/<8 hex> is created. Running create again for the same branch reuses the worktree and, when
the recorded session is gone, recreates it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreate,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked worktree mappings of the current repository",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [ref]",
	Short: "Resume the session of a tracked worktree",
	Long: `Resume the session of a tracked worktree.

The ref may be a session ID, a worktree path or a branch. Without a ref
the mapping of the calling session or of the current directory is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

var finishCmd = &cobra.Command{
	Use:   "finish [ref]",
	Short: "Archive a tracked worktree, optionally removing it from disk",
	Long: `Archive a tracked worktree. With --remove the worktree directory is
detached with git worktree remove; the branch is always kept. A dirty
worktree is never forced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFinish,
}

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Show the repository context and where its state is kept",
	Args:  cobra.NoArgs,
	RunE:  runScope,
}

func init() {
	createCmd.Flags().StringVar(&createBase, "base", "", "base ref for a new branch")
	createCmd.Flags().BoolVar(&createNoOpen, "no-open", false, "do not open a terminal for the session")

	listCmd.Flags().BoolVar(&listCheck, "check-sessions", false, "check each session against the host")
	listCmd.Flags().BoolVar(&listTable, "table", false, "render a table instead of the plain report")

	resumeCmd.Flags().BoolVar(&resumeNoOpen, "no-open", false, "do not open a terminal for the session")

	finishCmd.Flags().BoolVar(&finishRemove, "remove", false, "also remove the worktree directory")

	rootCmd.AddCommand(createCmd, listCmd, resumeCmd, finishCmd, scopeCmd)
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	inv, err := invocation()
	if err != nil {
		return err
	}
	r := a.svc.Create(cmd.Context(), inv, tools.CreateArgs{
		Ref:  optionalArg(args),
		Base: createBase,
		Open: !createNoOpen,
	})
	return printReport(os.Stdout, r)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	inv, err := invocation()
	if err != nil {
		return err
	}
	if !listTable {
		return printReport(os.Stdout, a.svc.List(cmd.Context(), inv, listCheck))
	}
	return listAsTable(cmd.Context(), a, inv)
}

func listAsTable(ctx context.Context, a *app, inv reconcile.Invocation) error {
	rc, entries, err := a.svc.Entries(ctx, inv, listCheck)
	if err != nil {
		return printReport(os.Stdout, tools.ErrorReport(err))
	}
	if len(entries) == 0 {
		printEmptyMessage("No tracked worktrees for "+rc.Scope+".", "Create one with: wt create <branch>")
		return nil
	}

	fmt.Println(renderEntries(rc.Scope, entries))
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	inv, err := invocation()
	if err != nil {
		return err
	}
	r := a.svc.Resume(cmd.Context(), inv, tools.ResumeArgs{
		Ref:  optionalArg(args),
		Open: !resumeNoOpen,
	})
	return printReport(os.Stdout, r)
}

func runFinish(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	inv, err := invocation()
	if err != nil {
		return err
	}
	r := a.svc.Finish(cmd.Context(), inv, tools.FinishArgs{
		Ref:    optionalArg(args),
		Remove: finishRemove,
	})
	return printReport(os.Stdout, r)
}

func runScope(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	inv, err := invocation()
	if err != nil {
		return err
	}
	rc, err := a.svc.Context(cmd.Context(), inv)
	if err != nil {
		return printReport(os.Stdout, tools.ErrorReport(err))
	}

	fmt.Printf("%s %s\n", keyColor.Sprint("repo_root:"), rc.RepoRoot)
	fmt.Printf("%s %s\n", keyColor.Sprint("common_dir:"), rc.CommonDir)
	fmt.Printf("%s %s\n", keyColor.Sprint("scope:"), rc.Scope)
	fmt.Printf("%s %s\n", keyColor.Sprint("worktrees:"), rc.ScopeDir)
	fmt.Printf("%s %s\n", keyColor.Sprint("store:"), a.svc.StorePath(rc.Scope))
	return nil
}
