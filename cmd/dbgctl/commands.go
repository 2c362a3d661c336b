package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/localrivet/dbgctl/client"
	"github.com/localrivet/dbgctl/config"
	"github.com/localrivet/dbgctl/session"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check whether the server is healthy",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt := fromContext(ctx)
			if rt.cfg.ServerURL == "" {
				return errNoServerURL
			}
			status, err := rt.client.CheckHealth(ctx)
			if status != "" {
				rt.println(status)
			}
			return err
		},
	}
}

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List the tools the server advertises",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt := fromContext(ctx)
			if err := rt.connect(ctx); err != nil {
				return err
			}
			info := rt.client.ServerInfo()
			rt.printf("%s %s\n", info.Name, info.Version)
			for _, tool := range rt.client.Tools() {
				rt.println("  " + tool)
			}
			return nil
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Manage debugging sessions",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a session and make it the active one",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					var msg string
					id, err := call(ctx, rt, "create session", func(ctx context.Context) (string, error) {
						id, text, err := rt.client.CreateSession(ctx, rt.state.UserID())
						msg = text
						return id, err
					})
					if err != nil {
						return err
					}
					rt.state.SetSession(id)
					rt.println(msg)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List your sessions and resynchronize the active one",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					list, err := call(ctx, rt, "list sessions", func(ctx context.Context) (*client.SessionList, error) {
						return rt.client.ListSessions(ctx, rt.state.UserID())
					})
					if err != nil {
						return err
					}
					printSessions(rt, list)
					reportResync(rt, rt.state.SessionID(), session.Resync(rt.state, list.Entries()))
					return nil
				},
			},
			{
				Name:      "restore",
				Usage:     "Reattach to an existing session",
				ArgsUsage: "<session-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					id := cmd.Args().First()
					if id == "" {
						return errors.New("session ID required")
					}
					msg, err := call(ctx, rt, "restore session", func(ctx context.Context) (string, error) {
						return rt.client.RestoreSession(ctx, id, rt.state.UserID())
					})
					if err != nil {
						return err
					}
					rt.state.SetSession(id)
					rt.println(msg)

					// Pick up whatever dump the server has open for it.
					list, err := rt.client.ListSessions(ctx, rt.state.UserID())
					if err != nil {
						rt.logger.Warn("Could not look up the session's dump: %v", err)
						return nil
					}
					reportResync(rt, id, session.Resync(rt.state, list.Entries()))
					return nil
				},
			},
			{
				Name:      "close",
				Usage:     "Close a session (the active one by default)",
				ArgsUsage: "[session-id]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					id := cmd.Args().First()
					if id == "" {
						var err error
						if id, err = rt.requireSession(); err != nil {
							return err
						}
					}
					msg, err := call(ctx, rt, "close session", func(ctx context.Context) (string, error) {
						return rt.client.CloseSession(ctx, id, rt.state.UserID())
					})
					if err != nil {
						return err
					}
					if id == rt.state.SessionID() {
						rt.state.Clear()
					}
					rt.println(msg)
					return nil
				},
			},
			{
				Name:  "info",
				Usage: "Show which debugger backs the active session",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					id, err := rt.requireSession()
					if err != nil {
						return err
					}
					info, err := call(ctx, rt, "debugger info", func(ctx context.Context) (*client.DebuggerInfo, error) {
						return rt.client.GetDebuggerInfo(ctx, id, rt.state.UserID())
					})
					if err != nil {
						return err
					}
					if info.Type != "" {
						rt.printf("Debugger: %s\n", info.Type)
					}
					rt.println(info.Raw)
					return nil
				},
			},
		},
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "Open or close a dump in the active session",
		Commands: []*cli.Command{
			{
				Name:      "open",
				Usage:     "Open a dump (the last selected one by default)",
				ArgsUsage: "[dump-id]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					sid, err := rt.requireSession()
					if err != nil {
						return err
					}
					dumpID := cmd.Args().First()
					if dumpID == "" {
						dumpID = rt.state.LastSelectedDumpID()
					}
					if dumpID == "" {
						return errors.New("dump ID required")
					}
					msg, err := call(ctx, rt, "open dump", func(ctx context.Context) (string, error) {
						return rt.client.OpenDump(ctx, sid, rt.state.UserID(), dumpID)
					})
					if err != nil {
						return err
					}
					rt.state.SetDump(dumpID)
					rt.println(msg)
					return nil
				},
			},
			{
				Name:  "close",
				Usage: "Close the open dump",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					sid, err := rt.requireSession()
					if err != nil {
						return err
					}
					dumpID := rt.state.DumpID()
					if dumpID == "" {
						return errors.New("no dump is open")
					}
					msg, err := call(ctx, rt, "close dump", func(ctx context.Context) (string, error) {
						return rt.client.CloseDump(ctx, sid, rt.state.UserID(), dumpID)
					})
					if err != nil {
						return err
					}
					rt.state.ClearDump()
					rt.println(msg)
					return nil
				},
			},
		},
	}
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run a debugger command in the active session",
		ArgsUsage: "<command...>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt := fromContext(ctx)
			sid, err := rt.requireSession()
			if err != nil {
				return err
			}
			command := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(command) == "" {
				return errors.New("command required")
			}
			out, err := call(ctx, rt, "exec", func(ctx context.Context) (string, error) {
				return rt.client.ExecuteCommand(ctx, sid, rt.state.UserID(), command)
			})
			if err != nil {
				return err
			}
			rt.println(out)
			return nil
		},
	}
}

func analyzeCommand() *cli.Command {
	kinds := make([]string, 0, len(client.AnalysisKinds))
	for _, kind := range client.AnalysisKinds {
		kinds = append(kinds, string(kind))
	}
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Analyze the open dump",
		ArgsUsage: "<" + strings.Join(kinds, "|") + ">",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "timeout",
				Usage: "Response timeout for this analysis, e.g. 2h or infinite. AI analysis uses analyze-timeout instead.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt := fromContext(ctx)
			name := cmd.Args().First()
			if name == "" {
				name = string(client.AnalysisCrash)
			}
			kind, err := client.ParseAnalysisKind(name)
			if err != nil {
				return err
			}
			sid, err := rt.requireSession()
			if err != nil {
				return err
			}

			if cmd.IsSet("timeout") && kind == client.AnalysisAI {
				rt.logger.Warn("--timeout does not apply to ai analysis; set analyze-timeout instead")
			} else if cmd.IsSet("timeout") {
				timeout, err := config.ParseTimeout(cmd.String("timeout"))
				if err != nil {
					return err
				}
				defer rt.client.OverrideToolResponseTimeout(timeout)()
			}
			if kind == client.AnalysisAI {
				rt.logger.Info("AI analysis can take a while (timeout %s)", config.FormatTimeout(rt.cfg.AnalyzeTimeout))
			}

			out, err := call(ctx, rt, "analyze "+string(kind), func(ctx context.Context) (string, error) {
				return rt.client.Analyze(ctx, kind, sid, rt.state.UserID(), nil)
			})
			if err != nil {
				return err
			}
			rt.println(out)
			return nil
		},
	}
}

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Inspect or reset the locally remembered session",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the active session, dump and user",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					snap := rt.state.Snapshot()
					w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
					fmt.Fprintf(w, "Server:\t%s\n", orNone(rt.cfg.ServerURL))
					fmt.Fprintf(w, "User:\t%s\n", orNone(snap.UserID))
					fmt.Fprintf(w, "Session:\t%s\n", orNone(snap.SessionID))
					fmt.Fprintf(w, "Dump:\t%s\n", orNone(snap.DumpID))
					fmt.Fprintf(w, "Last dump:\t%s\n", orNone(snap.LastSelectedDumpID))
					fmt.Fprintf(w, "Tool timeout:\t%s\n", config.FormatTimeout(rt.client.ToolResponseTimeout()))
					fmt.Fprintf(w, "Analyze timeout:\t%s\n", config.FormatTimeout(rt.client.AnalyzeTimeout()))
					return w.Flush()
				},
			},
			{
				Name:  "servers",
				Usage: "List the servers with remembered state, most recent first",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					servers, err := rt.store.Servers(ctx)
					if err != nil {
						return err
					}
					if len(servers) == 0 {
						rt.println("No remembered servers")
						return nil
					}
					for _, server := range servers {
						marker := " "
						if server == rt.cfg.ServerURL {
							marker = "*"
						}
						rt.printf("%s %s\n", marker, server)
					}
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Forget the active session and dump",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt := fromContext(ctx)
					rt.state.Clear()
					if rt.cfg.ServerURL == "" {
						return nil
					}
					return rt.store.Clear(ctx, rt.cfg.ServerURL)
				},
			},
		},
	}
}

func printSessions(rt *runtime, list *client.SessionList) {
	if len(list.Sessions) == 0 {
		rt.println("No sessions")
		return
	}
	w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tSESSION\tDUMP\tDEBUGGER\tSTATUS\tLAST ACTIVITY")
	for _, s := range list.Sessions {
		marker := ""
		if s.SessionID == rt.state.SessionID() {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, s.SessionID, orNone(s.CurrentDumpID), s.DebuggerType, s.Status, s.LastActivity)
	}
	_ = w.Flush()
	rt.printf("%d session(s)\n", list.Total)
}

func reportResync(rt *runtime, sessionID string, status session.Status) {
	switch status {
	case session.StatusNotFound:
		rt.state.Clear()
		rt.logger.Warn("Session %s no longer exists on the server; local session cleared", sessionID)
	case session.StatusSynced:
		rt.logger.Info("Active session %s has dump %s open", sessionID, rt.state.DumpID())
	case session.StatusNoDump:
		rt.logger.Info("Active session %s has no dump open", sessionID)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
