package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aretw0/blueprint"
	"github.com/aretw0/blueprint/internal/presentation/tui"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan a project interactively in the terminal",
	Long: `Starts (or resumes with --session) a planning conversation.

Type your answers at the prompt. Commands:
  :yes / :no        accept or refine the value awaiting confirmation
  :suggest          ask the language model for a proposal
  :jump <stage>     move forward to a later stage
  :reset            start over
  :show             print the captured blueprint
  :quit             save and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		noBanner, _ := cmd.Flags().GetBool("no-banner")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Shutdown incomplete", "err", err)
			}
		}()

		out := cmd.OutOrStdout()
		show := plainSnapshot
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if !noBanner {
				tui.PrintBanner(out, blueprint.Version)
			}
			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				width = 0
			}
			if r, err := tui.NewRenderer(width); err == nil {
				show = func(s domain.Snapshot) string {
					text, err := r.Snapshot(s)
					if err != nil {
						return plainSnapshot(s)
					}
					return text
				}
			}
		}

		var turn *blueprint.Turn
		if sessionID != "" {
			turn, err = a.engine.Load(ctx, sessionID)
		} else {
			turn, err = a.engine.Create(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Session %s\n\n", turn.Snapshot.SessionID)
		printTurn(out, turn)

		return interact(ctx, a.engine, turn.Snapshot.SessionID, cmd.InOrStdin(), out, show)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("session", "s", "", "Resume an existing session")
	runCmd.Flags().Bool("no-banner", false, "Do not print the banner")
}

// conversation is the part of the engine the terminal loop drives.
type conversation interface {
	Submit(ctx context.Context, sessionID, text string) (*blueprint.Turn, error)
	Resolve(ctx context.Context, sessionID string, accept bool) (*blueprint.Turn, error)
	Jump(ctx context.Context, sessionID string, target domain.StageID) (*blueprint.Turn, error)
	Reset(ctx context.Context, sessionID string) (*blueprint.Turn, error)
	Suggest(ctx context.Context, sessionID string) (*blueprint.Turn, error)
	Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error)
}

// interact reads lines from in until EOF, :quit, or a completed blueprint.
func interact(ctx context.Context, eng conversation, sessionID string, in io.Reader, out io.Writer, show func(domain.Snapshot) string) error {
	lines := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !lines.Scan() {
			fmt.Fprintln(out)
			return lines.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}

		var turn *blueprint.Turn
		var err error
		name, arg, isCommand := parseCommand(line)
		switch {
		case !isCommand:
			turn, err = eng.Submit(ctx, sessionID, line)
		case name == "quit" || name == "exit":
			fmt.Fprintln(out, "Progress saved. Bye!")
			return nil
		case name == "yes" || name == "accept":
			turn, err = eng.Resolve(ctx, sessionID, true)
		case name == "no" || name == "refine":
			turn, err = eng.Resolve(ctx, sessionID, false)
		case name == "suggest":
			turn, err = eng.Suggest(ctx, sessionID)
		case name == "reset":
			turn, err = eng.Reset(ctx, sessionID)
		case name == "jump":
			var target domain.StageID
			if target, err = domain.ParseStage(arg); err == nil {
				turn, err = eng.Jump(ctx, sessionID, target)
			}
		case name == "show":
			var snap domain.Snapshot
			if snap, err = eng.Snapshot(ctx, sessionID); err == nil {
				fmt.Fprintln(out, show(snap))
			}
		default:
			err = fmt.Errorf("unknown command :%s", name)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "! %v\n", err)
		}
		if turn == nil {
			continue
		}
		printTurn(out, turn)
		if turn.Snapshot.Complete {
			fmt.Fprintln(out, show(turn.Snapshot))
			return nil
		}
	}
}

// parseCommand splits ":jump milestones" into ("jump", "milestones").
func parseCommand(line string) (name, arg string, ok bool) {
	if !strings.HasPrefix(line, ":") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(strings.TrimPrefix(line, ":"), " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func printTurn(out io.Writer, turn *blueprint.Turn) {
	for _, n := range turn.Notices {
		if n.Kind == domain.NoticeRecovered || n.Message == "" {
			continue
		}
		fmt.Fprintf(out, "! %s\n", n.Message)
	}
	if p := turn.Snapshot.Prompt; p != nil && p.Text != "" {
		fmt.Fprintln(out, p.Text)
	}
	if turn.Snapshot.LocalOnly {
		fmt.Fprintln(out, "(saved on this device only)")
	}
}

func plainSnapshot(s domain.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stage %s, %.0f%% complete\n", s.Stage, s.Completion*100)
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "  %s: %s\n", f.Key, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}
