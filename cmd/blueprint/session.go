package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence/middleware"
	"github.com/aretw0/blueprint/pkg/recovery"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
	Long:  `List, inspect, and remove sessions in the local store (storage.local_dir).`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sessions, err := a.engine.List(ctx)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			fmt.Fprintln(out, "Sessions:")
			for _, s := range sessions {
				fmt.Fprintln(out, "- "+s)
			}
			return nil
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print the stored record of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		redact, _ := cmd.Flags().GetBool("redact")
		keys, _ := cmd.Flags().GetStringSlice("redact-key")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		var redactor *middleware.Redactor
		if redact || len(keys) > 0 {
			r, err := middleware.NewRedactor(keys)
			if err != nil {
				return err
			}
			redactor = r
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			raw, err := a.local.Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("loading session '%s': %w", args[0], err)
			}
			res, err := recovery.New(recovery.WithLogger(logger)).Validate(raw)
			if err != nil {
				return fmt.Errorf("session '%s' is not readable: %w", args[0], err)
			}
			for _, w := range res.Warnings {
				logger.Warn("Record needs repair", "session_id", args[0], "reason", w)
			}
			data, err := renderSession(res.Session, redactor, asYAML)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("name at least one session or pass --all")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if all {
				ids, err := a.engine.List(ctx)
				if err != nil {
					return fmt.Errorf("listing sessions: %w", err)
				}
				args = ids
			}
			var errs []error
			for _, sessionID := range args {
				if err := a.engine.Delete(ctx, sessionID); err != nil {
					errs = append(errs, fmt.Errorf("removing '%s': %w", sessionID, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", sessionID)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionInspectCmd.Flags().Bool("redact", false, "Mask captured values")
	sessionInspectCmd.Flags().StringSlice("redact-key", nil, "Only mask fields whose key matches these patterns")
	sessionInspectCmd.Flags().Bool("yaml", false, "Print YAML instead of JSON")
	sessionRmCmd.Flags().Bool("all", false, "Remove every stored session")
}

// withApp runs fn against a wired engine and flushes it afterwards.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// renderSession prints a session with its JSON field names, optionally masked.
func renderSession(s *domain.Session, redactor *middleware.Redactor, asYAML bool) ([]byte, error) {
	if redactor != nil {
		s = redactor.Redact(s)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	if !asYAML {
		return append(data, '\n'), nil
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	return yaml.Marshal(doc)
}
