package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/console-automator/internal/queue"
	"github.com/spf13/cobra"
)

type options struct {
	server  string
	token   string
	timeout time.Duration
	json    bool
}

func (o *options) client() *Client {
	return NewClient(o.server, o.token, o.timeout)
}

// NewRootCmd builds the automationctl command tree
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "automationctl",
		Short:         "Control a running console automation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("AUTOMATOR_SERVER", "http://localhost:5000"), "Service base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("AUTOMATOR_TOKEN"), "Bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON responses")

	root.AddCommand(
		submitCmd(opts),
		statusCmd(opts),
		sessionCmd(opts),
		startCmd(opts),
		logoutCmd(opts),
	)
	return root
}

// Execute runs the root command with process args
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func submitCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit [app names...]",
		Short: "Queue one automation job per app name",
		Long:  "Queue one automation job per app name. Names come from arguments, or one per line from --file (\"-\" reads stdin).",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if file != "" {
				fromFile, err := readNames(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				names = append(names, fromFile...)
			}
			names = queue.CleanNames(names)
			if len(names) == 0 {
				return fmt.Errorf("no app names given")
			}

			resp, err := opts.client().Submit(cmd.Context(), names)
			if IsConflict(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "The service has no valid session. Run `automationctl start` and sign in through the browser window.")
			}
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (queue size %d, running %t)\n", resp.Message, resp.QueueSize, resp.Running)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read app names from a file, one per line")
	return cmd
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker state and the pending queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Worker:\t%s\n", resp.WorkerState)
			if resp.StopReason != "" {
				fmt.Fprintf(tw, "Stop reason:\t%s\n", resp.StopReason)
			}
			fmt.Fprintf(tw, "Session:\t%s\n", resp.SessionStatus.Message)
			if resp.LastValidated != nil {
				fmt.Fprintf(tw, "Last validated:\t%s\n", resp.LastValidated.Local().Format(time.DateTime))
			}
			current := "-"
			if resp.CurrentProcessing != nil {
				current = *resp.CurrentProcessing
			}
			fmt.Fprintf(tw, "Processing:\t%s\n", current)
			fmt.Fprintf(tw, "Completed / failed:\t%d / %d\n", resp.JobsCompleted, resp.JobsFailed)
			fmt.Fprintf(tw, "Pending:\t%d\n", resp.QueueSize)
			for i, name := range resp.QueueList {
				fmt.Fprintf(tw, "\t%d. %s\n", i+1, name)
			}
			return tw.Flush()
		},
	}
}

func sessionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show whether the console session is valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Session(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid=%t %s\n", resp.Valid, resp.Message)
			return nil
		},
	}
}

func startCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch the browser of a stopped worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().StartWorker(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", resp.Message, resp.WorkerState)
			return nil
		},
	}
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the saved session so the next start needs a manual sign-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().ClearSession(cmd.Context())
			if IsConflict(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "The worker is running. Stop the service or wait for it to halt first.")
			}
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}

func readNames(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open names file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read names: %w", err)
	}
	return names, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
