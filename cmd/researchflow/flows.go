package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eleven-am/researchflow/internal/client"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/logging"
)

var (
	serverURL     string
	outputJSON    bool
	flowFile      string
	startOnCreate bool
	exportFormat  string
	exportOut     string
	watchTimeout  time.Duration
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Create and drive research flows on a running server",
}

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flows",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		flows, err := c.ListFlows(ctx)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(flows)
		}
		printSummaries(os.Stdout, flows)
		return nil
	}),
}

var flowsGetCmd = &cobra.Command{
	Use:   "get <flow-id>",
	Short: "Show one flow with its tasks and logs",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		flow, err := c.GetFlow(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(flow)
		}
		printFlow(os.Stdout, flow)
		return nil
	}),
}

var flowsCreateCmd = &cobra.Command{
	Use:   "create -f flow.yaml",
	Short: "Create a flow from a YAML or JSON definition",
	Long: `Create a flow from a definition file ("-" reads stdin):

  name: rust async runtimes
  parallel_workers: 3
  tasks:
    - name: articles
      source: web
      source_config: {query: "tokio vs async-std"}
    - name: papers
      source: arxiv
      source_config: {query: "async runtime scheduling"}`,
	Args: cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		req, err := readFlowFile(flowFile)
		if err != nil {
			return err
		}
		created, err := c.CreateFlow(ctx, req)
		if err != nil {
			return err
		}
		if startOnCreate {
			summary, err := c.StartFlow(ctx, created.FlowID)
			if err != nil {
				return err
			}
			created.Status = summary.Status
		}
		if outputJSON {
			return printJSON(created)
		}
		fmt.Printf("%s\t%s\n", created.FlowID, created.Status)
		return nil
	}),
}

func transitionCmd(use, short string, op func(*client.Client, context.Context, string) (domain.FlowSummary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <flow-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
			summary, err := op(c, ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(summary)
			}
			printSummaries(os.Stdout, []domain.FlowSummary{summary})
			return nil
		}),
	}
}

var flowsDeleteCmd = &cobra.Command{
	Use:   "delete <flow-id>",
	Short: "Delete a flow, cancelling it first if it is still active",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		return c.DeleteFlow(ctx, args[0])
	}),
}

var flowsResultsCmd = &cobra.Command{
	Use:   "results <flow-id>",
	Short: "List the results a flow has collected",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		results, err := c.ListResults(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(results)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RESULT\tTASK\tSOURCE\tITEMS\tCREATED")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ResultID, r.TaskName, r.Source, len(r.Items), r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}),
}

var flowsExportCmd = &cobra.Command{
	Use:   "export <flow-id> <result-id>",
	Short: "Download one result as JSON or Markdown",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		export, err := c.ExportResult(ctx, args[0], args[1], exportFormat)
		if err != nil {
			return err
		}
		switch exportOut {
		case "-":
			_, err = os.Stdout.Write(export.Body)
			return err
		case "":
			exportOut = export.Filename
		}
		if err := os.WriteFile(exportOut, export.Body, 0o644); err != nil {
			return err
		}
		fmt.Println(exportOut)
		return nil
	}),
}

var flowsWatchCmd = &cobra.Command{
	Use:   "watch <flow-id>",
	Short: "Follow a flow until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if watchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchTimeout)
			defer cancel()
		}

		final, err := c.Watch(ctx, args[0], func(f *domain.Flow) {
			if outputJSON {
				_ = printJSON(f)
				return
			}
			counts := f.Counts()
			fmt.Printf("%s  %-9s %5.1f%%  %d/%d tasks done, %d failed\n",
				f.UpdatedAt.Local().Format("15:04:05"), f.Status, f.Progress*100,
				counts.Completed, counts.Total, counts.Failed)
		})
		if err != nil {
			return err
		}
		if final.Status == domain.FlowStatusFailed {
			return fmt.Errorf("flow %s failed: %s", final.ID, final.Error)
		}
		return nil
	},
}

func init() {
	flowsCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RESEARCHFLOW_SERVER", "http://localhost:8080"), "server base URL")
	flowsCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print JSON instead of tables")

	flowsCreateCmd.Flags().StringVarP(&flowFile, "file", "f", "", "flow definition file")
	flowsCreateCmd.Flags().BoolVar(&startOnCreate, "start", false, "start the flow after creating it")
	_ = flowsCreateCmd.MarkFlagRequired("file")

	flowsExportCmd.Flags().StringVar(&exportFormat, "format", "json", "json or markdown")
	flowsExportCmd.Flags().StringVarP(&exportOut, "output", "o", "", `output file, "-" for stdout (default: server-suggested name)`)

	flowsWatchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "give up after this long")

	flowsCmd.AddCommand(
		flowsListCmd,
		flowsGetCmd,
		flowsCreateCmd,
		transitionCmd("start", "Start a pending flow", (*client.Client).StartFlow),
		transitionCmd("pause", "Pause a running flow at the next page boundary", (*client.Client).PauseFlow),
		transitionCmd("resume", "Resume a paused flow", (*client.Client).ResumeFlow),
		transitionCmd("cancel", "Cancel a flow", (*client.Client).CancelFlow),
		flowsDeleteCmd,
		flowsResultsCmd,
		flowsExportCmd,
		flowsWatchCmd,
	)
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithLogger(logging.Discard()))
}

func withClient(run func(context.Context, *client.Client, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return run(cmd.Context(), c, args)
	}
}

func readFlowFile(path string) (domain.CreateFlowRequest, error) {
	var req domain.CreateFlowRequest

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return req, domain.NewValidationError("read flow definition: %v", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &req)
	} else {
		err = yaml.Unmarshal(data, &req)
	}
	if err != nil {
		return req, domain.NewValidationError("parse flow definition %s: %v", path, err)
	}
	return req, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummaries(out io.Writer, flows []domain.FlowSummary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FLOW\tNAME\tSTATUS\tPROGRESS\tTASKS\tRESULTS\tUPDATED")
	for _, f := range flows {
		status := string(f.Status)
		if f.Stalled {
			status += " (stalled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d/%d\t%d\t%s\n",
			f.ID, f.Name, status, f.Progress*100, f.CompletedCount, f.TaskCount, f.ResultCount,
			f.UpdatedAt.Local().Format(time.RFC3339))
	}
	_ = w.Flush()
}

func printFlow(out io.Writer, f *domain.Flow) {
	fmt.Fprintf(out, "Flow:      %s (%s)\n", f.Name, f.ID)
	fmt.Fprintf(out, "Status:    %s  %.0f%%\n", f.Status, f.Progress*100)
	if f.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", f.Error)
	}
	fmt.Fprintf(out, "Workers:   %d\n\n", f.ParallelWorkers)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSOURCE\tSTATUS\tPROGRESS\tITEMS\tRETRIES\tERROR")
	for _, t := range f.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d\t%d\t%s\n",
			t.Name, t.Source, t.Status, t.Progress*100, t.ItemsFetched, t.RetryCount, t.Error)
	}
	_ = w.Flush()

	if len(f.Logs) > 0 {
		fmt.Fprintln(out, "\nLog:")
		for _, entry := range f.Logs {
			fmt.Fprintf(out, "  %s %-5s %s\n", entry.Timestamp.Local().Format("15:04:05"), entry.Level, entry.Message)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
