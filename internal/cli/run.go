package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/engine"
	"github.com/quarrylabs/quarry/internal/materialize"
)

// newRunCommand creates the run command.
func newRunCommand() *cobra.Command {
	var (
		file         string
		node         string
		format       string
		materialized bool
	)

	cmd := &cobra.Command{
		Use:   "run [graph]",
		Short: "Compile a graph node and run it against the database",
		Long: `Compile the subgraph rooted at a node, execute it against the
configured database, and print the resulting rows.

With --materialize the compiled output is additionally cached as a
table named after the query's content hash.`,
		Example: `  # Run the sink of a stored graph
  quarry run cpu-analysis

  # Run a node of a graph file as JSON
  quarry run --file graph.json --node Metrics --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := getConfig(ctx)
			logger := getLogger(ctx)

			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			nodes, err := loadGraph(cfg, name, file)
			if err != nil {
				return err
			}
			target, err := selectNode(nodes, node)
			if err != nil {
				return err
			}
			q, err := compileNode(target)
			if err != nil {
				return err
			}

			eng, err := engine.New(ctx, engine.Config{Adapter: cfg.Database, Logger: logger})
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			start := time.Now()
			rows, err := eng.Execute(ctx, q)
			if err != nil {
				return fmt.Errorf("run %q: %w", target.Title(), err)
			}
			defer func() { _ = rows.Close() }()

			if err := renderRows(cmd.OutOrStdout(), rows.Rows, format); err != nil {
				return err
			}

			if materialized {
				svc := materialize.NewSQLService(eng, logger)
				if err := svc.Materialize(ctx, target); err != nil {
					return err
				}
				if table, ok := svc.MaterializedTableName(target); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Materialized as %s\n", table)
				}
			}

			if cfg.Verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "Completed in %s\n", time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Load the graph from a JSON file instead of the state database")
	cmd.Flags().StringVarP(&node, "node", "n", "", "Node id or title to run (default: the graph's sink)")
	cmd.Flags().StringVarP(&format, "format", "o", "table", "Output format (table|json|csv|markdown)")
	cmd.Flags().BoolVar(&materialized, "materialize", false, "Cache the compiled output as a table")

	return cmd
}
