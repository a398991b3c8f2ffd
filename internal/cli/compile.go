package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/pkg/sq"
)

// newCompileCommand creates the compile command.
func newCompileCommand() *cobra.Command {
	var (
		file string
		node string
	)

	cmd := &cobra.Command{
		Use:   "compile [graph]",
		Short: "Compile a graph node to SQL",
		Long: `Compile the subgraph rooted at a node into an executable SQL script
and print it without running anything.

The graph is loaded from the state database by name, or from a JSON
file with --file. Without --node the graph's single sink is compiled.`,
		Example: `  # Compile the sink of a stored graph
  quarry compile cpu-analysis

  # Compile a specific node of a graph file
  quarry compile --file graph.json --node "Aggregation"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd.Context())

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

			gen, err := sq.Generate(q)
			if err != nil {
				return fmt.Errorf("generate SQL: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), gen.Script())
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Load the graph from a JSON file instead of the state database")
	cmd.Flags().StringVarP(&node, "node", "n", "", "Node id or title to compile (default: the graph's sink)")

	return cmd
}
