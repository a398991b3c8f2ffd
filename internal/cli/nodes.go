package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/registry"
)

// newNodesCommand creates the nodes command, listing the node catalog.
func newNodesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the available node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Type", "Hotkey", "Description"})
			for _, d := range registry.Default().All() {
				t.AppendRow(table.Row{d.Name, string(d.Type), d.Hotkey, d.Description})
			}
			t.Render()
			return nil
		},
	}
}
