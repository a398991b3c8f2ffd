package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/serialize"
)

// newGraphsCommand creates the graphs command group.
func newGraphsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graphs",
		Short: "Manage stored graphs",
		Long:  `List, save, show and delete graph documents in the state database.`,
	}

	cmd.AddCommand(newGraphsListCommand())
	cmd.AddCommand(newGraphsSaveCommand())
	cmd.AddCommand(newGraphsShowCommand())
	cmd.AddCommand(newGraphsDeleteCommand())
	return cmd
}

func newGraphsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			infos, err := store.ListGraphs()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored graphs")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Nodes", "Updated"})
			for _, info := range infos {
				t.AppendRow(table.Row{info.Name, info.NodeCount, info.UpdatedAt.Format("2006-01-02 15:04:05")})
			}
			t.Render()
			return nil
		},
	}
}

func newGraphsSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <name> <file>",
		Short: "Save a graph file into the state database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read graph file: %w", err)
			}
			// Reject documents that don't load before storing them.
			nodes, err := serialize.Unmarshal(data)
			if err != nil {
				return fmt.Errorf("invalid graph document: %w", err)
			}

			store, err := openStore(getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveGraph(name, data, len(nodes)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved graph %q (%d nodes)\n", name, len(nodes))
			return nil
		},
	}
}

func newGraphsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored graph document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			data, err := store.LoadGraph(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}
}

func newGraphsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored graph",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeleteGraph(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted graph %q\n", args[0])
			return nil
		},
	}
}
