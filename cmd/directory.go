package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDirectoryCmd() *cobra.Command {
	var chains []string
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Rebuilds directory.json for one or more chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ordered, err := a.Chains.Ordered(chains...)
			if err != nil {
				return err
			}
			for _, ch := range ordered {
				added, err := a.Builder.Rebuild(cmd.Context(), ch)
				if err != nil {
					return fmt.Errorf("rebuild directory for %s: %w", ch.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: added %d\n", ch.Name, added)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&chains, "chain", nil, "chains to rebuild (default all)")
	return cmd
}
