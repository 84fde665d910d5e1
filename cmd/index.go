package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

func newIndexCmd() *cobra.Command {
	var (
		chainName string
		task      nft.Task
		rebuild   bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Indexes one contract's token range",
		Long: `Fetches tokens [start,end] of a single contract into its record log
and marks the contract indexed, exactly as a scheduled run would. The task
source is not consulted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ch, ok := a.Chains.Get(chainName)
			if !ok {
				return fmt.Errorf("unknown chain %q", chainName)
			}
			task.Network = ch.Name
			res, err := a.Scheduler.IndexContract(cmd.Context(), ch, task)
			if err != nil {
				return fmt.Errorf("index %s on %s: %w", task.ContractAddress, ch.Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored=%d abandoned=%d absent_at=%d\n", res.Stored, res.Abandoned, res.AbsentAt)
			if rebuild {
				added, err := a.Builder.Rebuild(cmd.Context(), ch)
				if err != nil {
					return fmt.Errorf("rebuild directory for %s: %w", ch.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: added %d\n", ch.Name, added)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chainName, "chain", "", "chain name, e.g. ethereum")
	cmd.Flags().StringVar(&task.ContractAddress, "contract", "", "contract address")
	cmd.Flags().Int64Var(&task.StartToken, "start", 0, "first token id")
	cmd.Flags().Int64Var(&task.EndToken, "end", 0, "last token id (inclusive)")
	cmd.Flags().BoolVar(&rebuild, "rebuild-directory", false, "rebuild the chain's directory afterwards")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("contract")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
