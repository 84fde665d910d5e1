package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/resolver"
)

func newCIDCmd() *cobra.Command {
	var start, end int64
	cmd := &cobra.Command{
		Use:   "cid <cid>",
		Short: "Indexes tokens stored in an IPFS directory",
		Long: `Fetches <cid>/<id> for every id in [start,end] through the configured
gateways and appends the documents to ipfs/<cid>/ under the storage root.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := resolver.ParseCID(args[0])
			if err != nil {
				return err
			}
			cid := c.String()
			log, err := a.Records.OpenDir(cmd.Context(), a.Layout.CIDDir(cid))
			if err != nil {
				return err
			}
			defer func() {
				if cerr := log.Close(); cerr != nil {
					a.Logger.Warn("failed to close record log", zap.String("cid", cid), zap.Error(cerr))
				}
			}()
			res, err := a.Scheduler.IndexCID(cmd.Context(), cid, start, end, log)
			if err != nil {
				return fmt.Errorf("index cid %s: %w", cid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored=%d abandoned=%d absent_at=%d\n", res.Stored, res.Abandoned, res.AbsentAt)
			return nil
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "first token id")
	cmd.Flags().Int64Var(&end, "end", 0, "last token id (inclusive)")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
