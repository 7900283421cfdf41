package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check PRODUCT_ID",
		Short: "Check one product's price in the foreground",
		Long: `Runs a single price check without the queue or retry policy and prints
the result as JSON. Alerts and retrain requests fire as they would for a
scheduled check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || productID <= 0 {
				return fmt.Errorf("invalid product id %q", args[0])
			}
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			res, err := s.app.CheckNow(cmd.Context(), productID)
			if err != nil {
				s.logger.Error("check failed", zap.Int64("product_id", productID), zap.Error(err))
				return fmt.Errorf("check product %d: %w", productID, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
