package main

import (
	"github.com/spf13/cobra"

	"council/internal/ledger"
)

var ledgerPath string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Evidence ledger operations",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the evidence chain",
	Long: `Walks the ledger in order, checking hash chain linkage, entry
hashes, and HMAC signatures against the configured key ring.

Exit codes: 0 intact, 2 chain broken.`,
	RunE: ledgerVerify,
}

func init() {
	ledgerVerifyCmd.Flags().StringVar(&ledgerPath, "path", "", "ledger file (default: configured ledger path)")
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func ledgerVerify(cmd *cobra.Command, args []string) error {
	path := ledgerPath
	if path == "" {
		path = cfg.Ledger.Path
	}

	res, err := ledger.Verify(path, cfg.Ledger.Keys, cfg.Ledger.SigningRequired)
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"ok":        res.OK,
		"entries":   res.Entries,
		"head_hash": res.HeadHash,
	}
	if !res.OK {
		exitCode = 2
		out["error"] = "chain_broken"
		out["reason"] = res.Reason
		out["fail_line"] = res.FailLine
	}
	emit(out)
	return nil
}
