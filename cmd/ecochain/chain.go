package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ecochain/ecochain/internal/ledger"
	"github.com/ecochain/ecochain/pkg/merkle"
)

// ── chain ────────────────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect and verify the block ledger",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify <export.json>",
	Short: "Verify an exported ledger offline",
	Long: `verify loads a ledger exported from GET /api/v1/ledger/export (or
"ecochain chain export") and checks every block's hash and link without
contacting the registry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := verifyExport(context.Background(), args[0])
		if err != nil {
			return err
		}
		if outFormat == "json" {
			if err := printJSON(s); err != nil {
				return err
			}
		} else if err := printSummary(s); err != nil {
			return err
		}
		if !s.IsValid {
			return fmt.Errorf("ledger %s failed verification", args[0])
		}
		return nil
	},
}

var chainStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the registry ledger summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.LedgerStatus(context.Background())
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(s)
		}
		return printSummary(s)
	},
}

var chainExportOut string

var chainExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the registry ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		data, err := c.ExportLedger(context.Background())
		if err != nil {
			return err
		}
		if chainExportOut == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(chainExportOut, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", chainExportOut, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", chainExportOut)
		return nil
	},
}

func init() {
	chainExportCmd.Flags().StringVarP(&chainExportOut, "output", "o", "", "Write the export to this file instead of stdout")

	chainCmd.AddCommand(chainVerifyCmd)
	chainCmd.AddCommand(chainStatusCmd)
	chainCmd.AddCommand(chainExportCmd)
}

// verifyExport loads an exported chain from path and summarises it.
func verifyExport(ctx context.Context, path string) (*ledger.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	blocks, err := ledger.Import(data)
	if err != nil {
		return nil, err
	}
	l, err := ledger.NewFromBlocks(blocks)
	if err != nil {
		return nil, err
	}
	return ledger.Summarize(ctx, l)
}

func printSummary(s *ledger.Summary) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Valid:\t%s\n", mark(s.IsValid))
	fmt.Fprintf(w, "Blocks:\t%d\n", s.TotalBlocks)
	fmt.Fprintf(w, "Tokens:\t%d\n", s.TotalTokens)
	fmt.Fprintf(w, "Genesis:\t%s\n", s.GenesisTimestamp)
	fmt.Fprintf(w, "Latest:\t%s\n", s.LatestTimestamp)
	fmt.Fprintf(w, "Merkle root:\t%s\n", s.MerkleRoot)
	return w.Flush()
}

// ── proof ────────────────────────────────────────────────────────────────────

var proofCmd = &cobra.Command{
	Use:   "proof <token-hash>",
	Short: "Fetch and check a token's proof of inclusion",
	Long: `proof asks the registry where a token is recorded, then re-checks the
returned Merkle path locally against the returned root.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Proof(context.Background(), args[0])
		if err != nil {
			return err
		}
		if outFormat == "json" {
			if err := printJSON(p); err != nil {
				return err
			}
		}
		if !p.Verified {
			return fmt.Errorf("%s", p.Message)
		}
		if !p.VerifyPath() {
			return fmt.Errorf("merkle path for block %d does not reach root %s", p.BlockIndex, p.MerkleRoot)
		}
		if outFormat != "json" {
			fmt.Printf("✓ Token recorded in block %d\n\n", p.BlockIndex)
			fmt.Printf("  Block hash:  %s\n", p.BlockHash)
			fmt.Printf("  Recorded at: %s\n", p.Timestamp)
			fmt.Printf("  Merkle root: %s\n", p.MerkleRoot)
			fmt.Printf("  Path steps:  %d\n", len(p.MerklePath))
			fmt.Printf("  Chain valid: %s\n", mark(p.ChainValid))
		}
		return nil
	},
}

// ── merkle ───────────────────────────────────────────────────────────────────

var merkleCmd = &cobra.Command{
	Use:   "merkle",
	Short: "Merkle tree helpers",
}

var merkleRootCmd = &cobra.Command{
	Use:   "root [hash] ...",
	Short: "Print the Merkle root of the given hashes, in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(merkle.Root(args))
		return nil
	},
}

var merkleProofCmd = &cobra.Command{
	Use:   "proof <index> <hash> [hash] ...",
	Short: "Print the Merkle path for the leaf at index",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var idx int
		if _, err := fmt.Sscanf(args[0], "%d", &idx); err != nil {
			return fmt.Errorf("index must be an integer: %w", err)
		}
		leaves := args[1:]
		path, err := merkle.Proof(leaves, idx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"leaf":        leaves[idx],
			"merkle_root": merkle.Root(leaves),
			"merkle_path": path,
		})
	},
}

func init() {
	merkleCmd.AddCommand(merkleRootCmd)
	merkleCmd.AddCommand(merkleProofCmd)
}
