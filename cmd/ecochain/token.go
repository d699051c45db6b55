package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ecochain/ecochain/internal/emission"
	"github.com/ecochain/ecochain/internal/token"
	"github.com/ecochain/ecochain/pkg/client"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate, issue and verify Verified Green Tokens",
}

func init() {
	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenVerifyCmd)
}

// ── token generate / issue ───────────────────────────────────────────────────

var (
	genSMEID   string
	genSMEName string
	genMonth   string
	genInput   emission.Input
	genOut     string
)

func addTokenInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&genSMEID, "sme-id", "", "Business identifier")
	f.StringVar(&genSMEName, "sme-name", "", "Business display name")
	f.StringVar(&genMonth, "month", "", "Reporting period, e.g. 2024-01")
	f.Float64Var(&genInput.EnergyKWh, "energy", 0, "Energy consumed in the period (kWh)")
	f.StringVar(&genInput.BusinessType, "business-type", "", "Business type, e.g. Manufacturing")
	f.Float64Var(&genInput.RenewablePct, "renewable", 0, "Share of renewable energy, 0-100")
	f.Float64Var(&genInput.Efficiency, "efficiency", 0, "Efficiency score, 0-100")
	for _, name := range []string{"sme-id", "sme-name", "month", "energy", "business-type", "efficiency"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a token locally without recording it",
	Long: `generate assesses the energy data and seals a token on this machine.
The token is not on any ledger; use "token issue" to record one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := emission.New().Assess(genInput)
		if err != nil {
			return err
		}
		tok, err := token.NewFactory().Generate(token.Fields{
			SMEID:              genSMEID,
			SMEName:            genSMEName,
			BusinessType:       genInput.BusinessType,
			Month:              genMonth,
			EnergyKWh:          a.EnergyKWh,
			EmissionsKg:        a.EmissionsKg,
			BaselineKg:         a.BaselineKg,
			EmissionsReducedKg: a.EmissionsReducedKg,
		})
		if err != nil {
			return err
		}
		return writeToken(tok, genOut)
	},
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a token on the registry and record it on the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := c.Issue(context.Background(), client.IssueRequest{
			SMEID:   genSMEID,
			SMEName: genSMEName,
			Month:   genMonth,
			Input:   genInput,
		})
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		if genOut != "" || outFormat == "json" {
			return writeToken(out.Token, genOut)
		}
		fmt.Printf("✓ Token issued\n\n")
		fmt.Printf("  Token ID: %s\n", out.Token.TokenID)
		fmt.Printf("  Hash:     %s\n", out.Token.Hash)
		fmt.Printf("  Block:    %d\n", out.Block.Index)
		if out.VerificationURL != "" {
			fmt.Printf("  Verify:   %s\n", out.VerificationURL)
		}
		return nil
	},
}

func init() {
	addTokenInputFlags(tokenGenerateCmd)
	addTokenInputFlags(tokenIssueCmd)
	tokenGenerateCmd.Flags().StringVarP(&genOut, "output", "o", "", "Write the token JSON to this file instead of stdout")
	tokenIssueCmd.Flags().StringVarP(&genOut, "output", "o", "", "Write the issued token JSON to this file")
}

func writeToken(tok *token.Token, path string) error {
	payload, err := tok.Payload()
	if err != nil {
		return err
	}
	if path == "" {
		_, err = fmt.Fprintln(os.Stdout, string(payload))
		return err
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%s)\n", path, tok.TokenID)
	return nil
}

func readToken(path string) (*token.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return token.Parse(data)
}

// ── token verify ─────────────────────────────────────────────────────────────

var verifyOnline bool

// verifyRow is the outcome of verifying one token file.
type verifyRow struct {
	File           string `json:"file"`
	TokenID        string `json:"token_id,omitempty"`
	HashValid      bool   `json:"hash_valid"`
	SignatureValid bool   `json:"signature_valid"`
	OnChain        *bool  `json:"on_chain,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (r verifyRow) ok() bool {
	return r.Error == "" && r.HashValid && r.SignatureValid && (r.OnChain == nil || *r.OnChain)
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token.json> [token.json] ...",
	Short: "Verify one or more token files",
	Long: `verify recomputes each token's hash and signature locally. With --online
it also asks the registry whether the token is recorded on the ledger.
Files are checked concurrently; the command fails if any token fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var c *client.Client
		if verifyOnline {
			var err error
			if c, err = newClient(); err != nil {
				return err
			}
		}
		rows, err := verifyFiles(context.Background(), c, args)
		if err != nil {
			return err
		}

		if outFormat == "json" {
			if err := printJSON(rows); err != nil {
				return err
			}
		} else if err := printVerifyText(rows); err != nil {
			return err
		}
		for _, r := range rows {
			if !r.ok() {
				return fmt.Errorf("one or more tokens failed verification")
			}
		}
		return nil
	},
}

func init() {
	tokenVerifyCmd.Flags().BoolVar(&verifyOnline, "online", false, "Also check the token is recorded on the registry ledger")
}

// verifyFiles checks every file concurrently and returns rows in input order.
// Per-file problems are reported in the row; only a registry transport
// failure aborts the whole run.
func verifyFiles(ctx context.Context, c *client.Client, files []string) ([]verifyRow, error) {
	rows := make([]verifyRow, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			row := verifyRow{File: path}
			defer func() { rows[i] = row }()

			tok, err := readToken(path)
			if err != nil {
				row.Error = err.Error()
				return nil
			}
			row.TokenID = tok.TokenID
			row.HashValid = token.Verify(tok)
			row.SignatureValid = token.VerifySignature(tok)

			if c == nil {
				return nil
			}
			v, err := c.VerifyToken(ctx, tok)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) {
					row.Error = apiErr.Message
					return nil
				}
				return fmt.Errorf("verify %s: %w", path, err)
			}
			onChain := v.OnChain
			row.OnChain = &onChain
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func printVerifyText(rows []verifyRow) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tTOKEN\tHASH\tSIGNATURE\tON CHAIN\tERROR")
	for _, r := range rows {
		onChain := "-"
		if r.OnChain != nil {
			onChain = mark(*r.OnChain)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.File, r.TokenID, mark(r.HashValid), mark(r.SignatureValid), onChain, r.Error)
	}
	return w.Flush()
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}
