package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecochain/ecochain/internal/auth"
	"github.com/ecochain/ecochain/internal/emission"
)

// ── calculate ────────────────────────────────────────────────────────────────

var (
	calcInput  emission.Input
	calcRemote bool
)

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Calculate emissions and the reduction against the industry baseline",
	Long: `calculate runs the emission model locally. With --remote it asks the
configured ecochaind instead, which must agree to the last digit.
Efficiency defaults to 80 when --efficiency is not given.

  ecochain calculate --energy 10000 --business-type Manufacturing --efficiency 80`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			a   *emission.Assessment
			err error
		)
		if calcRemote {
			c, cerr := newClient()
			if cerr != nil {
				return cerr
			}
			a, err = c.Calculate(context.Background(), calcInput)
		} else {
			a, err = emission.New().Assess(calcInput)
		}
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(a)
		}
		return printAssessment(a)
	},
}

func init() {
	f := calculateCmd.Flags()
	f.Float64Var(&calcInput.EnergyKWh, "energy", 0, "Energy consumed in the period (kWh)")
	f.StringVar(&calcInput.BusinessType, "business-type", "", "Business type, e.g. Manufacturing or Textile")
	f.Float64Var(&calcInput.RenewablePct, "renewable", 0, "Share of renewable energy, 0-100")
	f.Float64Var(&calcInput.Efficiency, "efficiency", emission.DefaultEfficiency, "Equipment efficiency score, 0-100")
	f.Float64Var(&calcInput.CarbonPrice, "carbon-price", 0, "Carbon price in USD per tonne (0 = default)")
	f.BoolVar(&calcRemote, "remote", false, "Calculate on the registry instead of locally")

	_ = calculateCmd.MarkFlagRequired("energy")
	_ = calculateCmd.MarkFlagRequired("business-type")
}

func printAssessment(a *emission.Assessment) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Business type:\t%s\n", a.BusinessType)
	fmt.Fprintf(w, "Energy:\t%.2f kWh\n", a.EnergyKWh)
	fmt.Fprintf(w, "Emissions:\t%.2f kg CO2\n", a.EmissionsKg)
	fmt.Fprintf(w, "Baseline:\t%.2f kg CO2\n", a.BaselineKg)
	fmt.Fprintf(w, "Reduced:\t%.2f kg CO2 (%.2f%%)\n", a.EmissionsReducedKg, a.ReductionPercentage)
	fmt.Fprintf(w, "Cost savings:\t$%.2f\n", a.CostSavingsUSD)
	fmt.Fprintf(w, "Trees equivalent:\t%.1f\n", a.TreesEquivalent)
	return w.Flush()
}

// ── auth ─────────────────────────────────────────────────────────────────────

var (
	authSecret  string
	authIssuer  string
	authSubject string
	authTTL     time.Duration
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Issuer credential helpers",
}

var authTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an issuer token for POST /api/v1/tokens",
	Long: `token signs an HS256 issuer token with the same secret ecochaind is
configured with (auth.issuer_secret). Pass the result with --token or set
issuer_token in ~/.ecochain/config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer, err := auth.NewIssuer(authSecret, authIssuer, authTTL)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(authSubject)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	authTokenCmd.Flags().StringVar(&authSecret, "secret", "", "Shared issuer secret (at least 16 bytes)")
	authTokenCmd.Flags().StringVar(&authIssuer, "issuer", "ecochain", "Issuer name; must match auth.issuer on the server")
	authTokenCmd.Flags().StringVar(&authSubject, "subject", "", "Who the token is for")
	authTokenCmd.Flags().DurationVar(&authTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = authTokenCmd.MarkFlagRequired("secret")
	_ = authTokenCmd.MarkFlagRequired("subject")

	authCmd.AddCommand(authTokenCmd)
}
