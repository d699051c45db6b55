package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ecochain/ecochain/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	issuerToken string
	cfgFile     string
	outFormat   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ecochain",
	Short: "Eco-Chain CLI",
	Long: `ecochain is the command-line interface for Eco-Chain.

It calculates emissions, generates and verifies Verified Green Tokens,
checks exported ledgers offline and queries a running ecochaind.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".ecochain"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("ECOCHAIN")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8080"
		}
		if issuerToken == "" {
			issuerToken = viper.GetString("issuer_token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ecochain/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "ecochaind base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&issuerToken, "token", "", "issuer bearer token for commands that issue")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(calculateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(merkleCmd)
	rootCmd.AddCommand(proofCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if issuerToken != "" {
		opts = append(opts, client.WithBearerToken(issuerToken))
	}
	return client.New(registryURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ecochain %s\n", version)
	},
}
