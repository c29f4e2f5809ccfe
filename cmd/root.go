// Package cmd wires the command line: fit simulated supernova surveys,
// reweight stored chains for selection bias, and dump the model graph.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/snfit/snfit/store"
)

// startupParams carries the persistent flag values, and the logger built
// from them, into every command.
type startupParams struct {
	cfgFile  string
	verbose  bool
	seed     int64
	storeDir string

	log *slog.Logger
}

var params = &startupParams{}

// startup finishes the params once flags are parsed.
func (sp *startupParams) startup() {
	lvl := slog.LevelInfo
	if sp.verbose {
		lvl = slog.LevelDebug
	}
	sp.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig reads the --config file over the defaults. The --seed flag wins
// over the file when given.
func (sp *startupParams) loadConfig() (Config, error) {
	cfg := DefaultConfig()
	if sp.cfgFile != "" {
		var err error
		cfg, err = LoadConfig(sp.cfgFile)
		if err != nil {
			return cfg, err
		}
	}
	if sp.seed != 0 {
		cfg.Seed = sp.seed
	}
	return cfg, nil
}

// openStore opens the --store directory, nil when the flag is unset. The
// database's own chatter only comes through with --verbose.
func (sp *startupParams) openStore() (*store.Store, error) {
	if sp.storeDir == "" {
		return nil, nil
	}
	c := store.DefaultConfig(sp.storeDir)
	if sp.verbose {
		c.Logger = sp.log
	}
	return store.Open(c)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "snfit",
	Short: "Hierarchical Bayesian supernova cosmology fitting",
	Long: `snfit fits cosmological parameters to type Ia supernova surveys with an
affine-invariant ensemble sampler. Among other features:

  - Synthetic survey generation with Malmquist-style selection
  - Selection bias correction inside the posterior or by reweighting
  - Persistent runs that survive interruption and resume
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		params.startup()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	rootCmd.PersistentFlags().StringVarP(&params.cfgFile, "config", "c", "", "YAML run configuration (built-in defaults when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&params.verbose, "verbose", "v", false, "Verbose logging (default is much more parsimonious)")
	rootCmd.PersistentFlags().Int64VarP(&params.seed, "seed", "r", 0, "Random seed, overrides the config when nonzero")
	rootCmd.PersistentFlags().StringVarP(&params.storeDir, "store", "d", "", "Run store directory (no persistence when omitted)")

	fitCmd.Flags().StringVar(&resumeID, "resume", "", "Resume the given run ID from the store")
	fitCmd.Flags().StringVar(&monitorAddr, "monitor", "", "Serve fit progress over HTTP at this address")
	weightsCmd.Flags().StringVar(&poolFile, "pool", "", "Pool dump to reweight with (default is the run's pool_file)")
	weightsCmd.Flags().IntVar(&maxPool, "max-pool", 0, "Cap the pool at this many rows (0 keeps all of them)")

	rootCmd.AddCommand(fitCmd, weightsCmd, dotCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
