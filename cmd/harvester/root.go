package main

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-harvester/internal/config"
)

// newRootCmd builds the command tree around one viper instance, so flags,
// env vars and the config file resolve through the same keys.
func newRootCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest book metadata, covers and texts from an online library catalog.",
		Long: `harvester walks a category listing of an online library, parses every
book's detail page, downloads its cover and plain-text document, and writes
a books.json manifest describing everything it recorded.

Re-running a harvest is cheap: files already on disk are not downloaded again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (YAML)")
	cmd.AddCommand(newHarvestCmd(v))
	return cmd
}
