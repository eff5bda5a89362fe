// Command gamehook runs the module's code locators against a game
// executable on disk, to check signatures and discovery before shipping
// them.
//
//	gamehook strref re2.exe RayTraceSettings
//	gamehook rtoffset re4.exe --variant re4
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/k2io/gamehook/internal/logging"
)

var (
	verboseFlag bool
	log         = logging.New(os.Stderr)
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gamehook",
		Short:         "Offline scanner for game executables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log debug output")
	root.AddCommand(
		newStrRefCmd(),
		newSigCmd(),
		newRTOffsetCmd(),
		newVariantsCmd(),
		newSymbolsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.For(log, "CLI").WithError(err).Error("command failed")
		os.Exit(1)
	}
}
