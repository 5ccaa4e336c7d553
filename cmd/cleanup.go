package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Tear down a deployment: containers, images, proxy rule and project directory",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	p, spec, logPath, done, err := prepareRun()
	if err != nil {
		return err
	}
	defer done()

	if err := p.Teardown(cmd.Context()); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("%s deployment on %s removed\n", green("✓"), bold(spec.RemoteHost))
	fmt.Printf("  %s %s\n", bold("Log:"), logPath)
	return nil
}
