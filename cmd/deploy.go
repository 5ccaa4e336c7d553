package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gitship/internal/config"
	"gitship/internal/gitsync"
	"gitship/internal/logger"
	"gitship/internal/pipeline"
	"gitship/internal/validate"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run the full deploy pipeline (same as invoking gitship with no arguments)",
	RunE:  runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

// prepareRun collects the spec, registers the secret for redaction and tees
// logging into the run-scoped log file. Returns the pipeline and log path.
func prepareRun() (*pipeline.Pipeline, *config.DeploymentSpec, string, func(), error) {
	if verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	spec, err := config.Collect(nonInteractive)
	if err != nil {
		return nil, nil, "", nil, err
	}
	logger.RedactSecret(spec.AccessToken)

	p := pipeline.New(spec)

	project, err := gitsync.ProjectName(spec.RepoURL)
	if err != nil {
		return nil, nil, "", nil, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, "", nil, err
	}
	logPath := filepath.Join(home, ".gitship", "logs", fmt.Sprintf("%s-%s.log", project, p.RunID()))
	closeLog, err := logger.TeeToFile(logPath)
	if err != nil {
		return nil, nil, "", nil, err
	}

	cleanup := func() { _ = closeLog() }
	return p, spec, logPath, cleanup, nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	p, _, logPath, done, err := prepareRun()
	if err != nil {
		return err
	}
	defer done()

	summary, err := p.Deploy(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("%s %s deployed\n", green("✓"), bold(summary.Project))
	fmt.Printf("  %s %s\n", bold("URL:"), cyan(summary.URL))
	fmt.Printf("  %s port 80 -> 127.0.0.1:%d\n", bold("Proxy:"), summary.ContainerPort)
	if summary.Report.PublicProbe == validate.ProbeWarned {
		fmt.Printf("  %s public URL not reachable from here yet (firewall or DNS may need time)\n", yellow("!"))
	}
	fmt.Printf("  %s %s\n", bold("Log:"), logPath)
	return nil
}
