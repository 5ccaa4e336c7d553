package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gitship/internal/pipeline"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

var (
	cleanupFlag    bool
	nonInteractive bool
	verbose        bool
)

// rootCmd runs the full deploy pipeline when invoked without a subcommand;
// --cleanup switches to teardown.
var rootCmd = &cobra.Command{
	Use:   "gitship",
	Short: "Deploy a git repository to a VPS with Docker and nginx",
	Long: fmt.Sprintf(`%s

Clones or updates a git repository, provisions the target host with Docker,
Docker Compose and nginx, mirrors the project tree over, builds and starts
the containers and routes port 80 to the application.

%s
  %s         run the full deploy pipeline
  %s   tear down a previous deployment
`,
		bold("gitship: git-to-VPS deployment pipeline"),
		bold("Usage:"),
		cyan("gitship"),
		cyan("gitship --cleanup"),
	),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupFlag {
			return runCleanup(cmd, args)
		}
		return runDeploy(cmd, args)
	},
}

// Execute runs the root command and maps failures to their distinct exit
// statuses.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		code := pipeline.ExitCode(err)
		if ctx.Err() != nil {
			fmt.Printf("\n%s deployment interrupted\n", yellow("!"))
			code = 130
		}
		fmt.Printf("%s %v (exit %d)\n", red("✗"), err, code)
		stop()
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cleanupFlag, "cleanup", false, "tear down the deployment instead of creating it")
	rootCmd.PersistentFlags().BoolVarP(&nonInteractive, "yes", "y", false, "never prompt; fail if required values are missing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log remote command lines")
}
