// cmd/librarian/main.go
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"libracatalog/internal/catalog"
	"libracatalog/internal/clients"
	"libracatalog/internal/config"
	"libracatalog/internal/shell"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		server string
		seed   bool
		days   int
		prompt string
	)

	cmd := &cobra.Command{
		Use:   "librarian",
		Short: "Interactive shell for the library catalog",
		Long: `librarian reads catalog commands from standard input.

Without --server it keeps the catalog in memory for the length of the
session. With --server (or CATALOG_SERVICE_URL) every command is sent to
a running catalog service.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("server") {
				server = cfg.CatalogServiceURL
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Policy.LoanDays
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			svc, err := openCatalog(cfg, server)
			if err != nil {
				return err
			}
			if seed {
				if err := shell.Seed(ctx, svc); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Library catalog. Type 'help' for commands.")
			sh := shell.New(svc, out, shell.WithLoanDays(days), shell.WithPrompt(prompt))
			return sh.Run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "base URL of a catalog service (default in-memory)")
	cmd.Flags().BoolVar(&seed, "seed", false, "add the demo collection before reading commands")
	cmd.Flags().IntVar(&days, "days", 0, "default loan period for checkout")
	cmd.Flags().StringVar(&prompt, "prompt", "> ", "prompt printed before each command")
	return cmd
}

func openCatalog(cfg config.Config, server string) (catalog.Service, error) {
	if server != "" {
		return clients.NewCatalogClient(server), nil
	}
	return catalog.NewService(
		catalog.WithPolicy(cfg.Policy),
		catalog.WithLogger(cfg.NewLogger()),
	)
}
