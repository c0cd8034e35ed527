// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// sagactl is the operator CLI for saga storage: inspect stranded sagas and
// run schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/innovationmech/sagakit/pkg/logger"
	"github.com/innovationmech/sagakit/pkg/saga"
	"github.com/innovationmech/sagakit/pkg/saga/config"
	"github.com/innovationmech/sagakit/pkg/saga/storage"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "sagactl",
		Short:        "Inspect and manage saga storage",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return logger.InitWithOptions(cfg.Logging.Level, cfg.Logging.Development)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(newSagasCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func openStore() (saga.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.BuildStore()
}

func newSagasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sagas",
		Short: "Inspect stored saga instances",
	}
	cmd.AddCommand(newSagasListCmd(), newSagasShowCmd())
	return cmd
}

func newSagasListCmd() *cobra.Command {
	var statusName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sagas in a given status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := saga.ParseStatus(statusName)
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			entities, err := store.FindByStatus(context.Background(), status)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SAGA ID\tTYPE\tSTATUS\tSTEP\tUPDATED")
			for _, e := range entities {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					e.SagaID, e.SagaType, e.Status, e.CurrentStepIndex,
					e.UpdatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&statusName, "status", "s", saga.StatusInProgress.String(), "saga status to list")
	return cmd
}

func newSagasShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <saga-id>",
		Short: "Show one saga, including its context data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid saga id %q: %w", args[0], err)
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			entity, err := store.FindByID(context.Background(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Saga ID:    %s\n", entity.SagaID)
			fmt.Fprintf(out, "Type:       %s\n", entity.SagaType)
			fmt.Fprintf(out, "Status:     %s\n", entity.Status)
			fmt.Fprintf(out, "Step index: %d\n", entity.CurrentStepIndex)
			fmt.Fprintf(out, "Token:      %d\n", entity.ConcurrencyToken)
			fmt.Fprintf(out, "Created:    %s\n", entity.CreatedAt)
			fmt.Fprintf(out, "Updated:    %s\n", entity.UpdatedAt)
			fmt.Fprintf(out, "Context:    %s\n", entity.ContextData)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the sagas table (mysql driver)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.DriverMySQL {
				return fmt.Errorf("migrate requires the mysql storage driver, got %q", cfg.Storage.Driver)
			}

			store, err := storage.NewMySQLStore(cfg.Storage.DSN)
			if err != nil {
				return err
			}
			if err := store.Migrate(context.Background()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}
