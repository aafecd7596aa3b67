package main

import (
	"os"

	"github.com/mahaj/travelchat/pkg/config"
	"github.com/mahaj/travelchat/pkg/db"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Create or drop the chat schema in ScyllaDB",
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create the keyspace and every table that does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := db.NewSession(cfg.ScyllaHosts, "system", logger)
			if err != nil {
				return err
			}
			err = db.CreateKeyspace(sys, cfg.Keyspace)
			sys.Close()
			if err != nil {
				return err
			}

			session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
			if err != nil {
				return err
			}
			defer session.Close()
			if err := db.CreateSchema(session); err != nil {
				return err
			}
			logger.Info("Schema created", zap.String("keyspace", cfg.Keyspace), zap.Int("tables", len(db.Tables)))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Drop every table of the chat schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
			if err != nil {
				return err
			}
			defer session.Close()
			logger.Info("Dropping tables", zap.String("keyspace", cfg.Keyspace))
			if err := db.DropSchema(session); err != nil {
				return err
			}
			logger.Info("Tables dropped successfully")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
