package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sadik-Sami/ToDo-DnD/config"
	"github.com/Sadik-Sami/ToDo-DnD/storage"
)

func initStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the task and user tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg)
			if cfg.StorageConnectionString == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			log.Info("storage init starting")
			if err := storage.CreateTables(cmd.Context(), cfg.StorageConnectionString, []string{cfg.TasksTable, cfg.UsersTable}); err != nil {
				return err
			}
			log.Info("storage init complete")
			return nil
		},
	}
}
