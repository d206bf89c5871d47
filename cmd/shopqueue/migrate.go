package main

import (
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/storekit/shopqueue/settings"
	"github.com/storekit/shopqueue/store"
)

func newMigrateCommand(s settings.Settings) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			logger := log.NewLogfmtLogger(log.NewSyncWriter(cmd.ErrOrStderr()))
			st, err := store.Open(cmd.Context(), s.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if down {
				return st.Rollback(cmd.Context())
			}
			return st.Migrate(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the last migration")
	return cmd
}
