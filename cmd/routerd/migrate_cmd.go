package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vectorflow/conduit/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <src-dir> <dst-dir>",
		Short: "One-shot conversion of a legacy (v1) disk buffer to v2",
		Long:  "Reads a legacy ledger/data-file layout from src-dir and writes an equivalent v2 buffer.db and data files to dst-dir, which must not already hold a ledger.",
		Args:  cobra.ExactArgs(2),
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]
	logrus.WithFields(logrus.Fields{"src": src, "dst": dst}).Info("migrating legacy buffer")

	report, err := migrate.MigrateV1ToV2(src, dst)
	if err != nil {
		return errors.Wrap(err, "routerd: migration failed")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "migrated %d records across %d data file(s), %d bytes carried\n",
		report.RecordsCarried, report.DataFilesCopied, report.BufferBytesCarried)
	return nil
}
