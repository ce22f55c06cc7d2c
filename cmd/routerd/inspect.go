package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vectorflow/conduit/internal/ledger"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <buffer-dir>",
		Short: "Print a disk buffer's ledger state",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	dir := args[0]
	path := filepath.Join(dir, ledger.FileName)
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "routerd: no ledger at %s", path)
	}

	logrus.WithField("path", path).Debug("opening ledger")
	led, err := ledger.Open(path)
	if err != nil {
		return errors.Wrap(err, "routerd: opening ledger")
	}
	defer led.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "writer_next_file_id\t%d\n", led.WriterNextFileID())
	fmt.Fprintf(w, "writer_next_record_id\t%d\n", led.WriterNextRecordID())
	fmt.Fprintf(w, "reader_current_file_id\t%d\n", led.ReaderCurrentFileID())
	if lastRead := led.ReaderLastReadRecordID(); lastRead == ledger.NoRecordRead {
		fmt.Fprintf(w, "reader_last_read_record_id\t(none)\n")
	} else {
		fmt.Fprintf(w, "reader_last_read_record_id\t%d\n", lastRead)
	}
	fmt.Fprintf(w, "total_records\t%d\n", led.TotalRecords())
	fmt.Fprintf(w, "total_buffer_bytes\t%d\n", led.TotalBufferBytes())
	if lastFlush := led.LastFlush(); !lastFlush.IsZero() {
		fmt.Fprintf(w, "last_flush\t%s\n", lastFlush.Format("2006-01-02T15:04:05Z07:00"))
	}
	return w.Flush()
}
