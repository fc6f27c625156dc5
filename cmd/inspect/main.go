package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"shm-chat/infrastructure/segment"
	"shm-chat/internal"
	"shm-chat/shm"

	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	SegmentName  string `envconfig:"SEGMENT_NAME" default:"default"`
	HistoryLimit int    `envconfig:"HISTORY_LIMIT" default:"50"`
	SegmentDir   string `envconfig:"SEGMENT_DIR"`
}

func main() {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		log.Fatal("config error: ", err)
	}
	view := flag.String("view", "all", "What to print: messages, clients, ring or all")
	limit := flag.Int("limit", config.HistoryLimit, "Number of messages to print")
	flag.Parse()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := segment.NewProvider(config.SegmentName, shm.Size, quiet)
	if config.SegmentDir != "" {
		provider = segment.NewProviderInDir(config.SegmentDir, config.SegmentName, shm.Size, quiet)
	}

	seg, err := provider.Open()
	if err != nil {
		log.Fatalf("Error while opening %s: %v", provider.Path(), err)
	}
	defer seg.Close()

	region, err := shm.Attach(seg.Bytes(), shm.WithLogger(quiet))
	if err != nil {
		log.Fatal("Error while attaching: ", err)
	}

	if err := render(os.Stdout, region, *view, *limit, time.Now()); err != nil {
		log.Fatal(err)
	}
}

// render prints the requested tables. It never writes to the region.
func render(w io.Writer, region *shm.Region, view string, limit int, now time.Time) error {
	all := view == "all"
	if all || view == "ring" {
		stats, err := region.Messages().Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "server running=%t pid=%d created=%s\n",
			region.ServerRunning(), region.CreatorPID(), region.CreatedAt().Local().Format(time.DateTime))
		fmt.Fprintf(w, "ring count=%d/%d read=%d write=%d sequence=%d clients=%d/%d broadcast_pending=%t\n\n",
			stats.Count, shm.CapacityM, stats.ReadIndex, stats.WriteIndex, stats.Sequence,
			region.Clients().Count(), shm.CapacityC, region.BroadcastPending())
	}
	if all || view == "clients" {
		records, err := region.Clients().Records()
		if err != nil {
			return err
		}
		printRows(w, internal.ClientRows(records, now))
	}
	if all || view == "messages" {
		head, messages, err := region.Messages().SnapshotWithHead(limit)
		if err != nil {
			return err
		}
		printRows(w, internal.MessageRows(messages, head.Seq))
	}
	return nil
}

func printRows(w io.Writer, rows []internal.InspectRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Slot", "Kind", "Timestamp", "Author", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, row := range rows {
		table.Append([]string{row.Slot, row.Kind, row.Timestamp, row.Author, row.Detail})
	}
	table.Render()
	fmt.Fprintln(w)
}
