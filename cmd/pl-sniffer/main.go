package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PacketLens/internal/capture"
	"PacketLens/internal/export"
	"PacketLens/internal/model"
	"PacketLens/internal/normalize"
	"PacketLens/pkg/pcap"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "pl-sniffer",
		Usage: "Capture live packets or replay a pcap file, printing each frame as it arrives",
		Commands: []*cli.Command{
			{
				Name:   "live",
				Usage:  "Capture packets from a network interface",
				Action: runLive,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "interface",
						Aliases:  []string{"i"},
						Usage:    "Network interface to capture packets from",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"c"},
						Usage:   "Number of packets to capture (0 = until timeout)",
					},
					&cli.StringFlag{
						Name:    "filter",
						Aliases: []string{"f"},
						Usage:   "BPF capture filter expression",
					},
					&cli.IntFlag{
						Name:    "timeout",
						Aliases: []string{"t"},
						Value:   300,
						Usage:   "Session timeout in seconds",
					},
					&cli.Int32Flag{
						Name:    "snaplen",
						Aliases: []string{"s"},
						Value:   65535,
						Usage:   "Snap length for packet capture",
					},
					&cli.StringFlag{
						Name:    "export",
						Aliases: []string{"o"},
						Usage:   "Write captured records to this JSON file",
					},
				},
			},
			{
				Name:   "read",
				Usage:  "Replay and print a recorded pcap file",
				Action: runRead,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"r"},
						Usage:    "pcap file to read",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "filter",
						Aliases: []string{"f"},
						Usage:   "BPF capture filter expression",
					},
					&cli.StringFlag{
						Name:    "export",
						Aliases: []string{"o"},
						Usage:   "Write records to this JSON file",
					},
				},
			},
			{
				Name:   "interfaces",
				Usage:  "List capture-capable interfaces",
				Action: runInterfaces,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func runLive(ctx context.Context, cmd *cli.Command) error {
	engine := capture.NewLiveEngine()
	engine.SnapshotLen = cmd.Int32("snaplen")

	session := capture.NewSession(capture.Config{
		Interface:     cmd.String("interface"),
		PacketCount:   cmd.Int("count"),
		DisplayFilter: cmd.String("filter"),
		Timeout:       time.Duration(cmd.Int("timeout")) * time.Second,
	}, engine)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Info("Stop requested, finishing up...")
		session.Stop()
	}()

	var records []model.PacketRecord
	exportPath := cmd.String("export")

	stats, err := session.Start(func(frame capture.Frame, number int) error {
		rec := normalize.Normalize(frame, number)
		fmt.Println(normalize.FormatText(rec))
		if exportPath != "" {
			records = append(records, *rec)
		}
		return nil
	}, func(status string) {
		log.Info(status)
	})
	if err != nil {
		return err
	}

	printStats(stats)
	if exportPath != "" {
		if err := export.Export(exportPath, records); err != nil {
			return err
		}
		log.Infof("Exported %d records to %s", len(records), exportPath)
	}
	if stats.Error != "" {
		return fmt.Errorf("capture ended with error: %s", stats.Error)
	}
	return nil
}

func runRead(ctx context.Context, cmd *cli.Command) error {
	reader, err := pcap.NewReader(cmd.String("file"), cmd.String("filter"))
	if err != nil {
		return err
	}
	defer reader.Close()

	out := make(chan *model.PacketRecord, 64)
	go reader.ReadRecords(out)

	var records []model.PacketRecord
	exportPath := cmd.String("export")
	count := 0
	for rec := range out {
		count++
		fmt.Println(normalize.FormatText(rec))
		if exportPath != "" {
			records = append(records, *rec)
		}
	}
	log.Infof("Read %d packets", count)

	if exportPath != "" {
		if err := export.Export(exportPath, records); err != nil {
			return err
		}
		log.Infof("Exported %d records to %s", len(records), exportPath)
	}
	return nil
}

func runInterfaces(ctx context.Context, cmd *cli.Command) error {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		line := iface.Display
		if len(iface.Addresses) > 0 {
			line = fmt.Sprintf("%s %v", line, iface.Addresses)
		}
		fmt.Println(line)
	}
	return nil
}

func printStats(stats *capture.Stats) {
	switch {
	case stats.StoppedByTimeout:
		log.Infof("Capture timed out after %.1fs with %d packets", stats.ElapsedTime, stats.PacketsCaptured)
	case stats.StoppedByUser:
		log.Infof("Capture stopped by user after %.1fs with %d packets", stats.ElapsedTime, stats.PacketsCaptured)
	default:
		log.Infof("Capture finished in %.1fs with %d packets", stats.ElapsedTime, stats.PacketsCaptured)
	}
}
