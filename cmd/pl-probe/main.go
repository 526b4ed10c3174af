package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"PacketLens/internal/capture"
	"PacketLens/internal/config"
	"PacketLens/internal/model"
	"PacketLens/internal/normalize"
	"PacketLens/internal/probe"
	"PacketLens/internal/storage"

	log "github.com/sirupsen/logrus"
)

const flushInterval = 5 * time.Second

func main() {
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	filter := flag.String("filter", "", "BPF capture filter expression (pub mode).")
	count := flag.Int("count", 0, "Number of packets to capture, 0 = until timeout (pub mode).")
	timeout := flag.Int("timeout", 300, "Session timeout in seconds (pub mode).")
	store := flag.Bool("store", false, "Write received records to ClickHouse (sub mode).")
	configPath := flag.String("config", "", "Path to YAML config file (optional).")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}

	switch *mode {
	case "pub":
		runPublisher(cfg, *iface, *filter, *count, *timeout)
	case "sub":
		runSubscriber(cfg, *store)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runPublisher captures live packets and publishes each normalized
// record to NATS.
func runPublisher(cfg *config.Config, iface, filter string, count, timeout int) {
	if iface == "" {
		log.Error("-iface flag is required for pub mode.")
		flag.Usage()
		os.Exit(1)
	}

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	session := capture.NewSession(capture.Config{
		Interface:     iface,
		PacketCount:   count,
		DisplayFilter: filter,
		Timeout:       time.Duration(timeout) * time.Second,
	}, capture.NewLiveEngine())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Info("Shutdown signal received, stopping capture...")
		session.Stop()
	}()

	published := 0
	stats, err := session.Start(func(frame capture.Frame, number int) error {
		rec := normalize.Normalize(frame, number)
		if err := pub.Publish(rec); err != nil {
			log.Errorf("Failed to publish record: %v", err)
			return nil
		}
		published++
		if published%1000 == 0 {
			log.Infof("%d records published...", published)
		}
		return nil
	}, func(status string) {
		log.Info(status)
	})
	if err != nil {
		log.Fatalf("Capture failed to start: %v", err)
	}
	log.Infof("Capture ended: %d packets in %.1fs (published %d)", stats.PacketsCaptured, stats.ElapsedTime, published)
	if stats.Error != "" {
		log.Errorf("Capture ended with error: %s", stats.Error)
	}
}

// runSubscriber prints records received from NATS and optionally
// batches them into ClickHouse.
func runSubscriber(cfg *config.Config, store bool) {
	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	var writer *storage.ClickHouseWriter
	if store || cfg.Storage.Enabled {
		writer, err = storage.NewClickHouseWriter(cfg.Storage.ClickHouse)
		if err != nil {
			log.Fatalf("Failed to create ClickHouse writer: %v", err)
		}
		defer writer.Close()
	}

	var mu sync.Mutex
	var pending []model.PacketRecord

	handler := func(rec model.PacketRecord) {
		fmt.Println(normalize.FormatText(&rec))
		if writer != nil {
			mu.Lock()
			pending = append(pending, rec)
			mu.Unlock()
		}
	}

	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	flush := func() {
		if writer == nil {
			return
		}
		mu.Lock()
		batch := pending
		pending = nil
		mu.Unlock()
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushInterval)
		defer cancel()
		if err := writer.WriteBatch(ctx, batch); err != nil {
			log.Errorf("Failed to write batch: %v", err)
		}
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			flush()
		case <-sigCh:
			log.Info("Shutdown signal received, cleaning up...")
			flush()
			return
		}
	}
}
