// Package storage persists packet records to ClickHouse for later
// querying. Optional record groups land in Nullable columns so the
// presence semantics of the canonical shape survive storage.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"PacketLens/internal/config"
	"PacketLens/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS packet_records (
    Number       UInt64,
    Timestamp    String,
    Length       UInt32,
    Layers       Array(String),
    Protocol     String,
    SrcMAC       Nullable(String),
    DstMAC       Nullable(String),
    SrcIP        Nullable(String),
    DstIP        Nullable(String),
    IsIPv6       Nullable(UInt8),
    TTL          Nullable(Int32),
    SrcPort      Nullable(UInt16),
    DstPort      Nullable(UInt16),
    TCPFlags     Array(String),
    ARPSenderIP  Nullable(String),
    ARPSenderMAC Nullable(String),
    ARPTargetIP  Nullable(String),
    ARPTargetMAC Nullable(String),
    ARPType      Nullable(String),
    AppName      Nullable(String),
    AppDetails   String,
    RawHex       String
) ENGINE = MergeTree()
ORDER BY (Protocol, Number);
`

// ClickHouseWriter batches packet records into the packet_records table.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter connects to ClickHouse and ensures the record
// table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Info("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// WriteBatch inserts records in one batch. An empty slice is a no-op.
func (w *ClickHouseWriter) WriteBatch(ctx context.Context, records []model.PacketRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO packet_records")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i := range records {
		if err := appendRecord(batch, &records[i]); err != nil {
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Infof("Wrote %d packet records to ClickHouse", len(records))
	return nil
}

// Close closes the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

func appendRecord(batch driver.Batch, rec *model.PacketRecord) error {
	var srcMAC, dstMAC any
	var srcIP, dstIP, isIPv6, ttl any
	var srcPort, dstPort any
	var arpSenderIP, arpSenderMAC, arpTargetIP, arpTargetMAC, arpType any
	var appName any
	var appDetails string
	tcpFlags := []string{}

	if eth := rec.Ethernet; eth != nil {
		srcMAC, dstMAC = eth.SrcMAC, eth.DstMAC
	}
	if network := rec.Network; network != nil {
		srcIP, dstIP = network.SrcIP, network.DstIP
		isIPv6 = boolToUint8(network.IsIPv6)
		if network.TTL != nil {
			ttl = int32(*network.TTL)
		}
	}
	if transport := rec.Transport; transport != nil {
		srcPort = uint16(transport.SrcPort)
		dstPort = uint16(transport.DstPort)
		if transport.TCPFlags != nil {
			tcpFlags = transport.TCPFlags
		}
	}
	if arp := rec.ARP; arp != nil {
		arpSenderIP, arpSenderMAC = arp.SenderIP, arp.SenderMAC
		arpTargetIP, arpTargetMAC = arp.TargetIP, arp.TargetMAC
		arpType = arp.Type
	}
	if app := rec.Application; app != nil {
		appName = app.Name
		if data, err := json.Marshal(app.Details); err == nil {
			appDetails = string(data)
		}
	}

	layers := rec.Layers
	if layers == nil {
		layers = []string{}
	}

	return batch.Append(
		uint64(rec.Number),
		rec.Timestamp,
		uint32(rec.Length),
		layers,
		rec.Protocol,
		srcMAC, dstMAC,
		srcIP, dstIP, isIPv6, ttl,
		srcPort, dstPort, tcpFlags,
		arpSenderIP, arpSenderMAC, arpTargetIP, arpTargetMAC, arpType,
		appName, appDetails,
		rec.RawHex,
	)
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
