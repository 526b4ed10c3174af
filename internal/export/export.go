// Package export reads and writes packet record collections as JSON
// files, preserving the canonical wire shape verbatim for round-trip
// compatibility.
package export

import (
	"encoding/json"
	"fmt"
	"os"

	"PacketLens/internal/model"
)

// Export writes records to path as indented JSON.
func Export(path string, records []model.PacketRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// Import reads a record collection previously written by Export.
func Import(path string) ([]model.PacketRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	var records []model.PacketRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("invalid JSON file: %w", err)
	}
	return records, nil
}
