package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/fleetsim/pkg/core"
)

// FleetExport is the root JSON structure of a recording
type FleetExport struct {
	SessionID    string       `json:"sessionId"`
	StartTime    string       `json:"startTime"`
	EndTime      string       `json:"endTime"`
	IntervalMs   int64        `json:"intervalMs"`
	HistoryLimit int          `json:"historyLimit"`
	EndTick      uint64       `json:"endTick"`
	Devices      []DeviceJSON `json:"devices"`
	Events       [][]any      `json:"events"`
}

// DeviceJSON is one device with its samples and final trail.
// Each position is [tick, lat, lng, speed, battery, status].
type DeviceJSON struct {
	ID        int                 `json:"id"`
	Name      string              `json:"name"`
	Status    core.Status         `json:"status"`
	Positions [][]any             `json:"positions"`
	History   []core.HistoryPoint `json:"history"`
}

// exportJSON writes the session data to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	outputPath := filepath.Join(b.cfg.OutputDir, ExportFileName(b.session.StartTime, b.cfg.CompressOutput))
	if err := WriteExport(outputPath, export, b.cfg.CompressOutput); err != nil {
		return err
	}

	b.lastExportPath = outputPath
	b.lastExportMeta = core.UploadMetadata{
		SessionID:     b.session.ID,
		StartTime:     b.session.StartTime,
		Duration:      b.ended.Sub(b.session.StartTime),
		Ticks:         export.EndTick,
		Devices:       len(export.Devices),
		HistoryPoints: b.historyPointsLocked(),
	}
	return nil
}

func (b *Backend) historyPointsLocked() int {
	if b.latest == nil {
		return 0
	}
	return b.latest.HistoryPoints()
}

func (b *Backend) buildExport() FleetExport {
	export := FleetExport{
		SessionID:    b.session.ID,
		StartTime:    FormatTime(b.session.StartTime),
		EndTime:      FormatTime(b.ended),
		IntervalMs:   b.session.Interval.Milliseconds(),
		HistoryLimit: b.session.HistoryLimit,
		EndTick:      b.tickLocked(),
		Devices:      make([]DeviceJSON, 0, len(b.order)),
		Events:       make([][]any, 0, len(b.events)),
	}

	for _, id := range b.order {
		rec := b.devices[id]
		device := DeviceJSON{
			ID:        rec.Entity.ID,
			Name:      rec.Entity.Name,
			Status:    rec.Entity.Status,
			Positions: make([][]any, 0, len(rec.Samples)),
			History:   []core.HistoryPoint{},
		}
		for _, s := range rec.Samples {
			device.Positions = append(device.Positions, []any{
				s.Tick,
				s.Position.Lat,
				s.Position.Lng,
				s.Speed,
				s.Battery,
				s.Status,
			})
		}
		if b.latest != nil {
			if h, ok := b.latest.History[id]; ok {
				device.History = core.CloneHistory(h)
			}
		}
		export.Devices = append(export.Devices, device)
	}

	// [tick, kind, entityId, pointId, name?]
	for _, ev := range b.events {
		row := []any{ev.Tick, string(ev.Kind), ev.EntityID, ev.PointID}
		if ev.Point != nil {
			row = append(row, ev.Point.Name)
		}
		export.Events = append(export.Events, row)
	}

	return export
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t the way export timestamps are written.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ExportFileName is the file name of a recording started at start.
func ExportFileName(start time.Time, compress bool) string {
	name := fmt.Sprintf("fleet_%s.json", start.Format("20060102_150405"))
	if compress {
		name += ".gz"
	}
	return name
}

// WriteExport writes export to path, creating the parent directory.
func WriteExport(path string, export FleetExport, compress bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if compress {
		return writeGzipJSON(path, export)
	}
	return writeJSON(path, export)
}

func writeJSON(path string, data FleetExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data FleetExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		_ = gzWriter.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gzWriter.Close()
}
