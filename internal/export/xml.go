package export

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

// ExportWifis streams a session's wifi observations into chunked upload XML
// files and returns the completed file paths. With anonymize set the SSID
// text is omitted; the MD5 digest and the BSSID are always preserved.
func (e *Exporter) ExportWifis(ctx context.Context, sessionID int64, anonymize bool) ([]string, error) {
	meta := e.sessionMeta(ctx, sessionID)

	cw, err := e.newChunkWriter(sessionID, "wifi", meta)
	if err != nil {
		return nil, err
	}

	for offset := 0; ; offset += e.windowSize {
		records, err := e.reader.WifisBySession(ctx, sessionID, offset, e.windowSize)
		if err != nil {
			return cw.abort(err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if err := cw.writeRecord(wifiElement(rec, anonymize)); err != nil {
				return cw.abort(err)
			}
		}
	}

	files, err := cw.finish()
	if err != nil {
		return files, err
	}
	for range files {
		e.metrics.IncExportFiles()
	}
	e.logger.Info("wifi export completed",
		"session_id", sessionID, "files", len(files))
	return files, nil
}

// ExportCells streams a session's cell observations into chunked upload XML
// files and returns the completed file paths.
func (e *Exporter) ExportCells(ctx context.Context, sessionID int64) ([]string, error) {
	meta := e.sessionMeta(ctx, sessionID)

	cw, err := e.newChunkWriter(sessionID, "cells", meta)
	if err != nil {
		return nil, err
	}

	for offset := 0; ; offset += e.windowSize {
		records, err := e.reader.CellsBySession(ctx, sessionID, offset, e.windowSize)
		if err != nil {
			return cw.abort(err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if err := cw.writeRecord(cellElement(rec)); err != nil {
				return cw.abort(err)
			}
		}
	}

	files, err := cw.finish()
	if err != nil {
		return files, err
	}
	for range files {
		e.metrics.IncExportFiles()
	}
	e.logger.Info("cell export completed",
		"session_id", sessionID, "files", len(files))
	return files, nil
}

// sessionMeta loads the descriptive log metadata; a missing row degrades to
// empty attributes rather than blocking the export.
func (e *Exporter) sessionMeta(ctx context.Context, sessionID int64) model.LogFileMeta {
	meta, err := e.reader.LogFileMetaBySession(ctx, sessionID)
	if err != nil {
		e.logger.Warn("no log metadata for session, exporting without device identity",
			"session_id", sessionID)
		return model.LogFileMeta{SessionID: sessionID}
	}
	return meta
}

// chunkWriter rotates upload XML files once recordsPerFile is reached.
// Every record is flushed as soon as it is written.
type chunkWriter struct {
	dir            string
	prefix         string
	header         string
	recordsPerFile int

	file  *os.File
	buf   *bufio.Writer
	count int
	index int
	paths []string
}

func (e *Exporter) newChunkWriter(sessionID int64, kind string, meta model.LogFileMeta) (*chunkWriter, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: ensure directory: %w", err)
	}

	header := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
			`<logfile manufacturer="%s" model="%s" revision="%s" swid="%s" swver="%s">`+"\n",
		xmlEscape(meta.Manufacturer),
		xmlEscape(meta.Model),
		xmlEscape(meta.Revision),
		xmlEscape(meta.SoftwareID),
		xmlEscape(e.version),
	)

	return &chunkWriter{
		dir:            e.dir,
		prefix:         fmt.Sprintf("%d_%s_%s", sessionID, kind, uuid.NewString()),
		header:         header,
		recordsPerFile: e.recordsPerFile,
	}, nil
}

func (c *chunkWriter) open() error {
	path := filepath.Join(c.dir, fmt.Sprintf("%s_%03d.xml", c.prefix, c.index))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	c.file = file
	c.buf = bufio.NewWriter(file)
	c.count = 0
	if _, err := c.buf.WriteString(c.header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	return nil
}

func (c *chunkWriter) writeRecord(element string) error {
	if c.file == nil {
		if err := c.open(); err != nil {
			return err
		}
	}

	if _, err := c.buf.WriteString(element); err != nil {
		return fmt.Errorf("export: write record: %w", err)
	}
	// Durability over throughput: the file must survive a crash up to the
	// last completed record.
	if err := c.buf.Flush(); err != nil {
		return fmt.Errorf("export: flush record: %w", err)
	}

	c.count++
	if c.count >= c.recordsPerFile {
		return c.closeCurrent()
	}
	return nil
}

func (c *chunkWriter) closeCurrent() error {
	if c.file == nil {
		return nil
	}
	if _, err := c.buf.WriteString("</logfile>\n"); err != nil {
		return fmt.Errorf("export: write footer: %w", err)
	}
	if err := c.buf.Flush(); err != nil {
		return fmt.Errorf("export: flush footer: %w", err)
	}
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("export: close file: %w", err)
	}
	c.paths = append(c.paths, c.file.Name())
	c.file = nil
	c.buf = nil
	c.index++
	return nil
}

// finish closes the in-progress file and returns every completed path.
func (c *chunkWriter) finish() ([]string, error) {
	if err := c.closeCurrent(); err != nil {
		return c.paths, err
	}
	return c.paths, nil
}

// abort discards the file being written; already-completed chunks are kept
// and returned alongside the error.
func (c *chunkWriter) abort(err error) ([]string, error) {
	if c.file != nil {
		name := c.file.Name()
		_ = c.file.Close()
		_ = os.Remove(name)
		c.file = nil
		c.buf = nil
	}
	return c.paths, err
}

func wifiElement(rec storage.WifiRecord, anonymize bool) string {
	obs := rec.Observation
	var b strings.Builder
	b.WriteString("  <wifiap bssid=\"")
	b.WriteString(xmlEscape(obs.BSSID))
	b.WriteString("\" md5essid=\"")
	b.WriteString(obs.SSIDHash)
	b.WriteString("\"")
	if !anonymize {
		b.WriteString(" ssid=\"")
		b.WriteString(xmlEscape(obs.SSID))
		b.WriteString("\"")
	}
	fmt.Fprintf(&b, ` capa="%s" frequency="%d" level="%d" time="%s">`+"\n",
		xmlEscape(obs.Capabilities), obs.Frequency, obs.Level, CompactTimestamp(obs.Timestamp))
	b.WriteString(positionElement("gpsbegin", rec.Begin))
	b.WriteString(positionElement("gpsend", rec.End))
	b.WriteString("  </wifiap>\n")
	return b.String()
}

func cellElement(rec storage.CellRecord) string {
	obs := rec.Observation
	var b strings.Builder
	if obs.IsCDMA {
		fmt.Fprintf(&b,
			`  <cdmacell baseid="%d" networkid="%d" systemid="%d" operator="%s" opcode="%s" type="%d" serving="%d" neighbor="%d" dbm="%d" asu="%d" time="%s">`+"\n",
			obs.BaseID, obs.NetworkID, obs.SystemID,
			xmlEscape(obs.OperatorName), xmlEscape(obs.OperatorCode),
			obs.NetworkType, boolAttr(obs.IsServing), boolAttr(obs.IsNeighbor),
			obs.StrengthDBm, obs.StrengthASU, CompactTimestamp(obs.Timestamp))
	} else {
		fmt.Fprintf(&b,
			`  <gsmcell mcc="%s" mnc="%s" lac="%d" id="%d" logical="%d" psc="%d" rnc="%d" operator="%s" opcode="%s" type="%d" serving="%d" neighbor="%d" dbm="%d" asu="%d" time="%s">`+"\n",
			xmlEscape(obs.MCC), xmlEscape(obs.MNC), obs.Area,
			obs.ActualCellID, obs.LogicalCellID, obs.PSC, obs.UTRANRNC,
			xmlEscape(obs.OperatorName), xmlEscape(obs.OperatorCode),
			obs.NetworkType, boolAttr(obs.IsServing), boolAttr(obs.IsNeighbor),
			obs.StrengthDBm, obs.StrengthASU, CompactTimestamp(obs.Timestamp))
	}
	tag := "gsmcell"
	if obs.IsCDMA {
		tag = "cdmacell"
	}
	b.WriteString(positionElement("gpsbegin", rec.Begin))
	b.WriteString(positionElement("gpsend", rec.End))
	b.WriteString("  </" + tag + ">\n")
	return b.String()
}

func positionElement(tag string, pos model.Position) string {
	return fmt.Sprintf(
		`    <%s time="%s" lat="%.8f" lng="%.8f" alt="%.1f" acc="%.1f" hdg="%.1f" spe="%.1f"/>`+"\n",
		tag, CompactTimestamp(pos.Timestamp),
		pos.Latitude, pos.Longitude, pos.Altitude, pos.Accuracy, pos.Bearing, pos.Speed)
}

func boolAttr(value bool) int {
	if value {
		return 1
	}
	return 0
}

func xmlEscape(value string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(value)); err != nil {
		return ""
	}
	return b.String()
}
