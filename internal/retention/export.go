package retention

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"typetrace/internal/event"
	"typetrace/internal/logging"
	"typetrace/internal/store"
)

// ExportVersion is the envelope version of export artifacts.
const ExportVersion = 1

//go:embed session-export-v1.schema.json
var exportSchemaJSON string

var exportSchema = jsonschema.MustCompileString("session-export-v1.schema.json", exportSchemaJSON)

// ExportEnvelope is the JSON artifact produced for an export request.
type ExportEnvelope struct {
	Version     int                   `json:"version"`
	RequestID   string                `json:"request_id"`
	UserID      string                `json:"user_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Sessions    []event.SessionRecord `json:"sessions"`
}

// exporter renders export requests to downloadable artifacts in the
// background.
type exporter struct {
	dir    string
	store  *store.Store
	logger *logging.Logger
	audit  *logging.AuditLogger

	queue    chan string
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newExporter(dir string, s *store.Store, logger *logging.Logger, audit *logging.AuditLogger) *exporter {
	return &exporter{
		dir:    dir,
		store:  s,
		logger: logger.WithComponent("export"),
		audit:  audit,
		queue:  make(chan string, 64),
		stopCh: make(chan struct{}),
	}
}

func (e *exporter) start() {
	e.wg.Add(1)
	go e.run()
}

func (e *exporter) stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *exporter) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case id := <-e.queue:
			e.process(context.Background(), id)
		}
	}
}

func (e *exporter) enqueue(id string) {
	select {
	case e.queue <- id:
	default:
		go e.process(context.Background(), id)
	}
}

// process renders one export request. Requests cancelled while queued
// are skipped.
func (e *exporter) process(ctx context.Context, requestID string) {
	req, err := e.store.GetExportRequest(requestID)
	if err != nil {
		e.logger.Error("load export request", "request_id", requestID, "error", err)
		return
	}
	if req.Status != store.StatusPending {
		return
	}

	if err := e.store.UpdateExportRequest(requestID, store.StatusProcessing, "", ""); err != nil {
		e.logger.Error("mark export processing", "request_id", requestID, "error", err)
		return
	}

	path, err := e.render(req)
	if err != nil {
		e.logger.Error("render export", "request_id", requestID, "error", err)
		if uerr := e.store.UpdateExportRequest(requestID, store.StatusFailed, "", err.Error()); uerr != nil {
			e.logger.Error("mark export failed", "request_id", requestID, "error", uerr)
		}
		if e.audit != nil {
			e.audit.LogExport(ctx, logging.AuditEventExportCompleted, req.UserID, "", false,
				map[string]any{"request_id": requestID, "error": err.Error()})
		}
		return
	}

	if err := e.store.UpdateExportRequest(requestID, store.StatusCompleted, path, ""); err != nil {
		e.logger.Error("mark export completed", "request_id", requestID, "error", err)
		return
	}
	if e.audit != nil {
		e.audit.LogExport(ctx, logging.AuditEventExportCompleted, req.UserID, "", true,
			map[string]any{"request_id": requestID, "artifact": path})
	}
	e.logger.Info("export complete", "request_id", requestID, "artifact", path)
}

func (e *exporter) render(req *store.ExportRequest) (string, error) {
	sessions := make([]event.SessionRecord, 0, len(req.RecordingIDs))
	for _, id := range req.RecordingIDs {
		rec, err := e.store.GetSession(id)
		if err != nil {
			return "", fmt.Errorf("load recording %s: %w", id, err)
		}
		sessions = append(sessions, *rec)
	}

	if err := os.MkdirAll(e.dir, 0750); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	var data []byte
	var err error
	switch req.Format {
	case store.FormatCSV:
		data, err = renderCSV(sessions)
	default:
		data, err = renderJSON(req, sessions)
	}
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, fmt.Sprintf("export-%s.%s", req.ID, req.Format))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// renderJSON marshals the export envelope and validates it against the
// bundled schema before the artifact is written.
func renderJSON(req *store.ExportRequest, sessions []event.SessionRecord) ([]byte, error) {
	env := ExportEnvelope{
		Version:     ExportVersion,
		RequestID:   req.ID,
		UserID:      req.UserID,
		GeneratedAt: time.Now().UTC(),
		Sessions:    sessions,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("decode export for validation: %w", err)
	}
	if err := exportSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("export failed schema validation: %w", err)
	}
	return data, nil
}

// renderCSV writes one row per event, prefixed with session metadata.
func renderCSV(sessions []event.SessionRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"session_id", "subject_id", "document_id", "seq",
		"timestamp_ms", "kind", "caret_start", "caret_end", "payload", "is_paste"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, s := range sessions {
		for _, ev := range s.Events {
			row := []string{
				s.ID, s.SubjectID, s.DocumentID,
				strconv.FormatUint(ev.Seq, 10),
				strconv.FormatInt(ev.TimestampMs, 10),
				string(ev.Kind),
				strconv.Itoa(ev.CaretStart),
				strconv.Itoa(ev.CaretEnd),
				ev.Payload,
				strconv.FormatBool(ev.IsPaste),
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
