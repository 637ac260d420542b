package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openscholar/journal-api/internal/models"
	appErrors "github.com/openscholar/journal-api/pkg/errors"
	"github.com/openscholar/journal-api/pkg/export"
	"github.com/openscholar/journal-api/pkg/jobs"
	"github.com/openscholar/journal-api/pkg/storage"
)

type auditLister interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
}

// AuditExportConfig defines configuration for audit trail exports.
type AuditExportConfig struct {
	Workers      int
	DownloadPath string
}

// AuditExportService renders audit trail extracts to CSV or PDF in the
// background and hands out signed download links. Job metadata lives in
// memory only; a restart forgets unfinished jobs, and the files themselves
// are reaped by the storage cleanup.
type AuditExportService struct {
	audit  auditLister
	store  *storage.LocalStorage
	signer *storage.SignedURLSigner
	queue  *jobs.Queue
	logger *zap.Logger
	config AuditExportConfig

	mu      sync.RWMutex
	exports map[string]*models.AuditExport

	csv *export.CSVExporter
	pdf *export.PDFExporter
}

// NewAuditExportService constructs an AuditExportService instance.
func NewAuditExportService(audit auditLister, store *storage.LocalStorage, signer *storage.SignedURLSigner, config AuditExportConfig, logger *zap.Logger) *AuditExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DownloadPath == "" {
		config.DownloadPath = "/admin/audit/exports/download"
	}
	s := &AuditExportService{
		audit:   audit,
		store:   store,
		signer:  signer,
		logger:  logger,
		config:  config,
		exports: make(map[string]*models.AuditExport),
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
	}
	s.queue = jobs.NewQueue("audit-export", s.run, jobs.QueueConfig{
		Workers:    config.Workers,
		MaxRetries: 1,
		Logger:     logger,
	})
	return s
}

// Start launches the export workers.
func (s *AuditExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the export workers.
func (s *AuditExportService) Stop() {
	s.queue.Stop()
}

// Request accepts an export job and queues it for rendering.
func (s *AuditExportService) Request(_ context.Context, requestedBy, format string, filter models.AuditFilter) (*models.AuditExport, error) {
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	job := &models.AuditExport{
		ID:          uuid.NewString(),
		Format:      format,
		Filter:      filter,
		Status:      models.ExportStatusPending,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.exports[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "audit-export"}); err != nil {
		s.mu.Lock()
		delete(s.exports, job.ID)
		s.mu.Unlock()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue export")
	}

	snapshot := *job
	return &snapshot, nil
}

// Get returns the current state of an export job.
func (s *AuditExportService) Get(_ context.Context, id string) (*models.AuditExport, error) {
	s.mu.RLock()
	job, ok := s.exports[id]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	snapshot := *job
	return &snapshot, nil
}

// Open validates a signed download token and returns the rendered file.
func (s *AuditExportService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link invalid or expired")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return file, relPath, nil
}

func (s *AuditExportService) run(ctx context.Context, job jobs.Job) error {
	s.mu.RLock()
	record, ok := s.exports[job.ID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	entries, err := s.audit.List(ctx, record.Filter)
	if err != nil {
		s.fail(job.ID, err)
		return nil
	}

	dataset := auditDataset(entries)
	var rendered []byte
	switch record.Format {
	case models.ExportFormatPDF:
		rendered, err = s.pdf.Render(dataset, "Audit trail")
	default:
		rendered, err = s.csv.Render(dataset)
	}
	if err != nil {
		s.fail(job.ID, err)
		return nil
	}

	filename := fmt.Sprintf("audit/%s.%s", job.ID, record.Format)
	relPath, err := s.store.Save(filename, rendered)
	if err != nil {
		s.fail(job.ID, err)
		return nil
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		s.fail(job.ID, err)
		return nil
	}

	now := time.Now().UTC()
	s.mu.Lock()
	record.Status = models.ExportStatusCompleted
	record.FilePath = relPath
	record.CompletedAt = &now
	record.DownloadURL = fmt.Sprintf("%s?token=%s", s.config.DownloadPath, token)
	record.ExpiresAt = &expiresAt
	s.mu.Unlock()

	s.logger.Info("audit export completed",
		zap.String("export_id", job.ID),
		zap.String("format", record.Format),
		zap.Int("rows", len(entries)))
	return nil
}

func (s *AuditExportService) fail(id string, err error) {
	s.logger.Error("audit export failed", zap.String("export_id", id), zap.Error(err))
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.exports[id]; ok {
		record.Status = models.ExportStatusFailed
		record.Error = err.Error()
	}
}

func auditDataset(entries []models.AuditLog) export.Dataset {
	headers := []string{"Time", "User", "Action", "Resource", "IP", "Agent"}
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		userID := ""
		if e.UserID != nil {
			userID = *e.UserID
		}
		rows = append(rows, map[string]string{
			"Time":     e.CreatedAt.UTC().Format(time.RFC3339),
			"User":     userID,
			"Action":   e.Action,
			"Resource": e.Resource,
			"IP":       e.IPAddress,
			"Agent":    e.UserAgent,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
