package models

import "time"

// Export job states.
const (
	ExportStatusPending   = "PENDING"
	ExportStatusCompleted = "COMPLETED"
	ExportStatusFailed    = "FAILED"
)

// Export output formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// AuditExport tracks one requested audit-trail export.
type AuditExport struct {
	ID          string      `json:"id"`
	Format      string      `json:"format"`
	Filter      AuditFilter `json:"-"`
	Status      string      `json:"status"`
	FilePath    string      `json:"-"`
	Error       string      `json:"error,omitempty"`
	RequestedBy string      `json:"requested_by"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	DownloadURL string      `json:"download_url,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}
