package dto

// CreateExportRequest queues an audit-trail export for a document.
type CreateExportRequest struct {
	Format string `json:"format" binding:"required,oneof=csv pdf"`
	Title  string `json:"title,omitempty"`
}

// ExportStatusResponse reports job progress to polling clients.
type ExportStatusResponse struct {
	ID           string  `json:"id"`
	DocumentID   string  `json:"document_id"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	ResultURL    *string `json:"result_url,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}
