package domain

type ExportPhase string

const (
	ExportPreparing  ExportPhase = "preparing"
	ExportProcessing ExportPhase = "processing"
	ExportFinalizing ExportPhase = "finalizing"
	ExportComplete   ExportPhase = "complete"
)

type ExportProgress struct {
	Phase    ExportPhase `json:"phase"`
	Progress float64     `json:"progress"`
}

type ProgressFunc func(ExportProgress)

type ExportResult struct {
	Blob     *Blob
	MimeType string
	FileName string
	Duration float64
}
