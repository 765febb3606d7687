package storage

import "campaign-spend/models"

// Summary is one computed view ready for export.
type Summary struct {
	View  string
	Title string
	Table models.Table
}

// SummaryWriter is the interface any export backend must satisfy.
type SummaryWriter interface {
	Write(summaries []Summary) error
	Close() error
}
