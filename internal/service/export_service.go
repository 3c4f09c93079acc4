package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
	"github.com/LilT0ny/BlindCheckSystem/pkg/export"
)

type requestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.RegradeRequest, error)
}

// ExportFile is a rendered report ready for download.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ExportService renders dean-facing reports of regrade requests. Parties
// appear under their pseudonyms only: exported files leave the system, so
// they must not carry identities even for deans.
type ExportService struct {
	requests requestLister
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	enabled  bool
	logger   *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(requests requestLister, csv *export.CSVExporter, pdf *export.PDFExporter, enabled bool, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{requests: requests, csv: csv, pdf: pdf, enabled: enabled, logger: logger}
}

// Requests renders the request ledger in the given format ("csv" or "pdf"),
// optionally restricted to one status.
func (s *ExportService) Requests(ctx context.Context, actor models.AuthContext, format string, status *models.RequestStatus) (*ExportFile, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may export reports")
	}
	if !s.enabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled")
	}

	requests, err := s.requests.List(ctx, models.RequestFilter{Status: status})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}

	dataset := buildRequestDataset(requests)

	switch format {
	case "csv":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportFile{FileName: "regrade_requests.csv", ContentType: "text/csv", Content: content}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, "Regrade Requests")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportFile{FileName: "regrade_requests.pdf", ContentType: "application/pdf", Content: content}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func buildRequestDataset(requests []models.RegradeRequest) export.Dataset {
	headers := []string{"ID", "Student", "Subject", "Group", "Component", "Original Grade", "Status", "Reviewer", "New Grade", "Created At"}
	rows := make([]map[string]string, 0, len(requests))
	for i := range requests {
		request := &requests[i]
		row := map[string]string{
			"ID":             request.ID,
			"Student":        vault.Pseudonym(request.StudentID, models.RoleStudent.Label()),
			"Subject":        request.SubjectCode,
			"Group":          request.GroupName,
			"Component":      request.Component,
			"Original Grade": fmt.Sprintf("%.2f", request.OriginalGrade),
			"Status":         string(request.Status),
			"Created At":     request.CreatedAt.Format("2006-01-02 15:04"),
		}
		if request.ReviewerID != nil {
			row["Reviewer"] = vault.Pseudonym(*request.ReviewerID, models.RoleInstructor.Label())
		}
		if request.NewGrade != nil {
			row["New Grade"] = fmt.Sprintf("%.2f", *request.NewGrade)
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
