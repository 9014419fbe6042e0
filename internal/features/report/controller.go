package report

import (
	"encoding/json"
	"errors"
	"io"

	"roadwatch/internal/features/analyzer"
	"roadwatch/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ReportController struct {
	Service IngestionService
	Logger  *zap.Logger
}

func NewReportController(service IngestionService, logger *zap.Logger) *ReportController {
	return &ReportController{
		Service: service,
		Logger:  logger,
	}
}

type submitResponse struct {
	Success bool    `json:"success"`
	Report  *Report `json:"report,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// SubmitReport accepts a multipart submission with an image part and the
// draft fields, runs it through the ingestion pipeline and returns the
// persisted report.
func (ctrl *ReportController) SubmitReport(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(submitResponse{
			Success: false,
			Error:   "ValidationError: image is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(submitResponse{
			Success: false,
			Error:   "ValidationError: image could not be read",
		})
	}
	image, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(submitResponse{
			Success: false,
			Error:   "ValidationError: image could not be read",
		})
	}

	draft := &Report{
		ID:           c.FormValue("id"),
		Type:         c.FormValue("type"),
		Severity:     Severity(c.FormValue("severity")),
		Location:     c.FormValue("location"),
		Description:  c.FormValue("description"),
		ReportedDate: c.FormValue("reportedDate"),
		SubmittedBy:  submitterID(c),
	}

	if coordsRaw := c.FormValue("coords"); coordsRaw != "" {
		var coords []float64
		if err := json.Unmarshal([]byte(coordsRaw), &coords); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(submitResponse{
				Success: false,
				Error:   "ValidationError: coords must be a JSON [lat, lng] pair",
			})
		}
		draft.Coords = coords
	}

	created, err := ctrl.Service.Submit(c.UserContext(), draft, image, fileHeader.Filename)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(submitResponse{Success: true, Report: created})
}

// submitterID prefers the authenticated identity over the form field.
func submitterID(c *fiber.Ctx) string {
	if claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims); ok && claims.UserID != "" {
		return claims.UserID
	}
	return c.FormValue("user_id")
}

// GetReport returns a single report by its public id
func (ctrl *ReportController) GetReport(c *fiber.Ctx) error {
	found, err := ctrl.Service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(found)
}

// ListReports returns reports filtered by status/severity/type query params
func (ctrl *ReportController) ListReports(c *fiber.Ctx) error {
	filter := Filter{
		Status:   Status(c.Query("status")),
		Severity: Severity(c.Query("severity")),
		Type:     c.Query("type"),
	}

	reports, err := ctrl.Service.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	if reports == nil {
		reports = []Report{}
	}
	return c.JSON(reports)
}

type updateStatusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus is the triage surface: operators advance a report through
// the lifecycle. Illegal transitions are rejected by the store.
func (ctrl *ReportController) UpdateStatus(c *fiber.Ctx) error {
	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}
	if !req.Status.Valid() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": ErrInvalidTransition.Error(),
		})
	}

	updated, err := ctrl.Service.UpdateStatus(c.UserContext(), c.Params("id"), req.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// Reanalyze re-runs the analysis relay for a report stored without a result
func (ctrl *ReportController) Reanalyze(c *fiber.Ctx) error {
	updated, err := ctrl.Service.Reanalyze(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// ExportReports streams the filtered report list as xlsx or csv
func (ctrl *ReportController) ExportReports(c *fiber.Ctx) error {
	filter := Filter{
		Status:   Status(c.Query("status")),
		Severity: Severity(c.Query("severity")),
		Type:     c.Query("type"),
	}

	data, filename, err := ctrl.Service.Export(c.UserContext(), filter, c.Query("format"))
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(data)
}

// respondError maps the error taxonomy onto HTTP statuses. "Fix your
// input" failures are 4xx, "try again later" failures are 5xx.
func respondError(c *fiber.Ctx, err error) error {
	var ve *ValidationError

	switch {
	case errors.As(err, &ve), errors.Is(err, ErrInvalidImage):
		return c.Status(fiber.StatusBadRequest).JSON(submitResponse{Success: false, Error: err.Error()})
	case errors.Is(err, ErrPayloadTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(submitResponse{Success: false, Error: ErrPayloadTooLarge.Error()})
	case errors.Is(err, ErrDuplicateID):
		return c.Status(fiber.StatusConflict).JSON(submitResponse{Success: false, Error: ErrDuplicateID.Error()})
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrInvalidTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": ErrInvalidTransition.Error()})
	case errors.Is(err, ErrAlreadyAnalyzed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrAlreadyAnalyzed.Error()})
	case errors.Is(err, analyzer.ErrUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": analyzer.ErrUnavailable.Error()})
	case errors.Is(err, ErrStoreUnavailable):
		return c.Status(fiber.StatusInternalServerError).JSON(submitResponse{Success: false, Error: ErrStoreUnavailable.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(submitResponse{Success: false, Error: err.Error()})
	}
}
