package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type auditResultRow struct {
	AssetId     int             `json:"asset_id"`
	AssetTitle  string          `json:"asset_title"`
	AssetValue  decimal.Decimal `json:"asset_value"`
	Expected    bool            `json:"expected"`
	Status      string          `json:"status"`
	ScannedAt   *time.Time      `json:"scanned_at"`
	ScannedById *int            `json:"scanned_by_id"`
	ScannerName *string         `json:"scanner_name"`
}

func getAuditResultRows(ctx context.Context, organizationId string, sessionId int) ([]*auditResultRow, error) {

	sql := `
SELECT
    audit_assets.asset_id,
    assets.title AS asset_title,
    assets.value AS asset_value,
    audit_assets.expected,
    audit_assets.status,
    audit_assets.scanned_at,
    audit_assets.scanned_by_id,
    users.name AS scanner_name
FROM
    audit_assets
    JOIN assets ON assets.id = audit_assets.asset_id
    LEFT JOIN users ON users.id = audit_assets.scanned_by_id
WHERE
    audit_assets.organization_id = ?
    AND audit_assets.audit_session_id = ?
ORDER BY
    assets.title ASC, audit_assets.id ASC;
`

	var rows []*auditResultRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, organizationId, sessionId).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ExportAuditResults writes the session's per-asset outcomes as an XLSX
// workbook: a summary header with the four counters, then one row per asset.
func ExportAuditResults(ctx context.Context, w io.Writer, sessionId int) error {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return utils.ValidationError("organization id is required", nil)
	}

	session, err := models.GetAuditSession(ctx, sessionId)
	if err != nil {
		return err
	}

	rows, err := getAuditResultRows(ctx, organizationId, sessionId)
	if err != nil {
		return utils.WrapError(err, "unable to load audit results", map[string]any{"audit_session_id": sessionId})
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return utils.WrapError(err, "unable to create report sheet", nil)
	}

	// Summary header
	f.SetCellValue(sheet, "A1", session.Name)
	f.SetCellValue(sheet, "A2", "Status")
	f.SetCellValue(sheet, "B2", string(session.Status))
	f.SetCellValue(sheet, "A3", "Expected")
	f.SetCellValue(sheet, "B3", session.ExpectedAssetCount)
	f.SetCellValue(sheet, "A4", "Found")
	f.SetCellValue(sheet, "B4", session.FoundAssetCount)
	f.SetCellValue(sheet, "A5", "Missing")
	f.SetCellValue(sheet, "B5", session.MissingAssetCount)
	f.SetCellValue(sheet, "A6", "Unexpected")
	f.SetCellValue(sheet, "B6", session.UnexpectedAssetCount)
	f.SetCellValue(sheet, "A7", "Missing value total")
	f.SetCellValue(sheet, "B7", session.MissingValueTotal.String())

	// Column headers
	headerRow := 9
	headers := []string{"Asset", "Expected", "Status", "Scanned By", "Scanned At", "Value"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(sheet, cell, h)
	}

	for i, d := range rows {
		rowNo := headerRow + 1 + i
		f.SetCellValue(sheet, "A"+fmt.Sprint(rowNo), d.AssetTitle)
		f.SetCellValue(sheet, "B"+fmt.Sprint(rowNo), d.Expected)
		f.SetCellValue(sheet, "C"+fmt.Sprint(rowNo), d.Status)
		f.SetCellValue(sheet, "D"+fmt.Sprint(rowNo), utils.DereferencePtr(d.ScannerName, ""))
		if d.ScannedAt != nil {
			f.SetCellValue(sheet, "E"+fmt.Sprint(rowNo), d.ScannedAt.Format("2006-01-02 15:04"))
		}
		f.SetCellValue(sheet, "F"+fmt.Sprint(rowNo), d.AssetValue.String())
	}

	return f.Write(w)
}
