package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rasha-hantash/locscout/steps/gapi"
	"google.golang.org/api/sheets/v4"
)

// Default spreadsheet titles used by Create.
const (
	PersonalTitle = "ロケハンデータベース"
	MasterTitle   = "ロケハンマスターDB"
)

const columnWidthPx = 150

// Create makes a new spreadsheet with the header row for the personal or
// master layout, styles the header and restricts the parking column to the
// canonical values. It returns the spreadsheet id.
func (s *Sink) Create(ctx context.Context, title string, master bool) (string, error) {
	header, parkingCol := personalHeader, personalParkingCol
	if master {
		header, parkingCol = masterHeader, masterParkingCol
	}
	if title == "" {
		title = PersonalTitle
		if master {
			title = MasterTitle
		}
	}

	ss := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
		Sheets: []*sheets.Sheet{{
			Properties: &sheets.SheetProperties{Title: SheetName},
			Data: []*sheets.GridData{{
				RowData: []*sheets.RowData{{Values: headerCells(header)}},
			}},
		}},
	}
	created, err := gapi.Retry(ctx, "create spreadsheet", func() (*sheets.Spreadsheet, error) {
		return s.sheets.Spreadsheets.Create(ss).Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}

	var sheetID int64
	if len(created.Sheets) > 0 && created.Sheets[0].Properties != nil {
		sheetID = created.Sheets[0].Properties.SheetId
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: FormatRequests(sheetID, len(header), parkingCol)}
	if _, err := gapi.Retry(ctx, "format spreadsheet", func() (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return s.sheets.Spreadsheets.BatchUpdate(created.SpreadsheetId, req).Context(ctx).Do()
	}); err != nil {
		return created.SpreadsheetId, fmt.Errorf("formatting spreadsheet %s: %w", created.SpreadsheetId, err)
	}

	slog.Info("created spreadsheet",
		slog.String("title", title),
		slog.String("id", created.SpreadsheetId),
		slog.Bool("master", master))
	return created.SpreadsheetId, nil
}

// FormatRequests styles the header row, sets column widths and adds the
// parking dropdown below the header.
func FormatRequests(sheetID int64, columns int, parkingCol int64) []*sheets.Request {
	grid := func(r *sheets.GridRange) *sheets.GridRange {
		r.SheetId = sheetID
		r.ForceSendFields = append(r.ForceSendFields, "SheetId")
		return r
	}

	choices := make([]*sheets.ConditionValue, 0, len(ParkingChoices))
	for _, c := range ParkingChoices {
		choices = append(choices, &sheets.ConditionValue{UserEnteredValue: c})
	}

	return []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: grid(&sheets.GridRange{StartRowIndex: 0, EndRowIndex: 1}),
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						BackgroundColor: &sheets.Color{Red: 0.2, Green: 0.4, Blue: 0.8},
						TextFormat: &sheets.TextFormat{
							ForegroundColor: &sheets.Color{Red: 1, Green: 1, Blue: 1},
							FontSize:        11,
							Bold:            true,
						},
					},
				},
				Fields: "userEnteredFormat(backgroundColor,textFormat)",
			},
		},
		{
			UpdateDimensionProperties: &sheets.UpdateDimensionPropertiesRequest{
				Range: &sheets.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "COLUMNS",
					StartIndex:      0,
					EndIndex:        int64(columns),
					ForceSendFields: []string{"SheetId"},
				},
				Properties: &sheets.DimensionProperties{PixelSize: columnWidthPx},
				Fields:     "pixelSize",
			},
		},
		{
			SetDataValidation: &sheets.SetDataValidationRequest{
				Range: grid(&sheets.GridRange{
					StartRowIndex:    1,
					StartColumnIndex: parkingCol,
					EndColumnIndex:   parkingCol + 1,
				}),
				Rule: &sheets.DataValidationRule{
					Condition: &sheets.BooleanCondition{
						Type:   "ONE_OF_LIST",
						Values: choices,
					},
					ShowCustomUi: true,
				},
			},
		},
	}
}

func headerCells(header []string) []*sheets.CellData {
	cells := make([]*sheets.CellData, 0, len(header))
	for _, h := range header {
		cells = append(cells, &sheets.CellData{UserEnteredValue: &sheets.ExtendedValue{StringValue: &h}})
	}
	return cells
}
