package sink

import (
	"fmt"
	"strings"

	"github.com/rasha-hantash/locscout/steps/types"
)

// SheetName is the tab every row block is appended to.
const SheetName = "ロケハンDB"

const (
	personalRange = SheetName + "!A:K"
	masterRange   = SheetName + "!A:L"
	// dedupRange is the identifying-URL column of the master layout.
	dedupRange = SheetName + "!C:C"

	personalWidth = 11
	masterWidth   = 12

	sourceLabel     = "└ソース"
	timestampLayout = "2006/01/02 15:04:05"
)

var (
	personalHeader = []string{"登録日時", "URL", "場所名", "住所", "電車アクセス", "車アクセス", "駐車場", "電話番号", "スライドURL"}
	masterHeader   = append([]string{"登録者"}, personalHeader...)
)

// Column positions of the parking field, used by the validation rule.
const (
	personalParkingCol int64 = 6
	masterParkingCol   int64 = 7
)

// ParkingChoices are offered by the parking column's validation rule.
var ParkingChoices = []string{types.ParkingFree, types.ParkingAvailable + " - 有料", types.ParkingUnavailable, types.NotRecorded}

// PersonalRows formats the two-row block for a personal spreadsheet:
// a data row under personalHeader and an indented source row.
func PersonalRows(rec *types.LocationRecord, slideURL, timestamp string) [][]any {
	data := []any{
		timestamp,
		rec.SourceURL,
		rec.LocationName,
		rec.Address,
		rec.TrainAccess,
		rec.CarAccess,
		rec.ParkingInfo,
		rec.PhoneNumber,
		slideURL,
	}
	source := []any{
		sourceLabel,
		pageTitle(rec),
		hyperlink(rec.SourceURL),
		rec.SourceInfo.PageDescription,
		rec.SourceInfo.ExtractedFrom,
	}
	return [][]any{pad(data, personalWidth), pad(source, personalWidth)}
}

// MasterRows formats the two-row block for the shared master spreadsheet.
// Column C holds the source URL that duplicate checks match against.
func MasterRows(rec *types.LocationRecord, slideURL, timestamp, user string) [][]any {
	if user == "" {
		user = types.NotRecorded
	}
	data := []any{
		user,
		timestamp,
		rec.SourceURL,
		rec.LocationName,
		rec.Address,
		rec.TrainAccess,
		rec.CarAccess,
		rec.ParkingInfo,
		rec.PhoneNumber,
		slideURL,
	}
	source := []any{
		sourceLabel,
		"",
		pageTitle(rec),
		hyperlink(rec.SourceURL),
		rec.SourceInfo.PageDescription,
		rec.SourceInfo.ExtractedFrom,
	}
	return [][]any{pad(data, masterWidth), pad(source, masterWidth)}
}

func pageTitle(rec *types.LocationRecord) string {
	if t := rec.SourceInfo.PageTitle; t != "" && t != types.NotRecorded {
		return t
	}
	return rec.SourceURL
}

// hyperlink renders a HYPERLINK formula. Quotes are doubled as Sheets
// formulas require.
func hyperlink(u string) string {
	return fmt.Sprintf(`=HYPERLINK("%s", "リンク")`, strings.ReplaceAll(u, `"`, `""`))
}

func pad(row []any, width int) []any {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}
