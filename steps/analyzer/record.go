package analyzer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rasha-hantash/locscout/steps/types"
)

// ParseRecord decodes a completion body into a LocationRecord. The body must
// be a JSON object. Missing, null and empty fields become types.NotRecorded.
func ParseRecord(content string, page *types.PageContent) (*types.LocationRecord, error) {
	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("decoding completion body: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, types.ErrNotObject
	}

	source, _ := obj["sourceInfo"].(map[string]any)

	rec := &types.LocationRecord{
		LocationName: field(obj, "locationName"),
		Address:      field(obj, "address"),
		TrainAccess:  field(obj, "trainAccess"),
		CarAccess:    field(obj, "carAccess"),
		ParkingInfo:  NormalizeParking(field(obj, "parkingInfo")),
		PhoneNumber:  field(obj, "phoneNumber"),
		SourceInfo: types.SourceInfo{
			PageTitle:       fieldOr(source, "pageTitle", page.Title),
			PageURL:         fieldOr(source, "pageUrl", page.URL),
			PageDescription: fieldOr(source, "pageDescription", page.Meta["description"]),
			ExtractedFrom:   field(source, "extractedFrom"),
			DataQuality:     ParseQuality(field(source, "dataQuality")),
			ExtractedFields: list(source, "extractedFields"),
		},
		SourceURL: orSentinel(page.URL),
	}
	return rec, nil
}

func field(obj map[string]any, key string) string {
	return fieldOr(obj, key, "")
}

// fieldOr reads a string-like value. Arrays are joined with newlines so a
// list of routes survives as separate lines.
func fieldOr(obj map[string]any, key, fallback string) string {
	var s string
	switch v := obj[key].(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	case []any:
		var lines []string
		for _, item := range v {
			if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
				lines = append(lines, strings.TrimSpace(str))
			}
		}
		s = strings.Join(lines, "\n")
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		s = strings.TrimSpace(fallback)
	}
	return orSentinel(s)
}

func list(obj map[string]any, key string) []string {
	items, _ := obj[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orSentinel(s string) string {
	if s == "" {
		return types.NotRecorded
	}
	return s
}

// ParseQuality maps the model's 高/中/低 (or the English words) to a
// DataQuality. Anything else is low.
func ParseQuality(s string) types.DataQuality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "高", "high":
		return types.QualityHigh
	case "中", "medium":
		return types.QualityMedium
	default:
		return types.QualityLow
	}
}

// NormalizeParking coerces free-form parking text into one of the canonical
// shapes: 有り - 無料, 有り - <rate>, 無し or 記載無し.
func NormalizeParking(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "null"):
		return types.NotRecorded
	case s == types.ParkingFree || s == types.ParkingUnavailable || s == types.NotRecorded:
		return s
	case strings.HasPrefix(s, types.ParkingAvailable+" - ") && len(s) > len(types.ParkingAvailable+" - "):
		return s
	case strings.Contains(s, "記載無し"), strings.Contains(s, "記載なし"), strings.Contains(s, "不明"):
		return types.NotRecorded
	case noParking(s):
		return types.ParkingUnavailable
	case strings.HasPrefix(s, "有料"):
		return types.ParkingAvailable + " - " + s
	case strings.Contains(s, "無料") && !strings.Contains(s, "無料では") && !strings.Contains(s, "無料じゃ"):
		return types.ParkingFree
	}

	for _, prefix := range []string{types.ParkingAvailable, "あり"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			rest = strings.TrimLeft(rest, " 　-－:：、,（(")
			rest = strings.TrimRight(rest, "）)")
			if rest == "" {
				return types.ParkingAvailable + " - " + types.NotRecorded
			}
			return types.ParkingAvailable + " - " + rest
		}
	}

	switch {
	case strings.Contains(s, "円"), strings.Contains(s, "台"), strings.Contains(s, "有料"),
		strings.Contains(s, "あり"), strings.Contains(s, "有り"):
		return types.ParkingAvailable + " - " + s
	case strings.Contains(s, "無し"), strings.Contains(s, "なし"):
		return types.ParkingUnavailable
	}
	return types.NotRecorded
}

// noParking reports text that says the venue has no parking at all. A
// negation inside a clause, as in 無料ではありません, does not count.
func noParking(s string) bool {
	t := strings.TrimRight(s, "。.!！ 　")
	switch {
	case t == "無", t == "無し", t == "なし", t == "ありません":
		return true
	case strings.HasPrefix(t, "無し"), strings.HasPrefix(t, "なし"):
		return true
	case strings.HasSuffix(t, "無し"), strings.HasSuffix(t, "なし"):
		return true
	}
	for _, phrase := range []string{"駐車場はありません", "駐車場がありません", "駐車場はございません", "駐車場なし", "駐車場無し"} {
		if strings.HasPrefix(t, phrase) {
			return true
		}
	}
	return false
}
