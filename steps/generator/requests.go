package generator

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rasha-hantash/locscout/steps/types"
	"google.golang.org/api/slides/v1"
)

const fontSizePT = 10

// NewObjectID returns a Slides object id.
func NewObjectID() string {
	return "loc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type box struct {
	x, y, w, h float64
}

// ContentSlideRequests builds the batch that appends one location slide.
func ContentSlideRequests(rec *types.LocationRecord, newID func() string) []*slides.Request {
	slideID := newID()
	reqs := []*slides.Request{{
		CreateSlide: &slides.CreateSlideRequest{
			ObjectId:             slideID,
			SlideLayoutReference: &slides.LayoutReference{PredefinedLayout: "BLANK"},
		},
	}}

	header := newID()
	reqs = append(reqs, textBox(slideID, header, box{50, 20, 300, 40}, ". 撮影地")...)
	reqs = append(reqs, textStyle(header, &slides.TextStyle{Bold: true}, "bold"))

	reqs = append(reqs, &slides.Request{
		CreateLine: &slides.CreateLineRequest{
			ObjectId:          newID(),
			Category:          "STRAIGHT",
			ElementProperties: elementProps(slideID, box{50, 55, 620, 0}),
		},
	})

	link := newID()
	reqs = append(reqs, textBox(slideID, link, box{370, 20, 350, 30}, "URL: "+rec.SourceURL)...)
	if rec.SourceURL != "" && rec.SourceURL != types.NotRecorded {
		reqs = append(reqs, textStyle(link, &slides.TextStyle{
			Link:      &slides.Link{Url: rec.SourceURL},
			Underline: true,
		}, "link,underline"))
	}

	reqs = append(reqs, textBox(slideID, newID(), box{50, 70, 600, 30},
		"場所名："+rec.LocationName+"\n住所："+rec.Address)...)

	access := "アクセス\n【電車の場合】\n" + rec.TrainAccess +
		"\n 【車の場合】\n" + rec.CarAccess +
		"\n 駐車場：" + rec.ParkingInfo
	reqs = append(reqs, textBox(slideID, newID(), box{50, 300, 600, 100}, access)...)

	return reqs
}

// textBox creates a text box, fills it and applies the base 10pt black style.
func textBox(pageID, id string, b box, text string) []*slides.Request {
	return []*slides.Request{
		{
			CreateShape: &slides.CreateShapeRequest{
				ObjectId:          id,
				ShapeType:         "TEXT_BOX",
				ElementProperties: elementProps(pageID, b),
			},
		},
		{
			InsertText: &slides.InsertTextRequest{ObjectId: id, Text: text},
		},
		textStyle(id, &slides.TextStyle{}, ""),
	}
}

// textStyle applies style plus the base font size and colour to the whole
// shape. extra names the additional fields being set.
func textStyle(id string, style *slides.TextStyle, extra string) *slides.Request {
	style.FontSize = &slides.Dimension{Magnitude: fontSizePT, Unit: "PT"}
	style.ForegroundColor = &slides.OptionalColor{
		OpaqueColor: &slides.OpaqueColor{RgbColor: &slides.RgbColor{}},
	}
	fields := "fontSize,foregroundColor"
	if extra != "" {
		fields += "," + extra
	}
	return &slides.Request{
		UpdateTextStyle: &slides.UpdateTextStyleRequest{
			ObjectId:  id,
			TextRange: &slides.Range{Type: "ALL"},
			Style:     style,
			Fields:    fields,
		},
	}
}

func elementProps(pageID string, b box) *slides.PageElementProperties {
	return &slides.PageElementProperties{
		PageObjectId: pageID,
		Size: &slides.Size{
			Width:  &slides.Dimension{Magnitude: b.w, Unit: "PT"},
			Height: &slides.Dimension{Magnitude: b.h, Unit: "PT"},
		},
		Transform: &slides.AffineTransform{
			ScaleX:     1,
			ScaleY:     1,
			TranslateX: b.x,
			TranslateY: b.y,
			Unit:       "PT",
		},
	}
}

// DeleteRequests builds one deleteObject per id.
func DeleteRequests(ids []string) []*slides.Request {
	reqs := make([]*slides.Request, 0, len(ids))
	for _, id := range ids {
		reqs = append(reqs, &slides.Request{DeleteObject: &slides.DeleteObjectRequest{ObjectId: id}})
	}
	return reqs
}

// Placeholders maps template placeholders to their values for rec.
func Placeholders(rec *types.LocationRecord, stamp string) map[string]string {
	src := rec.SourceInfo
	return map[string]string{
		"{{場所名}}":     rec.LocationName,
		"{{住所}}":      rec.Address,
		"{{電車アクセス}}":  rec.TrainAccess,
		"{{車アクセス}}":   rec.CarAccess,
		"{{駐車場}}":     rec.ParkingInfo,
		"{{電話番号}}":    rec.PhoneNumber,
		"{{ページタイトル}}": src.PageTitle,
		"{{ページ概要}}":   src.PageDescription,
		"{{抽出元}}":     src.ExtractedFrom,
		"{{データ品質}}":   qualityLabel(src.DataQuality),
		"{{抽出フィールド}}": strings.Join(src.ExtractedFields, ", "),
		"{{ソースURL}}":  rec.SourceURL,
		"{{抽出日時}}":    stamp,
	}
}

// ReplaceRequests builds one case-sensitive replaceAllText per placeholder,
// in a stable order.
func ReplaceRequests(values map[string]string) []*slides.Request {
	reqs := make([]*slides.Request, 0, len(values))
	for _, key := range placeholderOrder {
		v, ok := values[key]
		if !ok {
			continue
		}
		reqs = append(reqs, &slides.Request{
			ReplaceAllText: &slides.ReplaceAllTextRequest{
				ContainsText: &slides.SubstringMatchCriteria{Text: key, MatchCase: true},
				ReplaceText:  v,
			},
		})
	}
	return reqs
}

var placeholderOrder = []string{
	"{{場所名}}", "{{住所}}", "{{電車アクセス}}", "{{車アクセス}}", "{{駐車場}}", "{{電話番号}}",
	"{{ページタイトル}}", "{{ページ概要}}", "{{抽出元}}", "{{データ品質}}", "{{抽出フィールド}}",
	"{{ソースURL}}", "{{抽出日時}}",
}

func qualityLabel(q types.DataQuality) string {
	switch q {
	case types.QualityHigh:
		return "高"
	case types.QualityMedium:
		return "中"
	case types.QualityLow:
		return "低"
	}
	return types.NotRecorded
}
