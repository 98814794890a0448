package analyzer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/rasha-hantash/locscout/steps/analyzer"
	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type capturedRequest struct {
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// completionServer answers every request with content as the first choice
// and records the decoded request body.
func completionServer(t *testing.T, content string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if got != nil {
			require.NoError(t, json.Unmarshal(body, got))
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAnalyzer(srv *httptest.Server) *analyzer.Analyzer {
	return analyzer.NewAnalyzer(analyzer.Config{
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		BaseURL: srv.URL,
		Now:     func() time.Time { return fixedNow },
	}, option.WithMaxRetries(0))
}

func venuePage() *types.PageContent {
	return &types.PageContent{
		Title:   "",
		URL:     "https://example.com/hall",
		Meta:    map[string]string{"og:title": "Example Hall", "description": "丸の内のホール"},
		Text:    "〒100-0001 東京都千代田区丸の内1-1\nJR東京駅 徒歩5分",
		Address: "〒100-0001 東京都千代田区丸の内1-1",
	}
}

const venueReply = `{
	"locationName": "Example Hall",
	"address": "〒100-0001 東京都千代田区丸の内1-1",
	"trainAccess": "JR東京駅 徒歩5分",
	"carAccess": "記載無し",
	"parkingInfo": null,
	"phoneNumber": "03-1234-5678",
	"sourceInfo": {
		"pageTitle": "Example Hall",
		"pageUrl": "https://example.com/hall",
		"pageDescription": "丸の内のホール",
		"extractedFrom": "アクセス情報セクション",
		"dataQuality": "中",
		"extractedFields": ["locationName", "address", "trainAccess"]
	}
}`

func TestAnalyzeVenue(t *testing.T) {
	var req capturedRequest
	srv := completionServer(t, venueReply, &req)

	run := &types.Run{URL: "https://example.com/hall", Page: venuePage()}
	require.NoError(t, newAnalyzer(srv).Run(context.Background(), run))

	rec := run.Record
	require.NotNil(t, rec)
	assert.Contains(t, rec.Address, "〒100-0001")
	assert.Contains(t, rec.TrainAccess, "JR東京駅")
	assert.Equal(t, types.NotRecorded, rec.ParkingInfo, "null parking is coerced")
	assert.Equal(t, types.QualityMedium, rec.SourceInfo.DataQuality)
	assert.Equal(t, "https://example.com/hall", rec.SourceURL)
	assert.Equal(t, fixedNow, rec.ExtractedAt)

	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "記載無し")
	assert.Contains(t, req.Messages[1].Content, "タイトル: 不明")
	assert.Contains(t, req.Messages[1].Content, "検出された住所: 〒100-0001")
}

func TestAnalyzeTruncatesText(t *testing.T) {
	var req capturedRequest
	srv := completionServer(t, `{}`, &req)

	page := venuePage()
	page.Text = strings.Repeat("ゑ", 8000) + strings.Repeat("ゐ", 50)

	_, err := newAnalyzer(srv).Analyze(context.Background(), page, "sk-test")
	require.NoError(t, err)

	user := req.Messages[1].Content
	assert.Equal(t, 8000, strings.Count(user, "ゑ"))
	assert.NotContains(t, user, "ゐ")
}

func TestAnalyzeCoercesMissingFields(t *testing.T) {
	srv := completionServer(t, `{"locationName": "", "trainAccess": ["JR東京駅 徒歩5分", "東京メトロ大手町駅 徒歩2分"]}`, nil)

	rec, err := newAnalyzer(srv).Analyze(context.Background(), venuePage(), "sk-test")
	require.NoError(t, err)

	for name, v := range map[string]string{
		"locationName":  rec.LocationName,
		"address":       rec.Address,
		"carAccess":     rec.CarAccess,
		"parkingInfo":   rec.ParkingInfo,
		"phoneNumber":   rec.PhoneNumber,
		"extractedFrom": rec.SourceInfo.ExtractedFrom,
	} {
		assert.Equal(t, types.NotRecorded, v, name)
	}
	assert.Equal(t, "JR東京駅 徒歩5分\n東京メトロ大手町駅 徒歩2分", rec.TrainAccess)
	assert.Equal(t, "https://example.com/hall", rec.SourceInfo.PageURL, "falls back to the page URL")
	assert.Equal(t, "丸の内のホール", rec.SourceInfo.PageDescription)
	assert.Equal(t, types.QualityLow, rec.SourceInfo.DataQuality)
	assert.Empty(t, rec.SourceInfo.ExtractedFields)
}

func TestAnalyzeRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  error
	}{
		{name: "array body", content: `["not", "an", "object"]`, target: types.ErrNotObject},
		{name: "string body", content: `"記載無し"`, target: types.ErrNotObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.content, nil)
			_, err := newAnalyzer(srv).Analyze(context.Background(), venuePage(), "sk-test")

			var analysisErr *types.AnalysisError
			require.True(t, errors.As(err, &analysisErr))
			assert.ErrorIs(t, err, tt.target)
		})
	}

	srv := completionServer(t, `not json`, nil)
	_, err := newAnalyzer(srv).Analyze(context.Background(), venuePage(), "sk-test")
	var analysisErr *types.AnalysisError
	assert.True(t, errors.As(err, &analysisErr))
}

func TestAnalyzeNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[]}`)
	}))
	defer srv.Close()

	_, err := newAnalyzer(srv).Analyze(context.Background(), venuePage(), "sk-test")
	assert.ErrorIs(t, err, types.ErrNoChoice)
}

func TestAnalyzeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided: sk-bad","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	_, err := newAnalyzer(srv).Analyze(context.Background(), venuePage(), "sk-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestRunRequiresKey(t *testing.T) {
	a := analyzer.NewAnalyzer(analyzer.Config{Model: "gpt-4o-mini"})
	err := a.Run(context.Background(), &types.Run{Page: venuePage()})
	assert.ErrorIs(t, err, types.ErrNoAPIKey)
}

func TestNormalizeParking(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"有り - 無料", "有り - 無料"},
		{"有り - 30分200円、最大1,500円", "有り - 30分200円、最大1,500円"},
		{"無し", "無し"},
		{"記載無し", "記載無し"},
		{"", "記載無し"},
		{"null", "記載無し"},
		{"なし", "無し"},
		{"駐車場はありません", "無し"},
		{"無料駐車場あり", "有り - 無料"},
		{"有り", "有り - 記載無し"},
		{"あり（30台）", "有り - 30台"},
		{"有料 30分200円", "有り - 有料 30分200円"},
		{"要問い合わせ", "記載無し"},
		{"無料駐車場なし", "無し"},
		{"駐車場なし。", "無し"},
		{"有料", "有り - 有料"},
		{"近隣にコインパーキングあり（無料ではありません）", "有り - 近隣にコインパーキングあり（無料ではありません）"},
		{"なし（近隣にコインパーキング有り）", "無し"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, analyzer.NormalizeParking(tt.in))
		})
	}
}
