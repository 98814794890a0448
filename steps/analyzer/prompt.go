package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rasha-hantash/locscout/steps/types"
)

// maxTextRunes bounds the page text sent to the model.
const maxTextRunes = 8000

const systemPrompt = `あなたは場所・施設情報を抽出する専門家です。
与えられたWebページの内容から、ロケハン（ロケーションハンティング）に必要な情報を構造化して抽出してください。

【情報抽出のヒント】
多くのWebサイトではアイコンのみで情報を表記することがあります。以下のパターンを認識してください：
- 🚃 🚉 🚊 電車 駅 → 近くにある情報は「電車でのアクセス」「最寄り駅」
- 🚗 🚙 車 IC → 近くにある情報は「車でのアクセス」
- 📍 住所 所在地 → 近くにある情報は「住所」
- 📞 ☎️ TEL 電話 → 近くにある情報は「電話番号」
- 🅿️ P 駐車場 パーキング → 近くにある情報は「駐車場」
- ラベルがなくても「JR山手線 新宿駅 徒歩5分」のような文字列は駅情報として扱う

特に以下の情報を重点的に抽出してください：
- 電車でのアクセス（すべての最寄り駅、複数路線、各駅からの所要時間）
- 車でのアクセス（すべての高速道路IC、複数ルート）
- 駐車場情報（有無、台数、料金体系）
- 電話番号（代表番号、問い合わせ先）

以下の形式のJSONオブジェクトのみを返してください：
{
    "locationName": "場所・施設の正式名称",
    "address": "住所（郵便番号含む）",
    "trainAccess": "電車でのアクセス（複数の場合は改行区切りで全て。例：JR新宿駅南口 徒歩5分\n東京メトロ新宿三丁目駅 徒歩3分）",
    "carAccess": "車でのアクセス（複数ルートの場合は改行区切りで全て）",
    "parkingInfo": "駐車場の有無と詳細",
    "phoneNumber": "電話番号（ハイフン区切り）",
    "sourceInfo": {
        "pageTitle": "取得元ページのタイトル",
        "pageUrl": "取得元ページのURL",
        "pageDescription": "取得元ページの概要（30-50文字程度）",
        "extractedFrom": "情報を抽出したセクション名やページ内の場所",
        "dataQuality": "高・中・低のいずれか",
        "extractedFields": ["抽出できた項目名のリスト"]
    }
}

parkingInfo は必ず次のいずれかの形式：
- 「有り - 無料」
- 「有り - 30分200円、最大1,500円」のように「有り - 」に料金を続けたもの
- 「無し」
- 「記載無し」

重要：
1. 見つからない項目は null や空文字ではなく「記載無し」とする。
2. sourceInfo は必ず含める。
3. extractedFrom には「アクセス情報セクション」「施設概要ページ」など具体的な場所を書く。
4. dataQuality は 高：公式サイトから完全な情報、中：一部不足または非公式サイト、低：断片的な情報のみ。
5. extractedFields には実際に抽出できた項目名（"locationName", "address" など）を列挙する。
6. pageUrl には取得元ページのURLを正確に書く。
7. 複数の最寄り駅やアクセス方法があれば漏れなく全て記載する。
8. 「○○駅」「○○線」のような文字列は積極的にアクセス情報として扱う。`

// userPrompt renders the page for the model. Only the first maxTextRunes of
// the text are included.
func userPrompt(page *types.PageContent) string {
	meta, err := json.MarshalIndent(page.Meta, "", "  ")
	if err != nil || page.Meta == nil {
		meta = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("以下のWebページから場所情報を抽出してください：\n\n")
	fmt.Fprintf(&b, "タイトル: %s\n", orUnknown(page.Title))
	fmt.Fprintf(&b, "URL: %s\n\n", orUnknown(page.URL))
	fmt.Fprintf(&b, "メタ情報:\n%s\n\n", meta)
	fmt.Fprintf(&b, "本文テキスト（最初の%d文字）:\n%s\n", maxTextRunes, truncate(page.Text, maxTextRunes))

	if page.Address != "" {
		fmt.Fprintf(&b, "\n検出された住所: %s", page.Address)
	}
	if page.Phone != "" {
		fmt.Fprintf(&b, "\n検出された電話番号: %s", page.Phone)
	}
	if page.Hours != "" {
		fmt.Fprintf(&b, "\n検出された営業時間: %s", page.Hours)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "不明"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
