// Package format は土地情報の表示用文字列（価格・面積・日付）を生成する。
// 表記はタイ語ロケールに合わせる。
package format

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	// UnknownPrice は価格未設定時の表記。
	UnknownPrice = "ไม่ระบุราคา"
	// UnknownSize は面積未設定時の表記。
	UnknownSize = "ไม่ระบุขนาด"
	// UnknownDate は日付未設定時の表記。
	UnknownDate = "ไม่ระบุ"
	// DefaultSizeUnit は面積単位の既定値（ライ）。
	DefaultSizeUnit = "ไร่"
)

// buddhistEraOffset は西暦から仏暦への加算年数。
const buddhistEraOffset = 543

var thaiMonths = [...]string{
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน", "พฤษภาคม", "มิถุนายน",
	"กรกฎาคม", "สิงหาคม", "กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
}

// タイは夏時間がないため固定オフセットで扱う
var bangkok = time.FixedZone("ICT", 7*60*60)

var printer = message.NewPrinter(language.Thai)

// FormatPrice は価格をバーツ表記（桁区切り、小数なし）にする。
func FormatPrice(price *int64) string {
	if price == nil {
		return UnknownPrice
	}
	return "฿" + printer.Sprint(number.Decimal(*price))
}

// FormatSize は面積を単位付きで表記する。小数は3桁まで。
func FormatSize(size *float64, unit string) string {
	if size == nil {
		return UnknownSize
	}
	if unit == "" {
		unit = DefaultSizeUnit
	}
	return fmt.Sprintf("%s %s", printer.Sprint(number.Decimal(*size, number.MaxFractionDigits(3))), unit)
}

// FormatDate は日付を「日 月名 仏暦年」の形式で表記する。
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return UnknownDate
	}
	local := t.In(bangkok)
	return fmt.Sprintf("%d %s %d", local.Day(), thaiMonths[local.Month()-1], local.Year()+buddhistEraOffset)
}
