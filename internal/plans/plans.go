package plans

import (
	"strings"

	"github.com/roomgrid/billing-core/internal/constants"
)

// Band 房量档位定义
type Band struct {
	Code      string `json:"code"`
	RoomCap   int    `json:"room_cap"` // 0 表示不限
	UserQuota int    `json:"user_quota"`
}

// Plan 套餐定义
type Plan struct {
	Code string `json:"code"`
	Paid bool   `json:"paid"`
}

const (
	// StandardRoomQuota 免费档房量上限
	StandardRoomQuota = 10
	// StandardUserQuota 免费档成员上限
	StandardUserQuota = 3
)

var plans = map[string]Plan{
	constants.PlanStandard:   {Code: constants.PlanStandard, Paid: false},
	constants.PlanPro:        {Code: constants.PlanPro, Paid: true},
	constants.PlanEnterprise: {Code: constants.PlanEnterprise, Paid: true},
}

var bands = map[string]Band{
	constants.RoomBandSmall:     {Code: constants.RoomBandSmall, RoomCap: 50, UserQuota: 10},
	constants.RoomBandMedium:    {Code: constants.RoomBandMedium, RoomCap: 200, UserQuota: 50},
	constants.RoomBandUnlimited: {Code: constants.RoomBandUnlimited, RoomCap: 0, UserQuota: 0},
}

// 月度价格表（最小货币单位），按 套餐 -> 档位 -> 币种
var monthlyPriceMinor = map[string]map[string]map[string]int64{
	constants.PlanPro: {
		constants.RoomBandSmall: {
			"KZT": 990000,
			"USD": 1900,
		},
		constants.RoomBandMedium: {
			"KZT": 2490000,
			"USD": 4900,
		},
		constants.RoomBandUnlimited: {
			"KZT": 4990000,
			"USD": 9900,
		},
	},
	constants.PlanEnterprise: {
		constants.RoomBandMedium: {
			"KZT": 4990000,
			"USD": 9900,
		},
		constants.RoomBandUnlimited: {
			"KZT": 9990000,
			"USD": 19900,
		},
	},
}

// Lookup 查找套餐定义
func Lookup(code string) (Plan, bool) {
	plan, ok := plans[normalize(code)]
	return plan, ok
}

// LookupBand 查找档位定义
func LookupBand(code string) (Band, bool) {
	band, ok := bands[normalize(code)]
	return band, ok
}

// IsPaid 判断是否付费套餐
func IsPaid(code string) bool {
	plan, ok := Lookup(code)
	return ok && plan.Paid
}

// PriceMinor 查询套餐月度价格；未定价的组合返回 false
func PriceMinor(plan, band, currency string) (int64, bool) {
	byBand, ok := monthlyPriceMinor[normalize(plan)]
	if !ok {
		return 0, false
	}
	byCurrency, ok := byBand[normalize(band)]
	if !ok {
		return 0, false
	}
	price, ok := byCurrency[strings.ToUpper(strings.TrimSpace(currency))]
	return price, ok
}

// BandAllowsRooms 判断档位是否覆盖给定房量
func BandAllowsRooms(code string, rooms int) bool {
	band, ok := LookupBand(code)
	if !ok {
		return false
	}
	if band.RoomCap == 0 {
		return true
	}
	return rooms <= band.RoomCap
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
