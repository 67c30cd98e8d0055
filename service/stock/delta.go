package stock

import (
	"strconv"
	"time"

	"PPMall/tools/decode"
	"PPMall/tools/errs"
)

// Delta 计数器每次变更写入 Stream 的记录，由对账 worker 落到账本
type Delta struct {
	OpID      string    `json:"op_id"`
	SkuID     int64     `json:"sku_id"`
	Quantity  int64     `json:"quantity"` // 扣减为负，回补为正
	CreatedAt time.Time `json:"created_at"`
}

// DecodeDelta 解析 Stream entry
func DecodeDelta(values map[string]any) (Delta, error) {
	d, err := decode.Map[Delta](values)
	if err != nil {
		return Delta{}, errs.ErrArgs.WrapMsg("decode delta", "err", err)
	}
	if d.OpID == "" || d.SkuID <= 0 || d.Quantity == 0 {
		return Delta{}, errs.ErrArgs.WrapMsg("incomplete delta", "op_id", d.OpID, "sku_id", d.SkuID)
	}
	return *d, nil
}

// Values 转为 XADD 的字段
func (d Delta) Values() map[string]any {
	return map[string]any{
		"op_id":      d.OpID,
		"sku_id":     strconv.FormatInt(d.SkuID, 10),
		"quantity":   strconv.FormatInt(d.Quantity, 10),
		"created_at": strconv.FormatInt(d.CreatedAt.UnixMilli(), 10),
	}
}
