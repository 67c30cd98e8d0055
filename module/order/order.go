package order

import (
	"sort"
	"time"

	"PPMall/module/identity"
	"PPMall/tools/errs"
)

type Line struct {
	SkuID int64 `json:"sku_id,string"`
	Qty   int64 `json:"qty"`
}

type CheckoutRequest struct {
	Buyer    identity.Principal `json:"buyer"`
	SellerID int64              `json:"seller_id,string"`
	Lines    []Line             `json:"lines"`
}

// Order 已预留库存、等待落库的订单
type Order struct {
	ID        int64              `json:"id,string"`
	Buyer     identity.Principal `json:"buyer"`
	SellerID  int64              `json:"seller_id,string"`
	Lines     []Line             `json:"lines"`
	OpIDs     []string           `json:"op_ids"`
	CreatedAt time.Time          `json:"created_at"`
}

func (r CheckoutRequest) validate() error {
	if !r.Buyer.Valid() || r.Buyer.Role != identity.RoleBuyer {
		return errs.ErrArgs.WrapMsg("checkout needs a buyer", "buyer", r.Buyer)
	}
	if r.SellerID <= 0 {
		return errs.ErrArgs.WrapMsg("invalid seller", "seller", r.SellerID)
	}
	if len(r.Lines) == 0 {
		return errs.ErrArgs.WrapMsg("empty order")
	}
	for _, l := range r.Lines {
		if l.SkuID <= 0 || l.Qty <= 0 {
			return errs.ErrArgs.WrapMsg("invalid line", "sku", l.SkuID, "qty", l.Qty)
		}
	}
	return nil
}

// mergeLines 同 SKU 合并，按 SKU 升序
func mergeLines(lines []Line) []Line {
	qty := make(map[int64]int64, len(lines))
	for _, l := range lines {
		qty[l.SkuID] += l.Qty
	}
	out := make([]Line, 0, len(qty))
	for sku, q := range qty {
		out = append(out, Line{SkuID: sku, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkuID < out[j].SkuID })
	return out
}
