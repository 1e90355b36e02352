// Package sizing turns a suggested order quantity into one the exchange will
// accept, or rejects it when no such quantity fits inside the allocation.
package sizing

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/perpbot/internal/constraint"
	"github.com/alanyoungcy/perpbot/internal/domain"
)

// notionalEpsilon absorbs float error when comparing qty*price to the
// minimum notional.
const notionalEpsilon = 1e-8

// Request carries everything the resolver needs for one order.
type Request struct {
	Desired          float64
	AllocatedMax     float64
	AllocatedBalance float64
	Price            float64
	Constraints      domain.SymbolConstraints
}

// Result is either an accepted quantity or a rejection with a reason.
// Rejection means "no trade this cycle" and is not an error.
type Result struct {
	Qty      float64
	Rejected bool
	Reason   string
}

func reject(format string, args ...any) Result {
	return Result{Rejected: true, Reason: fmt.Sprintf(format, args...)}
}

// Resolve applies the floors (min quantity, min notional) and the ceilings
// (allocation, balance, max quantity) in a fixed order. Floors are raised
// first and the ceilings re-applied afterwards; the request is rejected only
// when no quantity satisfies both.
func Resolve(req Request) Result {
	c := req.Constraints
	step := c.StepSize

	if req.AllocatedMax <= 0 {
		return reject("allocated max %.8g is not positive", req.AllocatedMax)
	}

	effectiveMax := req.AllocatedMax
	if req.AllocatedBalance > 0 && req.Price > 0 {
		effectiveMax = math.Min(effectiveMax, req.AllocatedBalance/req.Price)
	}

	qty := math.Max(req.Desired, 0)
	if qty == 0 {
		qty = math.Max(c.MinQty, step)
	}

	if qty > effectiveMax {
		qty = effectiveMax
	}
	qty = constraint.QuantizeDown(qty, step)

	if qty < c.MinQty {
		qty = constraint.QuantizeUp(c.MinQty, step)
	}
	if c.MaxQty != nil && qty > *c.MaxQty {
		qty = constraint.QuantizeDown(*c.MaxQty, step)
	}

	if c.MinNotional > 0 && req.Price > 0 {
		required := constraint.QuantizeUp(c.MinNotional/req.Price, step)
		if required > qty {
			qty = required
		}
	}

	// The notional floor may have pushed qty back over a ceiling.
	if qty > effectiveMax {
		qty = constraint.QuantizeDown(effectiveMax, step)
	}
	if c.MaxQty != nil && qty > *c.MaxQty {
		qty = constraint.QuantizeDown(*c.MaxQty, step)
	}

	if qty < c.MinQty {
		return reject("quantity %.8g below min qty %.8g after capping at %.8g", qty, c.MinQty, effectiveMax)
	}
	if c.MinNotional > 0 && req.Price > 0 && qty*req.Price+notionalEpsilon < c.MinNotional {
		return reject("notional %.8g below min notional %.8g", qty*req.Price, c.MinNotional)
	}
	if qty <= 0 {
		return reject("quantity resolved to zero")
	}
	return Result{Qty: qty}
}
