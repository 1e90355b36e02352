package domain

// SymbolConstraints are the exchange trading rules for one symbol. A
// non-positive StepSize or TickSize means the value is not quantized.
type SymbolConstraints struct {
	Symbol      string   `json:"symbol"`
	StepSize    float64  `json:"step_size"`
	MinQty      float64  `json:"min_qty"`
	MaxQty      *float64 `json:"max_qty,omitempty"`
	MinNotional float64  `json:"min_notional"`
	TickSize    float64  `json:"tick_size"`
}
