package domain

import "time"

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Indicators are derived from a kline series. Changes are percentages.
type Indicators struct {
	SMA5        float64 `json:"sma_5"`
	SMA20       float64 `json:"sma_20"`
	SMA50       float64 `json:"sma_50"`
	SMA100      float64 `json:"sma_100"`
	Change1     float64 `json:"price_change_1"`
	Change3     float64 `json:"price_change_3"`
	Change6     float64 `json:"price_change_6"`
	Change12    float64 `json:"price_change_12"`
	ATR14       float64 `json:"atr_14"`
	ATRPercent  float64 `json:"atr_percent"`
	VolumeRatio float64 `json:"volume_ratio"`
	RSI14       float64 `json:"rsi_14"`
}
