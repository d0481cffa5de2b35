package core

import "time"

// Candle represents a fixed-interval OHLCV price summary from a market feed
type Candle struct {
	Market   string
	Interval string
	Time     time.Time
	Open     float64
	Close    float64
	Low      float64
	High     float64
	Volume   float64
	Complete bool
}

// CloseTime returns the timestamp at which the candle interval ended
func (c Candle) CloseTime(interval time.Duration) time.Time {
	return c.Time.Add(interval)
}

// IsEmpty checks if the candle contains no significant data
func (c Candle) IsEmpty() bool {
	return c.Market == "" && c.Close == 0 && c.Open == 0 && c.Volume == 0
}
