package market

// RawLog is an undecoded pool Swap event as exported by the log source.
type RawLog struct {
	BlockTimestamp string `json:"block_timestamp"`
	BlockNumber    uint64 `json:"block_number"`
	Data           string `json:"data"`
}

// Trade is a single exchange print. Time is an epoch in s, ms or µs.
type Trade struct {
	Time     int64
	Price    float64
	Quantity float64
}
