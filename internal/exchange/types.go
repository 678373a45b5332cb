package exchange

import "time"

// Ticker 为参考交易对的最新报价。
type Ticker struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Timestamp time.Time
}

// OrderBookLevel 表示盘口档位。
type OrderBookLevel struct {
	Price  float64
	Amount float64
}

// OrderBookSnapshot 为订单簿快照。
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// ReferencePrice 为参考中间价及其来源。
type ReferencePrice struct {
	Symbol      string
	Mid         float64
	Source      string // order_book | ticker_mid | ticker_last
	RetrievedAt time.Time
}
