package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PriceService 从参考交易所推导中间价，并短暂缓存结果。
type PriceService struct {
	client *Client
	logger *zap.Logger
	maxAge time.Duration

	mu   sync.Mutex
	last ReferencePrice
}

// NewPriceService 创建参考价格服务，maxAge 内重复调用直接返回缓存。
func NewPriceService(client *Client, maxAge time.Duration, logger *zap.Logger) *PriceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceService{
		client: client,
		logger: logger,
		maxAge: maxAge,
	}
}

// MidPrice 并发拉取 ticker 与盘口，优先使用盘口中间价。
func (s *PriceService) MidPrice(ctx context.Context) (ReferencePrice, error) {
	s.mu.Lock()
	cached := s.last
	s.mu.Unlock()
	if s.maxAge > 0 && !cached.RetrievedAt.IsZero() && time.Since(cached.RetrievedAt) < s.maxAge {
		return cached, nil
	}

	var (
		ticker    Ticker
		orderBook OrderBookSnapshot
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := s.client.FetchTicker(groupCtx)
		if err != nil {
			return err
		}
		ticker = data
		return nil
	})

	group.Go(func() error {
		book, err := s.client.FetchOrderBook(groupCtx, 5)
		if err != nil {
			return err
		}
		orderBook = book
		return nil
	})

	if err := group.Wait(); err != nil {
		return ReferencePrice{}, err
	}

	price, err := derivePrice(ticker, orderBook)
	if err != nil {
		return ReferencePrice{}, err
	}

	s.mu.Lock()
	s.last = price
	s.mu.Unlock()

	s.logger.Debug("参考价格已更新",
		zap.String("symbol", price.Symbol),
		zap.Float64("mid", price.Mid),
		zap.String("source", price.Source),
	)

	return price, nil
}

func derivePrice(ticker Ticker, book OrderBookSnapshot) (ReferencePrice, error) {
	price := ReferencePrice{Symbol: ticker.Symbol, RetrievedAt: time.Now().UTC()}
	if price.Symbol == "" {
		price.Symbol = book.Symbol
	}

	switch {
	case len(book.Bids) > 0 && len(book.Asks) > 0 && book.Bids[0].Price > 0 && book.Asks[0].Price > 0:
		price.Mid = (book.Bids[0].Price + book.Asks[0].Price) / 2
		price.Source = "order_book"
	case ticker.Bid > 0 && ticker.Ask > 0:
		price.Mid = (ticker.Bid + ticker.Ask) / 2
		price.Source = "ticker_mid"
	case ticker.Last > 0:
		price.Mid = ticker.Last
		price.Source = "ticker_last"
	default:
		return ReferencePrice{}, ErrNoPrice
	}

	return price, nil
}
