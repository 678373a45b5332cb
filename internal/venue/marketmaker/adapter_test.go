package marketmaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rwa-trader/internal/execution"
	"rwa-trader/internal/venue"
)

type fakeClient struct {
	mu        sync.Mutex
	calls     []string
	balance   decimal.Decimal
	offers    []Offer
	offersErr error
	tradeErr  error
	queries   []OfferQuery
	trades    []TradeOrder

	book    []BookOffer
	bookErr error
	listed  []OfferListQuery
	feeds   PriceFeeds
	made    []OfferSpec
	makeErr error
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) BestOffers(_ context.Context, query OfferQuery) (OfferSelection, error) {
	f.record("offers")
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.offersErr != nil {
		return OfferSelection{}, f.offersErr
	}
	return OfferSelection{TargetAmount: query.Amount, Mode: "sell", Offers: f.offers}, nil
}

func (f *fakeClient) TokenBalance(_ context.Context, token string) (decimal.Decimal, error) {
	f.record("balance:" + token)
	return f.balance, nil
}

func (f *fakeClient) Trade(_ context.Context, order TradeOrder) (Fill, error) {
	f.record("trade")
	f.mu.Lock()
	f.trades = append(f.trades, order)
	f.mu.Unlock()
	if f.tradeErr != nil {
		return Fill{}, f.tradeErr
	}
	return Fill{TxHash: "0xdef", OrderID: "fill-1", SellAmount: order.Amount, BuyAmount: order.Amount}, nil
}

func (f *fakeClient) Offers(_ context.Context, query OfferListQuery) ([]BookOffer, error) {
	f.record("list")
	f.mu.Lock()
	f.listed = append(f.listed, query)
	f.mu.Unlock()
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return f.book, nil
}

func (f *fakeClient) MakeOffer(_ context.Context, spec OfferSpec) (OfferReceipt, error) {
	f.record("make")
	f.mu.Lock()
	f.made = append(f.made, spec)
	f.mu.Unlock()
	if f.makeErr != nil {
		return OfferReceipt{}, f.makeErr
	}
	return OfferReceipt{TxHash: "0xoffer", OfferID: "offer-1", SellAmount: spec.SellAmount, BuyAmount: spec.BuyAmount}, nil
}

func (f *fakeClient) PriceFeeds(context.Context) (PriceFeeds, error) {
	f.record("feeds")
	return f.feeds, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func request(side venue.Side, amount string) venue.TradeRequest {
	return venue.TradeRequest{
		Pair: venue.Pair{
			Base:  venue.Token{Address: "0xRWA", Symbol: "NVDA"},
			Quote: venue.Token{Address: "0xUSDC", Symbol: "USDC"},
		},
		Side:   side,
		Amount: d(amount),
	}
}

func newAdapter(client Client) *Adapter {
	return New(client, execution.NewSubmitter(execution.NewMemoryGuard(), time.Hour, nil), 3, time.Minute, nil)
}

func TestAlwaysAvailable(t *testing.T) {
	client := &fakeClient{}
	avail, err := newAdapter(client).CheckAvailability(context.Background())
	if err != nil || !avail.Available {
		t.Fatalf("expected available, got %+v err=%v", avail, err)
	}
	if len(client.calls) != 0 {
		t.Fatalf("availability should not call the client: %v", client.calls)
	}
}

func TestGetQuoteWeightsOffers(t *testing.T) {
	client := &fakeClient{
		balance: d("1000"),
		offers: []Offer{
			{ID: "o1", Amount: d("60"), Price: d("1.00")},
			{ID: "o2", Amount: d("40"), Price: d("1.05")},
		},
	}

	quote, err := newAdapter(client).GetQuote(context.Background(), request(venue.SideBuy, "100"))
	if err != nil {
		t.Fatalf("GetQuote returned error: %v", err)
	}
	if !quote.Price.Equal(d("1.02")) {
		t.Fatalf("expected weighted price 1.02, got %s", quote.Price)
	}
	if len(quote.Refs) != 2 || quote.Refs[0] != "o1" || quote.Refs[1] != "o2" {
		t.Fatalf("unexpected refs %v", quote.Refs)
	}
	if got := client.queries[0]; got.SellToken != "0xUSDC" || got.BuyToken != "0xRWA" || got.Limit != 3 {
		t.Fatalf("unexpected offer query %+v", got)
	}
	if client.calls[0] != "balance:0xUSDC" {
		t.Fatalf("buy should check quote token balance first: %v", client.calls)
	}
}

func TestGetQuoteSellChecksBaseBalance(t *testing.T) {
	client := &fakeClient{
		balance: d("5"),
		offers:  []Offer{{ID: "o1", Amount: d("10"), Price: d("1")}},
	}
	_, err := newAdapter(client).GetQuote(context.Background(), request(venue.SideSell, "10"))
	if reason, _ := venue.ReasonOf(err); reason != venue.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", err)
	}
	if client.calls[0] != "balance:0xRWA" {
		t.Fatalf("sell should check base token balance: %v", client.calls)
	}
	if len(client.queries) != 0 {
		t.Fatalf("offers should not be queried without balance")
	}
}

func TestGetQuoteNoOffers(t *testing.T) {
	cases := []struct {
		name   string
		client *fakeClient
	}{
		{name: "sdk reports none", client: &fakeClient{balance: d("1000"), offersErr: ErrNoOffers}},
		{name: "empty selection", client: &fakeClient{balance: d("1000")}},
		{name: "thin liquidity", client: &fakeClient{balance: d("1000"), offers: []Offer{{ID: "o1", Amount: d("20"), Price: d("1")}}}},
		{name: "zero priced offers", client: &fakeClient{balance: d("1000"), offers: []Offer{{ID: "o1", Amount: d("200"), Price: d("0")}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newAdapter(tc.client).GetQuote(context.Background(), request(venue.SideBuy, "100"))
			if reason, _ := venue.ReasonOf(err); reason != venue.ReasonNoOffers {
				t.Fatalf("expected no_offers, got %v", err)
			}
			if venue.Classify(err) != venue.CategoryNoLiquidity {
				t.Fatalf("expected no_liquidity category, got %s", venue.Classify(err))
			}
		})
	}
}

func TestGetQuoteTransportFailure(t *testing.T) {
	client := &fakeClient{balance: d("1000"), offersErr: errors.New("rpq: 503")}
	_, err := newAdapter(client).GetQuote(context.Background(), request(venue.SideBuy, "100"))
	if reason, _ := venue.ReasonOf(err); reason != venue.ReasonUnreachable {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if venue.Classify(err) != venue.CategoryPlatformDown {
		t.Fatalf("expected platform_down, got %s", venue.Classify(err))
	}
}

func TestExecuteTradesSelectedOffersOnce(t *testing.T) {
	client := &fakeClient{
		balance: d("1000"),
		offers:  []Offer{{ID: "o1", Amount: d("100"), Price: d("1")}},
	}
	adapter := newAdapter(client)

	quote, err := adapter.GetQuote(context.Background(), request(venue.SideBuy, "100"))
	if err != nil {
		t.Fatalf("GetQuote returned error: %v", err)
	}
	result, err := adapter.Execute(context.Background(), quote)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.TxHash != "0xdef" || result.Venue != venue.MarketMaker || result.QuoteID != quote.ID {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.Rate.Equal(d("1")) {
		t.Fatalf("unexpected rate %s", result.Rate)
	}
	if len(client.trades) != 1 || client.trades[0].OfferIDs[0] != "o1" {
		t.Fatalf("unexpected trades %+v", client.trades)
	}

	if _, err := adapter.Execute(context.Background(), quote); !errors.Is(err, venue.ErrDuplicateExecution) {
		t.Fatalf("expected duplicate execution, got %v", err)
	}
	if len(client.trades) != 1 {
		t.Fatalf("trade resubmitted: %d", len(client.trades))
	}
}

func TestExecuteOfferTakenIsSafeToFallback(t *testing.T) {
	client := &fakeClient{
		balance:  d("1000"),
		offers:   []Offer{{ID: "o1", Amount: d("100"), Price: d("1")}},
		tradeErr: ErrOfferTaken,
	}
	adapter := newAdapter(client)
	quote, err := adapter.GetQuote(context.Background(), request(venue.SideBuy, "100"))
	if err != nil {
		t.Fatalf("GetQuote returned error: %v", err)
	}

	_, err = adapter.Execute(context.Background(), quote)
	if !errors.Is(err, venue.ErrExecutionFailed) || !venue.SafeToFallback(err) {
		t.Fatalf("expected safe execution failure, got %v", err)
	}
}

func TestExecuteRejectsForeignQuote(t *testing.T) {
	client := &fakeClient{}
	_, err := newAdapter(client).Execute(context.Background(), venue.Quote{ID: "q", Venue: venue.CrossChainAccess})
	if !errors.Is(err, venue.ErrExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Fatalf("client should not be called: %v", client.calls)
	}
}

func TestOffersQueriesTakerDirection(t *testing.T) {
	client := &fakeClient{book: []BookOffer{
		{ID: "o1", AmountIn: d("10"), AmountOut: d("9.9")},
		{ID: "o2", AmountIn: d("10"), AmountOut: d("9.8")},
		{ID: "o3", AmountIn: d("10"), AmountOut: d("9.7")},
	}}
	adapter := newAdapter(client)

	offers, err := adapter.Offers(context.Background(), request(venue.SideBuy, "1").Pair, venue.SideBuy, 2)
	if err != nil {
		t.Fatalf("Offers returned error: %v", err)
	}
	if len(offers) != 2 || offers[0].ID != "o1" {
		t.Fatalf("expected offers truncated to limit, got %+v", offers)
	}
	if len(client.listed) != 1 || client.listed[0].BuyToken != "0xRWA" || client.listed[0].SellToken != "0xUSDC" || client.listed[0].Limit != 2 {
		t.Fatalf("unexpected list query %+v", client.listed)
	}
}

func TestOffersEmptyBook(t *testing.T) {
	client := &fakeClient{bookErr: ErrNoOffers}
	offers, err := newAdapter(client).Offers(context.Background(), request(venue.SideSell, "1").Pair, venue.SideSell, 0)
	if err != nil || len(offers) != 0 {
		t.Fatalf("expected empty list, got %+v err=%v", offers, err)
	}
	if client.listed[0].Limit != 3 {
		t.Fatalf("default limit should come from adapter, got %d", client.listed[0].Limit)
	}
}

func TestMakeOfferSell(t *testing.T) {
	client := &fakeClient{balance: d("5")}
	req := request(venue.SideSell, "2")

	receipt, err := newAdapter(client).MakeOffer(context.Background(), OfferRequest{Pair: req.Pair, Side: venue.SideSell, Amount: d("2"), Price: d("100")})
	if err != nil {
		t.Fatalf("MakeOffer returned error: %v", err)
	}
	if receipt.OfferID != "offer-1" || len(client.made) != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	spec := client.made[0]
	if spec.SellToken != "0xRWA" || spec.BuyToken != "0xUSDC" || !spec.SellAmount.Equal(d("2")) || !spec.BuyAmount.Equal(d("200")) {
		t.Fatalf("unexpected offer spec %+v", spec)
	}
}

func TestMakeOfferChecksBalance(t *testing.T) {
	client := &fakeClient{balance: d("1")}
	req := request(venue.SideBuy, "50")

	_, err := newAdapter(client).MakeOffer(context.Background(), OfferRequest{Pair: req.Pair, Side: venue.SideBuy, Amount: d("50"), Price: d("1")})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(client.made) != 0 {
		t.Fatalf("offer must not be created without balance")
	}
}

func TestMakeDynamicOfferRequiresPriceFeed(t *testing.T) {
	client := &fakeClient{balance: d("10"), feeds: PriceFeeds{"0xusdc": "0xfeed"}}
	adapter := newAdapter(client)
	pair := request(venue.SideSell, "1").Pair

	_, err := adapter.MakeOffer(context.Background(), OfferRequest{Pair: pair, Side: venue.SideSell, Amount: d("1"), Price: d("100"), Dynamic: true})
	if !errors.Is(err, ErrNoPriceFeed) {
		t.Fatalf("expected ErrNoPriceFeed, got %v", err)
	}

	receipt, err := adapter.MakeOffer(context.Background(), OfferRequest{Pair: pair, Side: venue.SideBuy, Amount: d("1"), Price: d("100"), Dynamic: true})
	if err != nil {
		t.Fatalf("MakeOffer returned error: %v", err)
	}
	if !client.made[0].Dynamic || receipt.TxHash != "0xoffer" {
		t.Fatalf("dynamic flag lost: %+v", client.made)
	}
}

func TestMakeOfferRejectsBadPrice(t *testing.T) {
	client := &fakeClient{balance: d("10")}
	pair := request(venue.SideSell, "1").Pair
	if _, err := newAdapter(client).MakeOffer(context.Background(), OfferRequest{Pair: pair, Side: venue.SideSell, Amount: d("1")}); err == nil {
		t.Fatalf("expected error for missing price")
	}
	if len(client.calls) != 0 {
		t.Fatalf("invalid offer must not reach the client: %v", client.calls)
	}
}
