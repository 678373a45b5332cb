package simulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rwa-trader/internal/config"
	"rwa-trader/internal/exchange"
	"rwa-trader/internal/venue"
	"rwa-trader/internal/venue/crosschain"
	"rwa-trader/internal/venue/marketmaker"
)

var testPair = venue.Pair{
	Base:  venue.Token{Address: "0xRWA", Symbol: "NVDA"},
	Quote: venue.Token{Address: "0xUSDC", Symbol: "USDC"},
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCrossChainQuoteAppliesSpread(t *testing.T) {
	sim := NewCrossChain(config.SimulatedVenueConfig{SpreadBps: 100, Balance: 1000}, Fixed(2), nil)

	quote, err := sim.Quote(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if !quote.Rate.Equal(d("2.02")) {
		t.Fatalf("expected 2.02, got %s", quote.Rate)
	}
}

func TestCrossChainBuyAndSell(t *testing.T) {
	sim := NewCrossChain(config.SimulatedVenueConfig{Balance: 100}, Fixed(1), nil)
	ctx := context.Background()

	order, err := sim.Buy(ctx, crosschain.OrderRequest{Pair: testPair, Amount: d("50"), Rate: d("2")})
	if err != nil {
		t.Fatalf("Buy returned error: %v", err)
	}
	if !order.BuyAmount.Equal(d("25")) || order.OrderID == "" || len(order.TxHash) != 66 {
		t.Fatalf("unexpected order %+v", order)
	}

	funds, err := sim.AccountFunds(ctx)
	if err != nil {
		t.Fatalf("AccountFunds returned error: %v", err)
	}
	if !funds.EffectiveBuyingPower.Equal(d("50")) {
		t.Fatalf("buying power not reduced: %s", funds.EffectiveBuyingPower)
	}

	if _, err := sim.Buy(ctx, crosschain.OrderRequest{Pair: testPair, Amount: d("60"), Rate: d("2")}); !errors.Is(err, crosschain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	sold, err := sim.Sell(ctx, crosschain.OrderRequest{Pair: testPair, Amount: d("125"), Rate: d("2")})
	if err != nil {
		t.Fatalf("Sell returned error: %v", err)
	}
	if !sold.BuyAmount.Equal(d("250")) {
		t.Fatalf("unexpected sell proceeds %s", sold.BuyAmount)
	}
}

func TestCrossChainBlockedAccount(t *testing.T) {
	sim := NewCrossChain(config.SimulatedVenueConfig{Balance: 100, Blocked: true}, Fixed(1), nil)

	status, err := sim.AccountStatus(context.Background())
	if err != nil || !status.AccountBlocked {
		t.Fatalf("expected blocked account, got %+v err=%v", status, err)
	}
	if _, err := sim.Buy(context.Background(), crosschain.OrderRequest{Pair: testPair, Amount: d("1"), Rate: d("1")}); !errors.Is(err, crosschain.ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked, got %v", err)
	}
}

func TestLatencyHonorsContext(t *testing.T) {
	sim := NewCrossChain(config.SimulatedVenueConfig{Latency: time.Second, Balance: 1}, Fixed(1), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := sim.Quote(ctx, "NVDA"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("latency did not stop at deadline")
	}
}

func TestMarketMakerOffersCoverAmount(t *testing.T) {
	cfg := config.SimulatedVenueConfig{SpreadBps: 40, Balance: 1000, Liquidity: 100}
	sim := NewMarketMaker(cfg, testPair, Fixed(1), nil)

	selection, err := sim.BestOffers(context.Background(), marketmaker.OfferQuery{
		SellToken: "0xUSDC",
		BuyToken:  "0xRWA",
		Amount:    d("50"),
		Limit:     4,
	})
	if err != nil {
		t.Fatalf("BestOffers returned error: %v", err)
	}
	if selection.Mode != "buy" || !selection.TotalPaid.Equal(d("50")) {
		t.Fatalf("unexpected selection %+v", selection)
	}
	prev := decimal.Zero
	for _, offer := range selection.Offers {
		if offer.Price.LessThanOrEqual(prev) {
			t.Fatalf("buy offers should get progressively worse: %+v", selection.Offers)
		}
		prev = offer.Price
	}
}

func TestMarketMakerTradeConsumesOffers(t *testing.T) {
	cfg := config.SimulatedVenueConfig{Balance: 1000, Liquidity: 100}
	sim := NewMarketMaker(cfg, testPair, Fixed(1), nil)
	ctx := context.Background()

	selection, err := sim.BestOffers(ctx, marketmaker.OfferQuery{SellToken: "NVDA", BuyToken: "USDC", Amount: d("20"), Limit: 2})
	if err != nil {
		t.Fatalf("BestOffers returned error: %v", err)
	}
	ids := make([]string, 0, len(selection.Offers))
	for _, offer := range selection.Offers {
		ids = append(ids, offer.ID)
	}

	order := marketmaker.TradeOrder{SellToken: "0xRWA", BuyToken: "0xUSDC", Amount: d("20"), OfferIDs: ids}
	fill, err := sim.Trade(ctx, order)
	if err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	if !fill.SellAmount.Equal(d("20")) || !fill.BuyAmount.Equal(d("20")) {
		t.Fatalf("unexpected fill %+v", fill)
	}

	balance, err := sim.TokenBalance(ctx, "USDC")
	if err != nil {
		t.Fatalf("TokenBalance returned error: %v", err)
	}
	if !balance.Equal(d("1020")) {
		t.Fatalf("unexpected quote balance %s", balance)
	}

	if _, err := sim.Trade(ctx, order); !errors.Is(err, marketmaker.ErrOfferTaken) {
		t.Fatalf("expected ErrOfferTaken on replay, got %v", err)
	}
}

func TestMarketMakerWithoutLiquidity(t *testing.T) {
	sim := NewMarketMaker(config.SimulatedVenueConfig{Balance: 1000}, testPair, Fixed(1), nil)
	_, err := sim.BestOffers(context.Background(), marketmaker.OfferQuery{SellToken: "USDC", BuyToken: "NVDA", Amount: d("10")})
	if !errors.Is(err, marketmaker.ErrNoOffers) {
		t.Fatalf("expected ErrNoOffers, got %v", err)
	}
}

func TestMarketMakerListedOffersAreTradeable(t *testing.T) {
	cfg := config.SimulatedVenueConfig{SpreadBps: 40, Balance: 1000, Liquidity: 100}
	sim := NewMarketMaker(cfg, testPair, Fixed(1), nil)
	ctx := context.Background()

	book, err := sim.Offers(ctx, marketmaker.OfferListQuery{SellToken: "NVDA", BuyToken: "USDC", Limit: 4})
	if err != nil {
		t.Fatalf("Offers returned error: %v", err)
	}
	if len(book) != 4 {
		t.Fatalf("expected 4 levels, got %d", len(book))
	}
	if book[0].DepositToken != "0xRWA" || book[0].WithdrawalToken != "0xUSDC" || !book[0].AmountIn.Equal(d("25")) {
		t.Fatalf("unexpected first level %+v", book[0])
	}
	if !book[1].AmountOut.LessThan(book[0].AmountOut) {
		t.Fatalf("deeper sell levels should pay less: %+v", book)
	}

	fill, err := sim.Trade(ctx, marketmaker.TradeOrder{SellToken: "0xRWA", BuyToken: "0xUSDC", Amount: d("25"), OfferIDs: []string{book[0].ID}})
	if err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	if !fill.BuyAmount.Equal(book[0].AmountOut) {
		t.Fatalf("fill %s should match listed amount %s", fill.BuyAmount, book[0].AmountOut)
	}
}

func TestMarketMakerOffersEmptyBook(t *testing.T) {
	sim := NewMarketMaker(config.SimulatedVenueConfig{Balance: 1000}, testPair, Fixed(1), nil)
	_, err := sim.Offers(context.Background(), marketmaker.OfferListQuery{SellToken: "USDC", BuyToken: "NVDA"})
	if !errors.Is(err, marketmaker.ErrNoOffers) {
		t.Fatalf("expected ErrNoOffers, got %v", err)
	}
}

func TestMarketMakerMakeOffer(t *testing.T) {
	sim := NewMarketMaker(config.SimulatedVenueConfig{Balance: 10}, testPair, Fixed(1), nil)
	ctx := context.Background()

	receipt, err := sim.MakeOffer(ctx, marketmaker.OfferSpec{SellToken: "NVDA", SellAmount: d("4"), BuyToken: "USDC", BuyAmount: d("10")})
	if err != nil {
		t.Fatalf("MakeOffer returned error: %v", err)
	}
	if receipt.OfferID == "" || receipt.TxHash == "" || !receipt.Rate.Equal(d("2.5")) {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	balance, err := sim.TokenBalance(ctx, "NVDA")
	if err != nil {
		t.Fatalf("TokenBalance returned error: %v", err)
	}
	if !balance.Equal(d("6")) {
		t.Fatalf("offer should lock sold tokens, balance %s", balance)
	}

	book, err := sim.Offers(ctx, marketmaker.OfferListQuery{SellToken: "USDC", BuyToken: "NVDA"})
	if err != nil {
		t.Fatalf("Offers returned error: %v", err)
	}
	if len(book) != 1 || book[0].ID != receipt.OfferID || !book[0].AmountIn.Equal(d("10")) || !book[0].AmountOut.Equal(d("4")) {
		t.Fatalf("own offer should be listed for takers, got %+v", book)
	}

	if _, err := sim.MakeOffer(ctx, marketmaker.OfferSpec{SellToken: "NVDA", SellAmount: d("7"), BuyToken: "USDC", BuyAmount: d("1")}); !errors.Is(err, marketmaker.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := sim.MakeOffer(ctx, marketmaker.OfferSpec{SellToken: "NVDA", SellAmount: d("1"), BuyToken: "NVDA", BuyAmount: d("1")}); err == nil {
		t.Fatalf("expected error for same-token offer")
	}
}

func TestMarketMakerPriceFeeds(t *testing.T) {
	sim := NewMarketMaker(config.SimulatedVenueConfig{Balance: 10}, testPair, Fixed(1), nil)
	feeds, err := sim.PriceFeeds(context.Background())
	if err != nil {
		t.Fatalf("PriceFeeds returned error: %v", err)
	}
	if len(feeds) != 2 || !feeds.Has("0xrwa") || !feeds.Has("0xUSDC") {
		t.Fatalf("unexpected feeds %v", feeds)
	}

	receipt, err := sim.MakeOffer(context.Background(), marketmaker.OfferSpec{SellToken: "0xUSDC", SellAmount: d("5"), BuyToken: "0xRWA", BuyAmount: d("5"), Dynamic: true})
	if err != nil {
		t.Fatalf("dynamic MakeOffer returned error: %v", err)
	}
	if receipt.OfferID == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestMarketMakerUnknownToken(t *testing.T) {
	sim := NewMarketMaker(config.SimulatedVenueConfig{Balance: 1000, Liquidity: 10}, testPair, Fixed(1), nil)
	if _, err := sim.TokenBalance(context.Background(), "DOGE"); err == nil {
		t.Fatalf("expected error for unknown token")
	}
}

type fakeReference struct {
	price exchange.ReferencePrice
	err   error
}

func (f fakeReference) MidPrice(context.Context) (exchange.ReferencePrice, error) {
	return f.price, f.err
}

func TestPricers(t *testing.T) {
	price, err := FromReference(fakeReference{price: exchange.ReferencePrice{Mid: 187.5}})(context.Background())
	if err != nil || !price.Equal(d("187.5")) {
		t.Fatalf("unexpected reference price %s err=%v", price, err)
	}

	if _, err := FromReference(fakeReference{err: exchange.ErrMaintenance})(context.Background()); !errors.Is(err, exchange.ErrMaintenance) {
		t.Fatalf("expected wrapped maintenance error, got %v", err)
	}

	if _, err := Fixed(0)(context.Background()); err == nil {
		t.Fatalf("expected error for zero fixed price")
	}
}
