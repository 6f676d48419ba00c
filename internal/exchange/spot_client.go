package exchange

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SpotClient is the real Binance spot gateway.
type SpotClient struct {
	client *binance.Client
}

func NewSpotClient(apiKey, secretKey string, testnet bool) *SpotClient {
	if testnet {
		binance.UseTestnet = true
	}
	return &SpotClient{client: binance.NewClient(apiKey, secretKey)}
}

func (s *SpotClient) GetTradeableSymbols(ctx context.Context, f UniverseFilter) ([]string, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, classify("list 24h stats", err)
	}

	quote := f.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}

	var symbols []string
	for _, st := range stats {
		if !strings.HasSuffix(st.Symbol, quote) {
			continue
		}
		base := strings.TrimSuffix(st.Symbol, quote)
		if f.Excluded(base) {
			continue
		}
		price := parseFloat(st.LastPrice)
		if price < f.MinPrice || price > f.MaxPrice {
			continue
		}
		if parseFloat(st.QuoteVolume) < f.MinQuoteVolume {
			continue
		}
		symbols = append(symbols, st.Symbol)
	}
	return symbols, nil
}

func (s *SpotClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("klines "+symbol, err)
	}

	result := make([]Kline, len(klines))
	for i, k := range klines {
		result[i] = Kline{
			OpenTime:  unixMillis(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: unixMillis(k.CloseTime),
		}
	}
	return result, nil
}

func (s *SpotClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classify("ticker "+symbol, err)
	}
	if len(stats) == 0 {
		return nil, &TransientError{Op: "ticker " + symbol, Err: errors.New("empty response")}
	}
	st := stats[0]
	return &Ticker{
		Symbol: st.Symbol,
		Last:   parseFloat(st.LastPrice),
		Bid:    parseFloat(st.BidPrice),
		Ask:    parseFloat(st.AskPrice),
	}, nil
}

func (s *SpotClient) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	res, err := s.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, classify("orderbook "+symbol, err)
	}

	book := &OrderBook{}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, BookLevel{Price: parseFloat(b.Price), Amount: parseFloat(b.Quantity)})
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, BookLevel{Price: parseFloat(a.Price), Amount: parseFloat(a.Quantity)})
	}
	return book, nil
}

func (s *SpotClient) GetBalances(ctx context.Context) (map[string]Balance, error) {
	account, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify("account", err)
	}

	balances := make(map[string]Balance, len(account.Balances))
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = Balance{Free: free, Used: locked, Total: free + locked}
	}
	return balances, nil
}

func (s *SpotClient) PlaceMarketOrder(ctx context.Context, symbol, side string, amount float64) (*OrderResult, error) {
	return s.placeOrder(ctx, symbol, side, amount, 0, binance.OrderTypeMarket)
}

func (s *SpotClient) PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price float64) (*OrderResult, error) {
	return s.placeOrder(ctx, symbol, side, amount, price, binance.OrderTypeLimit)
}

func (s *SpotClient) placeOrder(ctx context.Context, symbol, side string, amount, price float64, typ binance.OrderType) (*OrderResult, error) {
	qty := decimal.NewFromFloat(amount).Round(8)

	svc := s.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(typ).
		Quantity(qty.String()).
		NewClientOrderID(uuid.NewString())

	if typ == binance.OrderTypeLimit {
		svc = svc.
			Price(decimal.NewFromFloat(price).Round(8).String()).
			TimeInForce(binance.TimeInForceTypeGTC)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("order "+side+" "+symbol, err)
	}

	filled := parseFloat(res.ExecutedQuantity)
	avg := price
	if filled > 0 {
		if quote := parseFloat(res.CummulativeQuoteQuantity); quote > 0 {
			avg = quote / filled
		}
	}

	return &OrderResult{
		OrderID:      strconv.FormatInt(res.OrderID, 10),
		FilledAmount: filled,
		AvgPrice:     avg,
	}, nil
}

func (s *SpotClient) CancelOrder(ctx context.Context, orderID, symbol string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return err
	}
	_, err = s.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return classify("cancel "+symbol, err)
	}
	return nil
}

// classify maps binance errors onto the engine's taxonomy: API errors are
// business rejections, everything else is assumed transient.
func classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// -2010: NEW_ORDER_REJECTED, typically insufficient balance.
		if apiErr.Code == -2010 {
			return ErrInsufficientBalance
		}
		return err
	}
	return &TransientError{Op: op, Err: err}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func unixMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
