package exchange

import (
	"bot-orchestrator/internal/models"
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BinanceExecutor 通过币安U本位合约 REST 接口执行订单意图。
// 所有调用都经过限速器。
type BinanceExecutor struct {
	client  *futures.Client
	limiter *rate.Limiter
	cfg     models.BinanceConfig
	logger  *zap.Logger
}

// NewBinanceExecutor 创建执行器, 并与服务器同步时间偏移。
func NewBinanceExecutor(ctx context.Context, apiKey, secretKey string, cfg models.BinanceConfig, logger *zap.Logger) (*BinanceExecutor, error) {
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("binance executor requires BINANCE_API_KEY and BINANCE_SECRET_KEY")
	}
	futures.UseTestnet = cfg.IsTestnet

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	e := &BinanceExecutor{
		client:  futures.NewClient(apiKey, secretKey),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cfg:     cfg,
		logger:  logger,
	}

	offset, err := e.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("与币安服务器同步时间失败: %w", err)
	}
	logger.Info("与币安服务器时间同步完成", zap.Int64("timeOffset (ms)", offset), zap.Bool("testnet", cfg.IsTestnet))
	return e, nil
}

func (e *BinanceExecutor) opts() []futures.RequestOption {
	if e.cfg.RecvWindowMs > 0 {
		return []futures.RequestOption{futures.WithRecvWindow(e.cfg.RecvWindowMs)}
	}
	return nil
}

func (e *BinanceExecutor) PlaceLimitOrder(ctx context.Context, intent models.Intent) (Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	side, err := toSideType(intent.Side)
	if err != nil {
		return Failed(err), nil
	}
	svc := e.client.NewCreateOrderService().
		Symbol(VenueSymbol(intent.Symbol, e.cfg.SymbolSuffix)).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(intent.Size).
		Price(intent.Price).
		NewClientOrderID(clientOrderID(intent.BotID, intent.ID))
	if intent.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx, e.opts()...)
	if err != nil {
		e.logger.Error("下单请求失败，交易所返回错误", zap.String("bot", intent.BotID), zap.String("symbol", intent.Symbol), zap.Error(err))
		return Result{}, err
	}
	return Result{OK: true, ExternalID: strconv.FormatInt(resp.OrderID, 10)}, nil
}

func (e *BinanceExecutor) CancelLimitOrder(ctx context.Context, intent models.Intent) (Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	svc := e.client.NewCancelOrderService().Symbol(VenueSymbol(intent.Symbol, e.cfg.SymbolSuffix))
	if id, err := strconv.ParseInt(intent.OrderID, 10, 64); err == nil {
		svc = svc.OrderID(id)
	} else if intent.ExternalID != "" {
		svc = svc.OrigClientOrderID(intent.ExternalID)
	} else {
		return Failed(ErrOrderNotFound), nil
	}
	resp, err := svc.Do(ctx, e.opts()...)
	if err != nil {
		return Result{}, err
	}
	return Result{OK: true, ExternalID: strconv.FormatInt(resp.OrderID, 10)}, nil
}

// CancelAll 只撤销本机器人的挂单, 同一账户同一交易对上可能还有其他机器人的订单。
func (e *BinanceExecutor) CancelAll(ctx context.Context, intent models.Intent) (Result, error) {
	open, err := e.GetOpenOrders(ctx, intent.BotID, intent.Symbol)
	if err != nil {
		return Result{}, err
	}
	for _, o := range open {
		res, err := e.CancelLimitOrder(ctx, models.Intent{BotID: intent.BotID, Symbol: intent.Symbol, OrderID: o.OrderID, ExternalID: o.ExternalID})
		if err != nil || !res.OK {
			return res, err
		}
	}
	return Result{OK: true, Message: fmt.Sprintf("%d orders canceled", len(open))}, nil
}

// ReplaceLimitOrder 币安合约没有原子改单, 这里先查询原订单, 再撤单, 再按新价格和数量下单。
func (e *BinanceExecutor) ReplaceLimitOrder(ctx context.Context, intent models.Intent) (Result, error) {
	id, err := strconv.ParseInt(intent.OrderID, 10, 64)
	if err != nil {
		return Failed(ErrOrderNotFound), nil
	}
	symbol := VenueSymbol(intent.Symbol, e.cfg.SymbolSuffix)

	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	existing, err := e.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx, e.opts()...)
	if err != nil {
		return Result{}, err
	}

	cancel, err := e.CancelLimitOrder(ctx, models.Intent{BotID: intent.BotID, Symbol: intent.Symbol, OrderID: intent.OrderID})
	if err != nil || !cancel.OK {
		return cancel, err
	}

	place := models.NewPlaceIntent(intent.BotID, intent.Symbol, fromSideType(existing.Side), intent.NewPrice, intent.NewSize, existing.ReduceOnly, intent.CreatedAt)
	return e.PlaceLimitOrder(ctx, place)
}

// GetOpenOrders lists the bot's resting orders, recognised by the bot tag in their client order id.
func (e *BinanceExecutor) GetOpenOrders(ctx context.Context, botID, symbol string) ([]models.OpenOrder, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	orders, err := e.client.NewListOpenOrdersService().
		Symbol(VenueSymbol(symbol, e.cfg.SymbolSuffix)).
		Do(ctx, e.opts()...)
	if err != nil {
		return nil, err
	}
	return botOrders(orders, botID, symbol), nil
}

func (e *BinanceExecutor) Reconcile(ctx context.Context, botID, symbol string) (Result, error) {
	orders, err := e.GetOpenOrders(ctx, botID, symbol)
	if err != nil {
		return Result{}, err
	}
	return Result{OK: true, Message: fmt.Sprintf("%d open orders", len(orders))}, nil
}

// 币安 newClientOrderId 最长 36 个字符
const maxClientOrderID = 36

// botTag prefixes every client order id a bot places, e.g. "b2lRkQd-".
func botTag(botID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(botID))
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], h.Sum32())
	return "b" + base62.EncodeToString(sum[:]) + "-"
}

// clientOrderID 由机器人标签和 base62 编码的意图ID组成。
func clientOrderID(botID, intentID string) string {
	id := intentID
	if u, err := uuid.Parse(intentID); err == nil {
		id = base62.EncodeToString(u[:])
	}
	out := botTag(botID) + id
	if len(out) > maxClientOrderID {
		out = out[:maxClientOrderID]
	}
	return out
}

// botOrders keeps the venue orders carrying botID's tag and maps them.
func botOrders(orders []*futures.Order, botID, symbol string) []models.OpenOrder {
	tag := botTag(botID)
	out := make([]models.OpenOrder, 0, len(orders))
	for _, o := range orders {
		if !strings.HasPrefix(o.ClientOrderID, tag) {
			continue
		}
		out = append(out, mapOrder(o, symbol))
	}
	return out
}

// VenueSymbol 把内部符号 (SOL) 转成交易所符号 (SOLUSDT)。
func VenueSymbol(symbol, suffix string) string {
	s := strings.ToUpper(symbol)
	if suffix == "" || strings.HasSuffix(s, strings.ToUpper(suffix)) {
		return s
	}
	return s + strings.ToUpper(suffix)
}

func toSideType(side models.Side) (futures.SideType, error) {
	switch side {
	case models.Buy:
		return futures.SideTypeBuy, nil
	case models.Sell:
		return futures.SideTypeSell, nil
	}
	return "", fmt.Errorf("invalid side %q", side)
}

func fromSideType(side futures.SideType) models.Side {
	if side == futures.SideTypeSell {
		return models.Sell
	}
	return models.Buy
}

func mapStatus(s futures.OrderStatusType) models.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return models.OrderOpen
	case futures.OrderStatusTypePartiallyFilled:
		return models.OrderPartial
	case futures.OrderStatusTypeFilled:
		return models.OrderFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return models.OrderCanceled
	case futures.OrderStatusTypeRejected:
		return models.OrderRejected
	}
	return models.OrderNew
}

// mapOrder converts a venue order; symbol is the internal symbol the caller asked for.
func mapOrder(o *futures.Order, symbol string) models.OpenOrder {
	price, _ := strconv.ParseFloat(o.Price, 64)
	orig, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	executed, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	return models.OpenOrder{
		OrderID:    strconv.FormatInt(o.OrderID, 10),
		ExternalID: o.ClientOrderID,
		Symbol:     symbol,
		Side:       fromSideType(o.Side),
		Price:      price,
		Size:       orig - executed,
		Status:     mapStatus(o.Status),
	}
}
