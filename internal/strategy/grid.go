package strategy

import (
	"bot-orchestrator/internal/models"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// deadZoneRatio is the fraction of a grid step around the midpoint that gets no order.
const deadZoneRatio = 0.1

// budgetEpsilon keeps an exact budget match from being rejected.
var budgetEpsilon = decimal.New(1, -9)

// GridStrategy is the spot grid. The static variant pins its midpoint to the centre of the
// band, the dynamic one follows the live price every cycle.
type GridStrategy struct {
	key     string
	dynamic bool
}

func NewStaticGrid() GridStrategy  { return GridStrategy{key: KeyStaticGrid} }
func NewDynamicGrid() GridStrategy { return GridStrategy{key: KeyDynamicGrid, dynamic: true} }

func (g GridStrategy) Key() string { return g.key }

// gridLevel 网格中的一个理论价格档位
type gridLevel struct {
	index    int
	price    float64
	side     models.Side // 空字符串表示该档位不挂单
	admitted bool        // 通过预算检查, 允许新挂单
}

func (g GridStrategy) Run(c Context) []models.Intent {
	if c.Config == nil || c.Config.Grid == nil {
		return nil
	}
	cfg := c.Config.Grid
	if cfg.Levels < 1 || cfg.OrderSize <= 0 || cfg.UpperPrice < cfg.LowerPrice || cfg.LowerPrice <= 0 {
		return nil
	}

	mid := (cfg.LowerPrice + cfg.UpperPrice) / 2
	if g.dynamic {
		mid = c.Market.LastPrice
		if mid <= 0 {
			mid = c.State.LastPrice
		}
		if mid <= 0 {
			return nil
		}
	}

	levels, step := buildLevels(cfg.LowerPrice, cfg.UpperPrice, cfg.Levels)
	classifyLevels(levels, step, mid, c.State.GapIndex)
	applyBudgets(levels, cfg.OrderSize, cfg.MaxQuoteBudget, cfg.MaxBaseBudget)

	symbol := symbolFor(c, cfg.Symbol)
	return reconcileGrid(c, symbol, levels, cfg.LowerPrice, step, cfg.OrderSize)
}

// buildLevels enumerates n evenly spaced prices between lower and upper.
func buildLevels(lower, upper float64, n int) ([]gridLevel, float64) {
	step := 0.0
	if n > 1 {
		step = (upper - lower) / float64(n-1)
	}
	levels := make([]gridLevel, n)
	for i := range levels {
		levels[i] = gridLevel{index: i, price: lower + step*float64(i)}
	}
	return levels, step
}

// classifyLevels assigns a side to each level, either from an injected gap index or by
// comparison with the midpoint.
func classifyLevels(levels []gridLevel, step, mid float64, gapIndex *int) {
	if gapIndex != nil {
		gap := *gapIndex
		for i := range levels {
			switch {
			case i < gap:
				levels[i].side = models.Buy
			case i > gap:
				levels[i].side = models.Sell
			}
		}
		return
	}

	deadZone := deadZoneRatio * step
	for i := range levels {
		p := levels[i].price
		switch {
		case math.Abs(p-mid) <= deadZone:
		case p < mid:
			levels[i].side = models.Buy
		default:
			levels[i].side = models.Sell
		}
	}
}

// applyBudgets admits buy levels nearest-first while the quote notional fits, and sell
// levels nearest-first while the base quantity fits. The first level that does not fit
// ends the walk for that side.
func applyBudgets(levels []gridLevel, size float64, quoteBudget, baseBudget *float64) {
	var buys, sells []int
	for i, l := range levels {
		switch l.side {
		case models.Buy:
			buys = append(buys, i)
		case models.Sell:
			sells = append(sells, i)
		}
	}
	sort.Slice(buys, func(a, b int) bool { return levels[buys[a]].price > levels[buys[b]].price })
	sort.Slice(sells, func(a, b int) bool { return levels[sells[a]].price < levels[sells[b]].price })

	dSize := round6(size)

	if quoteBudget == nil {
		admitAll(levels, buys)
	} else {
		limit := decimal.NewFromFloat(*quoteBudget).Add(budgetEpsilon)
		total := decimal.Zero
		for _, i := range buys {
			notional := round6(levels[i].price).Mul(dSize)
			if total.Add(notional).GreaterThan(limit) {
				break
			}
			total = total.Add(notional)
			levels[i].admitted = true
		}
	}

	if baseBudget == nil {
		admitAll(levels, sells)
	} else {
		limit := decimal.NewFromFloat(*baseBudget).Add(budgetEpsilon)
		total := decimal.Zero
		for _, i := range sells {
			if total.Add(dSize).GreaterThan(limit) {
				break
			}
			total = total.Add(dSize)
			levels[i].admitted = true
		}
	}
}

func admitAll(levels []gridLevel, idx []int) {
	for _, i := range idx {
		levels[i].admitted = true
	}
}

// reconcileGrid compares each level with the live orders bucketed at it. Orders on the
// wrong side are cancelled; an empty level whose side passed the budget gets a placement.
func reconcileGrid(c Context, symbol string, levels []gridLevel, lower, step, size float64) []models.Intent {
	buckets := make(map[int][]models.OpenOrder)
	for _, o := range liveOrders(c.OpenOrders) {
		idx := 0
		if step > 0 {
			idx = int(math.Round((o.Price - lower) / step))
		}
		if idx < 0 || idx >= len(levels) {
			continue
		}
		buckets[idx] = append(buckets[idx], o)
	}

	botID := c.State.BotID
	sizeStr := formatFixed(size)
	var intents []models.Intent
	for _, l := range levels {
		hasLive := false
		for _, o := range buckets[l.index] {
			if o.Side != l.side {
				intents = append(intents, models.NewCancelIntent(botID, symbol, o, formatFixed(o.Price), formatFixed(o.Size), c.Now))
				continue
			}
			hasLive = true
		}
		if l.side == "" || hasLive || !l.admitted {
			continue
		}
		intents = append(intents, models.NewPlaceIntent(botID, symbol, l.side, formatFixed(l.price), sizeStr, false, c.Now))
	}
	return intents
}
