package exchange

import (
	"bot-orchestrator/internal/models"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrExecutionDisabled = errors.New("execution disabled")
	ErrOrderNotFound     = errors.New("order not found")
)

// Result 是执行器对一次下单/撤单/对账调用的结构化结果
type Result struct {
	OK         bool   `json:"ok"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Failed wraps an error as a failed result.
func Failed(err error) Result {
	return Result{OK: false, Error: err.Error()}
}

// Executor 定义了所有交易场所实现必须提供的通用方法。
// 真实交易所、模拟器和禁用执行器都实现这个接口。
type Executor interface {
	PlaceLimitOrder(ctx context.Context, intent models.Intent) (Result, error)
	CancelLimitOrder(ctx context.Context, intent models.Intent) (Result, error)
	CancelAll(ctx context.Context, intent models.Intent) (Result, error)
	ReplaceLimitOrder(ctx context.Context, intent models.Intent) (Result, error)
	GetOpenOrders(ctx context.Context, botID, symbol string) ([]models.OpenOrder, error)
	Reconcile(ctx context.Context, botID, symbol string) (Result, error)
}

// FillSimulator is implemented by venues that can fill resting orders against a price.
type FillSimulator interface {
	SimulateFills(symbol string, price float64, ts time.Time) []models.FillEvent
}

// Registry routes a bot's venue name to its executor.
type Registry struct {
	mu       sync.RWMutex
	venues   map[string]Executor
	fallback Executor
}

// NewRegistry creates a registry; fallback serves venues with no registered executor.
func NewRegistry(fallback Executor) *Registry {
	return &Registry{venues: make(map[string]Executor), fallback: fallback}
}

// Register binds a venue name to an executor.
func (r *Registry) Register(venue string, ex Executor) {
	r.mu.Lock()
	r.venues[venue] = ex
	r.mu.Unlock()
}

// Resolve returns the executor for a venue.
func (r *Registry) Resolve(venue string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ex, ok := r.venues[venue]; ok {
		return ex
	}
	return r.fallback
}

// Simulators returns every distinct executor able to simulate fills.
func (r *Registry) Simulators() []FillSimulator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Executor]bool)
	var out []FillSimulator
	add := func(ex Executor) {
		if ex == nil || seen[ex] {
			return
		}
		seen[ex] = true
		if sim, ok := ex.(FillSimulator); ok {
			out = append(out, sim)
		}
	}
	add(r.fallback)
	for _, ex := range r.venues {
		add(ex)
	}
	return out
}

// Close closes every executor holding resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	closed := make(map[Executor]bool)
	for _, ex := range append([]Executor{r.fallback}, values(r.venues)...) {
		if ex == nil || closed[ex] {
			continue
		}
		closed[ex] = true
		if c, ok := ex.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func values(m map[string]Executor) []Executor {
	out := make([]Executor, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Disabled rejects every order action.
type Disabled struct{}

func (Disabled) PlaceLimitOrder(context.Context, models.Intent) (Result, error) {
	return Failed(ErrExecutionDisabled), nil
}

func (Disabled) CancelLimitOrder(context.Context, models.Intent) (Result, error) {
	return Failed(ErrExecutionDisabled), nil
}

func (Disabled) CancelAll(context.Context, models.Intent) (Result, error) {
	return Failed(ErrExecutionDisabled), nil
}

func (Disabled) ReplaceLimitOrder(context.Context, models.Intent) (Result, error) {
	return Failed(ErrExecutionDisabled), nil
}

func (Disabled) GetOpenOrders(context.Context, string, string) ([]models.OpenOrder, error) {
	return nil, nil
}

func (Disabled) Reconcile(context.Context, string, string) (Result, error) {
	return Failed(ErrExecutionDisabled), nil
}
