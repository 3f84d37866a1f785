package persistence

import (
	"bot-orchestrator/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

const (
	prefixEvent = "event/"
	prefixBot   = "bot/"
	prefixRun   = "run/"
	prefixOrder = "order/"
)

// storedEvent keeps the channel key alongside the wire envelope.
type storedEvent struct {
	models.Envelope
	Key string `json:"key"`
}

// BadgerRepository is the BadgerDB implementation of the Repository.
type BadgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerRepository opens a BadgerDB database at dbPath. An empty path keeps the
// database in memory.
func NewBadgerRepository(dbPath string) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger 自带的日志会干扰应用日志, 错误仍通过返回值传递。
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dbPath, err)
	}
	return &BadgerRepository{db: db, now: time.Now}, nil
}

func eventKey(ts int64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixEvent, ts, uuid.NewString()))
}

func configKey(botID string) []byte   { return []byte(prefixBot + botID + "/config") }
func snapshotKey(botID string) []byte { return []byte(prefixBot + botID + "/snapshot") }
func runKey(runID string) []byte      { return []byte(prefixRun + runID) }
func orderKey(botID, orderID string) []byte {
	return []byte(prefixOrder + botID + "/" + orderID)
}

// LogEvent appends the envelope. Order and fill events also maintain the order rows.
func (r *BadgerRepository) LogEvent(env models.Envelope) error {
	data, err := json.Marshal(storedEvent{Envelope: env, Key: env.Key})
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(env.TS), data); err != nil {
			return err
		}
		switch env.Kind {
		case models.KindOrder:
			return upsertOrder(txn, env)
		case models.KindFill:
			return markFilled(txn, env)
		}
		return nil
	})
}

func upsertOrder(txn *badger.Txn, env models.Envelope) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	id := ev.OrderID
	if id == "" {
		id = ev.ExternalID
	}
	if id == "" || ev.BotID == "" {
		return nil
	}

	key := orderKey(ev.BotID, id)
	var row OrderRow
	if _, err := getJSON(txn, key, &row); err != nil {
		return err
	}
	row.BotID = ev.BotID
	row.OrderID = id
	row.Status = ev.Status
	row.UpdatedAt = env.TS
	if ev.ExternalID != "" {
		row.ExternalID = ev.ExternalID
	}
	if ev.Venue != "" {
		row.Venue = ev.Venue
	}
	if ev.Symbol != "" {
		row.Symbol = ev.Symbol
	}
	if ev.Side != "" {
		row.Side = ev.Side
	}
	if ev.Price != "" {
		row.Price = ev.Price
	}
	if ev.Size != "" {
		row.Size = ev.Size
	}
	return setJSON(txn, key, row)
}

func markFilled(txn *badger.Txn, env models.Envelope) error {
	var ev models.FillEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return fmt.Errorf("decode fill event: %w", err)
	}
	if ev.OrderID == "" || ev.BotID == "" {
		return nil
	}
	key := orderKey(ev.BotID, ev.OrderID)
	var row OrderRow
	found, err := getJSON(txn, key, &row)
	if err != nil || !found {
		return err
	}
	row.Status = models.OrderFilled
	row.UpdatedAt = env.TS
	return setJSON(txn, key, row)
}

// ListEvents returns every logged envelope in timestamp order.
func (r *BadgerRepository) ListEvents() ([]models.Envelope, error) {
	var out []models.Envelope
	err := r.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixEvent), func(_ string, val []byte) error {
			var se storedEvent
			if err := json.Unmarshal(val, &se); err != nil {
				return err
			}
			se.Envelope.Key = se.Key
			out = append(out, se.Envelope)
			return nil
		})
	})
	return out, err
}

func (r *BadgerRepository) SaveBotSnapshot(state models.BotState) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, snapshotKey(state.BotID), state)
	})
}

func (r *BadgerRepository) SaveBotConfig(cfg models.BotConfig) error {
	if cfg.ID == "" {
		return errors.New("bot config without id")
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, configKey(cfg.ID), cfg)
	})
}

func (r *BadgerRepository) LoadBotSnapshot(botID string) (*models.BotState, error) {
	var state models.BotState
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, snapshotKey(botID), &state)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// ListBots returns every bot with a stored config, with the status of its latest snapshot.
func (r *BadgerRepository) ListBots() ([]BotRecord, error) {
	var out []BotRecord
	err := r.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixBot), func(key string, val []byte) error {
			if !strings.HasSuffix(key, "/config") {
				return nil
			}
			var cfg models.BotConfig
			if err := json.Unmarshal(val, &cfg); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			rec := BotRecord{ID: cfg.ID, Config: cfg, Status: models.StatusStopped}
			var state models.BotState
			found, err := getJSON(txn, snapshotKey(cfg.ID), &state)
			if err != nil {
				return err
			}
			if found && state.Status != "" {
				rec.Status = state.Status
			}
			out = append(out, rec)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// StartBotRun 创建运行记录, 运行ID为 base62 编码的 UUID。
func (r *BadgerRepository) StartBotRun(botID string, cfg models.BotConfig, strategyVersion string) (string, error) {
	id := uuid.New()
	run := RunRecord{
		RunID:           base62.EncodeToString(id[:]),
		BotID:           botID,
		Config:          cfg,
		StrategyVersion: strategyVersion,
		Status:          models.StatusRunning,
		StartedAt:       r.now(),
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, runKey(run.RunID), run)
	})
	if err != nil {
		return "", err
	}
	return run.RunID, nil
}

func (r *BadgerRepository) EndBotRun(runID string, status models.BotStatus) error {
	return r.db.Update(func(txn *badger.Txn) error {
		var run RunRecord
		found, err := getJSON(txn, runKey(runID), &run)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		ended := r.now()
		run.Status = status
		run.EndedAt = &ended
		return setJSON(txn, runKey(runID), run)
	})
}

// GetRun loads a run record. If none is stored it returns (nil, nil).
func (r *BadgerRepository) GetRun(runID string) (*RunRecord, error) {
	var run RunRecord
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, runKey(runID), &run)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &run, nil
}

func (r *BadgerRepository) ListOpenOrders(botID string) ([]OrderRow, error) {
	var out []OrderRow
	err := r.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixOrder+botID+"/"), func(_ string, val []byte) error {
			var row OrderRow
			if err := json.Unmarshal(val, &row); err != nil {
				return err
			}
			if row.Status.Live() {
				out = append(out, row)
			}
			return nil
		})
	})
	return out, err
}

// Close gracefully closes the connection to the database.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

// getJSON decodes the value at key. A missing key reports found=false with no error.
func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		if len(val) == 0 {
			return fmt.Errorf("value for %s is empty in database", key)
		}
		return json.Unmarshal(val, v)
	})
	return err == nil, err
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func scan(txn *badger.Txn, prefix []byte, fn func(key string, val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return err
		}
	}
	return nil
}
