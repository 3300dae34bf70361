package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/matodo9x-maker/bot-trade/internal/trade"
)

// TradeRepo persists trade aggregates as two append-only logs, one
// row per trade_id per write: "<trade_id>,<json>\n". It is grounded on
// trade_repo_csv.py, including that repo's two quirks:
//   - the open log is append-only, so an open trade_id can appear more
//     than once (each AttachExecution update adds a new row); readers
//     must keep the *last* occurrence.
//   - update_closed both appends to the closed log and rewrites the
//     open log with that trade_id's rows removed.
type TradeRepo struct {
	openPath   string
	closedPath string
	mu         sync.Mutex
}

func NewTradeRepo(openPath, closedPath string) (*TradeRepo, error) {
	if openPath == "" {
		openPath = "data/runtime/trades_open.csv"
	}
	if closedPath == "" {
		closedPath = "data/runtime/trades_closed.csv"
	}
	for _, p := range []string{openPath, closedPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create parent dir for %s: %w", p, err)
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if err := os.WriteFile(p, []byte("trade_id,json\n"), 0o644); err != nil {
				return nil, fmt.Errorf("storage: init %s: %w", p, err)
			}
		}
	}
	return &TradeRepo{openPath: openPath, closedPath: closedPath}, nil
}

func writeRow(path string, t trade.Aggregate) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("storage: marshal trade %s: %w", t.TradeID, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s,%s\n", t.TradeID, data); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

func readRows(path string) ([]string, []trade.Aggregate, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	var ids []string
	var trades []trade.Aggregate
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(strings.ToLower(line), "trade_id,") {
			continue
		}
		tid, blob, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		var ta trade.Aggregate
		if err := json.Unmarshal([]byte(blob), &ta); err != nil {
			continue
		}
		ids = append(ids, strings.TrimSpace(tid))
		trades = append(trades, ta)
	}
	return ids, trades, scanner.Err()
}

// SaveOpen appends an OPEN trade's current state.
func (r *TradeRepo) SaveOpen(t trade.Aggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return writeRow(r.openPath, t)
}

// UpdateClosed appends the final CLOSED state to the closed log, then
// rewrites the open log with every row for this trade id removed.
func (r *TradeRepo) UpdateClosed(t trade.Aggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := writeRow(r.closedPath, t); err != nil {
		return err
	}

	lines, err := readRowsRaw(r.openPath)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(lines))
	for _, line := range lines {
		tid, _, ok := strings.Cut(line, ",")
		if ok && strings.TrimSpace(tid) == t.TradeID {
			continue
		}
		remaining = append(remaining, line)
	}
	return os.WriteFile(r.openPath, []byte(strings.Join(remaining, "")), 0o644)
}

// readRowsRaw returns the open log's raw lines (each newline-terminated,
// header included) so UpdateClosed can rewrite the file byte-for-byte
// minus the removed trade id, mirroring writelines() in the original.
func readRowsRaw(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text()+"\n")
	}
	return lines, scanner.Err()
}

// ListClosed returns every trade recorded in the closed log.
func (r *TradeRepo) ListClosed() ([]trade.Aggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, trades, err := readRows(r.closedPath)
	return trades, err
}

// ListOpen returns the latest state of every currently OPEN trade,
// collapsing repeated rows for the same trade id to their last write.
func (r *TradeRepo) ListOpen() ([]trade.Aggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, trades, err := readRows(r.openPath)
	if err != nil {
		return nil, err
	}
	lastByID := make(map[string]trade.Aggregate, len(ids))
	order := make([]string, 0, len(ids))
	for i, id := range ids {
		if _, seen := lastByID[id]; !seen {
			order = append(order, id)
		}
		lastByID[id] = trades[i]
	}
	out := make([]trade.Aggregate, 0, len(order))
	for _, id := range order {
		out = append(out, lastByID[id])
	}
	return out, nil
}

// GetOpen returns the latest OPEN state for tradeID, or ok=false if
// no row exists for it.
func (r *TradeRepo) GetOpen(tradeID string) (trade.Aggregate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, trades, err := readRows(r.openPath)
	if err != nil {
		return trade.Aggregate{}, false, err
	}
	var (
		last  trade.Aggregate
		found bool
	)
	for i, id := range ids {
		if id == tradeID {
			last = trades[i]
			found = true
		}
	}
	return last, found, nil
}

// UpdateExecutionState attaches an execution update to the current OPEN
// state for tradeID and appends the merged result, returning false
// without writing anything if the trade id has no open row or the
// attach itself fails (so a bad update never corrupts storage).
func (r *TradeRepo) UpdateExecutionState(tradeID string, update trade.ExecutionState) (bool, error) {
	t, found, err := r.GetOpen(tradeID)
	if err != nil || !found {
		return false, err
	}
	if err := t.AttachExecution(update); err != nil {
		return false, nil
	}
	if err := r.SaveOpen(t); err != nil {
		return false, err
	}
	return true, nil
}
