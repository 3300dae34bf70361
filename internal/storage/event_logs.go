package storage

// DecisionCycleRepo is the append-only decision-cycle log: one row per
// (symbol, cycle), including SKIP and BLOCK outcomes. It is the
// canonical source for the market_each_cycle dataset, grounded on
// decision_cycle_repo_jsonl.py.
type DecisionCycleRepo struct{ repo *JsonlRepo }

func NewDecisionCycleRepo(path string) (*DecisionCycleRepo, error) {
	if path == "" {
		path = "data/runtime/decision_cycles.jsonl"
	}
	r, err := NewJsonlRepo(path)
	if err != nil {
		return nil, err
	}
	return &DecisionCycleRepo{repo: r}, nil
}

func (d *DecisionCycleRepo) Path() string { return d.repo.Path() }
func (d *DecisionCycleRepo) Append(row map[string]any) error { return d.repo.Append(row) }
func (d *DecisionCycleRepo) ReadAll() ([]map[string]any, error) { return d.repo.ReadAll() }

// ExecutionEventRepo is the append-only fills log, grounded on
// execution_event_repo_jsonl.py. Unlike the cycle logs it has no
// read_all in the original; callers stream it with Iter.
type ExecutionEventRepo struct{ repo *JsonlRepo }

func NewExecutionEventRepo(path string) (*ExecutionEventRepo, error) {
	if path == "" {
		path = "data/runtime/executions.jsonl"
	}
	r, err := NewJsonlRepo(path)
	if err != nil {
		return nil, err
	}
	return &ExecutionEventRepo{repo: r}, nil
}

func (e *ExecutionEventRepo) Path() string { return e.repo.Path() }
func (e *ExecutionEventRepo) Append(row map[string]any) error { return e.repo.Append(row) }
func (e *ExecutionEventRepo) Iter(fn func(map[string]any) bool) error { return e.repo.Iter(fn) }

// OrderEventRepo is the append-only OMS events log, grounded on
// order_event_repo_jsonl.py.
type OrderEventRepo struct{ repo *JsonlRepo }

func NewOrderEventRepo(path string) (*OrderEventRepo, error) {
	if path == "" {
		path = "data/runtime/orders.jsonl"
	}
	r, err := NewJsonlRepo(path)
	if err != nil {
		return nil, err
	}
	return &OrderEventRepo{repo: r}, nil
}

func (o *OrderEventRepo) Path() string { return o.repo.Path() }
func (o *OrderEventRepo) Append(row map[string]any) error { return o.repo.Append(row) }
func (o *OrderEventRepo) Iter(fn func(map[string]any) bool) error { return o.repo.Iter(fn) }

// UniverseCycleRepo is the append-only universe-cycle log: one row per
// (refresh_event, symbol), including symbols that were considered but
// not selected. This is the AI-ready dataset source for coin-selection
// modeling, grounded on universe_cycle_repo_jsonl.py.
type UniverseCycleRepo struct{ repo *JsonlRepo }

func NewUniverseCycleRepo(path string) (*UniverseCycleRepo, error) {
	if path == "" {
		path = "data/runtime/universe_cycles.jsonl"
	}
	r, err := NewJsonlRepo(path)
	if err != nil {
		return nil, err
	}
	return &UniverseCycleRepo{repo: r}, nil
}

func (u *UniverseCycleRepo) Path() string { return u.repo.Path() }
func (u *UniverseCycleRepo) Append(row map[string]any) error { return u.repo.Append(row) }
func (u *UniverseCycleRepo) ReadAll() ([]map[string]any, error) { return u.repo.ReadAll() }

// UniverseSelectionRepo is the append-only universe-selection log: one
// row per refresh event (the selected set plus excluded reasons), used
// for audit and future universe-selection modeling, grounded on
// universe_selection_repo_jsonl.py.
type UniverseSelectionRepo struct{ repo *JsonlRepo }

func NewUniverseSelectionRepo(path string) (*UniverseSelectionRepo, error) {
	if path == "" {
		path = "data/runtime/universe_selection.jsonl"
	}
	r, err := NewJsonlRepo(path)
	if err != nil {
		return nil, err
	}
	return &UniverseSelectionRepo{repo: r}, nil
}

func (u *UniverseSelectionRepo) Path() string { return u.repo.Path() }
func (u *UniverseSelectionRepo) Append(row map[string]any) error { return u.repo.Append(row) }
func (u *UniverseSelectionRepo) ReadAll() ([]map[string]any, error) { return u.repo.ReadAll() }
