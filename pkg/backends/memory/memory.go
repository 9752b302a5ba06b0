// Package memory provides an in-memory table.Table, the backend
// selected by mirroring.{primary,secondary}.connection.impl = "default"
// and used throughout this module's tests in place of a live
// HBase-compatible cluster. It is grounded on the teacher's
// in-memory block allocator (pkg/blobstore/local/in_memory_block_allocator.go):
// a single mutex guarding a plain map, no persistence, no eviction.
package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/mirrorkv/mirrorkv/pkg/clock"
	"github.com/mirrorkv/mirrorkv/pkg/table"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type cellKey struct {
	family    string
	qualifier string
}

// Table is a thread-safe, in-memory table.Table.
type Table struct {
	mu             sync.RWMutex
	rows           map[string]map[cellKey]table.Cell
	closed         bool
	clock          clock.Clock
	closeListeners []func()
}

// New returns an empty in-memory table that stamps cells with the
// system clock.
func New() *Table {
	return NewWithClock(clock.SystemClock)
}

// NewWithClock returns an empty in-memory table that stamps
// zero-Timestamp cells using c, the way the real backend assigns a
// server-side timestamp when the caller doesn't supply one.
func NewWithClock(c clock.Clock) *Table {
	return &Table{rows: make(map[string]map[cellKey]table.Cell), clock: c}
}

func (t *Table) checkOpen() error {
	if t.closed {
		return status.Error(codes.FailedPrecondition, "table is closed")
	}
	return nil
}

func rowToResult(key []byte, cells map[cellKey]table.Cell, columns []table.Column) table.Row {
	row := table.Row{Key: key}
	for ck, cell := range cells {
		if !columnsMatch(columns, ck) {
			continue
		}
		row.Cells = append(row.Cells, cell)
	}
	sort.Slice(row.Cells, func(i, j int) bool {
		if row.Cells[i].Family != row.Cells[j].Family {
			return row.Cells[i].Family < row.Cells[j].Family
		}
		return bytes.Compare(row.Cells[i].Qualifier, row.Cells[j].Qualifier) < 0
	})
	return row
}

func columnsMatch(columns []table.Column, ck cellKey) bool {
	if len(columns) == 0 {
		return true
	}
	for _, c := range columns {
		if c.Family != ck.family {
			continue
		}
		if len(c.Qualifier) == 0 || string(c.Qualifier) == ck.qualifier {
			return true
		}
	}
	return false
}

func (t *Table) Exists(ctx context.Context, get table.Get) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	row, ok := t.rows[string(get.Row)]
	return ok && len(row) > 0, nil
}

func (t *Table) ExistsAll(ctx context.Context, gets []table.Get) ([]bool, error) {
	out := make([]bool, len(gets))
	for i, g := range gets {
		found, err := t.Exists(ctx, g)
		if err != nil {
			return out, err
		}
		out[i] = found
	}
	return out, nil
}

func (t *Table) Get(ctx context.Context, get table.Get) (table.Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return table.Row{}, err
	}
	cells := t.rows[string(get.Row)]
	return rowToResult(get.Row, cells, get.Columns), nil
}

func (t *Table) GetList(ctx context.Context, gets []table.Get) ([]table.Row, error) {
	out := make([]table.Row, len(gets))
	for i, g := range gets {
		row, err := t.Get(ctx, g)
		if err != nil {
			return out, err
		}
		out[i] = row
	}
	return out, nil
}

func (t *Table) Put(ctx context.Context, put table.Put) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.applyPut(put)
	return nil
}

// applyPut stamps any cell the caller left at a zero Timestamp with
// the current time, the way a real region server assigns one at
// write time rather than requiring the client to supply it.
func (t *Table) applyPut(put table.Put) {
	key := string(put.Row)
	cells, ok := t.rows[key]
	if !ok {
		cells = make(map[cellKey]table.Cell)
		t.rows[key] = cells
	}
	for _, c := range put.Cells {
		if c.Timestamp == 0 {
			c.Timestamp = t.clock.Now().UnixNano()
		}
		cells[cellKey{family: c.Family, qualifier: string(c.Qualifier)}] = c
	}
}

func (t *Table) PutList(ctx context.Context, puts []table.Put) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	for _, p := range puts {
		t.applyPut(p)
	}
	return nil
}

func (t *Table) applyDelete(del table.Delete) {
	key := string(del.Row)
	cells, ok := t.rows[key]
	if !ok {
		return
	}
	switch {
	case del.Family == "":
		delete(t.rows, key)
	case len(del.Qualifier) == 0:
		for ck := range cells {
			if ck.family == del.Family {
				delete(cells, ck)
			}
		}
	default:
		delete(cells, cellKey{family: del.Family, qualifier: string(del.Qualifier)})
	}
}

func (t *Table) Delete(ctx context.Context, del table.Delete) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.applyDelete(del)
	return nil
}

func (t *Table) DeleteList(ctx context.Context, dels []table.Delete) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	for _, d := range dels {
		t.applyDelete(d)
	}
	return nil
}

func (t *Table) applyMutation(op table.Operation) error {
	switch v := op.(type) {
	case table.Put:
		t.applyPut(v)
		return nil
	case table.Delete:
		t.applyDelete(v)
		return nil
	default:
		return status.Errorf(codes.InvalidArgument, "unsupported mutation kind %s", v.Kind())
	}
}

func (t *Table) MutateRow(ctx context.Context, mutations table.RowMutations) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	for _, m := range mutations.Mutations {
		if err := t.applyMutation(m); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) Append(ctx context.Context, op table.Append) (table.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return table.Row{}, err
	}
	key := string(op.Row)
	cells, ok := t.rows[key]
	if !ok {
		cells = make(map[cellKey]table.Cell)
		t.rows[key] = cells
	}
	ck := cellKey{family: op.Family, qualifier: string(op.Qualifier)}
	existing := cells[ck]
	merged := append(append([]byte(nil), existing.Value...), op.Value...)
	cells[ck] = table.Cell{Family: op.Family, Qualifier: op.Qualifier, Timestamp: t.clock.Now().UnixNano(), Value: merged}
	return rowToResult(op.Row, cells, nil), nil
}

func (t *Table) Increment(ctx context.Context, op table.Increment) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	key := string(op.Row)
	cells, ok := t.rows[key]
	if !ok {
		cells = make(map[cellKey]table.Cell)
		t.rows[key] = cells
	}
	ck := cellKey{family: op.Family, qualifier: string(op.Qualifier)}
	var current int64
	if existing, ok := cells[ck]; ok && len(existing.Value) == 8 {
		current = int64(binary.BigEndian.Uint64(existing.Value))
	}
	next := current + op.Delta
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next))
	cells[ck] = table.Cell{Family: op.Family, Qualifier: op.Qualifier, Timestamp: t.clock.Now().UnixNano(), Value: buf}
	return next, nil
}

func (t *Table) IncrementColumnValue(ctx context.Context, row []byte, family string, qualifier []byte, amount int64) (int64, error) {
	return t.Increment(ctx, table.Increment{Row: row, Family: family, Qualifier: qualifier, Delta: amount})
}

func (t *Table) CheckAndPut(ctx context.Context, row []byte, family string, qualifier []byte, value []byte, put table.Put) (bool, error) {
	return t.CheckAndMutate(ctx, table.CheckAndMutate{
		Row: row, Family: family, Qualifier: qualifier, Value: value,
		Mutation: table.RowMutations{Row: row, Mutations: []table.Operation{put}},
	})
}

func (t *Table) CheckAndDelete(ctx context.Context, row []byte, family string, qualifier []byte, value []byte, del table.Delete) (bool, error) {
	return t.CheckAndMutate(ctx, table.CheckAndMutate{
		Row: row, Family: family, Qualifier: qualifier, Value: value,
		Mutation: table.RowMutations{Row: row, Mutations: []table.Operation{del}},
	})
}

func (t *Table) CheckAndMutate(ctx context.Context, op table.CheckAndMutate) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	cells := t.rows[string(op.Row)]
	ck := cellKey{family: op.Family, qualifier: string(op.Qualifier)}
	current, ok := cells[ck]
	matches := (ok && bytes.Equal(current.Value, op.Value)) || (!ok && len(op.Value) == 0)
	if !matches {
		return false, nil
	}
	for _, m := range op.Mutation.Mutations {
		if err := t.applyMutation(m); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Table) Batch(ctx context.Context, ops []table.Operation, results []table.Result) error {
	for i, op := range ops {
		if i >= len(results) {
			break
		}
		results[i] = t.applyOne(ctx, op)
	}
	return nil
}

func (t *Table) BatchCallback(ctx context.Context, ops []table.Operation, results []table.Result, cb func(index int, result table.Result)) error {
	for i, op := range ops {
		if i >= len(results) {
			break
		}
		results[i] = t.applyOne(ctx, op)
		if cb != nil {
			cb(i, results[i])
		}
	}
	return nil
}

func (t *Table) applyOne(ctx context.Context, op table.Operation) table.Result {
	switch v := op.(type) {
	case table.Get:
		row, err := t.Get(ctx, v)
		if err != nil {
			return table.ErrResult(err)
		}
		return table.OkResult(row)
	case table.Put:
		if err := t.Put(ctx, v); err != nil {
			return table.ErrResult(err)
		}
		return table.OkResult(nil)
	case table.Delete:
		if err := t.Delete(ctx, v); err != nil {
			return table.ErrResult(err)
		}
		return table.OkResult(nil)
	case table.Append:
		row, err := t.Append(ctx, v)
		if err != nil {
			return table.ErrResult(err)
		}
		return table.OkResult(row)
	case table.Increment:
		n, err := t.Increment(ctx, v)
		if err != nil {
			return table.ErrResult(err)
		}
		return table.OkResult(n)
	case table.RowMutations:
		if err := t.MutateRow(ctx, v); err != nil {
			return table.ErrResult(err)
		}
		return table.OkResult(nil)
	case table.CheckAndMutate:
		applied, err := t.CheckAndMutate(ctx, v)
		if err != nil {
			return table.ErrResult(err)
		}
		return table.OkResult(applied)
	default:
		return table.ErrResult(status.Errorf(codes.InvalidArgument, "unsupported batch operation kind %s", v.Kind()))
	}
}

func (t *Table) GetScanner(ctx context.Context, scan table.Scan) (table.Scanner, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	var keys []string
	for k := range t.rows {
		if k < string(scan.StartRow) {
			continue
		}
		if len(scan.StopRow) > 0 && k >= string(scan.StopRow) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, len(keys))
	for i, k := range keys {
		rows[i] = rowToResult([]byte(k), t.rows[k], scan.Columns)
	}
	return &scanner{rows: rows}, nil
}

type scanner struct {
	rows   []table.Row
	index  int
	closed bool
}

func (s *scanner) Next(ctx context.Context) (table.Row, bool, error) {
	if s.closed {
		return table.Row{}, false, status.Error(codes.FailedPrecondition, "scanner is closed")
	}
	if s.index >= len(s.rows) {
		return table.Row{}, false, nil
	}
	row := s.rows[s.index]
	s.index++
	return row, true, nil
}

func (s *scanner) Close() error {
	s.closed = true
	return nil
}

func (t *Table) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	listeners := t.closeListeners
	t.mu.Unlock()
	for _, l := range listeners {
		l()
	}
	return nil
}

// AddOnCloseListener registers listener to run once Close has marked
// the table closed. Listeners registered after Close has already run
// are never invoked, matching the interface contract.
func (t *Table) AddOnCloseListener(listener func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closeListeners = append(t.closeListeners, listener)
}

var (
	_ table.Table   = (*Table)(nil)
	_ table.Scanner = (*scanner)(nil)
)
