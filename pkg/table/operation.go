package table

// OperationKind discriminates the variants of Operation. Using an
// explicit tag plus a type switch in the dispatcher, rather than a
// deeper interface hierarchy, keeps the mirroring engine's dispatch
// a flat decision instead of virtual calls scattered across types.
type OperationKind int

const (
	KindGet OperationKind = iota
	KindExists
	KindScan
	KindPut
	KindDelete
	KindAppend
	KindIncrement
	KindRowMutations
	KindCheckAndMutate
)

func (k OperationKind) String() string {
	switch k {
	case KindGet:
		return "Get"
	case KindExists:
		return "Exists"
	case KindScan:
		return "Scan"
	case KindPut:
		return "Put"
	case KindDelete:
		return "Delete"
	case KindAppend:
		return "Append"
	case KindIncrement:
		return "Increment"
	case KindRowMutations:
		return "RowMutations"
	case KindCheckAndMutate:
		return "CheckAndMutate"
	default:
		return "Unknown"
	}
}

// Operation is a discriminated value addressed at a single row (Scan
// is the only variant with a range instead of a row key; its RowKey
// returns the range's start key).
type Operation interface {
	Kind() OperationKind
	RowKey() []byte
}

// Get reads a single row, optionally restricted to a set of columns.
type Get struct {
	Row     []byte
	Columns []Column
}

func (op Get) Kind() OperationKind { return KindGet }
func (op Get) RowKey() []byte      { return op.Row }

// Column identifies a column family and, optionally, a specific
// qualifier within it. An empty Qualifier means "all qualifiers in
// Family".
type Column struct {
	Family    string
	Qualifier []byte
}

// Scan reads a contiguous range of rows, [StartRow, StopRow). An empty
// StopRow means "to the end of the table".
type Scan struct {
	StartRow []byte
	StopRow  []byte
	Columns  []Column
}

func (op Scan) Kind() OperationKind { return KindScan }
func (op Scan) RowKey() []byte      { return op.StartRow }

// Put writes a set of cells to a single row.
type Put struct {
	Row   []byte
	Cells []Cell
}

func (op Put) Kind() OperationKind { return KindPut }
func (op Put) RowKey() []byte      { return op.Row }

// Delete removes a row, a column family, or a single column/qualifier,
// depending on which of Family/Qualifier are set.
type Delete struct {
	Row       []byte
	Family    string
	Qualifier []byte
}

func (op Delete) Kind() OperationKind { return KindDelete }
func (op Delete) RowKey() []byte      { return op.Row }

// Append concatenates Value onto the existing cell value (read-modify-
// write, non-idempotent: replaying it twice appends twice).
type Append struct {
	Row       []byte
	Family    string
	Qualifier []byte
	Value     []byte
}

func (op Append) Kind() OperationKind { return KindAppend }
func (op Append) RowKey() []byte      { return op.Row }

// Increment adds Delta to the existing (big-endian int64) cell value.
// Like Append, it is non-idempotent.
type Increment struct {
	Row       []byte
	Family    string
	Qualifier []byte
	Delta     int64
}

func (op Increment) Kind() OperationKind { return KindIncrement }
func (op Increment) RowKey() []byte      { return op.Row }

// RowMutations groups an ordered list of Put/Delete operations that
// must be applied atomically to a single row.
type RowMutations struct {
	Row       []byte
	Mutations []Operation
}

func (op RowMutations) Kind() OperationKind { return KindRowMutations }
func (op RowMutations) RowKey() []byte      { return op.Row }

// CheckAndMutate applies Mutation only if the cell identified by
// Family/Qualifier currently compares equal to Value (a single
// equality predicate, as used by checkAndPut/checkAndDelete).
type CheckAndMutate struct {
	Row       []byte
	Family    string
	Qualifier []byte
	Value     []byte
	Mutation  RowMutations
}

func (op CheckAndMutate) Kind() OperationKind { return KindCheckAndMutate }
func (op CheckAndMutate) RowKey() []byte      { return op.Row }

// Row is a read result: a key plus the cells that satisfied the read.
type Row struct {
	Key   []byte
	Cells []Cell
}

// Cell is a single versioned column value.
type Cell struct {
	Family    string
	Qualifier []byte
	Timestamp int64
	Value     []byte
}

// ResourceDescription is a size estimate for a batch of operations,
// used by the Flow Controller to decide admission (§3's
// RequestResourcesDescription).
type ResourceDescription struct {
	NumOperations        int
	ApproximateSizeBytes int64
}

// DescribeOperations estimates the resources a batch of operations
// would consume on the secondary, by summing the cell/value bytes each
// operation carries. It is intentionally approximate: an undercount
// only affects admission fairness, never correctness.
func DescribeOperations(ops []Operation) ResourceDescription {
	desc := ResourceDescription{NumOperations: len(ops)}
	for _, op := range ops {
		desc.ApproximateSizeBytes += int64(len(op.RowKey())) + operationPayloadBytes(op)
	}
	return desc
}

func operationPayloadBytes(op Operation) int64 {
	switch v := op.(type) {
	case Put:
		var n int64
		for _, c := range v.Cells {
			n += cellBytes(c)
		}
		return n
	case Delete:
		return int64(len(v.Qualifier))
	case Append:
		return int64(len(v.Value))
	case Increment:
		return 8
	case RowMutations:
		var n int64
		for _, m := range v.Mutations {
			n += operationPayloadBytes(m)
		}
		return n
	case CheckAndMutate:
		return int64(len(v.Value)) + operationPayloadBytes(v.Mutation)
	case Get:
		return 0
	case Scan:
		return 0
	default:
		return 0
	}
}

func cellBytes(c Cell) int64 {
	return int64(len(c.Qualifier) + len(c.Value))
}
