package tensor

// UnaryOp is an element-wise unary operation.
type UnaryOp int

// Unary operations.
const (
	Exp UnaryOp = iota
	Log
	Sin
	Cos
	Tanh
	Abs
	Neg
	Recip
	Sqr
	Sqrt
	Relu
	Gelu
	Silu
)

// AllUnaryOps lists every unary op.
var AllUnaryOps = []UnaryOp{Exp, Log, Sin, Cos, Tanh, Abs, Neg, Recip, Sqr, Sqrt, Relu, Gelu, Silu}

var unaryNames = [...]string{"exp", "log", "sin", "cos", "tanh", "abs", "neg", "recip", "sqr", "sqrt", "relu", "gelu", "silu"}

// String returns the kernel name of the op.
func (op UnaryOp) String() string {
	if op < 0 || int(op) >= len(unaryNames) {
		return "unknown"
	}
	return unaryNames[op]
}

// BinaryOp is an element-wise binary operation.
type BinaryOp int

// Binary operations.
const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Maximum
	Minimum
)

// AllBinaryOps lists every binary op.
var AllBinaryOps = []BinaryOp{Add, Sub, Mul, Div, Maximum, Minimum}

var binaryNames = [...]string{"add", "sub", "mul", "div", "maximum", "minimum"}

// String returns the kernel name of the op.
func (op BinaryOp) String() string {
	if op < 0 || int(op) >= len(binaryNames) {
		return "unknown"
	}
	return binaryNames[op]
}

// CmpOp is an element-wise comparison. Results are U8 (0 or 1).
type CmpOp int

// Comparison operations.
const (
	Eq CmpOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// AllCmpOps lists every comparison.
var AllCmpOps = []CmpOp{Eq, Ne, Lt, Le, Gt, Ge}

var cmpNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

// String returns the name of the op.
func (op CmpOp) String() string {
	if op < 0 || int(op) >= len(cmpNames) {
		return "unknown"
	}
	return cmpNames[op]
}

// ReduceOp is a reduction over one or more dimensions.
type ReduceOp int

// Reduce operations. ArgMin and ArgMax produce U32 indices and reduce a single dimension.
const (
	ReduceSum ReduceOp = iota
	ReduceMin
	ReduceMax
	ReduceArgMin
	ReduceArgMax
)

// AllReduceOps lists every reduction.
var AllReduceOps = []ReduceOp{ReduceSum, ReduceMin, ReduceMax, ReduceArgMin, ReduceArgMax}

var reduceNames = [...]string{"sum", "min", "max", "argmin", "argmax"}

// String returns the name of the op.
func (op ReduceOp) String() string {
	if op < 0 || int(op) >= len(reduceNames) {
		return "unknown"
	}
	return reduceNames[op]
}
