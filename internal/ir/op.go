package ir

// Op enumerates node operations.
type Op uint8

const (
	// OpInvalid marks a zero node.
	OpInvalid Op = iota

	// OpStart begins the entry block.
	OpStart
	// OpBegin begins the block on one side of an If.
	OpBegin
	// OpMerge joins the blocks ending in its End inputs.
	OpMerge
	// OpLoopBegin is a merge with one forward End and one or more LoopEnd inputs.
	OpLoopBegin
	// OpEnd ends a block that flows into a Merge or LoopBegin.
	OpEnd
	// OpLoopEnd ends a block with a back edge to its LoopBegin.
	OpLoopEnd
	// OpIf splits control on a boolean input.
	OpIf
	// OpReturn leaves the function, optionally with a value.
	OpReturn

	// OpNew allocates an instance of a Type.
	OpNew
	// OpNewArray allocates an array with the length input.
	OpNewArray
	// OpBox allocates a box holding a primitive.
	OpBox
	// OpUnbox reads the primitive held by a box.
	OpUnbox
	// OpLoadField reads an instance field.
	OpLoadField
	// OpStoreField writes an instance field.
	OpStoreField
	// OpLoadIndexed reads an array element.
	OpLoadIndexed
	// OpStoreIndexed writes an array element.
	OpStoreIndexed
	// OpArrayLength reads an array length.
	OpArrayLength
	// OpLoadStatic reads a static.
	OpLoadStatic
	// OpStoreStatic writes a static.
	OpStoreStatic
	// OpInvoke calls an opaque function.
	OpInvoke
	// OpMonitorEnter locks an object.
	OpMonitorEnter
	// OpMonitorExit unlocks an object.
	OpMonitorExit
	// OpCommitAllocation allocates zeroed objects in one step.
	OpCommitAllocation

	// OpConst is a constant value.
	OpConst
	// OpParam is a function parameter.
	OpParam
	// OpPhi selects a value by the incoming edge of its merge.
	OpPhi
	// OpAdd is integer or float addition.
	OpAdd
	// OpSub is integer or float subtraction.
	OpSub
	// OpMul is integer or float multiplication.
	OpMul
	// OpEq compares primitives for equality.
	OpEq
	// OpLt compares primitives for ordering.
	OpLt
	// OpRefEq compares references for identity.
	OpRefEq
	// OpIsNull tests a reference against null.
	OpIsNull
	// OpAllocatedObject is the reference to one object of a CommitAllocation.
	OpAllocatedObject

	numOps
)

// NumOps is the size of op-indexed tables.
const NumOps = int(numOps)

var opNames = [numOps]string{
	OpInvalid:          "invalid",
	OpStart:            "start",
	OpBegin:            "begin",
	OpMerge:            "merge",
	OpLoopBegin:        "loopbegin",
	OpEnd:              "end",
	OpLoopEnd:          "loopend",
	OpIf:               "if",
	OpReturn:           "return",
	OpNew:              "new",
	OpNewArray:         "newarray",
	OpBox:              "box",
	OpUnbox:            "unbox",
	OpLoadField:        "load",
	OpStoreField:       "store",
	OpLoadIndexed:      "aload",
	OpStoreIndexed:     "astore",
	OpArrayLength:      "alength",
	OpLoadStatic:       "getstatic",
	OpStoreStatic:      "putstatic",
	OpInvoke:           "call",
	OpMonitorEnter:     "monitorenter",
	OpMonitorExit:      "monitorexit",
	OpCommitAllocation: "commit",
	OpConst:            "const",
	OpParam:            "param",
	OpPhi:              "phi",
	OpAdd:              "add",
	OpSub:              "sub",
	OpMul:              "mul",
	OpEq:               "eq",
	OpLt:               "lt",
	OpRefEq:            "refeq",
	OpIsNull:           "isnull",
	OpAllocatedObject:  "allocated",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "op?"
}

// OpByName maps a printed op name back to its Op.
func OpByName(name string) (Op, bool) {
	for i, n := range opNames {
		if n == name && Op(i) != OpInvalid { //nolint:gosec // bounded by numOps
			return Op(i), true //nolint:gosec // bounded by numOps
		}
	}
	return OpInvalid, false
}

// IsFixed reports whether nodes of this op live in a control chain.
func (op Op) IsFixed() bool {
	return op >= OpStart && op <= OpCommitAllocation
}

// IsFloating reports whether nodes of this op are pure data nodes.
func (op Op) IsFloating() bool {
	return op >= OpConst && op < numOps
}

// BeginsBlock reports whether the op starts a basic block.
func (op Op) BeginsBlock() bool {
	switch op {
	case OpStart, OpBegin, OpMerge, OpLoopBegin:
		return true
	}
	return false
}

// IsMerge reports whether the op joins control edges.
func (op Op) IsMerge() bool {
	return op == OpMerge || op == OpLoopBegin
}

// EndsBlock reports whether the op is the last fixed node of a block.
func (op Op) EndsBlock() bool {
	switch op {
	case OpEnd, OpLoopEnd, OpIf, OpReturn:
		return true
	}
	return false
}

// IsAllocation reports whether the op creates heap objects.
func (op Op) IsAllocation() bool {
	switch op {
	case OpNew, OpNewArray, OpBox, OpCommitAllocation:
		return true
	}
	return false
}

// HasValue reports whether nodes of this op produce a value that other nodes may consume.
func (op Op) HasValue() bool {
	switch op {
	case OpNew, OpNewArray, OpBox, OpUnbox, OpLoadField, OpLoadIndexed, OpArrayLength,
		OpLoadStatic, OpInvoke:
		return true
	}
	return op.IsFloating()
}
