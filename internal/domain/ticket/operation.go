package ticket

import (
	"fmt"
	"strings"
)

// Operation is one of the four named external actions subject to
// independent retry tracking.
type Operation string

const (
	OperationFetch    Operation = "fetch"
	OperationGenerate Operation = "solution-generation"
	OperationExecute  Operation = "execution"
	OperationPublish  Operation = "publish"
)

var AllOperations = []Operation{
	OperationFetch,
	OperationGenerate,
	OperationExecute,
	OperationPublish,
}

func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.TrimSpace(strings.ToLower(raw)))
	switch op {
	case OperationFetch, OperationGenerate, OperationExecute, OperationPublish:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, raw)
	}
}

func (o Operation) String() string { return string(o) }

// WorkingStatus returns the state-machine status that performs o.
func (o Operation) WorkingStatus() Status {
	switch o {
	case OperationFetch:
		return StatusAnalyzing
	case OperationGenerate:
		return StatusGeneratingSolution
	case OperationExecute:
		return StatusExecuting
	case OperationPublish:
		return StatusCreatingPR
	default:
		return StatusAnalyzing
	}
}
