package design

import (
	"fmt"

	"github.com/qw4990/pds_replay/workload"
)

// ApplyError is returned when an arm cannot be created. It aborts the experiment.
type ApplyError struct {
	Arm *workload.Arm
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("create %v: %v", e.Arm.IndexName, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// DropError is reported when an arm cannot be dropped. It is logged and otherwise ignored.
type DropError struct {
	Arm *workload.Arm
	Err error
}

func (e *DropError) Error() string {
	return fmt.Sprintf("drop %v: %v", e.Arm.IndexName, e.Err)
}

func (e *DropError) Unwrap() error {
	return e.Err
}
