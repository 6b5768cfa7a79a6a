package services

import "errors"

var (
	ErrWorkflowExists  = errors.New("workflow already exists")
	ErrInvalidWorkflow = errors.New("workflow is invalid")
	ErrCapacity        = errors.New("execution capacity reached")
	ErrInvalidSchedule = errors.New("invalid schedule")
)
