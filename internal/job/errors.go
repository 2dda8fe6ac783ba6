package job

import "errors"

var (
	ErrNotFound        = errors.New("spark job not found")
	ErrDuplicate       = errors.New("spark job identifier already taken")
	ErrInvalidJob      = errors.New("invalid spark job")
	ErrRunInProgress   = errors.New("spark job is still running")
	ErrInvalidNotebook = errors.New("only Jupyter notebooks (.ipynb) are supported")
)
