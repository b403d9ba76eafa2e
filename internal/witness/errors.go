package witness

import "errors"

var (
	ErrRequestMismatch  = errors.New("witness: vote is for a different request")
	ErrSetMismatch      = errors.New("witness: vote set id does not match record")
	ErrUnknownValidator = errors.New("witness: validator index not eligible in set")
	ErrBadSignature     = errors.New("witness: signature does not verify")
	ErrDigestMismatch   = errors.New("witness: digest differs from local digest")
	ErrCompleted        = errors.New("witness: proof already assembled")
	ErrInvalidThreshold = errors.New("witness: threshold must be at least one")
	ErrNoValidatorSet   = errors.New("witness: no validator set")
)
