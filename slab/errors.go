package slab

import "errors"

var (
	errInitialBelowMaintenance = errors.New("slab: initial_margin_bps must be >= maintenance_margin_bps")
	errMarginBpsRange          = errors.New("slab: margin bps must be in (0, 10000]")
	errBpsRange                = errors.New("slab: bps parameter must be in [0, 10000]")
	errMaxAccountsZero         = errors.New("slab: max_accounts must be nonzero")

	// ErrBadMagic indicates the byte stream does not begin with the slab's
	// magic tag.
	ErrBadMagic = errors.New("slab: bad magic tag")
	// ErrBadVersion indicates a version the current codec cannot decode.
	ErrBadVersion = errors.New("slab: unsupported version")
	// ErrChecksumMismatch indicates the stored checksum does not match the
	// recomputed one, implying a partial or corrupted write.
	ErrChecksumMismatch = errors.New("slab: checksum mismatch")
	// ErrAccountIndexRange indicates an out-of-bounds account index.
	ErrAccountIndexRange = errors.New("slab: account index out of range")
	// ErrBitmapInconsistent indicates the live bitmap disagrees with account
	// data in a way that should be structurally impossible; this is a
	// logic-bug assertion, not a user-facing error (spec.md §9).
	ErrBitmapInconsistent = errors.New("slab: bitmap inconsistency (engine corruption)")
)
