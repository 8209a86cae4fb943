package filters

import (
	"errors"
	"fmt"
)

// Name collisions on create/copy are reported by a nil result, not an error.
var (
	ErrInvalidName          = errors.New("invalid name")
	ErrReservedName         = errors.New("name contains reserved reference delimiter")
	ErrDuplicateName        = errors.New("name already in use")
	ErrNoSuchPool           = errors.New("pool is not owned by this manager")
	ErrNoSuchFilter         = errors.New("filter is not owned by this pool")
	ErrPoolNotDeletable     = errors.New("pool is not deletable")
	ErrPoolNotRenamable     = errors.New("pool is not renamable")
	ErrFilterNotDeletable   = errors.New("filter is not deletable")
	ErrFilterNotRenamable   = errors.New("filter is not renamable")
	ErrFilterNotChangeable  = errors.New("filter is not changeable")
	ErrStringsNotChangeable = errors.New("filter strings are not changeable")
	ErrNestingUnsupported   = errors.New("filter does not support nested filters")
	ErrDuplicateString      = errors.New("filter already contains this string")
	ErrSingleStringOnly     = errors.New("filter allows a single string only")
)

// CheckStringPolicy reports whether value may be added to f under its
// duplicate-strings and single-string policies. Filter itself accepts any
// string; callers that want strict behavior check here first.
func CheckStringPolicy(f *Filter, value string) error {
	if f.EffectiveSingleStringOnly() && f.StringCount() > 0 {
		return fmt.Errorf("%w: %s", ErrSingleStringOnly, f.FullName())
	}
	if !f.SupportsDuplicateStrings() && f.LookupString(value) != nil {
		return fmt.Errorf("%w: %q in %s", ErrDuplicateString, value, f.FullName())
	}
	return nil
}
