package filters

// Tristate is a boolean policy flag that may be left unset, in which case the
// effective value is taken from the owning container.
type Tristate int8

const (
	Unset Tristate = iota
	True
	False
)

// Of converts a bool into an explicit Tristate.
func Of(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// IsSet reports whether an explicit value was assigned.
func (t Tristate) IsSet() bool {
	return t == True || t == False
}

// Or returns the explicit value, or fallback when unset.
func (t Tristate) Or(fallback bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	}
	return fallback
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unset"
}

// ParseTristate accepts "true", "false" or "" / "unset".
func ParseTristate(s string) Tristate {
	switch s {
	case "true":
		return True
	case "false":
		return False
	}
	return Unset
}
