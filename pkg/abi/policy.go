package abi

// Rule is an extra growability predicate, evaluated after the explicit sets.
type Rule interface {
	Growable(kind Kind, name string) (bool, error)
}

// RuleFunc adapts a plain function to Rule.
type RuleFunc func(kind Kind, name string) (bool, error)

func (f RuleFunc) Growable(kind Kind, name string) (bool, error) { return f(kind, name) }

// Policy holds the append-only overrides. Anything not growable is checked exactly.
type Policy struct {
	growableStructs map[string]struct{}
	growableEnums   map[string]struct{}
	rules           []Rule
}

// NewPolicy builds a policy from the two override sets and optional rules.
func NewPolicy(growableStructs, growableEnums []string, rules ...Rule) *Policy {
	return &Policy{
		growableStructs: toSet(growableStructs),
		growableEnums:   toSet(growableEnums),
		rules:           rules,
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// GrowableStruct reports whether trailing fields may be appended to name.
func (p *Policy) GrowableStruct(name string) (bool, error) {
	if p == nil {
		return false, nil
	}
	return p.growable(KindStruct, name, p.growableStructs)
}

// GrowableEnum reports whether trailing enumerators may be appended to name.
func (p *Policy) GrowableEnum(name string) (bool, error) {
	if p == nil {
		return false, nil
	}
	return p.growable(KindEnum, name, p.growableEnums)
}

func (p *Policy) growable(kind Kind, name string, set map[string]struct{}) (bool, error) {
	if _, ok := set[name]; ok {
		return true, nil
	}
	for _, r := range p.rules {
		ok, err := r.Growable(kind, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
