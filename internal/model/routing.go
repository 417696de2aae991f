package model

// GlobalDefaultKey is the routing entry used for regions without an explicit mapping.
const GlobalDefaultKey = "global_default"

// RoutingTable maps a region code (or GlobalDefaultKey) to a gateway name.
type RoutingTable map[string]string

// DefaultRoutingTable returns the mapping written when no routing file exists.
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		"US":             "stripe",
		"UK":             "stripe",
		"IN":             "stripe",
		"EU":             "adyen",
		GlobalDefaultKey: "stripe",
	}
}

// Resolve returns the effective gateway for region.
func (t RoutingTable) Resolve(region string) string {
	if gw, ok := t[region]; ok && gw != "" {
		return gw
	}
	return t[GlobalDefaultKey]
}

// Clone returns a copy safe to hand to callers.
func (t RoutingTable) Clone() RoutingTable {
	out := make(RoutingTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
