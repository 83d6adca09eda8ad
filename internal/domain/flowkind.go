package domain

// FlowKind type of confirmation flow.
type FlowKind int

const (
	FlowTransfer FlowKind = iota
	FlowBondInitiate
	FlowBondExisting
	FlowPoolCreate
	FlowSwap
)

// flow string constants to avoid magic strings
const (
	flowStringTransfer     = "transfer"
	flowStringBondInitiate = "bond_initiate"
	flowStringBondExisting = "bond_existing"
	flowStringPoolCreate   = "pool_create"
	flowStringSwap         = "swap"
)

// String returns the string representation of the flow kind
func (k FlowKind) String() string {
	switch k {
	case FlowTransfer:
		return flowStringTransfer
	case FlowBondInitiate:
		return flowStringBondInitiate
	case FlowBondExisting:
		return flowStringBondExisting
	case FlowPoolCreate:
		return flowStringPoolCreate
	case FlowSwap:
		return flowStringSwap
	default:
		return "unknown"
	}
}

// ParseFlowKind converts a string into a FlowKind.
func ParseFlowKind(s string) (FlowKind, bool) {
	switch s {
	case flowStringTransfer:
		return FlowTransfer, true
	case flowStringBondInitiate:
		return FlowBondInitiate, true
	case flowStringBondExisting:
		return FlowBondExisting, true
	case flowStringPoolCreate:
		return FlowPoolCreate, true
	case flowStringSwap:
		return FlowSwap, true
	}
	return 0, false
}
