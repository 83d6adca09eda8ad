package domain

import "github.com/shopspring/decimal"

// Call single runtime call (pallet + function + arguments).
type Call struct {
	Module   string
	Function string
	Args     map[string]any
}

// ExtrinsicBuilder accumulates calls of a transaction under construction.
// It is a value: appending returns a new builder and never mutates the receiver's calls.
type ExtrinsicBuilder struct {
	calls []Call
}

// AddCall returns a builder with the call appended.
func (b ExtrinsicBuilder) AddCall(call Call) ExtrinsicBuilder {
	calls := make([]Call, len(b.calls), len(b.calls)+1)
	copy(calls, b.calls)

	return ExtrinsicBuilder{calls: append(calls, call)}
}

// Calls returns a copy of the accumulated calls.
func (b ExtrinsicBuilder) Calls() []Call {
	calls := make([]Call, len(b.calls))
	copy(calls, b.calls)

	return calls
}

// CallBuilder appends the calls of one flow to a builder.
// It must not perform network I/O; unresolved chain reads make it fail with ErrDependencyNotReady.
type CallBuilder func(ExtrinsicBuilder) (ExtrinsicBuilder, error)

// Extrinsic unsigned transaction ready for encoding.
type Extrinsic struct {
	Chain   string
	Account string
	Calls   []Call
	Tip     decimal.Decimal
}

// BuildExtrinsic runs the builder and wraps the resulting calls.
func BuildExtrinsic(chain, account string, tip decimal.Decimal, builder CallBuilder) (Extrinsic, error) {
	if builder == nil {
		return Extrinsic{}, ErrDependencyNotReady
	}
	b, err := builder(ExtrinsicBuilder{})
	if err != nil {
		return Extrinsic{}, err
	}
	if len(b.calls) == 0 {
		return Extrinsic{}, ErrEmptyExtrinsic
	}

	return Extrinsic{Chain: chain, Account: account, Calls: b.Calls(), Tip: tip}, nil
}
