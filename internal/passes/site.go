package passes

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

// SiteKind identifies the shape of an indirect control transfer.
type SiteKind int

const (
	// IndirectBranch is an indirectbr terminator.
	IndirectBranch SiteKind = iota
	// IndirectCall is a call instruction through a runtime value.
	IndirectCall
	// IndirectInvoke is an invoke terminator through a runtime value.
	IndirectInvoke
)

func (k SiteKind) String() string {
	switch k {
	case IndirectBranch:
		return "ibranch"
	case IndirectCall:
		return "icall"
	case IndirectInvoke:
		return "iinvoke"
	}
	return fmt.Sprintf("SiteKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k SiteKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Site is one qualifying instruction found by a scan.
type Site struct {
	Kind  SiteKind
	Func  *ir.Func
	Block *ir.Block

	// Index is the zero-based position of the site among the qualifying
	// sites of Func, in encounter order.
	Index int64

	// inst is *ir.TermIndirectBr, *ir.InstCall or *ir.TermInvoke.
	inst any
}

// Inst returns the underlying instruction or terminator.
func (s Site) Inst() any {
	return s.inst
}

// Target returns the runtime target-address expression of the site, or nil
// if the instruction carries none.
func (s Site) Target() value.Value {
	switch inst := s.inst.(type) {
	case *ir.TermIndirectBr:
		return inst.Addr
	case *ir.InstCall:
		return inst.Callee
	case *ir.TermInvoke:
		return inst.Invokee
	}
	return nil
}

// matchesKind reports whether the instruction has the shape Kind promises.
func (s Site) matchesKind() bool {
	switch s.inst.(type) {
	case *ir.TermIndirectBr:
		return s.Kind == IndirectBranch
	case *ir.InstCall:
		return s.Kind == IndirectCall
	case *ir.TermInvoke:
		return s.Kind == IndirectInvoke
	}
	return false
}

// isTerminator reports whether the site instruction ends its block.
func (s Site) isTerminator() bool {
	switch s.inst.(type) {
	case *ir.TermIndirectBr, *ir.TermInvoke:
		return true
	}
	return false
}

// maxAliasDepth bounds alias chains; cyclic aliases are invalid IR anyway.
const maxAliasDepth = 32

// StaticCallee resolves v to the function it names, looking through constant
// pointer casts and aliases. It returns nil when the callee is only known at
// run time.
func StaticCallee(v value.Value) *ir.Func {
	for range maxAliasDepth {
		switch c := v.(type) {
		case *ir.Func:
			return c
		case *ir.Alias:
			v = c.Aliasee
		case *constant.ExprBitCast:
			v = c.From
		case *constant.ExprAddrSpaceCast:
			v = c.From
		default:
			return nil
		}
	}
	return nil
}

// IsIndirectCallee reports whether a call through v transfers control to a
// runtime-computed target. Inline assembly is not a runtime value and never
// qualifies; a missing callee does, so that the instrumenter can report it.
func IsIndirectCallee(v value.Value) bool {
	if v == nil {
		return true
	}
	if _, ok := v.(*ir.InlineAsm); ok {
		return false
	}
	return StaticCallee(v) == nil
}

// ScanIndirectBranches returns the indirectbr terminators of f in block
// layout order. Each terminator is one site regardless of how many
// destinations it lists.
func ScanIndirectBranches(f *ir.Func) []Site {
	var sites []Site
	for _, block := range f.Blocks {
		if term, ok := block.Term.(*ir.TermIndirectBr); ok {
			sites = append(sites, Site{
				Kind:  IndirectBranch,
				Func:  f,
				Block: block,
				Index: int64(len(sites)),
				inst:  term,
			})
		}
	}
	return sites
}

// ScanIndirectCalls returns the calls and invokes of f whose callee is a
// runtime value, in program order.
func ScanIndirectCalls(f *ir.Func) []Site {
	var sites []Site
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			call, ok := inst.(*ir.InstCall)
			if !ok || !IsIndirectCallee(call.Callee) {
				continue
			}
			sites = append(sites, Site{
				Kind:  IndirectCall,
				Func:  f,
				Block: block,
				Index: int64(len(sites)),
				inst:  call,
			})
		}
		if invoke, ok := block.Term.(*ir.TermInvoke); ok && IsIndirectCallee(invoke.Invokee) {
			sites = append(sites, Site{
				Kind:  IndirectInvoke,
				Func:  f,
				Block: block,
				Index: int64(len(sites)),
				inst:  invoke,
			})
		}
	}
	return sites
}
