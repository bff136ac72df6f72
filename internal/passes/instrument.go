package passes

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// siteWriter inserts hook calls for one pass.
type siteWriter struct {
	pass string
	opts Options
}

// instrument inserts `call void @hook(fid, site.Index, target)` immediately
// before the site. It returns false without error when the site was already
// instrumented or has an unexpected shape; the latter is reported as a
// diagnostic.
func (w *siteWriter) instrument(m *ir.Module, site Site, fid int64, names localNames) (bool, error) {
	fname := site.Func.Name()
	if !site.matchesKind() {
		w.diagnose(fname, fmt.Sprintf("site %d: instruction %T is not a %s site", site.Index, site.inst, site.Kind))
		return false, nil
	}

	target := site.Target()
	if target == nil {
		return false, fmt.Errorf("%s: @%s: %s site %d: %w", w.pass, fname, site.Kind, site.Index, ErrMissingTarget)
	}
	if !isPointer(target.Type()) && !isI64(target.Type()) {
		w.diagnose(fname, fmt.Sprintf("site %d: target %s has non-pointer type %s", site.Index, target.Ident(), target.Type()))
		return false, nil
	}

	hook, err := DeclareHook(m, w.opts.Hook)
	if err != nil {
		return false, fmt.Errorf("%s: %w", w.pass, err)
	}

	pos := -1
	if !site.isTerminator() {
		pos = slices.IndexFunc(site.Block.Insts, func(inst ir.Instruction) bool {
			return any(inst) == site.inst
		})
		if pos < 0 {
			w.diagnose(fname, fmt.Sprintf("site %d: instruction not found in block %s", site.Index, site.Block.Ident()))
			return false, nil
		}
	}

	if alreadyInstrumented(site.Block.Insts, pos, hook, target) {
		slog.Debug("site already instrumented", "pass", w.pass, "func", fname, "site", site.Index)
		return false, nil
	}

	arg, conv := ConvertTarget(target)
	var inserted []ir.Instruction
	if conv != nil {
		conv.SetName(names.fresh(ptrToIntName))
		arg = conv
		inserted = append(inserted, conv)
	}
	inserted = append(inserted, ir.NewCall(hook,
		constant.NewInt(types.I64, fid),
		constant.NewInt(types.I64, site.Index),
		arg,
	))

	if pos < 0 {
		site.Block.Insts = append(site.Block.Insts, inserted...)
	} else {
		site.Block.Insts = slices.Insert(site.Block.Insts, pos, inserted...)
	}

	slog.Debug("instrumented site",
		"pass", w.pass,
		"func", fname,
		"fid", fid,
		"site", site.Index,
		"kind", site.Kind.String(),
		"target", target.Ident(),
	)
	if w.opts.OnSite != nil {
		w.opts.OnSite(Record{
			Pass:  w.pass,
			Func:  fname,
			FID:   fid,
			Site:  site.Index,
			Kind:  site.Kind,
			Block: site.Block.Ident(),
		})
	}
	return true, nil
}

func (w *siteWriter) diagnose(fname, msg string) {
	d := Diagnostic{Pass: w.pass, Func: fname, Message: msg}
	slog.Warn("skipped site", "pass", d.Pass, "func", d.Func, "reason", d.Message)
	if w.opts.OnDiagnostic != nil {
		w.opts.OnDiagnostic(d)
	}
}

// alreadyInstrumented reports whether the instruction right before position
// pos (or the end of insts when pos is negative) is a hook call for target.
func alreadyInstrumented(insts []ir.Instruction, pos int, hook *ir.Func, target value.Value) bool {
	if pos < 0 {
		pos = len(insts)
	}
	if pos == 0 {
		return false
	}
	call, ok := insts[pos-1].(*ir.InstCall)
	if !ok || call.Callee != value.Value(hook) || len(call.Args) != 3 {
		return false
	}

	arg := call.Args[2]
	if conv, ok := arg.(*ir.InstPtrToInt); ok {
		return sameValue(conv.From, target)
	}
	if _, ok := target.(constant.Constant); ok || isI64(target.Type()) {
		want, _ := ConvertTarget(target)
		return sameValue(arg, want)
	}
	return false
}

func sameValue(a, b value.Value) bool {
	if a == b {
		return true
	}
	return a.Type().Equal(b.Type()) && a.Ident() == b.Ident()
}
