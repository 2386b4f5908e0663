/*
 * lockcheck reports the locking mistakes the type system cannot see:
 *
 * - a call to the condition wait primitive outside a for loop. the wait
 *   can return early, so the caller must re-check its condition in a
 *   loop; a bare if is a lost-wakeup bug waiting to happen.
 * - a blocking lock acquire while a spinlock is held. the acquire can
 *   sleep, and sleeping with a spinlock held wedges every processor
 *   that wants it.
 * - re-acquiring a spinlock already held on the same path, which
 *   deadlocks the holder against itself.
 *
 * the held-lock tracking is per function and follows source order, not
 * control flow, which is as precise as the kernel's straight-line
 * lock/unlock style needs. _test.go files are ignored; some tests take
 * locks wrongly on purpose to check the panics.
 *
 * build it and run: go vet -vettool=$(which lockcheck) ./...
 */
package main

import "go/ast"
import "go/token"
import "go/types"
import "strings"

import "golang.org/x/tools/go/analysis"
import "golang.org/x/tools/go/analysis/passes/inspect"
import "golang.org/x/tools/go/analysis/singlechecker"
import "golang.org/x/tools/go/ast/inspector"

var analyzer = &analysis.Analyzer{
	Name:     "lockcheck",
	Doc:      "check condition-wait loops and spinlock discipline",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

// matched against (*types.Func).FullName so in-package and qualified
// calls classify the same way
const (
	spinacquire  = "spinlock.Spinlock_t).Acquire"
	spinrelease  = "spinlock.Spinlock_t).Release"
	sleepacquire = "sleeplock.Sleeplock_t).Acquiresleep"
	condwait     = "/proc.Sleep"
)

func main() {
	singlechecker.Main(analyzer)
}

func run(pass *analysis.Pass) (interface{}, error) {
	ins := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	ins.WithStack([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push || intest(pass, n) {
			return true
		}
		call := n.(*ast.CallExpr)
		if !strings.HasSuffix(callee(pass, call), condwait) {
			return true
		}
		// look for an enclosing for statement, but not past the
		// function the call sits in
		inloop := false
	up:
		for i := len(stack) - 2; i >= 0; i-- {
			switch stack[i].(type) {
			case *ast.ForStmt:
				inloop = true
				break up
			case *ast.FuncDecl, *ast.FuncLit:
				break up
			}
		}
		if !inloop {
			pass.Reportf(call.Pos(), "wait without a condition re-check loop")
		}
		return true
	})

	for _, f := range pass.Files {
		if intest(pass, f) {
			continue
		}
		var bodies []*ast.BlockStmt
		ast.Inspect(f, func(n ast.Node) bool {
			switch v := n.(type) {
			case *ast.FuncDecl:
				if v.Body != nil {
					bodies = append(bodies, v.Body)
				}
			case *ast.FuncLit:
				bodies = append(bodies, v.Body)
			}
			return true
		})
		for _, b := range bodies {
			h := &holdwalk_t{pass: pass}
			h.walk(b)
		}
	}
	return nil, nil
}

type held_t struct {
	key string
	pos token.Pos
}

// holdwalk_t tracks which spinlocks a function body has acquired and
// not yet released, in source order. a closure runs at some other time
// under some other held set, so function literals get their own walk.
type holdwalk_t struct {
	pass *analysis.Pass
	held []held_t
}

func (h *holdwalk_t) walk(body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		switch v := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.CallExpr:
			h.call(v)
		}
		return true
	})
}

func (h *holdwalk_t) call(call *ast.CallExpr) {
	name := callee(h.pass, call)
	switch {
	case strings.HasSuffix(name, spinacquire):
		key := lockkey(call)
		if i := h.find(key); i != -1 {
			at := h.pass.Fset.Position(h.held[i].pos)
			h.pass.Reportf(call.Pos(), "%s re-acquired while held (acquired at %v)", key, at)
			return
		}
		h.held = append(h.held, held_t{key, call.Pos()})
	case strings.HasSuffix(name, spinrelease):
		if i := h.find(lockkey(call)); i != -1 {
			h.held = append(h.held[:i], h.held[i+1:]...)
		}
	case strings.HasSuffix(name, sleepacquire):
		if len(h.held) > 0 {
			in := h.held[len(h.held)-1]
			h.pass.Reportf(call.Pos(), "blocking acquire while holding spinlock %s", in.key)
		}
	}
}

func (h *holdwalk_t) find(key string) int {
	for i := range h.held {
		if h.held[i].key == key {
			return i
		}
	}
	return -1
}

// lockkey names the lock by its receiver expression; two textually
// identical receivers in one function are taken to be the same lock.
func lockkey(call *ast.CallExpr) string {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		panic("nuts")
	}
	return types.ExprString(sel.X)
}

func callee(pass *analysis.Pass, call *ast.CallExpr) string {
	var id *ast.Ident
	switch fe := call.Fun.(type) {
	case *ast.Ident:
		id = fe
	case *ast.SelectorExpr:
		id = fe.Sel
	default:
		return ""
	}
	if fn, ok := pass.TypesInfo.Uses[id].(*types.Func); ok {
		return fn.FullName()
	}
	return ""
}

func intest(pass *analysis.Pass, n ast.Node) bool {
	return strings.HasSuffix(pass.Fset.Position(n.Pos()).Filename, "_test.go")
}
