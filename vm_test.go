package pyro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, src string) *VM {
	t.Helper()
	vm := NewVM(NewConfig())
	err := vm.ExecString("test", []byte(src))
	require.NoError(t, err)
	return vm
}

func TestArithmeticAndGlobalDefinition(t *testing.T) {
	vm := run(t, `var x = 2 + 3 * 4;`)
	assert.Equal(t, int64(14), vm.globals["x"].AsI64())
}

func TestFunctionCallWithLocalsAndUpvalues(t *testing.T) {
	vm := run(t, `
		def makeCounter() {
			var n = 0;
			def inc() {
				n = n + 1;
				return n;
			}
			return inc;
		}
		var counter = makeCounter();
		var a = counter();
		var b = counter();
	`)
	assert.Equal(t, int64(1), vm.globals["a"].AsI64())
	assert.Equal(t, int64(2), vm.globals["b"].AsI64())
}

func TestVectorLiteralConstruction(t *testing.T) {
	vm := run(t, `var v = [1, 2, 3];`)
	vec, ok := vm.globals["v"].obj.(*ObjVec)
	require.True(t, ok)
	require.Len(t, vec.items, 3)
	assert.Equal(t, int64(1), vec.items[0].AsI64())
	assert.Equal(t, int64(3), vec.items[2].AsI64())
}

func TestClassFieldsAndMethodsIncludingStatic(t *testing.T) {
	vm := run(t, `
		class Counter {
			pub var count = 0;
			static var label = "counter";
			pub def increment() {
				self.count = self.count + 1;
				return self.count;
			}
		}
		var c = Counter();
		var r1 = c.increment();
		var r2 = c.increment();
		var lbl = Counter.label;
	`)
	assert.Equal(t, int64(1), vm.globals["r1"].AsI64())
	assert.Equal(t, int64(2), vm.globals["r2"].AsI64())
	lbl, ok := vm.globals["lbl"].obj.(*ObjString)
	require.True(t, ok)
	assert.Equal(t, "counter", string(lbl.bytes))

	class, ok := vm.globals["Counter"].obj.(*ObjClass)
	require.True(t, ok)
	_, instanceHasStatic := class.allFieldIndexes["label"]
	assert.False(t, instanceHasStatic, "a static field must not also occupy an instance field slot")
}

func TestInheritanceAndSuperCall(t *testing.T) {
	vm := run(t, `
		class Animal {
			pub def speak() {
				return "...";
			}
		}
		class Dog extends Animal {
			pub def speak() {
				return super:speak() + " Woof";
			}
		}
		var d = Dog();
		var s = d.speak();
	`)
	s, ok := vm.globals["s"].obj.(*ObjString)
	require.True(t, ok)
	assert.Equal(t, "... Woof", string(s.bytes))
}

func TestForInIterationOverVector(t *testing.T) {
	vm := run(t, `
		var v = [10, 20, 30];
		var sum = 0;
		for (x in v) {
			sum = sum + x;
		}
	`)
	assert.Equal(t, int64(60), vm.globals["sum"].AsI64())
}

func TestForInPanicsOnMutationDuringIteration(t *testing.T) {
	vm := NewVM(NewConfig())
	err := vm.ExecString("test", []byte(`
		var v = [1, 2, 3];
		for (x in v) {
			v[0] = 99;
		}
	`))
	require.Error(t, err)
	p, ok := err.(*Panic)
	require.True(t, ok)
	assert.Equal(t, PanicValueError, p.Kind)
}

func TestWithBlockRunsEnterAndExitExactlyOnce(t *testing.T) {
	vm := run(t, `
		var entered = false;
		var exited = false;
		class Resource {
			pub def $enter() {
				entered = true;
				return self;
			}
			pub def $exit() {
				exited = true;
			}
		}
		with r = Resource() {
		}
	`)
	assert.True(t, vm.globals["entered"].AsBool())
	assert.True(t, vm.globals["exited"].AsBool())
}

func TestTryExpressionCatchesPanicIntoErrValue(t *testing.T) {
	vm := run(t, `
		var result = try (1 / 0);
	`)
	e, ok := vm.globals["result"].obj.(*ObjErr)
	require.True(t, ok, "a panic inside try must convert to an ObjErr rather than propagate")
	assert.Contains(t, string(e.message.bytes), "division by zero")
}

func TestTryExpressionScopesToItsOwnCallFrame(t *testing.T) {
	vm := run(t, `
		def boom() {
			return 1 / 0;
		}
		def callBoom() {
			return try boom();
		}
		var result = callBoom();
	`)
	e, ok := vm.globals["result"].obj.(*ObjErr)
	require.True(t, ok, "a panic raised in a deeper frame must still be caught by the try in the calling frame")
	assert.Contains(t, string(e.message.bytes), "division by zero")
}

func TestNestedTryLeavesOuterMarkerIntactAfterInnerCatch(t *testing.T) {
	// The inner try catches its own division by zero and closes first;
	// the outer try must still be open to catch boom2()'s panic, which
	// only happens on the right-hand side of "==" evaluated afterward.
	vm := run(t, `
		def boom2() {
			return 1 / 0;
		}
		var result = try ((try (1 / 0)) == boom2());
	`)
	e, ok := vm.globals["result"].obj.(*ObjErr)
	require.True(t, ok, "the outer try's marker must survive the inner try's catch-and-close")
	assert.Contains(t, string(e.message.bytes), "division by zero")
}

func TestModFlooredVsRemTruncatingSemantics(t *testing.T) {
	vm := run(t, `
		var r1 = -7 rem 3;
		var m1 = -7 mod 3;
		var r2 = 7 rem -3;
		var m2 = 7 mod -3;
	`)
	assert.Equal(t, int64(-1), vm.globals["r1"].AsI64(), "rem is Go's truncating remainder: sign follows the dividend")
	assert.Equal(t, int64(2), vm.globals["m1"].AsI64(), "mod is floored: sign follows the divisor")
	assert.Equal(t, int64(1), vm.globals["r2"].AsI64())
	assert.Equal(t, int64(-2), vm.globals["m2"].AsI64())
}

func TestStringInterpolationEndToEnd(t *testing.T) {
	vm := run(t, `
		var name = "world";
		var greeting = "hello, ${name}!";
	`)
	s, ok := vm.globals["greeting"].obj.(*ObjString)
	require.True(t, ok)
	assert.Equal(t, "hello, world!", string(s.bytes))
}

func TestDefaultArgumentsEvaluatedOnlyWhenMissing(t *testing.T) {
	vm := run(t, `
		var calls = 0;
		def next() {
			calls = calls + 1;
			return calls;
		}
		def greet(name, tag = next()) {
			return "${name}-${tag}";
		}
		var a = greet("x");
		var b = greet("y");
		var c = greet("z", 99);
	`)
	assert.Equal(t, int64(2), vm.globals["calls"].AsI64(), "the default expression must run once per call that actually needs it")
	a, ok := vm.globals["a"].obj.(*ObjString)
	require.True(t, ok)
	assert.Equal(t, "x-1", string(a.bytes))
	b, ok := vm.globals["b"].obj.(*ObjString)
	require.True(t, ok)
	assert.Equal(t, "y-2", string(b.bytes))
	c, ok := vm.globals["c"].obj.(*ObjString)
	require.True(t, ok)
	assert.Equal(t, "z-99", string(c.bytes), "a supplied argument must skip evaluating the default entirely")
}

func TestDefaultArgumentMissingNonDefaultPanics(t *testing.T) {
	vm := NewVM(NewConfig())
	err := vm.ExecString("test", []byte(`
		def f(a, b = 1) {
			return a + b;
		}
		var x = f();
	`))
	require.Error(t, err)
	p, ok := err.(*Panic)
	require.True(t, ok)
	assert.Equal(t, PanicArgsError, p.Kind)
}

func TestVariadicFunctionPacksRestArgsIntoTuple(t *testing.T) {
	vm := run(t, `
		def sumAll(first, ...rest) {
			var total = first;
			for (x in rest) {
				total = total + x;
			}
			return total;
		}
		var a = sumAll(1, 2, 3, 4);
		var b = sumAll(10);
	`)
	assert.Equal(t, int64(10), vm.globals["a"].AsI64())
	assert.Equal(t, int64(10), vm.globals["b"].AsI64(), "a variadic function must still work with zero rest arguments")
}

func TestNonVariadicTooManyArgsPanics(t *testing.T) {
	vm := NewVM(NewConfig())
	err := vm.ExecString("test", []byte(`
		def f(a) {
			return a;
		}
		var x = f(1, 2);
	`))
	require.Error(t, err)
	p, ok := err.(*Panic)
	require.True(t, ok)
	assert.Equal(t, PanicArgsError, p.Kind)
}

func TestColonMethodCallAndPrivilegedSelfAccess(t *testing.T) {
	vm := run(t, `
		class Box {
			pri var secret = 0;
			pub def $init(v) {
				self.secret = v;
			}
			pub def reveal() {
				return self.secret;
			}
		}
		var b = Box(7);
		var v = b:reveal();
	`)
	assert.Equal(t, int64(7), vm.globals["v"].AsI64())
}

func TestModuleMemberAccessViaDoubleColon(t *testing.T) {
	vm := run(t, `
		import std::math;
		var p = math::pi;
	`)
	assert.InDelta(t, 3.14159265358979323846, vm.globals["p"].AsF64(), 1e-9)
}

func TestEnumDeclarationBuildsDistinctSingletonMembers(t *testing.T) {
	vm := run(t, `
		enum Color {
			Red,
			Green,
			Blue,
		}
		var r = Color::Red;
		var g = Color::Green;
		var sameRed = Color::Red;
	`)
	r, ok := vm.globals["r"].obj.(*ObjEnumMember)
	require.True(t, ok)
	g, ok := vm.globals["g"].obj.(*ObjEnumMember)
	require.True(t, ok)
	sameRed, ok := vm.globals["sameRed"].obj.(*ObjEnumMember)
	require.True(t, ok)
	assert.Equal(t, "Red", r.name)
	assert.Same(t, r, sameRed, "the same enum member accessed twice must be the same object")
	assert.NotSame(t, r, g)
}

func TestSplatCallExpandsVectorIntoArguments(t *testing.T) {
	vm := run(t, `
		def add3(a, b, c) {
			return a + b + c;
		}
		var args = [1, 2, 3];
		var total = add3(...args);
	`)
	assert.Equal(t, int64(6), vm.globals["total"].AsI64())
}

func TestUnpackingVarDeclDestructuresVector(t *testing.T) {
	vm := run(t, `
		def pair() {
			return [1, 2];
		}
		var (a, b) = pair();
	`)
	assert.Equal(t, int64(1), vm.globals["a"].AsI64())
	assert.Equal(t, int64(2), vm.globals["b"].AsI64())
}
