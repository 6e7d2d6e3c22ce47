package transform

import "testing"

func evalSrc(t *testing.T, src string) any {
	t.Helper()
	ast, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	v, err := Evaluate(ast)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func TestArithmeticPrecedence(t *testing.T) {
	if v := evalSrc(t, "2 + 3 * 4"); v != 14.0 {
		t.Fatalf("got %v, want 14", v)
	}
	if v := evalSrc(t, "(2 + 3) * 4"); v != 20.0 {
		t.Fatalf("got %v, want 20", v)
	}
	if v := evalSrc(t, "2 ** 3 ** 2"); v != 512.0 { // right-associative
		t.Fatalf("got %v, want 512", v)
	}
	if v := evalSrc(t, "-2 ** 2"); v != -4.0 {
		t.Fatalf("got %v, want -4", v)
	}
}

func TestComparisonAndBoolean(t *testing.T) {
	if v := evalSrc(t, "3 > 2 and 1 < 2"); v != true {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, "not (3 > 2)"); v != false {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, "1 == 1.0"); v != true {
		t.Fatalf("got %v", v)
	}
}

func TestConditionalExpr(t *testing.T) {
	if v := evalSrc(t, "1 if 3 > 2 else 0"); v != 1.0 {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, "1 if 1 > 2 else 0"); v != 0.0 {
		t.Fatalf("got %v", v)
	}
}

func TestListAndSubscript(t *testing.T) {
	if v := evalSrc(t, "[1, 2, 3][1]"); v != 2.0 {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, "[1, 2, 3][-1]"); v != 3.0 {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, `"hello"[0]`); v != "h" {
		t.Fatalf("got %v", v)
	}
}

func TestFunctionCalls(t *testing.T) {
	if v := evalSrc(t, "round2(3.14159)"); v != 3.14 {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, "max(1, 5, 3)"); v != 5.0 {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, "sqrt(16)"); v != 4.0 {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, "lower(upper(\"Hi\"))"); v != "hi" {
		t.Fatalf("got %v", v)
	}
}

func TestStringConcatenation(t *testing.T) {
	if v := evalSrc(t, `"a" + "b"`); v != "ab" {
		t.Fatalf("got %v", v)
	}
	if v := evalSrc(t, `"value=" + str(42)`); v != "value=42" {
		t.Fatalf("got %v", v)
	}
}

func TestDisallowedIdentifierRejected(t *testing.T) {
	ast, err := Parse("os")
	if err != nil {
		t.Fatalf("parse should succeed (grammar permits any identifier): %v", err)
	}
	if _, err := Evaluate(ast); err == nil {
		t.Fatal("expected evaluation error for identifier not in the namespace")
	}
}

func TestAttributeAccessHasNoGrammarProduction(t *testing.T) {
	if _, err := Parse("x.y"); err == nil {
		t.Fatal("expected parse error: attribute access is not part of the grammar")
	}
}

func TestEmptyExpression(t *testing.T) {
	if _, err := Parse(""); err != ErrEmptyExpression {
		t.Fatalf("expected ErrEmptyExpression, got %v", err)
	}
}

func TestASTCacheReusesParseResult(t *testing.T) {
	c := NewASTCache()
	a, err := c.Parse("1 + 2")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Parse("1 + 2")
	if err != nil {
		t.Fatal(err)
	}
	av, _ := Evaluate(a)
	bv, _ := Evaluate(b)
	if av != bv {
		t.Fatalf("cached parse mismatch: %v != %v", av, bv)
	}
}
