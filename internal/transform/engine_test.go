package transform

import (
	"context"
	"testing"

	"fluxgate/internal/model"
)

func TestApplyFieldBareTransformer(t *testing.T) {
	e := NewEngine(nil, nil)
	ing, _ := model.NewIngester("t", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "symbol", Type: model.TypeString, Value: "btcusd", Transformers: []string{"upper"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(context.Background(), ing, ing.Field("symbol"), data); err != nil {
		t.Fatal(err)
	}
	if ing.Field("symbol").Value != "BTCUSD" {
		t.Fatalf("got %v", ing.Field("symbol").Value)
	}
}

func TestApplyFieldNumericLiteral(t *testing.T) {
	e := NewEngine(nil, nil)
	ing, _ := model.NewIngester("t", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "threshold", Type: model.TypeFloat64, Transformers: []string{"3.5"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(context.Background(), ing, ing.Field("threshold"), data); err != nil {
		t.Fatal(err)
	}
	if ing.Field("threshold").Value != 3.5 {
		t.Fatalf("got %v", ing.Field("threshold").Value)
	}
}

func TestApplyFieldSelfExpression(t *testing.T) {
	e := NewEngine(nil, nil)
	ing, _ := model.NewIngester("t", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "price", Type: model.TypeFloat64, Value: 100.0, Transformers: []string{"{self} * 1.1"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(context.Background(), ing, ing.Field("price"), data); err != nil {
		t.Fatal(err)
	}
	got := ing.Field("price").Value.(float64)
	if got < 109.99 || got > 110.01 {
		t.Fatalf("got %v, want ~110", got)
	}
}

func TestApplyFieldSiblingReference(t *testing.T) {
	e := NewEngine(nil, nil)
	ing, _ := model.NewIngester("t", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "a", Type: model.TypeFloat64, Value: 2.0},
		{Name: "b", Type: model.TypeFloat64, Value: 3.0, Transformers: []string{"{a} + {self}"}},
	})
	data := map[string]any{"a": 2.0}
	if err := e.ApplyField(context.Background(), ing, ing.Field("b"), data); err != nil {
		t.Fatal(err)
	}
	if ing.Field("b").Value != 5.0 {
		t.Fatalf("got %v", ing.Field("b").Value)
	}
}

func TestApplyIngesterDeclarationOrder(t *testing.T) {
	e := NewEngine(nil, nil)
	ing, _ := model.NewIngester("t", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "a", Type: model.TypeFloat64, Value: 2.0, Transformers: []string{"{self} * 2"}},
		{Name: "b", Type: model.TypeFloat64, Value: 1.0, Transformers: []string{"{a} + {self}"}},
	})
	data := map[string]any{}
	if err := e.ApplyIngester(context.Background(), ing, data); err != nil {
		t.Fatal(err)
	}
	if ing.Field("a").Value != 4.0 {
		t.Fatalf("a = %v, want 4", ing.Field("a").Value)
	}
	if ing.Field("b").Value != 5.0 { // sees a's freshly computed value (4) + self (1)
		t.Fatalf("b = %v, want 5", ing.Field("b").Value)
	}
}

func TestApplyFieldChainedTransformers(t *testing.T) {
	e := NewEngine(nil, nil)
	ing, _ := model.NewIngester("t", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "name", Type: model.TypeString, Value: "Hello World", Transformers: []string{"lower", "to_snake"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(context.Background(), ing, ing.Field("name"), data); err != nil {
		t.Fatal(err)
	}
	if ing.Field("name").Value != "hello_world" {
		t.Fatalf("got %v", ing.Field("name").Value)
	}
}

func TestApplyFieldUnknownSiblingErrors(t *testing.T) {
	e := NewEngine(nil, nil)
	ing, _ := model.NewIngester("t", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "a", Type: model.TypeFloat64, Value: 1.0, Transformers: []string{"{missing} + {self}"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(context.Background(), ing, ing.Field("a"), data); err == nil {
		t.Fatal("expected error for unresolved sibling reference")
	}
}
