package transform

import (
	"context"
	"testing"
	"time"

	"fluxgate/internal/model"
	"fluxgate/internal/registry"
	"fluxgate/internal/registry/memregistry"
)

type fakeSeries struct {
	data []float64
}

func (f *fakeSeries) FetchSeries(_ context.Context, _, _ string, _, _ time.Time, _ model.Interval) ([]float64, error) {
	return f.data, nil
}

func TestIngesterFieldPlaceholderReadsSnapshot(t *testing.T) {
	reg := memregistry.New(nil)
	ctx := context.Background()
	reg.PutSnapshot(ctx, "BTCUSD", registry.Snapshot{
		Fields: map[string]any{"price": 64000.0},
	})

	e := NewEngine(reg, nil)
	ing, _ := model.NewIngester("ETHUSD", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "ratio", Type: model.TypeFloat64, Value: 3200.0, Transformers: []string{"{self} / {BTCUSD.price}"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(ctx, ing, ing.Field("ratio"), data); err != nil {
		t.Fatal(err)
	}
	got := ing.Field("ratio").Value.(float64)
	if got < 0.049 || got > 0.051 {
		t.Fatalf("got %v, want ~0.05", got)
	}
}

func TestSeriesPlaceholderAggregatesWindow(t *testing.T) {
	series := &fakeSeries{data: []float64{10, 20, 30}}
	e := NewEngine(nil, series)
	ing, _ := model.NewIngester("BTCUSD", model.ResourceValue, model.IngesterProcessor, model.Interval("m5"), []model.Field{
		{Name: "price", Type: model.TypeFloat64, Value: 25.0, Transformers: []string{"{self} - {price::mean(h1)}"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(context.Background(), ing, ing.Field("price"), data); err != nil {
		t.Fatal(err)
	}
	if ing.Field("price").Value != 5.0 { // 25 - mean(10,20,30)=20
		t.Fatalf("got %v, want 5", ing.Field("price").Value)
	}
}

func TestMissingSnapshotResolvesToNone(t *testing.T) {
	reg := memregistry.New(nil)
	e := NewEngine(reg, nil)
	ing, _ := model.NewIngester("ETHUSD", model.ResourceValue, model.IngesterProcessor, model.Interval("m1"), []model.Field{
		{Name: "flag", Type: model.TypeBool, Transformers: []string{"{BTCUSD.price} == None"}},
	})
	data := map[string]any{}
	if err := e.ApplyField(context.Background(), ing, ing.Field("flag"), data); err != nil {
		t.Fatal(err)
	}
	if ing.Field("flag").Value != true {
		t.Fatalf("got %v", ing.Field("flag").Value)
	}
}
