package config

import "fluxgate/internal/model"

// ToIngester constructs a model.Ingester from its on-disk descriptor,
// running the same validation NewIngester applies to hand-built ingesters.
func (ic IngesterConfig) ToIngester() (*model.Ingester, error) {
	fields := make([]model.Field, 0, len(ic.Fields))
	for _, fc := range ic.Fields {
		fields = append(fields, model.Field{
			Name:         fc.Name,
			Type:         model.FieldType(fc.Type),
			Target:       fc.Target,
			Selector:     fc.Selector,
			Params:       fc.Params,
			Transformers: fc.Transformers,
			Tags:         fc.Tags,
			Transient:    fc.Transient,
		})
	}
	ing, err := model.NewIngester(ic.Name, model.ResourceType(ic.ResourceType), model.IngesterType(ic.IngesterType), model.Interval(ic.Interval), fields)
	if err != nil {
		return nil, err
	}
	ing.Protected = ic.Protected
	ing.Tags = ic.Tags
	ing.DefaultTarget = ic.DefaultTarget
	ing.DefaultSelector = ic.DefaultSelector
	ing.DefaultParams = ic.DefaultParams
	ing.DefaultTransformers = ic.DefaultTransformers
	return ing, nil
}

// ToUser constructs a model.User from its on-disk descriptor. Counters and
// session state start zeroed; they are runtime-only.
func (uc UserConfig) ToUser() *model.User {
	return &model.User{
		UID:    uc.UID,
		Status: model.UserStatus(uc.Status),
		Limits: model.RateLimitCaps{
			RequestsPerMinute: uc.Limits.RequestsPerMinute,
			RequestsPerHour:   uc.Limits.RequestsPerHour,
			RequestsPerDay:    uc.Limits.RequestsPerDay,
			BytesPerMinute:    uc.Limits.BytesPerMinute,
			BytesPerHour:      uc.Limits.BytesPerHour,
			BytesPerDay:       uc.Limits.BytesPerDay,
			PointsPerMinute:   uc.Limits.PointsPerMinute,
			PointsPerHour:     uc.Limits.PointsPerHour,
			PointsPerDay:      uc.Limits.PointsPerDay,
		},
	}
}
