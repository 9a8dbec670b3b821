package window

import "vitalwatch-agent/internal/model"

// DefaultCapacities holds the per-kind history length kept in memory.
var DefaultCapacities = map[model.MetricKind]int{
	model.PulseSignal:      100,
	model.BloodPressure:    50,
	model.OxygenSaturation: 20,
	model.Temperature:      20,
	model.StepCount:        50,
}

// Reader is the read side of the store consumed by scoring and charting.
type Reader interface {
	Latest(kind model.MetricKind) (model.Sample, bool)
	Snapshot(kind model.MetricKind) []model.Sample
}

// Store keeps one ring per metric kind. The set of rings is fixed at
// construction so lookups need no lock of their own.
type Store struct {
	rings map[model.MetricKind]*Ring
}

func NewStore() *Store {
	return NewStoreWithCapacities(DefaultCapacities)
}

func NewStoreWithCapacities(capacities map[model.MetricKind]int) *Store {
	rings := make(map[model.MetricKind]*Ring, len(model.MetricKinds))
	for _, kind := range model.MetricKinds {
		c, ok := capacities[kind]
		if !ok {
			c = DefaultCapacities[kind]
		}
		rings[kind] = NewRing(c)
	}
	return &Store{rings: rings}
}

// Append stores s in the ring for s.Kind. Samples of unknown kinds are ignored.
func (s *Store) Append(sample model.Sample) bool {
	r, ok := s.rings[sample.Kind]
	if !ok {
		return false
	}
	r.Append(sample)
	return true
}

func (s *Store) Snapshot(kind model.MetricKind) []model.Sample {
	r, ok := s.rings[kind]
	if !ok {
		return nil
	}
	return r.Snapshot()
}

func (s *Store) Latest(kind model.MetricKind) (model.Sample, bool) {
	r, ok := s.rings[kind]
	if !ok {
		return model.Sample{}, false
	}
	return r.Latest()
}

func (s *Store) Len(kind model.MetricKind) int {
	r, ok := s.rings[kind]
	if !ok {
		return 0
	}
	return r.Len()
}

var _ Reader = (*Store)(nil)
