package sector

import (
	"reflect"
	"testing"
)

func TestDeriveNumberedFallback(t *testing.T) {
	ids, err := Derive(Config{
		Light:    Layout{Count: 3},
		Watering: Layout{Count: 2},
	})
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}

	expected := IDs{
		Temperature: []string{"temperature_1"},
		Humidity:    []string{"humidity_1"},
		CO2:         []string{"co2_1"},
		Light:       []string{"light_1", "light_2", "light_3"},
		Watering:    []string{"watering_1", "watering_2"},
	}
	if !reflect.DeepEqual(ids, expected) {
		t.Errorf("Expected %+v, got %+v", expected, ids)
	}
}

func TestDeriveExplicitIDs(t *testing.T) {
	ids, err := Derive(Config{
		Light:    Layout{Count: 2, IDs: []string{"lamp_east", " lamp_west "}},
		Watering: Layout{Count: 0},
	})
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if got := ids.For(Light); !reflect.DeepEqual(got, []string{"lamp_east", "lamp_west"}) {
		t.Errorf("Unexpected light ids: %v", got)
	}
	if got := ids.For(Watering); len(got) != 0 {
		t.Errorf("Expected no watering ids, got %v", got)
	}
}

func TestDeriveIsStable(t *testing.T) {
	cfg := Config{Light: Layout{Count: 4}, Watering: Layout{Count: 4}}
	a, _ := Derive(cfg)
	b, _ := Derive(cfg)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Expected identical derivations, got %+v and %+v", a, b)
	}
}

func TestDeriveRejectsInconsistentConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "id count mismatch", cfg: Config{Light: Layout{Count: 3, IDs: []string{"a", "b"}}}},
		{name: "duplicate ids", cfg: Config{Watering: Layout{Count: 2, IDs: []string{"w", "w"}}}},
		{name: "blank id", cfg: Config{Light: Layout{Count: 1, IDs: []string{"  "}}}},
		{name: "negative count", cfg: Config{Humidity: Layout{Count: -1}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Derive(tc.cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
