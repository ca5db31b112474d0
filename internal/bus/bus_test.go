package bus

import (
	"reflect"
	"testing"

	"gnss-survey/internal/nmea"
)

func TestBus_PublishesInRegistrationOrder(t *testing.T) {
	b := New()
	var calls []string
	b.OnFix(func(f nmea.Fix) { calls = append(calls, "a:"+f.Type) })
	b.OnFix(func(f nmea.Fix) { calls = append(calls, "b:"+f.Type) })

	b.PublishFix(nmea.Fix{Type: "$GPGGA"})
	b.PublishFix(nmea.Fix{Type: "$GPRMC"})

	want := []string{"a:$GPGGA", "b:$GPGGA", "a:$GPRMC", "b:$GPRMC"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls=%v want %v", calls, want)
	}
}

func TestBus_ConnectionAndFixListsAreIndependent(t *testing.T) {
	b := New()
	var states []bool
	fixes := 0
	b.OnConnectionChange(func(c bool) { states = append(states, c) })
	b.OnFix(func(nmea.Fix) { fixes++ })

	b.PublishConnection(true)
	b.PublishConnection(false)

	if !reflect.DeepEqual(states, []bool{true, false}) {
		t.Fatalf("states=%v", states)
	}
	if fixes != 0 {
		t.Fatalf("fix subscribers called %d times", fixes)
	}
	if c, f := b.Counts(); c != 1 || f != 1 {
		t.Fatalf("Counts()=(%d,%d) want (1,1)", c, f)
	}
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	b.OnFix(func(nmea.Fix) {})
	b.PublishFix(nmea.Fix{})
	b.PublishConnection(true)
}
