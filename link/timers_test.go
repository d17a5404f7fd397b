package link

import "testing"

func TestMaintenanceTimersKeepalive(t *testing.T) {
	tm := newMaintenanceTimers(SimulationConfig())

	var pulses []int
	for i := 1; i <= 35; i++ {
		sent := i == 15
		keepalive, _ := tm.tick(true, sent, true)
		if keepalive {
			pulses = append(pulses, i)
		}
	}
	want := []int{10, 25}
	if len(pulses) != len(want) {
		t.Fatalf("keepalive pulses = %v, want %v", pulses, want)
	}
	for i := range want {
		if pulses[i] != want[i] {
			t.Errorf("keepalive pulses = %v, want %v", pulses, want)
		}
	}
}

func TestMaintenanceTimersRecovery(t *testing.T) {
	tests := []struct {
		name     string
		received func(i int) bool
		want     []int
	}{
		{"silent partner", func(int) bool { return false }, []int{200, 400}},
		{"keepalives received", func(i int) bool { return i%100 == 0 }, nil},
		{"partner stops", func(i int) bool { return i == 50 }, []int{250}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newMaintenanceTimers(SimulationConfig())
			var got []int
			for i := 1; i <= 449; i++ {
				if _, recovery := tm.tick(true, true, tt.received(i)); recovery {
					got = append(got, i)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("recovery at %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("recovery at %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMaintenanceTimersInactive(t *testing.T) {
	tm := newMaintenanceTimers(SimulationConfig())
	for i := 0; i < 150; i++ {
		tm.tick(true, false, false)
	}
	tm.tick(false, false, false)
	for i := 1; i <= 199; i++ {
		if _, recovery := tm.tick(true, true, false); recovery {
			t.Fatalf("recovery at %d after restart, want none before 200", i)
		}
	}
}
