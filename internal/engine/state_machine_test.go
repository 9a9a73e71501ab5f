package engine

import (
	"testing"

	"papertrade/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"Pending to Open", models.OrderStatePending, models.OrderStateOpen, true},
		{"Pending to Rejected", models.OrderStatePending, models.OrderStateRejected, true},
		{"Pending to Executed skips Open", models.OrderStatePending, models.OrderStateExecuted, false},
		{"Open to Executed", models.OrderStateOpen, models.OrderStateExecuted, true},
		{"Open to Cancelled", models.OrderStateOpen, models.OrderStateCancelled, true},
		{"Open to Rejected", models.OrderStateOpen, models.OrderStateRejected, true},
		{"Executed is terminal", models.OrderStateExecuted, models.OrderStateOpen, false},
		{"Cancelled is terminal", models.OrderStateCancelled, models.OrderStateOpen, false},
		{"Rejected is terminal", models.OrderStateRejected, models.OrderStatePending, false},
		{"Unknown state", "UNKNOWN", models.OrderStateOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []string{models.OrderStateExecuted, models.OrderStateCancelled, models.OrderStateRejected} {
		if len(ValidTransitions[s]) != 0 {
			t.Errorf("State %s must be terminal", s)
		}
	}
}

func TestStateInfo(t *testing.T) {
	// У каждого известного состояния своё описание
	seen := map[string]bool{}
	for _, s := range []string{
		models.OrderStatePending,
		models.OrderStateOpen,
		models.OrderStateExecuted,
		models.OrderStateCancelled,
		models.OrderStateRejected,
	} {
		info := StateInfo(s)
		if info == "" || info == StateInfo("UNKNOWN") {
			t.Errorf("StateInfo(%s) must describe the state, got %q", s, info)
		}
		if seen[info] {
			t.Errorf("StateInfo(%s) duplicates another state's description", s)
		}
		seen[info] = true
	}
	if StateInfo("UNKNOWN") == "" {
		t.Error("StateInfo must fall back to a non-empty description")
	}
}
