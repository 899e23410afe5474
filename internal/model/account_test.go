package model

import "testing"

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{AccountStatusActive, AccountStatusFrozen, true},
		{AccountStatusActive, AccountStatusCancelled, true},
		{AccountStatusFrozen, AccountStatusActive, true},
		{AccountStatusFrozen, AccountStatusCancelled, true},
		{AccountStatusActive, AccountStatusActive, false},
		{AccountStatusCancelled, AccountStatusActive, false}, // 销户是终态
		{AccountStatusCancelled, AccountStatusFrozen, false},
		{"UNKNOWN", AccountStatusActive, false},
	}

	for _, tt := range tests {
		if got := CanTransitionTo(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionTo(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
