package constraints

import "testing"

func TestTokenBudgetFits(t *testing.T) {
	b := NewTokenBudget(10)
	if !b.Fits("cl100k_base", "hello world") {
		t.Error("expected short text to fit budget")
	}
}

func TestTokenBudgetRejectsOverBudget(t *testing.T) {
	b := NewTokenBudget(1)
	long := ""
	for i := 0; i < 500; i++ {
		long += "token "
	}
	if b.Fits("cl100k_base", long) {
		t.Error("expected long text to exceed budget")
	}
}
