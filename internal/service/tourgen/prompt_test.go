package tourgen

import (
	"strings"
	"testing"
)

func TestParseOrderPlainArray(t *testing.T) {
	locations := []string{"L1", "L2", "L3"}
	order, err := parseOrder(`["L3", "L1", "L2"]`, locations)
	if err != nil {
		t.Fatalf("parseOrder() error = %v", err)
	}
	if len(order) != 3 || order[0] != "L3" || order[1] != "L1" || order[2] != "L2" {
		t.Errorf("order = %v, want [L3 L1 L2]", order)
	}
}

func TestParseOrderCodeFence(t *testing.T) {
	reply := "```json\n[\"L2\", \"L1\"]\n```"
	order, err := parseOrder(reply, []string{"L1", "L2"})
	if err != nil {
		t.Fatalf("parseOrder() error = %v", err)
	}
	if len(order) != 2 || order[0] != "L2" {
		t.Errorf("order = %v, want [L2 L1]", order)
	}
}

func TestParseOrderDropsUnknownAndDuplicateIDs(t *testing.T) {
	order, err := parseOrder(`["L1", "L9", "L1", "L2"]`, []string{"L1", "L2"})
	if err != nil {
		t.Fatalf("parseOrder() error = %v", err)
	}
	if len(order) != 2 || order[0] != "L1" || order[1] != "L2" {
		t.Errorf("order = %v, want [L1 L2]", order)
	}
}

func TestParseOrderUnparsableReply(t *testing.T) {
	if _, err := parseOrder("I suggest visiting the library first.", []string{"L1"}); err == nil {
		t.Error("parseOrder() expected error for prose reply")
	}
}

func TestParseOrderNoKnownIDs(t *testing.T) {
	if _, err := parseOrder(`["X1", "X2"]`, []string{"L1", "L2"}); err == nil {
		t.Error("parseOrder() expected error when no known ids remain")
	}
}

func TestBuildQueryWithInterests(t *testing.T) {
	query := buildQuery([]string{"L1", "L2"}, []string{"athletics"})
	for _, want := range []string{"- L1", "- L2", "- athletics"} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
}

func TestBuildQueryWithoutInterests(t *testing.T) {
	query := buildQuery([]string{"L1"}, nil)
	if !strings.Contains(query, "none recorded") {
		t.Errorf("query missing empty-interests note:\n%s", query)
	}
}
