package main

import (
	"testing"

	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/param"
)

func TestParseAddress(t *testing.T) {
	addr, err := parseAddress("1:0:5")
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	if addr != (protocol.Address{Module: 1, Node: 0, Object: 5}) {
		t.Fatalf("unexpected address: %v", addr)
	}
	for _, bad := range []string{"", "1:2", "1:2:3:4", "a:b:c", "70000:0:0"} {
		if _, err := parseAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs("u32:100, bool:true, str:tip:rack")
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if args[0].Kind != param.KindUint32 || args[0].U32 != 100 {
		t.Fatalf("unexpected first arg: %+v", args[0])
	}
	if args[1].Kind != param.KindBool || !args[1].B {
		t.Fatalf("unexpected second arg: %+v", args[1])
	}
	// string values keep their embedded colons
	if args[2].Kind != param.KindString || args[2].S != "tip:rack" {
		t.Fatalf("unexpected third arg: %+v", args[2])
	}

	if got, err := parseArgs(""); err != nil || got != nil {
		t.Fatalf("empty args: got=%v err=%v", got, err)
	}
	for _, bad := range []string{"u32", "u32:abc", "i8:200", "float:1.5"} {
		if _, err := parseArgs(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFindTarget(t *testing.T) {
	targets := []targetConfig{
		{Name: "vantage-1", Addr: "10.0.0.5:2000"},
		{Name: "vantage-2", Addr: "10.0.0.6:2000"},
	}
	got, err := findTarget(targets, "vantage-2")
	if err != nil {
		t.Fatalf("find target: %v", err)
	}
	if got.Addr != "10.0.0.6:2000" {
		t.Fatalf("unexpected target: %+v", got)
	}
	if _, err := findTarget(targets, ""); err == nil {
		t.Fatalf("ambiguous empty name must fail with multiple targets")
	}
	if single, err := findTarget(targets[:1], ""); err != nil || single.Name != "vantage-1" {
		t.Fatalf("single target should be the default: %+v err=%v", single, err)
	}
	if _, err := findTarget(targets, "nope"); err == nil {
		t.Fatalf("unknown target must fail")
	}
}
