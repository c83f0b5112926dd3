package command

import (
	"context"
	"testing"
)

func TestStatic(t *testing.T) {
	exec := Static{
		"lsusb": {Output: "Bus 001 Device 004: ID 0b95:772b ASIX", Success: true},
	}
	res, err := exec.Execute(context.Background(), "lsusb")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Output == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := exec.Execute(context.Background(), "ioreg", "-a"); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestLocal_MissingBinary(t *testing.T) {
	_, err := Local{}.Execute(context.Background(), "definitely-not-a-real-binary-xyz")
	if err == nil {
		t.Fatalf("expected lookup error")
	}
}
