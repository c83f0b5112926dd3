package main

import "testing"

func TestNormalizeListenForBrowser(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8787": "127.0.0.1:8787",
		"0.0.0.0:8787":   "127.0.0.1:8787",
		":8787":          "127.0.0.1:8787",
		"[::]:9000":      "127.0.0.1:9000",
		"not-an-addr":    "not-an-addr",
	}
	for in, want := range cases {
		if got := normalizeListenForBrowser(in); got != want {
			t.Fatalf("normalizeListenForBrowser(%q)=%q want %q", in, got, want)
		}
	}
}
