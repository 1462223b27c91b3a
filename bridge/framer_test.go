package bridge

import (
	"reflect"
	"testing"
)

func feedAll(chunks ...string) ([]string, int) {
	var f LineFramer
	var out []string
	for _, c := range chunks {
		for _, l := range f.Feed([]byte(c)) {
			out = append(out, string(l))
		}
	}
	return out, f.Pending()
}

func TestLineFramerChunkBoundaries(t *testing.T) {
	stream := "{\"id\":1}\n{\"method\":\"mining.notify\",\"params\":[]}\n{\"id\":2,\"result\":true}\n"
	want := []string{`{"id":1}`, `{"method":"mining.notify","params":[]}`, `{"id":2,"result":true}`}

	// Every possible split into two reads, then byte-at-a-time.
	for i := 0; i <= len(stream); i++ {
		got, pending := feedAll(stream[:i], stream[i:])
		if !reflect.DeepEqual(got, want) || pending != 0 {
			t.Fatalf("split at %d: got %q (pending %d)", i, got, pending)
		}
	}
	var chunks []string
	for i := range stream {
		chunks = append(chunks, stream[i:i+1])
	}
	if got, _ := feedAll(chunks...); !reflect.DeepEqual(got, want) {
		t.Fatalf("byte at a time: got %q", got)
	}
}

func TestLineFramerKeepsTrailingFragment(t *testing.T) {
	var f LineFramer
	if lines := f.Feed([]byte(`{"a":1}` + "\n" + `{"b"`)); len(lines) != 1 || string(lines[0]) != `{"a":1}` {
		t.Fatalf("unexpected lines %q", lines)
	}
	if f.Pending() != 4 {
		t.Fatalf("pending %d, want 4", f.Pending())
	}
	lines := f.Feed([]byte(":2}\n"))
	if len(lines) != 1 || string(lines[0]) != `{"b":2}` {
		t.Fatalf("fragment not completed: %q", lines)
	}
}

func TestLineFramerSkipsBlankLinesAndCR(t *testing.T) {
	got, _ := feedAll("\n  \r\n{\"a\":1}\r\n\n")
	if !reflect.DeepEqual(got, []string{`{"a":1}`}) {
		t.Fatalf("got %q", got)
	}
}

func TestLineFramerOverflow(t *testing.T) {
	var f LineFramer
	big := make([]byte, maxLine+1)
	for i := range big {
		big[i] = 'x'
	}
	if lines := f.Feed(big); len(lines) != 0 {
		t.Fatal("an unterminated line must not be emitted")
	}
	if f.Overflows() != 1 || f.Pending() != 0 {
		t.Fatalf("overflows %d pending %d", f.Overflows(), f.Pending())
	}
	if lines := f.Feed([]byte("{}\n")); len(lines) != 1 {
		t.Fatalf("framer must recover after overflow, got %q", lines)
	}
}

func TestOriginPolicy(t *testing.T) {
	p := NewOriginPolicy([]string{"https://webminer.dilithiumcoin.com"}, true)
	strict := NewOriginPolicy([]string{"https://webminer.dilithiumcoin.com"}, false)
	cases := []struct {
		policy *OriginPolicy
		origin string
		want   bool
	}{
		{p, "https://webminer.dilithiumcoin.com", true},
		{p, "", true},
		{p, "https://evil.example", false},
		{strict, "", false},
		{strict, "https://webminer.dilithiumcoin.com", true},
	}
	for _, c := range cases {
		if got := c.policy.Allowed(c.origin); got != c.want {
			t.Errorf("Allowed(%q) = %v, want %v", c.origin, got, c.want)
		}
	}
}
