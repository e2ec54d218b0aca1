package observation

import "testing"

func TestDataSetInitialSet(t *testing.T) {
	d := NewDataSet()
	d.Merge([]KV{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}}, false)

	if got, want := d.Size(), 4; got != want {
		t.Fatalf("size = %d, want %d", got, want)
	}
	for _, want := range []KV{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}} {
		if got, ok := d.Get(want.Key); !ok || got != want.Value {
			t.Fatalf("Get(%q) = %q, %v; want %q", want.Key, got, ok, want.Value)
		}
	}
}

func TestDataSetPartialMerge(t *testing.T) {
	d := NewDataSet()
	d.Merge([]KV{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}}, false)
	d.Merge([]KV{{"c", "5"}}, false)

	if got, want := d.Size(), 4; got != want {
		t.Fatalf("size = %d, want %d", got, want)
	}
	if got, _ := d.Get("c"); got != "5" {
		t.Fatalf("c = %q, want 5", got)
	}
	if got, _ := d.Get("a"); got != "1" {
		t.Fatalf("a = %q, want 1", got)
	}
}

func TestDataSetReset(t *testing.T) {
	d := NewDataSet()
	d.Merge([]KV{{"a", "1"}, {"b", "2"}}, false)
	d.Merge([]KV{{"e", "6"}}, true)

	if got, want := d.Size(), 1; got != want {
		t.Fatalf("size = %d, want %d", got, want)
	}
	if got, _ := d.Get("e"); got != "6" {
		t.Fatalf("e = %q, want 6", got)
	}
	if _, ok := d.Get("a"); ok {
		t.Fatalf("a should not be present after reset")
	}
}

func TestDataSetAppendsNewKeys(t *testing.T) {
	d := NewDataSet()
	d.Merge([]KV{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}}, false)
	d.Merge([]KV{{"c", "5"}, {"e", "6"}}, false)

	if got, want := d.Size(), 5; got != want {
		t.Fatalf("size = %d, want %d", got, want)
	}
	if got := d.Keys(); got[len(got)-1] != "e" {
		t.Fatalf("expected e appended last, got order %v", got)
	}
}

func TestDataSetCloneIsIndependent(t *testing.T) {
	d := NewDataSet()
	d.Merge([]KV{{"a", "1"}}, false)
	c := d.Clone()
	c.Set("a", "2")

	if got, _ := d.Get("a"); got != "1" {
		t.Fatalf("original mutated: a = %q", got)
	}
	if got, _ := c.Get("a"); got != "2" {
		t.Fatalf("clone not updated: a = %q", got)
	}
}
