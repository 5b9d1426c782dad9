package engine

import "testing"

func TestUpdateCache(t *testing.T) {
	c := NewUpdateCache()
	if _, ok := c.Get("memory"); ok || c.Valid() {
		t.Fatal("new cache should be empty")
	}

	updates := []Update{{Package: p("vim", "9.1-1", "x86_64", "updates"), Info: InfoSecurity}}
	c.Set("memory", updates)
	updates[0].Info = InfoLow

	got, ok := c.Get("memory")
	if !ok || len(got) != 1 || got[0].Info != InfoSecurity {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
	got[0].Info = InfoBugfix
	again, _ := c.Get("memory")
	if again[0].Info != InfoSecurity {
		t.Error("Get() should return a copy")
	}

	c.Set("memory", nil)
	if got, ok := c.Get("memory"); !ok || len(got) != 0 {
		t.Error("an empty result is still a valid cache entry")
	}

	c.Invalidate()
	if _, ok := c.Get("memory"); ok {
		t.Error("Invalidate() should clear the slot")
	}
}

func TestUpdateCacheReplaces(t *testing.T) {
	c := NewUpdateCache()
	old := installed("vim", "9.0-1", "x86_64", "base")
	c.Set("memory", []Update{{Package: p("vim", "9.1-1", "x86_64", "updates"), Replaces: &old}})
	c.Set("memory", []Update{{Package: p("nano", "7-1", "x86_64", "base")}})

	got, _ := c.Get("memory")
	if len(got) != 1 || got[0].Package.Name != "nano" {
		t.Errorf("Set() should overwrite the slot, got %v", got)
	}
}

func TestUpdateCacheKeyedByBackend(t *testing.T) {
	c := NewUpdateCache()
	c.Set("memory", []Update{{Package: p("vim", "9.1-1", "x86_64", "updates")}})

	if _, ok := c.Get("pacman"); ok {
		t.Error("Get() for another backend should miss")
	}
	if got, ok := c.Get("memory"); !ok || len(got) != 1 {
		t.Errorf("Get() for the filling backend = %v, %v", got, ok)
	}

	c.Set("pacman", nil)
	if _, ok := c.Get("memory"); ok {
		t.Error("Set() for another backend should replace the slot")
	}
}
