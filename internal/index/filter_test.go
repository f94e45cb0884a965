package index

import (
	"testing"
)

func rec(path string, kind Kind, tags ...string) *ItemRecord {
	r := &ItemRecord{Path: path, Tags: tags, Facts: MediaFacts{Kind: kind}}
	if kind == KindVideo {
		r.Facts.Video = &VideoFacts{}
	}
	return r
}

func TestTagFilterGlob(t *testing.T) {
	f, err := NewTagFilter("landscape*")
	if err != nil {
		t.Fatalf("NewTagFilter: %v", err)
	}
	if !f.Match(rec("a.jpg", KindImage, "portrait", "landscape_wide")) {
		t.Error("should match landscape_wide")
	}
	if f.Match(rec("b.jpg", KindImage, "portrait")) {
		t.Error("should not match portrait")
	}
	sql, args := f.SQL()
	if len(args) != 1 || args[0] != "landscape*" {
		t.Errorf("args = %v", args)
	}
	if sql == "" {
		t.Error("empty sql")
	}
}

func TestNameFilterEscapesLikeMetachars(t *testing.T) {
	f := &NameFilter{Substring: "100%_done"}
	_, args := f.SQL()
	if args[0] != `%100\%\_done%` {
		t.Errorf("pattern = %q", args[0])
	}
	if !f.Match(rec("shots/100%_done.png", KindImage)) {
		t.Error("in-memory match failed")
	}
}

func TestBooleanTree(t *testing.T) {
	tagged, _ := NewTagFilter("cat")
	f := And{Or{tagged, &NameFilter{Substring: "dog"}}, &KindFilter{Kind: KindImage}}

	if !f.Match(rec("dogs/1.jpg", KindImage)) {
		t.Error("name branch should match")
	}
	if !f.Match(rec("x.jpg", KindImage, "cat")) {
		t.Error("tag branch should match")
	}
	if f.Match(rec("dogs/1.mp4", KindVideo)) {
		t.Error("kind conjunct should reject video")
	}

	sql, args := f.SQL()
	if sql == "" || len(args) != 3 {
		t.Errorf("sql = %q args = %v", sql, args)
	}
}

func TestEmptyCombinators(t *testing.T) {
	if sql, _ := (And{}).SQL(); sql != "1=1" {
		t.Errorf("empty And = %q", sql)
	}
	if sql, _ := (Or{}).SQL(); sql != "1=0" {
		t.Errorf("empty Or = %q", sql)
	}
	if !(And{}).Match(rec("a", KindImage)) {
		t.Error("empty And should match everything")
	}
	if (Or{}).Match(rec("a", KindImage)) {
		t.Error("empty Or should match nothing")
	}
}

func TestUntaggedAndNot(t *testing.T) {
	if !(Untagged{}).Match(rec("a.jpg", KindImage)) {
		t.Error("untagged should match tagless record")
	}
	if (Untagged{}).Match(rec("a.jpg", KindImage, "x")) {
		t.Error("untagged should reject tagged record")
	}
	n := Not{F: Untagged{}}
	if !n.Match(rec("a.jpg", KindImage, "x")) {
		t.Error("Not(Untagged) should match tagged record")
	}
}
