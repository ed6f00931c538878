package patch

import (
	"reflect"
	"testing"
)

const sampleDiff = `diff --git a/a.txt b/a.txt
index 1234567..89abcde 100644
--- a/a.txt
+++ b/a.txt
@@ -1,3 +1,4 @@
 context
+added one
+added two
-removed
@@ -10,1 +11,1 @@
 more context
diff --git a/b.txt b/b.txt
--- a/b.txt
+++ b/b.txt
@@ -1,3 +0,0 @@
-gone one
-gone two
-gone three
`

func TestSummarize(t *testing.T) {
	got := Summarize(sampleDiff)
	want := []string{"a.txt (+2/-1)", "b.txt (+0/-3)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Summarize = %v, want %v", got, want)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(""); len(got) != 0 {
		t.Errorf("Summarize(empty) = %v, want empty", got)
	}
}

func TestSummarizeNewFile(t *testing.T) {
	diff := `diff --git a/new.go b/new.go
new file mode 100644
--- /dev/null
+++ b/new.go
@@ -0,0 +1,2 @@
+package main
+func main() {}
`
	got := Summarize(diff)
	want := []string{"new.go (+2/-0)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Summarize = %v, want %v", got, want)
	}
}

func TestStatsOrder(t *testing.T) {
	stats := Stats(sampleDiff)
	if len(stats) != 2 {
		t.Fatalf("expected 2 files, got %d", len(stats))
	}
	if stats[0].Path != "a.txt" || stats[1].Path != "b.txt" {
		t.Errorf("file order = %s, %s", stats[0].Path, stats[1].Path)
	}
}
