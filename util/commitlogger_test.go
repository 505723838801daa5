package util

import "testing"

func TestCommitLoggerSplitsLines(t *testing.T) {
	var got []string
	l := &CommitLogger{Committer: func(p []byte) {
		got = append(got, string(p))
	}}

	writes := []string{"first ", "line\nsecond line\nthi", "rd"}
	for _, w := range writes {
		n, err := l.Write([]byte(w))
		if err != nil {
			t.Fatal(err)
		}
		if n != len(w) {
			t.Fatalf("wrote %d of %d bytes", n, len(w))
		}
	}

	if len(got) != 2 || got[0] != "first line" || got[1] != "second line" {
		t.Fatalf("committed %q", got)
	}

	l.Commit()
	if len(got) != 3 || got[2] != "third" {
		t.Fatalf("after Commit: %q", got)
	}

	l.Commit() // nothing buffered, nothing committed
	if len(got) != 3 {
		t.Fatalf("empty Commit emitted a line: %q", got)
	}
}

func TestCommitLoggerReset(t *testing.T) {
	var got []string
	l := &CommitLogger{Committer: func(p []byte) {
		got = append(got, string(p))
	}}
	l.Reserve(64)

	if _, err := l.Write([]byte("dropped tail")); err != nil {
		t.Fatal(err)
	}
	l.Reset()
	if _, err := l.Write([]byte("kept\n")); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0] != "kept" {
		t.Fatalf("committed %q", got)
	}
}
