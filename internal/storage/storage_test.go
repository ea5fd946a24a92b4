package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cronexec/internal/eventbus"
	"cronexec/internal/task/engine"
	logx "cronexec/pkg/logx"

	"github.com/google/go-cmp/cmp"
)

func openTest(t *testing.T, driver string, retention int) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "runs.db"), Retention: retention}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func record(name string, i int, errStr string) RunRecord {
	at := time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
	return RunRecord{TaskID: name + "-" + time.Duration(i).String(), Name: name, Chain: "c-" + name, Kind: "command", Due: at, Started: at.Add(time.Millisecond), Lateness: time.Millisecond, Duration: 2 * time.Second, Error: errStr}
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver, 0)
			ctx := context.Background()
			recs := []RunRecord{record("a", 1, ""), record("b", 2, "boom"), record("a", 3, "")}
			for _, r := range recs {
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun error: %v", err)
				}
			}

			got, err := st.RecentRuns(ctx, "", 10)
			if err != nil {
				t.Fatal(err)
			}
			want := []RunRecord{recs[2], recs[1], recs[0]}
			if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
				t.Fatalf("RecentRuns -want +got\n%s", diff)
			}

			onlyA, err := st.RecentRuns(ctx, "a", 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(onlyA) != 1 || onlyA[0].TaskID != recs[2].TaskID {
				t.Fatalf("RecentRuns(a, 1) = %+v", onlyA)
			}
			if got[1].OK() {
				t.Fatal("failed run reported OK")
			}
		})
	}
}

func TestFileCompaction(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file", 5).(*fileStore)
	ctx := context.Background()
	for i := 0; i < compactEvery; i++ {
		if err := st.AppendRun(ctx, record("x", i%60, "")); err != nil {
			t.Fatal(err)
		}
	}
	all, err := readRuns(st.path)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("records after compaction = %d, want 5", len(all))
	}
	// Appends keep working on the reopened file.
	if err := st.AppendRun(ctx, record("y", 1, "")); err != nil {
		t.Fatal(err)
	}
	if got, _ := st.RecentRuns(ctx, "y", 5); len(got) != 1 {
		t.Fatalf("RecentRuns(y) = %+v", got)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	if st, err := Open(Config{Driver: "none"}, logx.Nop()); st != nil || err != nil {
		t.Fatalf("Open(none) = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestRecordFromBus(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file", 0)
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = Record(ctx, bus, st, logx.Nop())
		close(done)
	}()

	// Wait for the subscription before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Data: engine.TaskEvent{ID: "s", Name: "ignored"}})
	bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{ID: "n1", Name: "job.next", Kind: engine.KindContinuation}})
	bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: engine.TaskEvent{ID: "t1", Name: "job", Kind: engine.KindCommand, Error: "boom"}})

	deadline := time.Now().Add(2 * time.Second)
	var got []RunRecord
	for time.Now().Before(deadline) {
		got, _ = st.RecentRuns(context.Background(), "", 10)
		if len(got) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if len(got) != 1 || got[0].TaskID != "t1" || got[0].Error != "boom" || got[0].Kind != "command" {
		t.Fatalf("recorded = %+v", got)
	}
}
