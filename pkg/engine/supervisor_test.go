package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowherd/pkg/model"
)

func runSupervisor(t *testing.T, stdout, stderr string) (Event, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "task.log")
	sup, err := NewSupervisor(strings.NewReader(stdout), strings.NewReader(stderr), logPath)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	go sup.Run()

	var exit Event
	var sawExit bool
	for ev := range sup.Events() {
		switch ev.Kind {
		case EventExit:
			if sawExit {
				t.Fatal("exit event fired more than once")
			}
			sawExit = true
			exit = ev
		case EventFault:
			t.Fatalf("unexpected fault: %v", ev.Err)
		}
	}
	if !sawExit {
		t.Fatal("no exit event")
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return exit, string(logData)
}

func TestStatusDerivation(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		stderr string
		want   model.TaskStatus
	}{
		{"clean run", "step one\nstep two\n", "", model.StatusCompleted},
		{"stderr noise without keywords", "ok\n", "downloading reference\n", model.StatusCompleted},
		{"error keyword", "ok\n", "tool exited with ERROR code 1\n", model.StatusFailed},
		{"fail keyword mixed case", "", "Job Failed halfway\n", model.StatusFailed},
		{"exception keyword", "", "unhandled ExCePtIoN in caller\n", model.StatusFailed},
		{"keywords on stdout do not fail the run", "error error error\n", "all quiet\n", model.StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exit, _ := runSupervisor(t, tc.stdout, tc.stderr)
			if exit.Status != tc.want {
				t.Fatalf("status = %s, want %s", exit.Status, tc.want)
			}
		})
	}
}

func TestLastJSONLineWins(t *testing.T) {
	stdout := strings.Join([]string{
		`{"early": "/tmp/a.txt"}`,
		"plain progress line",
		"{not json at all",
		`{"final": "/tmp/b.txt"}`,
	}, "\n") + "\n"
	exit, _ := runSupervisor(t, stdout, "")
	if _, ok := exit.Outputs["early"]; ok {
		t.Fatal("earlier mapping survived; last parse must replace, not merge")
	}
	if _, ok := exit.Outputs["final"]; !ok {
		t.Fatalf("final mapping missing: %v", exit.Outputs)
	}
}

func TestJobUpdateEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "task.log")
	stdout := `{"jobId": "align", "status": "running"}` + "\n" +
		`{"jobId": "align", "status": "succeeded"}` + "\n"
	sup, err := NewSupervisor(strings.NewReader(stdout), strings.NewReader(""), logPath)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	go sup.Run()

	var jobs []model.JobMetadata
	for ev := range sup.Events() {
		if ev.Kind == EventJob {
			jobs = append(jobs, ev.Job)
		}
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d job events, want 2", len(jobs))
	}
	if jobs[0].ID != "align" || jobs[0].Status != model.StatusProcessing {
		t.Fatalf("first update: %+v", jobs[0])
	}
	if jobs[1].Status != model.StatusCompleted {
		t.Fatalf("second update: %+v", jobs[1])
	}
}

func TestLogContainsEveryLine(t *testing.T) {
	// The last line lands in the log even though it was appended well inside
	// the flush interval.
	exit, logData := runSupervisor(t, "first\nlast stdout line\n", "trailing stderr line\n")
	if exit.Status != model.StatusCompleted {
		t.Fatalf("status = %s", exit.Status)
	}
	for _, want := range []string{"first\n", "last stdout line\n", "trailing stderr line\n"} {
		if !strings.Contains(logData, want) {
			t.Fatalf("log missing %q:\n%s", want, logData)
		}
	}
}

func TestLogFlushesOnTimerMidStream(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "task.log")
	pr, pw := testPipe()
	defer pw.Close()
	sup, err := NewSupervisor(pr, strings.NewReader(""), logPath)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	sup.flushEvery = 20 * time.Millisecond
	go sup.Run()

	pw.WriteString("early line\n")
	// The stream stays open: the timer alone must land the line on disk.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b, _ := os.ReadFile(logPath); strings.Contains(string(b), "early line\n") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("line was not flushed while the stream stayed open")
}

func TestCooperativeStop(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "task.log")
	pr, pw := testPipe()
	sup, err := NewSupervisor(pr, strings.NewReader(""), logPath)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	go sup.Run()

	// Stop first so the flag is guaranteed to be observed at the next
	// line-read boundary.
	sup.Stop()
	pw.WriteString("a line the supervisor must not process\n")
	pw.Close()

	select {
	case ev, ok := <-sup.Events():
		if ok && ev.Kind == EventExit {
			t.Fatal("exit event fired after cooperative stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not wind down after stop")
	}
}

// testPipe is an in-memory pipe so the test controls line arrival.
func testPipe() (*os.File, *os.File) {
	r, w, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	return r, w
}
