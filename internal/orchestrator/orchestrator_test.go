package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitrinastudio/server/internal/domain"
	"github.com/vitrinastudio/server/internal/genai"
	"github.com/vitrinastudio/server/internal/prompts"
	"github.com/vitrinastudio/server/internal/retry"
	"github.com/vitrinastudio/server/internal/store"
)

// fakeGenerator records every provider call and answers via per-test hooks.
type fakeGenerator struct {
	mu         sync.Mutex
	editCalls  []string
	editFn     func(call int, req genai.ImageRequest) (genai.ImageResult, error)
	startCalls int
	startFn    func(call int, req genai.VideoRequest) (*genai.Operation, error)
	pollCalls  int
	pollFn     func(call int, op *genai.Operation) (*genai.Operation, error)
}

func (f *fakeGenerator) EditImage(ctx context.Context, req genai.ImageRequest) (genai.ImageResult, error) {
	f.mu.Lock()
	f.editCalls = append(f.editCalls, req.Instruction)
	call := len(f.editCalls)
	fn := f.editFn
	f.mu.Unlock()
	if fn != nil {
		return fn(call, req)
	}
	return genai.ImageResult{Data: []byte("img"), MIME: "image/png"}, nil
}

func (f *fakeGenerator) StartVideo(ctx context.Context, req genai.VideoRequest) (*genai.Operation, error) {
	f.mu.Lock()
	f.startCalls++
	call := f.startCalls
	fn := f.startFn
	f.mu.Unlock()
	if fn != nil {
		return fn(call, req)
	}
	return &genai.Operation{Name: "operations/op-1"}, nil
}

func (f *fakeGenerator) PollVideo(ctx context.Context, op *genai.Operation) (*genai.Operation, error) {
	f.mu.Lock()
	f.pollCalls++
	call := f.pollCalls
	fn := f.pollFn
	f.mu.Unlock()
	if fn != nil {
		return fn(call, op)
	}
	return &genai.Operation{Name: op.Name, Done: true, VideoURI: "https://cdn/video.mp4"}, nil
}

func (f *fakeGenerator) DownloadURL(uri string) string {
	if uri == "" {
		return ""
	}
	return uri + "?key=test"
}

func (f *fakeGenerator) edits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.editCalls))
	copy(out, f.editCalls)
	return out
}

func (f *fakeGenerator) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

// newTestOrchestrator wires a fake provider with fast timings and replaces the
// orchestrator sleep with an instant recording one.
func newTestOrchestrator(t *testing.T, gen Generator) (*Orchestrator, *store.Memory, *sleepRecorder) {
	t.Helper()
	jobs := store.NewMemory()
	orc := New(jobs, gen, zerolog.Nop(), Options{
		Retry:        retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		StyleDelay:   5 * time.Second,
		PollInterval: 10 * time.Second,
		CallTimeout:  time.Minute,
	})
	rec := &sleepRecorder{}
	orc.sleep = rec.sleep
	t.Cleanup(orc.Close)
	return orc, jobs, rec
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.waits))
	copy(out, r.waits)
	return out
}

func seedJob(t *testing.T, jobs *store.Memory, id string) *domain.Job {
	t.Helper()
	job := domain.NewJob(id, domain.SourceImage{
		Filename: "ring.png",
		MIME:     "image/png",
		Data:     []byte{0x89, 0x50, 0x4e, 0x47},
	})
	jobs.Create(job)
	return job
}

func waitForStatus(t *testing.T, jobs *store.Memory, id string, want domain.Status) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	job, _ := jobs.Get(id)
	t.Fatalf("job %s never reached %s, last status %s", id, want, job.Status)
	return nil
}

func TestCatalogGenerateProducesOneArtifact(t *testing.T) {
	gen := &fakeGenerator{}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	updated, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeCatalog, Locale: "en"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if updated.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}

	job := waitForStatus(t, jobs, "job-1", domain.StatusSuccess)
	if len(job.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(job.Artifacts))
	}
	if job.ErrorMessage != "" {
		t.Fatalf("unexpected error message: %s", job.ErrorMessage)
	}
	edits := gen.edits()
	if len(edits) != 1 || edits[0] != prompts.CatalogInstruction("en") {
		t.Fatalf("unexpected provider calls: %v", edits)
	}
}

func TestGenerateRejectsJobAlreadyInFlight(t *testing.T) {
	gate := make(chan struct{})
	gen := &fakeGenerator{
		editFn: func(call int, req genai.ImageRequest) (genai.ImageResult, error) {
			<-gate
			return genai.ImageResult{Data: []byte("img"), MIME: "image/png"}, nil
		},
	}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeCatalog}); err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeCatalog}); !errors.Is(err, domain.ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}

	close(gate)
	waitForStatus(t, jobs, "job-1", domain.StatusSuccess)
}

func TestThematicIssuesVariantsInOrderWithDelay(t *testing.T) {
	gen := &fakeGenerator{}
	orc, jobs, rec := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeThematic, Theme: "otoño", Locale: "es"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitForStatus(t, jobs, "job-1", domain.StatusSuccess)
	if len(job.Artifacts) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(job.Artifacts))
	}

	var want []string
	for _, v := range prompts.Variants() {
		want = append(want, prompts.ThematicInstruction("es", v, "otoño"))
	}
	got := gen.edits()
	if len(got) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d out of order:\n got %q\nwant %q", i, got[i], want[i])
		}
	}

	waits := rec.recorded()
	if len(waits) != 2 {
		t.Fatalf("expected 2 inter-call delays, got %v", waits)
	}
	for _, d := range waits {
		if d != 5*time.Second {
			t.Fatalf("unexpected delay %v", d)
		}
	}
}

func TestThematicKeepsPartialSuccesses(t *testing.T) {
	gen := &fakeGenerator{
		editFn: func(call int, req genai.ImageRequest) (genai.ImageResult, error) {
			if call == 2 {
				return genai.ImageResult{}, genai.ErrNoImage
			}
			return genai.ImageResult{Data: []byte("img"), MIME: "image/png"}, nil
		},
	}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeThematic, Theme: "winter"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitForStatus(t, jobs, "job-1", domain.StatusSuccess)
	if len(job.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts from partial batch, got %d", len(job.Artifacts))
	}
	if len(gen.edits()) != 3 {
		t.Fatalf("a failing variant must not abort the rest, got %d calls", len(gen.edits()))
	}
}

func TestThematicAllVariantsFailingIsHardFailure(t *testing.T) {
	gen := &fakeGenerator{
		editFn: func(call int, req genai.ImageRequest) (genai.ImageResult, error) {
			return genai.ImageResult{}, genai.ErrNoImage
		},
	}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeThematic, Theme: "winter"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitForStatus(t, jobs, "job-1", domain.StatusError)
	if len(job.Artifacts) != 0 {
		t.Fatalf("failed job must carry no artifacts, got %d", len(job.Artifacts))
	}
	if job.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	gen := &fakeGenerator{
		editFn: func(call int, req genai.ImageRequest) (genai.ImageResult, error) {
			if call < 3 {
				return genai.ImageResult{}, &genai.APIError{HTTPStatus: 429, Status: "RESOURCE_EXHAUSTED"}
			}
			return genai.ImageResult{Data: []byte("img"), MIME: "image/png"}, nil
		},
	}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeCatalog}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitForStatus(t, jobs, "job-1", domain.StatusSuccess)
	if len(gen.edits()) != 3 {
		t.Fatalf("expected 2 retries then success, got %d calls", len(gen.edits()))
	}
}

func TestGenerateExhaustedRetriesRecordsError(t *testing.T) {
	gen := &fakeGenerator{
		editFn: func(call int, req genai.ImageRequest) (genai.ImageResult, error) {
			return genai.ImageResult{}, &genai.APIError{HTTPStatus: 429, Message: "quota"}
		},
	}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeCatalog}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitForStatus(t, jobs, "job-1", domain.StatusError)
	if job.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
	if len(gen.edits()) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(gen.edits()))
	}
}

func TestGenerateValidatesBeforeAnyProviderCall(t *testing.T) {
	gen := &fakeGenerator{}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeThematic}); !errors.Is(err, domain.ErrEmptyTheme) {
		t.Fatalf("expected ErrEmptyTheme, got %v", err)
	}
	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeVideo}); !errors.Is(err, domain.ErrEmptyVideoPrompt) {
		t.Fatalf("expected ErrEmptyVideoPrompt, got %v", err)
	}
	if _, err := orc.Generate("job-1", GenerateInput{Mode: "hologram"}); !errors.Is(err, domain.ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
	if len(gen.edits()) != 0 || gen.polls() != 0 {
		t.Fatal("validation failures must not reach the provider")
	}
	job, _ := jobs.Get("job-1")
	if job.Status != domain.StatusPending {
		t.Fatalf("job must stay pending, got %s", job.Status)
	}
}

func TestGenerateRestartsTerminalJob(t *testing.T) {
	gen := &fakeGenerator{}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")
	if _, err := jobs.Transition("job-1", domain.StatusProcessing, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := jobs.Transition("job-1", domain.StatusError, func(j *domain.Job) { j.ErrorMessage = "boom" }); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeCatalog}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitForStatus(t, jobs, "job-1", domain.StatusSuccess)
	if job.ErrorMessage != "" {
		t.Fatalf("stale error survived the restart: %s", job.ErrorMessage)
	}
}

func TestGenerateAllIsolatesFailures(t *testing.T) {
	gen := &fakeGenerator{}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")
	good := seedJob(t, jobs, "job-2")
	// job-1 has thematic mode selected but no theme, so it cannot start.
	if _, err := orc.SelectMode("job-1", domain.ModeThematic, "", ""); err != nil {
		t.Fatalf("SelectMode: %v", err)
	}
	if _, err := orc.SelectMode("job-2", domain.ModeCatalog, "", ""); err != nil {
		t.Fatalf("SelectMode: %v", err)
	}

	started, failed := orc.GenerateAll(GenerateInput{})
	if len(started) != 1 || started[0].ID != good.ID {
		t.Fatalf("expected only job-2 to start, got %d started", len(started))
	}
	if err := failed["job-1"]; !errors.Is(err, domain.ErrEmptyTheme) {
		t.Fatalf("expected job-1 to fail with ErrEmptyTheme, got %v", err)
	}
	waitForStatus(t, jobs, "job-2", domain.StatusSuccess)
}

func TestSelectModeParksUntilParametersArrive(t *testing.T) {
	orc, jobs, _ := newTestOrchestrator(t, &fakeGenerator{})
	seedJob(t, jobs, "job-1")
	seedJob(t, jobs, "job-2")

	job, err := orc.SelectMode("job-1", domain.ModeThematic, "", "")
	if err != nil {
		t.Fatalf("SelectMode: %v", err)
	}
	if job.Status != domain.StatusAwaitingTheme {
		t.Fatalf("expected awaiting_theme, got %s", job.Status)
	}

	job, err = orc.SelectMode("job-2", domain.ModeVideo, "", "")
	if err != nil {
		t.Fatalf("SelectMode: %v", err)
	}
	if job.Status != domain.StatusAwaitingVideoPrompt {
		t.Fatalf("expected awaiting_video_prompt, got %s", job.Status)
	}

	// Supplying the theme moves the parked job back to pending.
	job, err = orc.SelectMode("job-1", domain.ModeThematic, "vintage", "")
	if err != nil {
		t.Fatalf("SelectMode with theme: %v", err)
	}
	if job.Status != domain.StatusPending || job.Theme != "vintage" {
		t.Fatalf("expected pending with theme, got %s / %q", job.Status, job.Theme)
	}
}

func TestGenerateRejectedAfterClose(t *testing.T) {
	gen := &fakeGenerator{}
	orc, jobs, _ := newTestOrchestrator(t, gen)
	seedJob(t, jobs, "job-1")

	orc.Close()

	if _, err := orc.Generate("job-1", GenerateInput{Mode: domain.ModeCatalog}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if len(gen.edits()) != 0 {
		t.Fatal("no provider call may start after Close")
	}
	job, _ := jobs.Get("job-1")
	if job.Status != domain.StatusPending {
		t.Fatalf("job must be left untouched, got %s", job.Status)
	}
}

func TestSelectModeRestartsTerminalJob(t *testing.T) {
	orc, jobs, _ := newTestOrchestrator(t, &fakeGenerator{})
	seedJob(t, jobs, "job-1")
	if _, err := jobs.Transition("job-1", domain.StatusProcessing, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := jobs.Transition("job-1", domain.StatusSuccess, func(j *domain.Job) {
		j.Artifacts = []domain.Artifact{{MIME: "image/png", Data: []byte("img")}}
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Parking and non-parking selections behave the same on a finished job:
	// both reset it first.
	job, err := orc.SelectMode("job-1", domain.ModeThematic, "", "")
	if err != nil {
		t.Fatalf("SelectMode: %v", err)
	}
	if job.Status != domain.StatusAwaitingTheme {
		t.Fatalf("expected awaiting_theme, got %s", job.Status)
	}
	if len(job.Artifacts) != 0 {
		t.Fatalf("reset must discard previous artifacts, got %d", len(job.Artifacts))
	}

	if _, err := jobs.Transition("job-1", domain.StatusPending, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := jobs.Transition("job-1", domain.StatusProcessing, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := jobs.Transition("job-1", domain.StatusError, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	job, err = orc.SelectMode("job-1", domain.ModeCatalog, "", "")
	if err != nil {
		t.Fatalf("SelectMode on failed job: %v", err)
	}
	if job.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
}

func TestResetRequiresTerminalState(t *testing.T) {
	orc, jobs, _ := newTestOrchestrator(t, &fakeGenerator{})
	seedJob(t, jobs, "job-1")

	if _, err := orc.Reset("job-1"); !errors.Is(err, domain.ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}

	if _, err := jobs.Transition("job-1", domain.StatusProcessing, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := jobs.Transition("job-1", domain.StatusError, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	job, err := orc.Reset("job-1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if job.Status != domain.StatusPending {
		t.Fatalf("expected pending after reset, got %s", job.Status)
	}
}
