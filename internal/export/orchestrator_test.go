package export

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rjsullivan/shottrace/internal/clips"
	"github.com/rjsullivan/shottrace/internal/encode"
	"github.com/rjsullivan/shottrace/internal/pipeline"
	"github.com/rjsullivan/shottrace/internal/render"
	"github.com/rjsullivan/shottrace/internal/source"
	"github.com/rjsullivan/shottrace/internal/trajectory"
	"github.com/rs/zerolog"
)

type stubEngine struct {
	mu       sync.Mutex
	acquires int
	releases int
	clears   int
}

func (e *stubEngine) Acquire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acquires++
}

func (e *stubEngine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releases++
}

func (e *stubEngine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clears++
	return nil
}

// stubSource serves synthetic frames for a fixed-duration video.
type stubSource struct {
	duration float64
	stall    time.Duration
}

func (s *stubSource) Info() *source.Info {
	return &source.Info{Width: 64, Height: 36, NativeFPS: 30, Duration: s.duration}
}

func (s *stubSource) CheckRange(start, end float64) error {
	if start < 0 || end > s.duration {
		return &source.SeekOutOfRangeError{Start: start, End: end, Duration: s.duration}
	}
	return nil
}

func (s *stubSource) ProbeFrame(ctx context.Context, t float64) (*source.Frame, error) {
	return &source.Frame{Image: image.NewRGBA(image.Rect(0, 0, 64, 36)), Time: t}, nil
}

func (s *stubSource) EffectiveFPS(duration float64) float64 { return 10 }

func (s *stubSource) Frames(ctx context.Context, start, end, fps float64) (source.Iterator, error) {
	return &stubIterator{src: s, start: start, fps: fps, total: int((end - start) * fps)}, nil
}

func (s *stubSource) Close() error { return nil }

type stubIterator struct {
	src   *stubSource
	start float64
	fps   float64
	total int
	idx   int
}

func (it *stubIterator) Next() (*source.Frame, error) {
	if it.src.stall > 0 {
		time.Sleep(it.src.stall)
	}
	if it.idx >= it.total {
		return nil, io.EOF
	}
	f := &source.Frame{
		Image: image.NewRGBA(image.Rect(0, 0, 64, 36)),
		Time:  it.start + float64(it.idx)/it.fps,
		Index: it.idx,
	}
	it.idx++
	return f, nil
}

func (it *stubIterator) Close() {}

type stubEncoder struct {
	frames    int
	discarded bool
}

func (e *stubEncoder) Configure(ctx context.Context, w, h int, fps float64, opts encode.Options) error {
	return nil
}

func (e *stubEncoder) Submit(img *image.RGBA, pt float64) error {
	e.frames++
	return nil
}

func (e *stubEncoder) Finish(ctx context.Context) ([]byte, error) {
	return make([]byte, 2048), nil
}

func (e *stubEncoder) Discard() { e.discarded = true }

func makeClip(id string, start, end float64) *clips.Clip {
	return &clips.Clip{
		ID:     id,
		Start:  start,
		End:    end,
		Impact: start,
		Trajectory: trajectory.Trajectory{
			{X: 0.1, Y: 0.5, Time: start},
			{X: 0.9, Y: 0.3, Time: end},
		},
	}
}

func newTestOrchestrator(engine Engine, src *stubSource) *Orchestrator {
	return &Orchestrator{
		logger: zerolog.Nop(),
		engine: engine,
		pipe:   pipeline.New(zerolog.Nop(), 10, time.Minute),
		openSource: func(ctx context.Context, video string, pol source.Policy) (source.FrameSource, error) {
			return src, nil
		},
		newEncoder: func(tier encode.Tier) encode.Encoder {
			return &stubEncoder{}
		},
	}
}

func baseOptions() Options {
	return Options{
		Tier:   encode.TierPreview,
		Policy: source.DefaultPolicy(),
		Style:  render.DefaultStyle(),
	}
}

func TestExportMultipleClips(t *testing.T) {
	engine := &stubEngine{}
	o := newTestOrchestrator(engine, &stubSource{duration: 60})

	proj := &clips.Project{
		Video: "round.mp4",
		Clips: []*clips.Clip{
			makeClip("a", 5, 7),
			makeClip("b", 20, 22),
			makeClip("c", 40, 42.5),
		},
	}

	results, err := o.Export(context.Background(), proj, baseOptions())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.ClipID != proj.Clips[i].ID {
			t.Errorf("result %d for clip %q, want %q", i, r.ClipID, proj.Clips[i].ID)
		}
		if r.Failed() {
			t.Errorf("clip %q failed: %v", r.ClipID, r.Err)
		}
		if len(r.Blob) == 0 {
			t.Errorf("clip %q produced an empty blob", r.ClipID)
		}
	}
}

// One bad clip must not take the batch down with it.
func TestExportIsolatesClipFailures(t *testing.T) {
	engine := &stubEngine{}
	o := newTestOrchestrator(engine, &stubSource{duration: 30})

	proj := &clips.Project{
		Video: "round.mp4",
		Clips: []*clips.Clip{
			makeClip("bad", 28, 35), // past the end of the source
			makeClip("good", 10, 12),
		},
	}

	results, err := o.Export(context.Background(), proj, baseOptions())
	if err != nil {
		t.Fatalf("Export returned batch error for a clip-scoped failure: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	var serr *source.SeekOutOfRangeError
	if !errors.As(results[0].Err, &serr) {
		t.Errorf("bad clip error = %v, want SeekOutOfRangeError", results[0].Err)
	}
	if results[1].Failed() {
		t.Errorf("good clip failed after bad clip: %v", results[1].Err)
	}
	if len(results[1].Blob) == 0 {
		t.Error("good clip produced no blob")
	}
}

func TestExportCancellationAbandonsRemainingClips(t *testing.T) {
	engine := &stubEngine{}
	src := &stubSource{duration: 60, stall: 10 * time.Millisecond}
	o := newTestOrchestrator(engine, src)

	proj := &clips.Project{
		Video: "round.mp4",
		Clips: []*clips.Clip{
			makeClip("a", 5, 10),
			makeClip("b", 20, 25),
			makeClip("c", 40, 45),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	results, err := o.Export(ctx, proj, baseOptions())
	if !errors.Is(err, pipeline.ErrCancelled) {
		t.Fatalf("Export error = %v, want ErrCancelled", err)
	}
	if len(results) >= len(proj.Clips) {
		t.Errorf("got %d results after cancellation, want fewer than %d", len(results), len(proj.Clips))
	}
	last := results[len(results)-1]
	if !errors.Is(last.Err, pipeline.ErrCancelled) {
		t.Errorf("last result error = %v, want ErrCancelled", last.Err)
	}
}

func TestExportEngineHygiene(t *testing.T) {
	engine := &stubEngine{}
	o := newTestOrchestrator(engine, &stubSource{duration: 60})

	proj := &clips.Project{
		Video: "round.mp4",
		Clips: []*clips.Clip{
			makeClip("a", 5, 6),
			makeClip("b", 20, 21),
		},
	}

	if _, err := o.Export(context.Background(), proj, baseOptions()); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if engine.acquires != 2 || engine.releases != 2 {
		t.Errorf("engine acquired/released %d/%d times, want 2/2", engine.acquires, engine.releases)
	}
	// Scratch cleared before and after each clip.
	if engine.clears != 4 {
		t.Errorf("engine cleared %d times, want 4", engine.clears)
	}
}

func TestExportSinkReceivesBlobs(t *testing.T) {
	engine := &stubEngine{}
	o := newTestOrchestrator(engine, &stubSource{duration: 60})

	proj := &clips.Project{
		Video: "round.mp4",
		Clips: []*clips.Clip{makeClip("a", 5, 6), makeClip("b", 20, 21)},
	}

	got := map[string]int{}
	opts := baseOptions()
	opts.Sink = func(clipID string, blob []byte) error {
		got[clipID] = len(blob)
		return nil
	}

	if _, err := o.Export(context.Background(), proj, opts); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sink saw %d clips, want 2", len(got))
	}
	for id, n := range got {
		if n == 0 {
			t.Errorf("sink received empty blob for %q", id)
		}
	}
}

func TestExportSinkErrorMarksClipFailed(t *testing.T) {
	engine := &stubEngine{}
	o := newTestOrchestrator(engine, &stubSource{duration: 60})

	proj := &clips.Project{
		Video: "round.mp4",
		Clips: []*clips.Clip{makeClip("a", 5, 6)},
	}

	diskFull := errors.New("disk full")
	opts := baseOptions()
	opts.Sink = func(clipID string, blob []byte) error { return diskFull }

	results, err := o.Export(context.Background(), proj, opts)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !errors.Is(results[0].Err, diskFull) {
		t.Errorf("result error = %v, want the sink error", results[0].Err)
	}
}

func TestExportForwardsProgress(t *testing.T) {
	engine := &stubEngine{}
	o := newTestOrchestrator(engine, &stubSource{duration: 60})

	proj := &clips.Project{
		Video: "round.mp4",
		Clips: []*clips.Clip{makeClip("a", 5, 7)},
	}

	var mu sync.Mutex
	var phases []pipeline.Phase
	opts := baseOptions()
	opts.Progress = func(ev pipeline.Progress) {
		mu.Lock()
		phases = append(phases, ev.Phase)
		mu.Unlock()
	}

	if _, err := o.Export(context.Background(), proj, opts); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(phases) == 0 {
		t.Fatal("no progress events forwarded")
	}
	if phases[len(phases)-1] != pipeline.PhaseComplete {
		t.Errorf("last phase = %s, want complete", phases[len(phases)-1])
	}
}
