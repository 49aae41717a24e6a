// Package export runs one export: crawl the listing, fetch every note and its
// images, render Markdown, build the archive and hand it to a sink.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/starford/mixport/internal/apperr"
	"github.com/starford/mixport/internal/archive"
	"github.com/starford/mixport/internal/checksum"
	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/parser"
	"github.com/starford/mixport/internal/transform"
)

// Crawler pages through the remote listing and fetches note details.
type Crawler interface {
	NextPage(ctx context.Context, cursor string) (models.Page, error)
	Note(ctx context.Context, id models.ID) (models.Note, error)
}

// ImageResolver fetches the images of one note. Missing ids are left out of
// the result.
type ImageResolver interface {
	ResolveAll(ctx context.Context, ids []string) map[string][]byte
}

// Sink delivers the finished archive and returns where it went.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Stage classifies a fatal run error.
type Stage string

const (
	StageListing    Stage = "listing"
	StagePackaging  Stage = "packaging"
	StageUnexpected Stage = "unexpected"
)

// RunError is a fatal run error.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("export: %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// State is the lifecycle position of an Orchestrator.
type State int

const (
	StateIdle State = iota
	StateListing
	StateResolvingNote
	StateTransforming
	StateArchiving
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListing:
		return "listing"
	case StateResolvingNote:
		return "resolving_note"
	case StateTransforming:
		return "transforming"
	case StateArchiving:
		return "archiving"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Options configures a run.
type Options struct {
	ArchiveName   string
	RootDir       string
	DefaultFolder string
	Location      *time.Location
	Transformer   *transform.Transformer
}

// Result describes a finished run.
type Result struct {
	Stats    models.ExportStats
	Location string
	Size     int
	Checksum string
	Manifest []archive.Entry
}

// Orchestrator executes a single export. It is not reusable: once a run has
// finished, Start returns apperr.ErrFinished.
type Orchestrator struct {
	crawler  Crawler
	resolver ImageResolver
	sink     Sink
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	current int
	result  Result
	err     error
}

// New creates an Orchestrator.
func New(crawler Crawler, resolver ImageResolver, sink Sink, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.ArchiveName == "" {
		opts.ArchiveName = "MiNote_export.zip"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Transformer == nil {
		opts.Transformer = transform.New(opts.Location)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		crawler:  crawler,
		resolver: resolver,
		sink:     sink,
		opts:     opts,
		logger:   logger,
	}
}

// State returns the current lifecycle state and, while resolving notes, the
// zero-based index of the note being processed.
func (o *Orchestrator) State() (State, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.current
}

// Result returns the outcome of a run that reached Done.
func (o *Orchestrator) Result() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Err returns the fatal error of a failed run.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Start launches the run and returns its event stream. The stream ends with
// exactly one EXPORT_COMPLETE or EXPORT_ERROR event and is then closed; the
// caller must drain it. Cancelling ctx aborts the run at its next suspension
// point.
func (o *Orchestrator) Start(ctx context.Context) (<-chan Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.state.Terminal():
		return nil, apperr.ErrFinished
	case o.state != StateIdle:
		return nil, apperr.ErrAlreadyRunning
	}
	o.state = StateListing

	ch := make(chan Event, 16)
	go o.run(ctx, ch)
	return ch, nil
}

func (o *Orchestrator) setState(s State, current int) {
	o.mu.Lock()
	o.state = s
	o.current = current
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, ch chan<- Event) {
	defer close(ch)

	emit := func(ev Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	res, err := o.execute(ctx, emit)
	if err != nil {
		o.mu.Lock()
		o.state = StateFailed
		o.err = err
		o.mu.Unlock()

		o.logger.Error("export: run failed", slog.String("error", err.Error()))
		ch <- Event{Type: EventError, Err: err}
		return
	}

	o.mu.Lock()
	o.state = StateDone
	o.result = res
	o.mu.Unlock()

	o.logger.Info("export: run complete",
		slog.Int("folders", res.Stats.Folders),
		slog.Int("notes", res.Stats.Notes),
		slog.Int("images", res.Stats.Images),
		slog.String("location", res.Location),
	)
	ch <- Event{Type: EventComplete, Stats: res.Stats, Location: res.Location}
}

// execute runs the pipeline and converts panics into UnexpectedError.
func (o *Orchestrator) execute(ctx context.Context, emit func(Event)) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RunError{Stage: StageUnexpected, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	c, err := o.collect(ctx, emit)
	if err != nil {
		return Result{}, err
	}

	stats := models.ExportStats{
		Folders: len(c.folders),
		Notes:   len(c.notes),
		Images:  len(c.images),
	}
	emit(Event{Type: EventStats, Stats: stats})

	res, err = o.pack(ctx, c, emit)
	if err != nil {
		return Result{}, err
	}
	res.Stats = stats
	emit(progress(100, "export complete"))
	return res, nil
}

// collected is the run-wide state built while crawling.
type collected struct {
	folders map[models.ID]string
	notes   []models.Note
	images  map[string][]byte
}

func (o *Orchestrator) collect(ctx context.Context, emit func(Event)) (*collected, error) {
	c := &collected{
		folders: make(map[models.ID]string),
		images:  make(map[string][]byte),
	}
	emit(progress(20, "fetching note list"))

	// Listing progress is reported per page but never moves backwards.
	var listed float64
	report := func(p float64, msg string) {
		if p < listed {
			p = listed
		}
		listed = p
		emit(progress(p, msg))
	}

	cursor := ""
	used := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.setState(StateListing, 0)
		used[cursor] = true

		page, err := o.crawler.NextPage(ctx, cursor)
		if err != nil {
			return nil, o.classify(ctx, StageListing, err)
		}
		for _, f := range page.Folders {
			c.folders[f.ID] = f.Name
		}
		if len(used) == 1 {
			report(30, fmt.Sprintf("found %d note entries", page.Count))
		} else {
			o.logger.Debug("export: next page listed",
				slog.String("cursor", cursor),
				slog.Int("entries", page.Count))
		}

		n := len(page.Entries)
		for i, entry := range page.Entries {
			o.setState(StateResolvingNote, len(c.notes))

			note, err := o.crawler.Note(ctx, entry.ID)
			if err != nil {
				return nil, o.classify(ctx, StageListing, err)
			}

			resolved := o.resolver.ResolveAll(ctx, parser.ImageIDs(note.Content))
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for id, data := range resolved {
				c.images[id] = data
			}
			c.notes = append(c.notes, note)

			report(30+float64(i)/float64(n)*40, fmt.Sprintf("processing note %d/%d", i+1, n))
		}

		if page.Count == 0 {
			return c, nil
		}
		if used[page.NextCursor] {
			return nil, &RunError{Stage: StageListing, Err: fmt.Errorf("cursor %q did not advance", page.NextCursor)}
		}
		cursor = page.NextCursor
	}
}

func (o *Orchestrator) pack(ctx context.Context, c *collected, emit func(Event)) (Result, error) {
	emit(progress(70, "packing archive"))
	o.setState(StateTransforming, 0)

	b := archive.NewBuilder(o.opts.RootDir, o.opts.DefaultFolder, o.logger)
	names := transform.NewFileNamer(o.opts.Location)

	n := len(c.notes)
	for i, note := range c.notes {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		doc := o.opts.Transformer.Transform(note, c.images, names)
		if _, err := b.Add(c.folders[note.FolderID], doc); err != nil {
			return Result{}, &RunError{Stage: StagePackaging, Err: err}
		}
		emit(progress(math.Round(70+float64(i)/float64(n)*29), fmt.Sprintf("packing note %d/%d", i+1, n)))
	}

	o.setState(StateArchiving, 0)
	data, err := b.Serialize()
	if err != nil {
		return Result{}, &RunError{Stage: StagePackaging, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	loc, err := o.sink.Save(ctx, o.opts.ArchiveName, data)
	if err != nil {
		return Result{}, o.classify(ctx, StagePackaging, err)
	}

	return Result{
		Location: loc,
		Size:     len(data),
		Checksum: checksum.Sum(data),
		Manifest: b.Manifest(),
	}, nil
}

// classify wraps err in a RunError unless the run was cancelled.
func (o *Orchestrator) classify(ctx context.Context, stage Stage, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &RunError{Stage: stage, Err: err}
}
