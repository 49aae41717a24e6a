// Package exportservice coordinates export runs: at most one at a time, with
// progress fanned out to SSE clients and listeners and every outcome recorded
// in the run history.
package exportservice

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mixport/internal/apperr"
	"github.com/starford/mixport/internal/export"
	"github.com/starford/mixport/internal/history"
	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/sse"
	"github.com/starford/mixport/internal/storage"
)

// Factory builds a fresh orchestrator for one run writing archiveName.
type Factory func(archiveName string) *export.Orchestrator

// Publisher receives every run event, tagged with the run id.
type Publisher interface {
	Publish(event sse.Event)
}

// Status is a snapshot of the current or most recent run.
type Status struct {
	RunID      string              `json:"run_id,omitempty"`
	State      string              `json:"state"`
	Running    bool                `json:"running"`
	Progress   float64             `json:"progress"`
	Message    string              `json:"message,omitempty"`
	Stats      *models.ExportStats `json:"stats,omitempty"`
	Location   string              `json:"location,omitempty"`
	Error      string              `json:"error,omitempty"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// Options configures a Service.
type Options struct {
	// ArchiveName may contain {timestamp} and {run} placeholders.
	ArchiveName string
	Factory     Factory
	Ledger      history.Ledger
	// Store is set when archives can be read back for download.
	Store     storage.Store
	Publisher Publisher
	Logger    *slog.Logger
}

type run struct {
	id     string
	orch   *export.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
}

type listener struct {
	ch   chan export.Event
	done chan struct{}
}

// Service owns the "at most one active run" rule.
type Service struct {
	ctx         context.Context
	archiveName string
	factory     Factory
	ledger      history.Ledger
	store       storage.Store
	pub         Publisher
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	active    *run
	status    Status
	listeners map[*listener]struct{}
}

// New creates a Service. Runs are bound to ctx: cancelling it aborts any
// active run.
func New(ctx context.Context, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.ArchiveName
	if name == "" {
		name = "MiNote_export_{timestamp}.zip"
	}
	return &Service{
		ctx:         ctx,
		archiveName: name,
		factory:     opts.Factory,
		ledger:      opts.Ledger,
		store:       opts.Store,
		pub:         opts.Publisher,
		logger:      logger,
		now:         time.Now,
		status:      Status{State: "idle"},
		listeners:   make(map[*listener]struct{}),
	}
}

// ArchiveName expands the name template for a run.
func ArchiveName(tmpl string, at time.Time, runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	r := strings.NewReplacer(
		"{timestamp}", at.Format("20060102-150405"),
		"{run}", short,
	)
	return r.Replace(tmpl)
}

// Start launches a new run and returns its id. It fails with
// apperr.ErrAlreadyRunning while another run is active.
func (s *Service) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return "", apperr.ErrAlreadyRunning
	}

	id := uuid.NewString()
	started := s.now()
	name := ArchiveName(s.archiveName, started, id)

	orch := s.factory(name)
	ctx, cancel := context.WithCancel(s.ctx)
	events, err := orch.Start(ctx)
	if err != nil {
		cancel()
		return "", err
	}

	if err := s.ledger.BeginRun(id, name, started); err != nil {
		s.logger.Warn("exportservice: record run start", slog.String("run_id", id), slog.String("error", err.Error()))
	}

	r := &run{id: id, orch: orch, cancel: cancel, done: make(chan struct{})}
	s.active = r
	s.status = Status{RunID: id, State: export.StateListing.String(), Running: true, StartedAt: &started}

	s.logger.Info("exportservice: run started", slog.String("run_id", id), slog.String("archive", name))
	go s.consume(r, events)
	return id, nil
}

// Cancel aborts the active run.
func (s *Service) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return apperr.ErrNotRunning
	}
	s.active.cancel()
	return nil
}

// Status returns a snapshot of the current or last run.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if s.active != nil {
		state, _ := s.active.orch.State()
		if !state.Terminal() {
			st.State = state.String()
		}
	}
	return st
}

// Wait blocks until the active run finishes or ctx is done and returns the
// final status. With no active run it returns the last status immediately.
func (s *Service) Wait(ctx context.Context) (Status, error) {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()

	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return s.Status(), ctx.Err()
		}
	}
	return s.Status(), nil
}

// Subscribe registers a listener for run events. The listener must read until
// it sees a terminal event or call the returned cancel function.
func (s *Service) Subscribe() (<-chan export.Event, func()) {
	l := &listener{ch: make(chan export.Event, 64), done: make(chan struct{})}
	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return l.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, l)
			s.mu.Unlock()
			close(l.done)
		})
	}
}

// Runs lists recorded runs, newest first.
func (s *Service) Runs(limit int) ([]history.Run, error) {
	return s.ledger.ListRuns(limit)
}

// Run returns one recorded run and its archive manifest.
func (s *Service) Run(id string) (*history.Run, []history.File, error) {
	r, err := s.ledger.GetRun(id)
	if err != nil {
		return nil, nil, err
	}
	files, err := s.ledger.RunFiles(id)
	if err != nil {
		return nil, nil, err
	}
	return r, files, nil
}

// Archives lists downloadable archives.
func (s *Service) Archives() ([]storage.ArchiveInfo, error) {
	if s.store == nil {
		return []storage.ArchiveInfo{}, nil
	}
	return s.store.List()
}

// Archive returns the bytes of a stored archive.
func (s *Service) Archive(name string) ([]byte, error) {
	if s.store == nil {
		return nil, apperr.ErrNotFound
	}
	data, err := s.store.Read(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.ErrNotFound
	}
	return data, err
}

// DeleteArchive removes a stored archive.
func (s *Service) DeleteArchive(name string) error {
	if s.store == nil {
		return apperr.ErrNotFound
	}
	err := s.store.Delete(name)
	if errors.Is(err, os.ErrNotExist) {
		return apperr.ErrNotFound
	}
	return err
}

func (s *Service) consume(r *run, events <-chan export.Event) {
	defer close(r.done)
	defer r.cancel()

	for ev := range events {
		s.apply(r, ev)
		s.fanOut(r, ev)
		if ev.Terminal() {
			s.record(r, ev)
		}
	}

	s.mu.Lock()
	s.active = nil
	s.status.Running = false
	s.mu.Unlock()
}

func (s *Service) apply(r *run, ev export.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case export.EventProgress:
		s.status.Progress = ev.Progress
		s.status.Message = ev.Message
	case export.EventStats:
		stats := ev.Stats
		s.status.Stats = &stats
	case export.EventComplete:
		stats := ev.Stats
		now := s.now()
		s.status.State = export.StateDone.String()
		s.status.Stats = &stats
		s.status.Location = ev.Location
		s.status.FinishedAt = &now
	case export.EventError:
		now := s.now()
		s.status.State = export.StateFailed.String()
		s.status.Error = ev.Payload()["error"].(string)
		s.status.FinishedAt = &now
	}
}

func (s *Service) fanOut(r *run, ev export.Event) {
	if s.pub != nil {
		data := ev.Payload()
		data["run_id"] = r.id
		s.pub.Publish(sse.Event{Type: string(ev.Type), Data: data})
	}

	s.mu.Lock()
	ls := make([]*listener, 0, len(s.listeners))
	for l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		if ev.Type == export.EventProgress {
			select {
			case l.ch <- ev:
			default:
			}
			continue
		}
		select {
		case l.ch <- ev:
		case <-l.done:
		}
	}
}

func (s *Service) record(r *run, ev export.Event) {
	at := s.now()
	var err error
	switch ev.Type {
	case export.EventComplete:
		res := r.orch.Result()
		files := make([]history.File, len(res.Manifest))
		for i, e := range res.Manifest {
			files[i] = history.File{Path: e.Path, Size: int64(e.Size), Checksum: e.Checksum}
		}
		err = s.ledger.FinishRun(r.id, history.Finish{
			Stats:      res.Stats,
			Location:   res.Location,
			Size:       int64(res.Size),
			Checksum:   res.Checksum,
			Files:      files,
			FinishedAt: at,
		})
	case export.EventError:
		err = s.ledger.FailRun(r.id, ev.Payload()["error"].(string), at)
	}
	if err != nil {
		s.logger.Warn("exportservice: record run outcome", slog.String("run_id", r.id), slog.String("error", err.Error()))
	}
}
