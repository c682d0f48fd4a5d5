package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/datasets"
)

// Fallback messages recorded when an error carries no text of its own.
const (
	MsgListFailed    = "Failed to load datasets"
	MsgDatasetFailed = "Failed to load dataset"
	MsgUploadFailed  = "Upload failed"
)

// DatasetSource lists and uploads datasets.
type DatasetSource interface {
	ListRecent(ctx context.Context, limit int) (datasets.List, error)
	Upload(ctx context.Context, filename string, content io.Reader) (*datasets.UploadResult, error)
}

// AnalyticsSource fetches the analytics of one dataset.
type AnalyticsSource interface {
	FetchSummary(ctx context.Context, id string) (*datasets.Summary, error)
	FetchPreview(ctx context.Context, id string, limit int) (*analytics.Preview, error)
}

// Options tunes a Controller.
type Options struct {
	ListLimit    int
	PreviewLimit int
	Logger       *slog.Logger
}

// ticket tags a request with the sequence number it was issued under and,
// for analytics, the dataset id it is for.
type ticket struct {
	seq uint64
	id  string
}

// Controller owns dashboard state. Every method blocks for the duration of its
// network calls and may be invoked concurrently; results that were superseded
// while in flight are discarded.
type Controller struct {
	datasets  DatasetSource
	analytics AnalyticsSource
	opts      Options
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	seq   [concernCount]uint64

	// notifyMu orders deliveries so subscribers never see an older state
	// after a newer one.
	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs   map[int]func(State)
	nextID int
}

// NewController creates a Controller in the NoSelection phase.
func NewController(ds DatasetSource, as AnalyticsSource, opts Options) *Controller {
	if opts.ListLimit <= 0 {
		opts.ListLimit = datasets.MaxRecent
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = analytics.DefaultPreviewLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		datasets:  ds,
		analytics: as,
		opts:      opts,
		logger:    logger,
		subs:      map[int]func(State){},
	}
	c.state.Phase = NoSelection
	for i := range c.state.requests {
		c.state.requests[i].Phase = Idle
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn to be called with a copy of the state after every
// change. Deliveries are serialized and in version order; fn must not call
// back into the Controller. The returned func removes the subscription.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	s := c.Snapshot()
	c.subMu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// update applies fn under the lock and notifies subscribers when it reports a change.
func (c *Controller) update(fn func(s *State) bool) bool {
	c.mu.Lock()
	changed := fn(&c.state)
	if changed {
		c.state.version++
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
	return changed
}

// issue starts a new request for concern and marks it in flight.
// Must be called with c.mu held.
func (c *Controller) issue(concern Concern, id string) ticket {
	c.seq[concern]++
	c.state.requests[concern] = RequestState{Phase: InFlight}
	return ticket{seq: c.seq[concern], id: id}
}

// current reports whether t is still the latest ticket of concern.
// Must be called with c.mu held.
func (c *Controller) current(concern Concern, t ticket) bool {
	if c.seq[concern] != t.seq {
		return false
	}
	if concern == ConcernDataset {
		return c.state.SelectedID == t.id
	}
	return true
}

// Mount loads the list without keeping any prior selection and selects the
// first dataset, if any.
func (c *Controller) Mount(ctx context.Context) error {
	return c.loadList(ctx, false, "")
}

// Refresh reloads the list keeping the current selection when it is still
// listed; otherwise the first dataset is selected.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.loadList(ctx, true, "")
}

// Select switches to dataset id and loads its analytics. An id that is not in
// the current list is reconciled to the first dataset.
func (c *Controller) Select(ctx context.Context, id string) error {
	var t ticket
	var started bool
	c.update(func(s *State) bool {
		target := id
		if !s.List.Contains(target) {
			target = s.List.First()
		}
		t, started = c.selectLocked(target)
		return true
	})
	if !started {
		return nil
	}
	return c.loadAnalytics(ctx, t)
}

// Upload submits a CSV, then reloads the list and selects the new dataset.
// The new dataset is selected even when the list reload fails, is superseded
// by a concurrent Refresh or does not contain it yet.
func (c *Controller) Upload(ctx context.Context, filename string, content io.Reader) error {
	var t ticket
	c.update(func(*State) bool {
		t = c.issue(ConcernUpload, "")
		return true
	})

	res, err := c.datasets.Upload(ctx, filename, content)
	applied := c.update(func(s *State) bool {
		if !c.current(ConcernUpload, t) {
			return false
		}
		if err != nil {
			s.requests[ConcernUpload] = RequestState{Phase: Settled, Err: api.Message(err, MsgUploadFailed)}
		} else {
			s.requests[ConcernUpload] = RequestState{Phase: Settled}
		}
		return true
	})
	if err != nil {
		if !applied {
			c.logger.Debug("Discarded stale upload failure", "filename", filename, "error", err)
		}
		return err
	}
	c.logger.Info("Upload complete, selecting new dataset", "id", res.Dataset.ID, "status", res.Dataset.Status)
	return c.loadList(ctx, false, res.Dataset.ID)
}

// loadList fetches the list and reconciles the selection. With preserve set
// the current selection is kept if still listed. A non-empty target is always
// selected, whether or not this response is applied.
func (c *Controller) loadList(ctx context.Context, preserve bool, target string) error {
	var t ticket
	c.update(func(*State) bool {
		t = c.issue(ConcernList, "")
		return true
	})

	list, err := c.datasets.ListRecent(ctx, c.opts.ListLimit)

	var sel ticket
	var selStarted bool
	applied := c.update(func(s *State) bool {
		if !c.current(ConcernList, t) {
			return false
		}
		if err != nil {
			s.requests[ConcernList] = RequestState{Phase: Settled, Err: api.Message(err, MsgListFailed)}
			return true
		}
		s.requests[ConcernList] = RequestState{Phase: Settled}
		s.List = list

		next := list.First()
		switch {
		case target != "":
			next = target
		case preserve && s.SelectedID != "" && list.Contains(s.SelectedID):
			next = s.SelectedID
		}
		if next != s.SelectedID || (s.Phase == NoSelection && next != "") {
			sel, selStarted = c.selectLocked(next)
		}
		return true
	})
	if !applied {
		c.logger.Debug("Discarded stale list response", "seq", t.seq, "error", err)
		if target == "" {
			return nil
		}
		return c.selectExact(ctx, target)
	}
	if err != nil {
		if target == "" {
			return err
		}
		if selErr := c.selectExact(ctx, target); selErr != nil {
			return errors.Join(err, selErr)
		}
		return err
	}
	if target != "" && !list.Contains(target) {
		c.logger.Warn("New dataset missing from refreshed list", "id", target)
	}
	if !selStarted {
		return nil
	}
	return c.loadAnalytics(ctx, sel)
}

// selectExact selects id without reconciling it against the list and loads
// its analytics. It is a no-op when id is already selected and not degraded.
func (c *Controller) selectExact(ctx context.Context, id string) error {
	var t ticket
	var started bool
	c.update(func(s *State) bool {
		if s.SelectedID == id && s.Phase != Degraded && s.Phase != NoSelection {
			return false
		}
		t, started = c.selectLocked(id)
		return true
	})
	if !started {
		return nil
	}
	return c.loadAnalytics(ctx, t)
}

// selectLocked makes id the selection, clears any analytics shown for the
// previous one and issues a dataset ticket. It reports whether a fetch must
// follow. Must be called with c.mu held.
func (c *Controller) selectLocked(id string) (ticket, bool) {
	s := &c.state
	s.SelectedID = id
	s.snapshot = nil
	t := c.issue(ConcernDataset, id)
	if id == "" {
		s.Phase = NoSelection
		s.requests[ConcernDataset] = RequestState{Phase: Idle}
		return t, false
	}
	s.Phase = Loading
	return t, true
}

// loadAnalytics fetches summary then preview for t.id and applies the pair if
// t is still current.
func (c *Controller) loadAnalytics(ctx context.Context, t ticket) error {
	summary, err := c.analytics.FetchSummary(ctx, t.id)
	if err == nil {
		if c.stale(t) {
			c.logger.Debug("Selection changed before preview fetch", "id", t.id)
			return nil
		}
		var preview *analytics.Preview
		preview, err = c.analytics.FetchPreview(ctx, t.id, c.opts.PreviewLimit)
		if err == nil {
			applied := c.update(func(s *State) bool {
				if !c.current(ConcernDataset, t) {
					return false
				}
				ds, _ := s.List.Find(t.id)
				s.snapshot = &analytics.Snapshot{DatasetID: t.id, Dataset: ds, Summary: *summary, Preview: *preview}
				s.Phase = Ready
				s.requests[ConcernDataset] = RequestState{Phase: Settled}
				return true
			})
			if !applied {
				c.logger.Debug("Discarded stale analytics", "id", t.id, "seq", t.seq)
			}
			return nil
		}
	}

	applied := c.update(func(s *State) bool {
		if !c.current(ConcernDataset, t) {
			return false
		}
		s.snapshot = nil
		s.Phase = Degraded
		s.requests[ConcernDataset] = RequestState{Phase: Settled, Err: api.Message(err, MsgDatasetFailed)}
		return true
	})
	if !applied {
		c.logger.Debug("Discarded stale analytics failure", "id", t.id, "error", err)
		return nil
	}
	return err
}

func (c *Controller) stale(t ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.current(ConcernDataset, t)
}
