package bot

import (
	"sync"
	"time"

	"paperlens/internal/domain"
	"paperlens/internal/summarizer"
)

// workspace is the document a chat is currently working with and the
// progress of its summary.
type workspace struct {
	doc        *domain.Document
	summary    summarizer.State
	generation uint64
	lastActive time.Time
}

type workspaces struct {
	mu          sync.Mutex
	byChat      map[int64]*workspace
	generations uint64
	now         func() time.Time
}

func newWorkspaces() *workspaces {
	return &workspaces{
		byChat: make(map[int64]*workspace),
		now:    time.Now,
	}
}

// beginSummary binds doc to the chat and marks its summary as requested.
// It refuses while a previous summary is still in flight.
func (w *workspaces) beginSummary(chatID int64, doc domain.Document) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws, ok := w.byChat[chatID]
	if !ok {
		ws = &workspace{}
		w.byChat[chatID] = ws
	}

	if ws.summary.InFlight() {
		return 0, false
	}

	w.generations++
	ws.generation = w.generations
	ws.doc = &doc
	ws.summary = summarizer.State{Phase: summarizer.PhaseRequesting}
	ws.lastActive = w.now()

	return ws.generation, true
}

// updateSummary stores state unless the workspace moved on to another
// document in the meantime.
func (w *workspaces) updateSummary(chatID int64, generation uint64, state summarizer.State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws, ok := w.byChat[chatID]
	if !ok || ws.generation != generation {
		return false
	}

	ws.summary = state
	ws.lastActive = w.now()

	return true
}

func (w *workspaces) document(chatID int64) (domain.Document, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws, ok := w.byChat[chatID]
	if !ok || ws.doc == nil {
		return domain.Document{}, false
	}

	ws.lastActive = w.now()

	return *ws.doc, true
}

func (w *workspaces) summary(chatID int64) summarizer.State {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws, ok := w.byChat[chatID]
	if !ok {
		return summarizer.State{Phase: summarizer.PhaseIdle}
	}

	return ws.summary
}

// reset forgets the chat's document. A summary still streaming keeps
// running but its updates are ignored.
func (w *workspaces) reset(chatID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws, ok := w.byChat[chatID]
	if !ok {
		return false
	}

	delete(w.byChat, chatID)

	return ws.doc != nil
}

func (w *workspaces) evictIdle(now time.Time, ttl time.Duration) []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var evicted []int64
	for chatID, ws := range w.byChat {
		if ws.summary.InFlight() || now.Sub(ws.lastActive) <= ttl {
			continue
		}

		delete(w.byChat, chatID)
		evicted = append(evicted, chatID)
	}

	return evicted
}
