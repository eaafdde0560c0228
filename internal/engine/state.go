package engine

import (
	"sort"
	"sync"

	"textmark/internal/taxonomy"
)

// Selection is a span the user marked in the source text.
type Selection struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// State is the session state the engine consults: navigation mode, the
// active annotation-list type, the selected type filters and the staged
// header selection. It is injected, not ambient, so every test can hold
// its own instance.
type State struct {
	mu             sync.Mutex
	navigationMode string
	activeListType string
	selectedTypes  map[string]struct{}
	pendingHeader  *Selection
}

func NewState(navigationMode, activeListType string) *State {
	if navigationMode == "" {
		navigationMode = taxonomy.NavigationDefault
	}
	return &State{
		navigationMode: navigationMode,
		activeListType: activeListType,
		selectedTypes:  make(map[string]struct{}),
	}
}

func (s *State) NavigationMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigationMode
}

func (s *State) SetNavigationMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigationMode = mode
}

func (s *State) ActiveListType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeListType
}

func (s *State) SetActiveListType(listType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeListType = listType
}

// SelectType adds a type to the active filter. Creating an annotation
// auto-selects its type so the new record is not filtered out of view.
func (s *State) SelectType(typ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedTypes[typ] = struct{}{}
}

func (s *State) IsSelected(typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selectedTypes[typ]
	return ok
}

func (s *State) SelectedTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.selectedTypes))
	for t := range s.selectedTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Reset clears filters and any staged header, as on navigation to a new
// text.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedTypes = make(map[string]struct{})
	s.pendingHeader = nil
}

// StageHeader stores a selection destined to become a header. Creation
// is deferred until the user supplies a name or cancels.
func (s *State) StageHeader(sel Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingHeader = &sel
}

func (s *State) PendingHeader() (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingHeader == nil {
		return Selection{}, false
	}
	return *s.pendingHeader, true
}

func (s *State) ClearPendingHeader() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingHeader = nil
}
