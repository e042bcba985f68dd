package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/catchup/internal/transfer"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusWarning = "warning"
	StatusSuccess = "success"
	StatusError   = "error"
)

type Entry struct {
	ID          int
	Name        string
	Status      string
	Message     string
	Progress    string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Name  string
	Error error
	Time  time.Time
}

// Manager renders one status block per recording and redraws it in place on
// a ticker. Off a terminal only the final state is printed.
type Manager struct {
	out         io.Writer
	live        bool
	entries     map[int]*Entry
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	count       int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return newManager(os.Stdout, IsTerminal())
}

func newManager(w io.Writer, live bool) *Manager {
	return &Manager{
		out:         w,
		live:        live,
		entries:     make(map[int]*Entry),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.count++
	m.entries[m.count] = &Entry{
		ID:          m.count,
		Name:        name,
		Status:      StatusPending,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	return m.count
}

func (m *Manager) update(id int, fn func(*Entry)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, ok := m.entries[id]; ok {
		fn(e)
		e.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(e *Entry) {
		e.Message = message
		if e.Status == StatusPending {
			e.Status = StatusRunning
		}
	})
}

func (m *Manager) Progress(id int, s transfer.ProgressSample) {
	line := ProgressLine(s)
	m.update(id, func(e *Entry) {
		e.Progress = line
		e.Status = StatusRunning
	})
}

// Warn marks a non-fatal problem; the entry keeps running.
func (m *Manager) Warn(id int, message string) {
	m.update(id, func(e *Entry) {
		e.Message = message
		e.Status = StatusWarning
	})
}

func (m *Manager) Complete(id int, message string) {
	m.update(id, func(e *Entry) {
		e.Progress = ""
		if message == "" {
			message = fmt.Sprintf("Completed %s", e.Name)
		}
		e.Message = message
		e.Complete = true
		e.Status = StatusSuccess
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, ok := m.entries[id]; ok {
		e.Complete = true
		e.Status = StatusError
		e.Error = err
		e.Message = fmt.Sprintf("Failed %s", e.Name)
		e.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{Name: e.Name, Error: err, Time: time.Now()})
	}
}

func (m *Manager) Status(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if e, ok := m.entries[id]; ok {
		return e.Status
	}
	return "unknown"
}

// Counts returns how many entries succeeded and failed.
func (m *Manager) Counts() (success, failed int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, e := range m.entries {
		switch e.Status {
		case StatusSuccess:
			success++
		case StatusError:
			failed++
		}
	}
	return success, failed
}

func statusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusWarning:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	case StatusWarning:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sorted() []*Entry {
	all := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		// running entries first, then waiting, then finished
		ri, rj := rank(all[i]), rank(all[j])
		if ri != rj {
			return ri < rj
		}
		return all[i].ID < all[j].ID
	})
	return all
}

func rank(e *Entry) int {
	switch {
	case e.Complete:
		return 2
	case e.Status == StatusPending:
		return 1
	default:
		return 0
	}
}

// render draws the current state, at most maxLines lines.
func (m *Manager) render(maxLines int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var lines []string
	indent := strings.Repeat(" ", 2)
	for _, e := range m.sorted() {
		if len(lines) >= maxLines {
			break
		}
		if e.Status == StatusPending {
			lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, statusIndicator(e.Status), pendingStyle.Render("Waiting..."), debugStyle.Render(e.Name)))
			continue
		}
		elapsed := time.Since(e.StartTime).Round(time.Second)
		if e.Complete {
			elapsed = e.LastUpdated.Sub(e.StartTime).Round(time.Second)
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, statusIndicator(e.Status), debugStyle.Render(elapsed.String()), styleMessage(e.Status, e.Message)))
		if e.Progress != "" && !e.Complete && len(lines) < maxLines {
			lines = append(lines, indent+indent+indent+streamStyle.Render(truncate(e.Progress, 6)))
		}
	}
	return lines
}

func (m *Manager) updateDisplay() {
	lines := m.render(getTerminalHeight() - 3)
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, l := range lines {
		fmt.Fprintln(m.out, l)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.live {
					m.updateDisplay()
				}
			case <-m.doneCh:
				if m.live {
					m.updateDisplay()
				} else {
					for _, l := range m.render(1 << 16) {
						fmt.Fprintln(m.out, l)
					}
				}
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(err.Name))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.entries))))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.entries))))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
