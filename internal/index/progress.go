package index

// Status labels a progress event.
type Status string

const (
	StatusStart   Status = "start"
	StatusSkip    Status = "skip"
	StatusMissing Status = "missing"
	StatusExtract Status = "extract"
	StatusEmbed   Status = "embed"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Progress describes one step of an index run. Events with an empty File are
// run-level: a single start event before the first file and a terminal done
// or error event after the last.
type Progress struct {
	RunID   string
	Current int
	Total   int
	File    string
	Status  Status
}

// ProgressFunc receives progress events. Called synchronously from the
// indexing goroutine.
type ProgressFunc func(Progress)

type runReporter struct {
	id    string
	total int
	fn    ProgressFunc
}

func newRun(id string, total int, fn ProgressFunc) *runReporter {
	return &runReporter{id: id, total: total, fn: fn}
}

func (r *runReporter) emit(p Progress) {
	if r.fn == nil {
		return
	}
	p.RunID = r.id
	p.Total = r.total
	r.fn(p)
}

func (r *runReporter) start() {
	r.emit(Progress{Status: StatusStart})
}

func (r *runReporter) file(i int, path string, status Status) {
	r.emit(Progress{Current: i + 1, File: path, Status: status})
}

func (r *runReporter) terminal(status Status) {
	r.emit(Progress{Current: r.total, Status: status})
}
