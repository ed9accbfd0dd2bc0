package domain

import (
	"time"
)

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	TaskID    string    `json:"task_id,omitempty"`
}

// Item is one retrieved unit of research material.
type Item struct {
	Title       string                 `json:"title"`
	URL         string                 `json:"url,omitempty"`
	Snippet     string                 `json:"snippet,omitempty"`
	Source      string                 `json:"source"`
	PublishedAt *time.Time             `json:"published_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Checkpoint holds the pages a task has already committed. NextPage is the
// first page that has not been fetched yet; Cursor carries the backend's
// continuation token for sources that paginate by token.
type Checkpoint struct {
	NextPage int    `json:"next_page"`
	Cursor   string `json:"cursor,omitempty"`
	Items    []Item `json:"items,omitempty"`
}

type TaskResult struct {
	ResultID  string `json:"result_id"`
	ItemCount int    `json:"item_count"`
	Pages     int    `json:"pages"`
}

type ResultRecord struct {
	ResultID  string    `json:"result_id"`
	TaskID    string    `json:"task_id"`
	TaskName  string    `json:"task_name"`
	Source    string    `json:"source"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID           string                 `json:"task_id"`
	FlowID       string                 `json:"flow_id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Source       string                 `json:"source"`
	SourceConfig map[string]interface{} `json:"source_config,omitempty"`
	Status       TaskStatus             `json:"status"`
	Progress     float64                `json:"progress"`
	Result       *TaskResult            `json:"result,omitempty"`
	RetryCount   int                    `json:"retry_count"`
	Weight       float64                `json:"weight"`
	DependsOn    []string               `json:"depends_on,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ItemsFetched int                    `json:"items_fetched"`
	Checkpoint   Checkpoint             `json:"checkpoint"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

// SetProgress only ever moves progress forward and clamps to [0, 1].
func (t *Task) SetProgress(p float64) bool {
	if p > 1 {
		p = 1
	}
	if p <= t.Progress {
		return false
	}
	t.Progress = p
	return true
}

func (t *Task) clone() *Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.SourceConfig != nil {
		c.SourceConfig = make(map[string]interface{}, len(t.SourceConfig))
		for k, v := range t.SourceConfig {
			c.SourceConfig[k] = v
		}
	}
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Checkpoint.Items = append([]Item(nil), t.Checkpoint.Items...)
	c.StartedAt = cloneTime(t.StartedAt)
	c.FinishedAt = cloneTime(t.FinishedAt)
	return &c
}

type Flow struct {
	ID               string         `json:"flow_id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Status           FlowStatus     `json:"status"`
	Tasks            []*Task        `json:"tasks"`
	Progress         float64        `json:"progress"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Results          []ResultRecord `json:"results"`
	Logs             []LogEntry     `json:"logs"`
	ParallelWorkers  int            `json:"parallel_workers"`
	FailureTolerance *float64       `json:"failure_tolerance,omitempty"`
	Error            string         `json:"error,omitempty"`
	FailedTasks      []string       `json:"failed_tasks"`
	CompletedTasks   []string       `json:"completed_tasks"`
	Stalled          bool           `json:"stalled"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
}

type FlowSummary struct {
	ID             string     `json:"flow_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Status         FlowStatus `json:"status"`
	Progress       float64    `json:"progress"`
	TaskCount      int        `json:"task_count"`
	CompletedCount int        `json:"completed_count"`
	FailedCount    int        `json:"failed_count"`
	ResultCount    int        `json:"result_count"`
	Stalled        bool       `json:"stalled"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type TaskCounts struct {
	Total     int
	Pending   int
	Running   int
	Paused    int
	Completed int
	Failed    int
	Cancelled int
}

func (c TaskCounts) Terminal() int {
	return c.Completed + c.Failed + c.Cancelled
}

func (f *Flow) Touch(now time.Time) {
	if now.After(f.UpdatedAt) {
		f.UpdatedAt = now
		return
	}
	// keep updated_at strictly increasing so subscribers can de-duplicate on it
	f.UpdatedAt = f.UpdatedAt.Add(time.Microsecond)
}

func (f *Flow) AppendLog(now time.Time, level LogLevel, taskID, message string) {
	f.Logs = append(f.Logs, LogEntry{
		Timestamp: now,
		Level:     level,
		Message:   message,
		TaskID:    taskID,
	})
	f.Touch(now)
}

// RecomputeProgress sets Progress to the weighted mean of task progress.
func (f *Flow) RecomputeProgress() float64 {
	var sum, weights float64
	for _, t := range f.Tasks {
		w := t.Weight
		if w <= 0 {
			w = 1
		}
		sum += w * t.Progress
		weights += w
	}
	if weights == 0 {
		f.Progress = 0
		return 0
	}
	p := sum / weights
	if p > 1 {
		p = 1
	}
	f.Progress = p
	return p
}

func (f *Flow) Task(taskID string) *Task {
	for _, t := range f.Tasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

func (f *Flow) Result(resultID string) (*ResultRecord, bool) {
	for i := range f.Results {
		if f.Results[i].ResultID == resultID {
			return &f.Results[i], true
		}
	}
	return nil, false
}

func (f *Flow) Counts() TaskCounts {
	c := TaskCounts{Total: len(f.Tasks)}
	for _, t := range f.Tasks {
		switch t.Status {
		case TaskStatusPending:
			c.Pending++
		case TaskStatusRunning:
			c.Running++
		case TaskStatusPaused:
			c.Paused++
		case TaskStatusCompleted:
			c.Completed++
		case TaskStatusFailed:
			c.Failed++
		case TaskStatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

func (f *Flow) AllTasksTerminal() bool {
	for _, t := range f.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// RefreshOutcome rebuilds the completed/failed task name lists.
func (f *Flow) RefreshOutcome() {
	f.CompletedTasks = []string{}
	f.FailedTasks = []string{}
	for _, t := range f.Tasks {
		switch t.Status {
		case TaskStatusCompleted:
			f.CompletedTasks = append(f.CompletedTasks, t.Name)
		case TaskStatusFailed:
			f.FailedTasks = append(f.FailedTasks, t.Name)
		}
	}
}

func (f *Flow) Summary() FlowSummary {
	c := f.Counts()
	return FlowSummary{
		ID:             f.ID,
		Name:           f.Name,
		Description:    f.Description,
		Status:         f.Status,
		Progress:       f.Progress,
		TaskCount:      c.Total,
		CompletedCount: c.Completed,
		FailedCount:    c.Failed,
		ResultCount:    len(f.Results),
		Stalled:        f.Stalled,
		Error:          f.Error,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	c := *f
	c.Tasks = make([]*Task, len(f.Tasks))
	for i, t := range f.Tasks {
		c.Tasks[i] = t.clone()
	}
	c.Results = make([]ResultRecord, len(f.Results))
	for i, r := range f.Results {
		r.Items = append([]Item(nil), r.Items...)
		c.Results[i] = r
	}
	c.Logs = append([]LogEntry(nil), f.Logs...)
	c.FailedTasks = append([]string{}, f.FailedTasks...)
	c.CompletedTasks = append([]string{}, f.CompletedTasks...)
	if f.FailureTolerance != nil {
		tol := *f.FailureTolerance
		c.FailureTolerance = &tol
	}
	c.StartedAt = cloneTime(f.StartedAt)
	c.FinishedAt = cloneTime(f.FinishedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
