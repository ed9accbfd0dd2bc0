// Package researchflow orchestrates research flows: a question fanned out to
// several information sources as tasks that run in parallel under shared
// resource and rate limits, with pause, resume, cancel and crash recovery.
//
// Embedding the orchestrator:
//
//	manager, err := researchflow.New(researchflow.DefaultConfig())
//	if err != nil { ... }
//	if err := manager.Start(ctx); err != nil { ... }
//	defer manager.Stop(context.Background())
//
//	flows := manager.Orchestrator()
//	flow, _ := flows.CreateFlow(ctx, researchflow.CreateFlowRequest{
//	    Name: "rust async runtimes",
//	    Tasks: []researchflow.TaskSpec{
//	        {Name: "articles", Source: "web", SourceConfig: map[string]interface{}{"query": "tokio"}},
//	        {Name: "papers", Source: "arxiv", SourceConfig: map[string]interface{}{"query": "async runtime"}},
//	    },
//	})
//	flows.StartFlow(ctx, flow.ID)
//
// NewServer exposes a manager over HTTP and NewClient talks to such a server.
package researchflow

import (
	"github.com/eleven-am/researchflow/internal/adapters/sources"
	"github.com/eleven-am/researchflow/internal/api"
	"github.com/eleven-am/researchflow/internal/client"
	"github.com/eleven-am/researchflow/internal/core"
	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

// Manager wires the orchestrator to its store, governor, rate limiter,
// sources, event broker and metrics, and owns their lifecycle.
type Manager = core.Manager

// ManagerOption customizes New.
type ManagerOption = core.ManagerOption

// Orchestrator creates flows and drives them through their lifecycle.
type Orchestrator = core.Orchestrator

// RecoveryReport summarizes what Start recovered from a previous run.
type RecoveryReport = core.RecoveryReport

// Stats is the orchestrator's operational snapshot.
type Stats = core.Stats

type Export = core.Export

type ExportFormat = core.ExportFormat

const (
	ExportJSON     = core.ExportJSON
	ExportMarkdown = core.ExportMarkdown
)

type Flow = domain.Flow

type FlowSummary = domain.FlowSummary

type Task = domain.Task

type CreateFlowRequest = domain.CreateFlowRequest

type TaskSpec = domain.TaskSpec

type ResultRecord = domain.ResultRecord

type Item = domain.Item

type LogEntry = domain.LogEntry

type FlowStatus = domain.FlowStatus

const (
	FlowStatusPending   = domain.FlowStatusPending
	FlowStatusRunning   = domain.FlowStatusRunning
	FlowStatusPaused    = domain.FlowStatusPaused
	FlowStatusCompleted = domain.FlowStatusCompleted
	FlowStatusFailed    = domain.FlowStatusFailed
	FlowStatusCancelled = domain.FlowStatusCancelled
)

type TaskStatus = domain.TaskStatus

const (
	TaskStatusPending   = domain.TaskStatusPending
	TaskStatusRunning   = domain.TaskStatusRunning
	TaskStatusPaused    = domain.TaskStatusPaused
	TaskStatusCompleted = domain.TaskStatusCompleted
	TaskStatusFailed    = domain.TaskStatusFailed
	TaskStatusCancelled = domain.TaskStatusCancelled
)

// FlowEvent carries a full flow snapshot after each persisted change.
type FlowEvent = domain.FlowEvent

type EventType = domain.EventType

const (
	EventFlowCreated = domain.EventFlowCreated
	EventFlowStatus  = domain.EventFlowStatus
	EventFlowUpdated = domain.EventFlowUpdated
	EventTaskUpdated = domain.EventTaskUpdated
	EventFlowStalled = domain.EventFlowStalled
	EventFlowDeleted = domain.EventFlowDeleted
)

// Source is a pluggable information backend. Fetch returns one page per
// call; the orchestrator checkpoints between pages.
type Source = ports.Source

type FetchRequest = ports.FetchRequest

type Page = ports.Page

// Error is the typed error every operation returns. Use the Is* helpers
// to branch on its kind.
type Error = domain.Error

var (
	IsValidation    = domain.IsValidation
	IsNotFound      = domain.IsNotFound
	IsOrchestration = domain.IsOrchestration
	IsRateLimited   = domain.IsRateLimited
	IsRetryable     = domain.IsRetryable
)

// NewTransientError marks a backend failure as worth retrying.
func NewTransientError(message string, cause error) *Error {
	return domain.NewTransientError(message, cause)
}

// NewTerminalError marks a backend failure as final for its task.
func NewTerminalError(message string, cause error) *Error {
	return domain.NewTerminalError(message, cause)
}

// New builds a Manager from config. A nil config means DefaultConfig.
func New(config *Config, opts ...ManagerOption) (*Manager, error) {
	return core.NewManager(config, opts...)
}

var (
	WithStore        = core.WithStore
	WithExtraSources = core.WithExtraSources
	WithSampler      = core.WithSampler
	WithHTTPClient   = core.WithHTTPClient
	WithRetryOptions = core.WithRetryOptions
)

// WithSources replaces the built-in backends with exactly srcs.
func WithSources(srcs ...Source) ManagerOption {
	return core.WithSources(sources.NewRegistry(srcs...))
}

type Server = api.Server

// NewServer exposes a started manager over HTTP and WebSocket.
func NewServer(m *Manager) *Server {
	var metrics api.Metrics
	if pm := m.Metrics(); pm != nil {
		metrics = pm
	}
	return api.NewServer(m.Orchestrator(), metrics, m.Config().Server, m.Config().Logger)
}

type Client = client.Client

type ClientOption = client.Option

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	return client.New(baseURL, opts...)
}
