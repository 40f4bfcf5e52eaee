package client

import (
	"context"
	"time"

	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/projection"
	"github.com/taskweave/taskweave/registry"
	"github.com/taskweave/taskweave/workflow"
)

// Client is the surface the external task service layer talks to. It bundles
// the registry, projector, and transition engine over one event log.
type Client struct {
	log       backend.EventLog
	registry  *registry.Registry
	projector *projection.Projector
	engine    *engine.Engine
}

type Options struct {
	RegistryOptions  []registry.Option
	ProjectorOptions []projection.Option
	EngineOptions    []engine.Option
}

type Option func(*Options)

func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *Options) {
		o.RegistryOptions = append(o.RegistryOptions, opts...)
	}
}

func WithProjectorOptions(opts ...projection.Option) Option {
	return func(o *Options) {
		o.ProjectorOptions = append(o.ProjectorOptions, opts...)
	}
}

func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *Options) {
		o.EngineOptions = append(o.EngineOptions, opts...)
	}
}

func New(log backend.EventLog, opts ...Option) *Client {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	reg := registry.New(options.RegistryOptions...)
	proj := projection.NewProjector(log, options.ProjectorOptions...)
	eng := engine.New(log, reg, proj, options.EngineOptions...)

	return &Client{
		log:       log,
		registry:  reg,
		projector: proj,
		engine:    eng,
	}
}

// RegisterWorkflow validates and stores the definition as the next version
// for (tenant, taskType).
func (c *Client) RegisterWorkflow(ctx context.Context, tenant core.TenantID, taskType core.TaskType, def *workflow.Definition) (int, error) {
	return c.registry.Register(ctx, tenant, taskType, def)
}

func (c *Client) CreateTask(ctx context.Context, task core.TaskID, taskType core.TaskType, actor string, opts ...engine.CreateOption) (*projection.Snapshot, error) {
	return c.engine.CreateTask(ctx, task, taskType, actor, opts...)
}

func (c *Client) ApplyTransition(ctx context.Context, task core.TaskID, action workflow.Action, actor string, payload core.Metadata) (*engine.TransitionOutcome, error) {
	return c.engine.ApplyTransition(ctx, task, action, actor, payload)
}

func (c *Client) CurrentState(ctx context.Context, task core.TaskID) (*projection.Snapshot, error) {
	return c.projector.CurrentState(ctx, task)
}

func (c *Client) StateAsOf(ctx context.Context, task core.TaskID, asOf time.Time) (*projection.Snapshot, error) {
	return c.projector.StateAsOf(ctx, task, asOf)
}

func (c *Client) AddDependency(ctx context.Context, task, dependsOn core.TaskID, actor string) error {
	return c.engine.AddDependency(ctx, task, dependsOn, actor)
}

func (c *Client) RemoveDependency(ctx context.Context, task, dependsOn core.TaskID, actor string) error {
	return c.engine.RemoveDependency(ctx, task, dependsOn, actor)
}

func (c *Client) Reassign(ctx context.Context, task core.TaskID, add, remove []string, actor string) error {
	return c.engine.Reassign(ctx, task, add, remove, actor)
}

func (c *Client) PauseClock(ctx context.Context, task core.TaskID, reason, actor string) error {
	return c.engine.PauseClock(ctx, task, reason, actor)
}

func (c *Client) ResumeClock(ctx context.Context, task core.TaskID, actor string) error {
	return c.engine.ResumeClock(ctx, task, actor)
}

func (c *Client) Comment(ctx context.Context, task core.TaskID, text, actor string) error {
	return c.engine.Comment(ctx, task, text, actor)
}

// Registry exposes the definition registry, for example to register yaml
// definition files.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Projector exposes the snapshot projector, for wiring the SLA monitor.
func (c *Client) Projector() *projection.Projector {
	return c.projector
}

// Engine exposes the transition engine, for wiring the SLA monitor.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// Close drains background hook and notification work and closes the log.
func (c *Client) Close() error {
	if err := c.engine.Close(); err != nil {
		return err
	}

	return c.log.Close()
}
