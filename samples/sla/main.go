package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/taskweave/taskweave/backend/memorystore"
	"github.com/taskweave/taskweave/client"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/sla"
	"github.com/taskweave/taskweave/workflow"
)

type stdoutChannel struct{}

func (stdoutChannel) Publish(ctx context.Context, n *workflow.Notification) error {
	log.Println("notification:", n.Kind, n.Task.String(), "state", n.State, "by", n.Actor)
	return nil
}

// Runs the SLA monitor against a task with a deliberately tiny threshold and
// an auto-escalation transition.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := client.New(memorystore.NewMemoryLog())
	defer c.Close()

	def := workflow.NewDefinition("Open", "Open", "InProgress", "Escalated", "Done")
	must(def.AddTransition("Open", "start", "InProgress"))
	must(def.AddTransition("InProgress", "escalate", "Escalated"))
	must(def.AddTransition("InProgress", "finish", "Done"))
	must(def.AddTransition("Escalated", "finish", "Done"))
	def.MarkTerminal("Done")
	def.WithSLA("InProgress", 2*time.Second)
	def.WithEscalation("InProgress", "escalate")

	if _, err := c.RegisterWorkflow(ctx, "acme", "ticket", def); err != nil {
		log.Fatal(err)
	}

	monitor := sla.NewMonitor(c.Engine(), c.Registry(), c.Projector(),
		sla.WithNotificationChannel(stdoutChannel{}))

	go monitor.Run(ctx, 500*time.Millisecond)

	task := core.NewTaskID("acme", uuid.NewString())

	if _, err := c.CreateTask(ctx, task, "ticket", "alice"); err != nil {
		log.Fatal(err)
	}

	if _, err := c.ApplyTransition(ctx, task, "start", "alice", nil); err != nil {
		log.Fatal(err)
	}

	monitor.Watch(task)

	// Let the threshold lapse and the monitor escalate
	time.Sleep(3 * time.Second)

	s, err := c.CurrentState(ctx, task)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("task ended up in state", s.State)
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
