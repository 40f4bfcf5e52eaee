package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/memorystore"
	"github.com/taskweave/taskweave/client"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/workflow"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := client.New(memorystore.NewMemoryLog(backend.WithLogger(logger)))
	defer c.Close()

	def := workflow.NewDefinition("Open", "Open", "InProgress", "Done", "Canceled")
	must(def.AddTransition("Open", "start", "InProgress"))
	must(def.AddTransition("InProgress", "finish", "Done"))
	must(def.AddTransition("Open", "cancel", "Canceled"))
	def.MarkTerminal("Done", "Canceled")
	def.MarkFailed("Canceled")

	if _, err := c.RegisterWorkflow(ctx, "acme", "ticket", def); err != nil {
		log.Fatal(err)
	}

	task := core.NewTaskID("acme", uuid.NewString())

	if _, err := c.CreateTask(ctx, task, "ticket", "alice", engine.WithAssignees("alice")); err != nil {
		log.Fatal(err)
	}

	if _, err := c.ApplyTransition(ctx, task, "start", "alice", nil); err != nil {
		log.Fatal(err)
	}

	outcome, err := c.ApplyTransition(ctx, task, "finish", "alice", core.Metadata{"resolution": "fixed"})
	if err != nil {
		log.Fatal(err)
	}

	log.Println("task", task.String(), "finished in state", outcome.To, "after", outcome.SequenceID, "events")
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
