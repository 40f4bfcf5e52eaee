package main

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/taskweave/taskweave/backend/sqlitestore"
	"github.com/taskweave/taskweave/client"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/workflow"
)

// Registers a workflow definition from a yaml file and walks a task through
// it, backed by an in-memory sqlite event log.
func main() {
	ctx := context.Background()

	c := client.New(sqlitestore.NewInMemoryLog())
	defer c.Close()

	if _, err := c.Registry().RegisterFile(ctx, "acme", "ticket", "ticket.yaml"); err != nil {
		log.Fatal(err)
	}

	task := core.NewTaskID("acme", uuid.NewString())

	if _, err := c.CreateTask(ctx, task, "ticket", "alice"); err != nil {
		log.Fatal(err)
	}

	for _, action := range []string{"start", "finish"} {
		outcome, err := c.ApplyTransition(ctx, task, workflow.Action(action), "alice", nil)
		if err != nil {
			log.Fatal(err)
		}

		log.Println(outcome.From, "-"+action+"->", outcome.To)
	}
}
