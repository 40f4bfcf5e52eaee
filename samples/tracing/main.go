package main

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/sqlitestore"
	"github.com/taskweave/taskweave/client"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func main() {
	ctx := context.Background()

	r := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("taskweave sample"),
		semconv.ServiceVersionKey.String("v0.1.0"),
		attribute.String("environment", "sample"),
	)

	stdoutexp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		panic(err)
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint("localhost:4318"),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		panic(err)
	}

	tp := trace.NewTracerProvider(
		trace.WithSyncer(stdoutexp),
		trace.WithBatcher(exp),
		trace.WithResource(r),
	)

	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	c := client.New(sqlitestore.NewInMemoryLog(backend.WithTracerProvider(tp)))
	defer c.Close()

	def := workflow.NewDefinition("Open", "Open", "InProgress", "Done")
	if err := def.AddTransition("Open", "start", "InProgress"); err != nil {
		panic(err)
	}
	if err := def.AddTransition("InProgress", "finish", "Done"); err != nil {
		panic(err)
	}
	def.MarkTerminal("Done")

	if _, err := c.RegisterWorkflow(ctx, "acme", "ticket", def); err != nil {
		log.Fatal(err)
	}

	task := core.NewTaskID("acme", uuid.NewString())

	if _, err := c.CreateTask(ctx, task, "ticket", "alice"); err != nil {
		log.Fatal(err)
	}

	for _, action := range []workflow.Action{"start", "finish"} {
		if _, err := c.ApplyTransition(ctx, task, action, "alice", nil); err != nil {
			log.Fatal(err)
		}
	}

	log.Println("done, spans exported to stdout and localhost:4318")
}
