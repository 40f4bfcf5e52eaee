package redisstore

import (
	"fmt"

	"github.com/taskweave/taskweave/core"
)

// taskKey returns the key of the hash holding a task's bookkeeping fields.
// It doubles as the WATCH key serializing appends for the task.
func taskKey(keyPrefix string, task core.TaskID) string {
	return fmt.Sprintf("%vtask:%v", keyPrefix, task.String())
}

// eventsKey returns the key of the list holding a task's history. The event
// with sequence number n is at index n-1.
func eventsKey(keyPrefix string, task core.TaskID) string {
	return fmt.Sprintf("%vevents:%v", keyPrefix, task.String())
}
