package sqlitestore

import (
	"testing"

	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/test"
)

func Test_SqliteLog(t *testing.T) {
	test.EventLogTest(t, func() backend.EventLog {
		return NewInMemoryLog()
	}, nil)
}
