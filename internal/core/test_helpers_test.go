package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustPayload(t *testing.T, c *Conn) map[string]any {
	t.Helper()

	select {
	case raw := <-c.Outbound():
		var out map[string]any
		require.NoError(t, json.Unmarshal(raw, &out), "payload %s", raw)
		return out
	case <-time.After(2 * time.Second):
		require.FailNow(t, "expected payload not received", "conn %s", c.ID)
		return nil
	}
}

func expectSilent(t *testing.T, c *Conn) {
	t.Helper()

	require.Empty(t, c.Outbound(), "expected no payloads for %s", c.ID)
}

func newJoinedConn(t *testing.T, r *Router, id, room string) *Conn {
	t.Helper()

	c := NewConn(id, "", 8)
	c.markIdle()
	r.Handle(testContext(t), c, []byte(`{"type":"join","roomId":"`+room+`"}`))
	return c
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
