package engine

import (
	"context"
	"fmt"
	"strings"
)

// DefaultActor is recorded when a request names nobody.
const DefaultActor = "system"

type actorKey struct{}

// WithActor records who is acting on orders in ctx. The actor ends up in the
// audit trail and in published events.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor, or DefaultActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return DefaultActor
}

// execLog accumulates the execution log of one execute call. Each call
// starts a fresh log; the previous attempt's log is overwritten.
type execLog struct {
	b strings.Builder
}

func (l *execLog) printf(format string, args ...any) {
	if l.b.Len() > 0 {
		l.b.WriteByte('\n')
	}
	fmt.Fprintf(&l.b, format, args...)
}

// section appends a phase header followed by its captured output.
func (l *execLog) section(name, stdout, stderr string) {
	l.printf("== %s ==", name)
	if out := strings.TrimRight(stdout, "\n"); out != "" {
		l.printf("%s", out)
	}
	if errOut := strings.TrimRight(stderr, "\n"); errOut != "" {
		l.printf("%s", errOut)
	}
}

func (l *execLog) String() string {
	return l.b.String()
}

func (l *execLog) ptr() *string {
	s := l.b.String()
	return &s
}
