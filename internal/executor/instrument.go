package executor

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type instrumented struct {
	next    Executor
	counter *prometheus.CounterVec
}

// Instrument counts every run of next by language and status. Runs that fail
// before producing a result are counted with status "error".
func Instrument(next Executor, counter *prometheus.CounterVec) Executor {
	if counter == nil {
		return next
	}
	return &instrumented{next: next, counter: counter}
}

func (i *instrumented) Execute(ctx context.Context, req Request) (*Result, error) {
	res, err := i.next.Execute(ctx, req)
	status := "error"
	if err == nil && res != nil {
		status = string(res.Status)
	}
	i.counter.WithLabelValues(req.Language, status).Inc()
	return res, err
}
