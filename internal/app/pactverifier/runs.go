package pactverifier

import (
	"sort"
	"sync"
)

type Runs struct {
	runs sync.Map
}

func (r *Runs) Store(run *Run) {
	r.runs.Store(run.id, run)
}

func (r *Runs) Load(id string) (*Run, bool) {
	result, ok := r.runs.Load(id)
	if !ok {
		return nil, false
	}
	return result.(*Run), true
}

// Clear cancels every run still in progress and forgets all runs.
func (r *Runs) Clear() {
	r.runs.Range(func(k, v interface{}) bool {
		v.(*Run).cancel()
		r.runs.Delete(k)
		return true
	})
}

// All returns the runs in the order they were started.
func (r *Runs) All() []*Run {
	var runs []*Run
	r.runs.Range(func(_, v interface{}) bool {
		runs = append(runs, v.(*Run))
		return true
	})
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].started.Before(runs[j].started)
	})
	return runs
}

func (r *Runs) AllDone() bool {
	result := true
	r.runs.Range(func(_, v interface{}) bool {
		if !v.(*Run).Done() {
			result = false
			return false
		}
		return true
	})
	return result
}
