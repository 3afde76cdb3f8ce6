package inspector

import (
	"context"
	"log"

	"tapsource/internal/mangle"
	"tapsource/internal/recorder"
)

// FactSink receives inspection history as Mangle facts.
type FactSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// Facts converts an inspection into the base predicates of the inspector
// schema: inspected/5, blocked/2, ancestor/4, rejected/2 and navigated/2.
func Facts(in *Inspection) []mangle.Fact {
	var file string
	var line, column int
	if in.Source != nil {
		file, line, column = in.Source.File, in.Source.Line, in.Source.Column
	}

	fact := func(pred string, args ...interface{}) mangle.Fact {
		return mangle.Fact{Predicate: pred, Args: args, Timestamp: in.At}
	}

	facts := []mangle.Fact{fact("inspected", in.ID, file, line, column, string(in.Decision))}
	if in.BlockedBy != "" {
		facts = append(facts, fact("blocked", in.ID, in.BlockedBy))
	}
	for rank, c := range in.Ancestors {
		target := ""
		if c.Source != nil && c.Source.File != "" {
			target = c.Source.Target()
		}
		facts = append(facts, fact("ancestor", in.ID, rank+1, c.Name, target))
	}
	for _, r := range in.Rejected {
		facts = append(facts, fact("rejected", in.ID, r))
	}
	if in.Target != "" {
		facts = append(facts, fact("navigated", in.ID, in.Target))
	}
	return facts
}

// FactObserver feeds every inspection into sink.
func FactObserver(sink FactSink) Observer {
	return ObserverFunc(func(ctx context.Context, in *Inspection) {
		if err := sink.AddFacts(ctx, Facts(in)); err != nil {
			log.Printf("[inspector] recording facts for %s failed: %v", in.ID, err)
		}
	})
}

// TraceObserver appends every inspection to the current trace of rec.
func TraceObserver(rec *recorder.Recorder, sessionID string) Observer {
	return ObserverFunc(func(ctx context.Context, in *Inspection) {
		if err := rec.Log(recorder.EventInspection, sessionID, in); err != nil {
			log.Printf("[inspector] trace write for %s failed: %v", in.ID, err)
		}
	})
}
