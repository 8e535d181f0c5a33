package harness

import (
	"fmt"

	"github.com/upcycle-sh/upcycle/internal/runlog"
)

// checkExpectations compares the produced records against the
// scenario's expect list and returns every violation found.
func checkExpectations(s *Scenario, records []runlog.CycleRecord) []string {
	var violations []string

	if len(records) != len(s.Cycles) {
		violations = append(violations, fmt.Sprintf(
			"expected exactly one record per cycle: %d cycles, %d records",
			len(s.Cycles), len(records)))
	}

	for i, rec := range records {
		if rec.Seq != int64(i+1) {
			violations = append(violations, fmt.Sprintf(
				"cycle %d: seq %d, want %d", i+1, rec.Seq, i+1))
		}
		if err := rec.Validate(); err != nil {
			violations = append(violations, fmt.Sprintf("cycle %d: %v", i+1, err))
		}
	}

	if len(s.Expect) == 0 {
		return violations
	}

	for i, exp := range s.Expect {
		if i >= len(records) {
			break
		}
		rec := records[i]
		if string(rec.Action) != exp.Action {
			violations = append(violations, fmt.Sprintf(
				"cycle %d: action %s, want %s", i+1, rec.Action, exp.Action))
		}
		if string(rec.Outcome) != exp.Outcome {
			violations = append(violations, fmt.Sprintf(
				"cycle %d: outcome %s, want %s", i+1, rec.Outcome, exp.Outcome))
		}
		if string(rec.FailureStage) != exp.Stage {
			violations = append(violations, fmt.Sprintf(
				"cycle %d: failure stage %q, want %q", i+1, rec.FailureStage, exp.Stage))
		}
		for name, status := range exp.Services {
			violations = append(violations, checkService(i+1, rec, name, status)...)
		}
	}
	return violations
}

func checkService(cycle int, rec runlog.CycleRecord, name, status string) []string {
	for _, svc := range rec.Services {
		if svc.Service != name {
			continue
		}
		if string(svc.Status) != status {
			return []string{fmt.Sprintf(
				"cycle %d: service %s status %s, want %s", cycle, name, svc.Status, status)}
		}
		return nil
	}
	return []string{fmt.Sprintf("cycle %d: service %s missing from record", cycle, name)}
}
