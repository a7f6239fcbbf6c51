package api

import (
	"encoding/json"
	"forecastica/internal/database"
	"forecastica/pkg/api"
)

func convertRun(r database.WorkflowRun) api.Run {
	run := api.Run{
		Id:            r.Id,
		TargetColumn:  r.TargetColumn,
		ProblemType:   api.ProblemType(r.ProblemType),
		ModelName:     r.ModelName,
		ProcessedFile: r.ProcessedFile,
		Status:        r.Status,
		Error:         r.Error,
		CSVURL:        r.CSVURL,
		CreationTime:  r.CreationTime,
	}
	if len(r.Metrics) > 0 {
		run.Results = json.RawMessage(r.Metrics)
	}
	if r.CompletionTime.Valid {
		t := r.CompletionTime.Time
		run.CompletionTime = &t
	}
	return run
}

func convertRuns(rs []database.WorkflowRun) []api.Run {
	runs := make([]api.Run, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}
