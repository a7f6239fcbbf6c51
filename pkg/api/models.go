package api

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type ProblemType string

const (
	Classification ProblemType = "classification"
	Regression     ProblemType = "regression"
	TimeSeries     ProblemType = "time_series"
)

func ParseProblemType(s string) (ProblemType, error) {
	switch ProblemType(strings.ToLower(strings.TrimSpace(s))) {
	case Classification:
		return Classification, nil
	case Regression:
		return Regression, nil
	case TimeSeries, "time-series", "timeseries":
		return TimeSeries, nil
	}
	return "", fmt.Errorf("invalid problem type '%s': must be one of classification, regression, time_series", s)
}

type NullAction string

const (
	NullRemoveRows NullAction = "remove"
	NullFillMean   NullAction = "mean"
	NullFillMode   NullAction = "mode"
)

func ParseNullAction(s string) (NullAction, error) {
	switch a := NullAction(strings.ToLower(strings.TrimSpace(s))); a {
	case NullRemoveRows, NullFillMean, NullFillMode:
		return a, nil
	}
	return "", fmt.Errorf("invalid null action '%s': must be one of remove, mean, mode", s)
}

// Artifact is a server generated file (image or csv) referenced by URL. The
// zero value means the server did not send one.
type Artifact string

func (a Artifact) Present() bool {
	return a != ""
}

func (a Artifact) String() string {
	return string(a)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Analysis struct {
	Preview     []Row             `json:"preview"`
	Info        string            `json:"info"`
	NullCounts  map[string]int    `json:"null_counts"`
	Columns     []string          `json:"columns,omitempty"`
	ColumnTypes map[string]string `json:"column_types,omitempty"`
}

type UploadResponse struct {
	Filename string    `json:"filename,omitempty"`
	Size     int64     `json:"size,omitempty"`
	Message  string    `json:"message"`
	Analysis *Analysis `json:"analysis,omitempty"`
}

type CurrentDataResponse struct {
	Data TableData `json:"data"`
}

type RemoveColumnsRequest struct {
	Columns  []string `json:"columns"`
	Filename string   `json:"filename,omitempty"`
}

type HandleNullsRequest struct {
	Columns  []string   `json:"columns"`
	Action   NullAction `json:"action"`
	Filename string     `json:"filename,omitempty"`
}

type EditResponse struct {
	Data          TableData `json:"data"`
	Message       string    `json:"message,omitempty"`
	ProcessedFile string    `json:"processed_file,omitempty"`
}

type ImageManifest struct {
	Message string   `json:"message,omitempty"`
	Images  []string `json:"images,omitempty"`
	Plots   []string `json:"plots,omitempty"`
}

// Filenames returns the manifest entries in server order, whichever key the
// server used for them.
func (m ImageManifest) Filenames() []string {
	if len(m.Images) > 0 {
		return m.Images
	}
	return m.Plots
}

type FilesResponse struct {
	Files []string `json:"files"`
}

type ModelsResponse struct {
	Models []string `json:"models"`
}

type TrainRequest struct {
	TargetColumn  string      `json:"target_column"`
	ProblemType   ProblemType `json:"problem_type"`
	ProcessedFile string      `json:"processed_file,omitempty"`
}

// SelectModelRequest asks the server to recommend a model for a target
// column of the active dataset.
type SelectModelRequest struct {
	PredictionType ProblemType `json:"predictionType"`
	TargetVariable string      `json:"targetVariable"`
}

// SelectModelResponse carries the recommendation as the server formats it:
// "Selected model: ...", "Description: ..." and "Parameters: ..." lines.
type SelectModelResponse struct {
	Message string `json:"message"`
}

type PredictRequest struct {
	ModelName    string      `json:"model_name"`
	ProblemType  ProblemType `json:"problem_type"`
	TargetColumn string      `json:"target_column"`
}

// Metric is a single numeric evaluation value reported for a trained model.
type Metric struct {
	Name  string
	Value float64
}

func (m Metric) String() string {
	return fmt.Sprintf("%s: %.4f", m.Name, m.Value)
}

type ModelResult struct {
	Name            string
	Metrics         []Metric
	ConfusionMatrix Artifact

	// Error is set when the server could not train this model. The other
	// models of the same run are still valid.
	Error string
}

func (r ModelResult) Failed() bool {
	return r.Error != ""
}

func parseModelResult(name string, value gjson.Result) (ModelResult, error) {
	result := ModelResult{Name: name}

	switch {
	case value.Type == gjson.String:
		result.Error = strings.TrimSpace(strings.TrimPrefix(value.String(), "Error:"))
		if result.Error == "" {
			result.Error = "training failed"
		}
	case value.IsObject():
		value.ForEach(func(key, field gjson.Result) bool {
			switch {
			case key.String() == "confusion_matrix" && field.Type == gjson.String:
				result.ConfusionMatrix = Artifact(field.String())
			case field.Type == gjson.Number:
				result.Metrics = append(result.Metrics, Metric{Name: key.String(), Value: field.Float()})
			}
			return true
		})
	default:
		return result, fmt.Errorf("invalid result for model '%s': expected object or string, got %s", name, value.Type)
	}

	return result, nil
}

type TrainResponse struct {
	Results []ModelResult
}

func (t *TrainResponse) UnmarshalJSON(data []byte) error {
	results := gjson.GetBytes(data, "results")
	if !results.Exists() {
		return fmt.Errorf("training response is missing 'results'")
	}
	if !results.IsObject() {
		return fmt.Errorf("training response 'results' must be an object, got %s", results.Type)
	}

	var parsed []ModelResult
	var err error
	results.ForEach(func(key, value gjson.Result) bool {
		var res ModelResult
		res, err = parseModelResult(key.String(), value)
		if err != nil {
			return false
		}
		parsed = append(parsed, res)
		return true
	})
	if err != nil {
		return err
	}

	t.Results = parsed
	return nil
}

func (t TrainResponse) MarshalJSON() ([]byte, error) {
	out := []byte(`{"results":{}}`)
	for _, res := range t.Results {
		path := "results." + objectKey(res.Name)

		var err error
		if res.Failed() {
			out, err = sjson.SetBytes(out, path, "Error: "+res.Error)
		} else {
			fields := make([]Field, 0, len(res.Metrics)+1)
			for _, m := range res.Metrics {
				fields = append(fields, Field{Key: m.Name, Value: m.Value})
			}
			if res.ConfusionMatrix.Present() {
				fields = append(fields, Field{Key: "confusion_matrix", Value: res.ConfusionMatrix.String()})
			}

			var obj []byte
			if obj, err = NewRow(fields...).MarshalJSON(); err == nil {
				out, err = sjson.SetRawBytes(out, path, obj)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("error encoding result for model '%s': %w", res.Name, err)
		}
	}
	return out, nil
}

type PredictResponse struct {
	Predictions     []Row    `json:"predictions"`
	CSVURL          Artifact `json:"csv_url,omitempty"`
	ConfusionMatrix Artifact `json:"confusion_matrix,omitempty"`
	ShapPlot        Artifact `json:"shap_plot,omitempty"`
	Message         string   `json:"message,omitempty"`
}

func (p PredictResponse) Columns() []string {
	if len(p.Predictions) == 0 {
		return nil
	}
	return p.Predictions[0].Columns()
}
