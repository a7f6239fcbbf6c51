package client_test

import (
	"context"
	"forecastica/internal/client"
	"forecastica/internal/testutil"
	"forecastica/pkg/api"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadRejectsNonCSVBeforeNetwork(t *testing.T) {
	server := testutil.NewFakeServer(t)
	c := client.NewClient(server.URL, time.Second)

	for _, name := range []string{"data.txt", "data.csv.zip", "", "report.CSVX"} {
		_, err := c.Upload(context.Background(), name, strings.NewReader("a,b\n1,2\n"))
		var verr *client.ValidationError
		assert.ErrorAs(t, err, &verr, name)
	}

	assert.Empty(t, server.Calls())
}

func TestUpload(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Handle(http.MethodPost, "/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "data.csv", header.Filename)

		testutil.WriteJSON(w, http.StatusOK, `{"filename":"data.csv","message":"ok","analysis":{"preview":[{"a":1,"b":2}],"info":"2 rows","null_counts":{"a":0,"b":1}}}`)
	})

	c := client.NewClient(server.URL, time.Second)
	res, err := c.Upload(context.Background(), "data.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Message)
	require.NotNil(t, res.Analysis)
	require.Len(t, res.Analysis.Preview, 1)
	assert.Equal(t, []string{"a", "b"}, res.Analysis.Preview[0].Columns())
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, res.Analysis.NullCounts)
}

func TestErrorTaxonomy(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.JSON(http.MethodGet, "/current-data", http.StatusBadRequest, `{"error":"No data available"}`)
	server.JSON(http.MethodGet, "/list-models", http.StatusInternalServerError, `<html>boom</html>`)
	server.JSON(http.MethodGet, "/images", http.StatusOK, `{"images": [`)

	c := client.NewClient(server.URL, time.Second)

	t.Run("ApplicationErrorWithMessage", func(t *testing.T) {
		_, err := c.CurrentData(context.Background())
		var aerr *client.ApplicationError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, http.StatusBadRequest, aerr.StatusCode)
		assert.Equal(t, "No data available", client.ServerMessage(err, "fallback"))
	})

	t.Run("ApplicationErrorWithoutMessage", func(t *testing.T) {
		_, err := c.ListModels(context.Background())
		var aerr *client.ApplicationError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "fallback", client.ServerMessage(err, "fallback"))
	})

	t.Run("ParseError", func(t *testing.T) {
		_, err := c.ListImages(context.Background())
		var perr *client.ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, `{"images": [`, perr.Body)
	})

	t.Run("TransportError", func(t *testing.T) {
		dead := client.NewClient("http://127.0.0.1:1", time.Second)
		_, err := dead.ListFiles(context.Background())
		var terr *client.TransportError
		require.ErrorAs(t, err, &terr)
		assert.False(t, client.IsCanceled(err))
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.CurrentData(ctx)
		var terr *client.TransportError
		require.ErrorAs(t, err, &terr)
		assert.True(t, client.IsCanceled(err))
		assert.False(t, client.IsTimeout(err))
	})
}

func TestTimeout(t *testing.T) {
	server := testutil.NewFakeServer(t)
	release := make(chan struct{})
	defer close(release)
	server.Handle(http.MethodPost, "/train-models", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	c := client.NewClient(server.URL, 50*time.Millisecond)
	_, err := c.TrainModels(context.Background(), api.TrainRequest{TargetColumn: "y", ProblemType: api.Classification})
	require.Error(t, err)
	assert.True(t, client.IsTimeout(err))
}

func TestTrainAndPredictBodies(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.JSON(http.MethodPost, "/train-models", http.StatusOK, `{"results":{"random_forest":{"accuracy":0.91}}}`)
	server.JSON(http.MethodPost, "/run-predictions", http.StatusOK, `{"predictions":[{"y":1}],"csv_url":"/x.csv"}`)

	c := client.NewClient(server.URL, time.Second)

	train, err := c.TrainModels(context.Background(), api.TrainRequest{TargetColumn: "y", ProblemType: api.Classification, ProcessedFile: "data_v1.csv"})
	require.NoError(t, err)
	require.Len(t, train.Results, 1)

	var trainBody map[string]string
	server.LastBody(t, "/train-models", &trainBody)
	assert.Equal(t, map[string]string{"target_column": "y", "problem_type": "classification", "processed_file": "data_v1.csv"}, trainBody)

	pred, err := c.RunPredictions(context.Background(), api.PredictRequest{ModelName: "random_forest", ProblemType: api.Classification, TargetColumn: "y"})
	require.NoError(t, err)
	assert.Equal(t, api.Artifact("/x.csv"), pred.CSVURL)

	var predBody map[string]string
	server.LastBody(t, "/run-predictions", &predBody)
	assert.Equal(t, map[string]string{"model_name": "random_forest", "problem_type": "classification", "target_column": "y"}, predBody)
}

func TestSelectModel(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.JSON(http.MethodPost, "/select-model", http.StatusOK, `{"message":"Selected model: Random Forest\nDescription: Tree ensemble\nParameters: {'n_estimators': 100}"}`)

	c := client.NewClient(server.URL, time.Second)
	res, err := c.SelectModel(context.Background(), api.SelectModelRequest{PredictionType: api.Classification, TargetVariable: "y"})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Selected model: Random Forest")

	var body map[string]string
	server.LastBody(t, "/select-model", &body)
	assert.Equal(t, map[string]string{"predictionType": "classification", "targetVariable": "y"}, body)

	_, err = c.SelectModel(context.Background(), api.SelectModelRequest{PredictionType: api.Classification})
	var verr *client.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, server.CallCount("/select-model"))
}

func TestEmptyModelNameIsRejected(t *testing.T) {
	server := testutil.NewFakeServer(t)
	c := client.NewClient(server.URL, time.Second)

	_, err := c.RunPredictions(context.Background(), api.PredictRequest{})
	var verr *client.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, server.Calls())
}

func TestArtifacts(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.Handle(http.MethodGet, "/images/a b.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	server.Handle(http.MethodGet, "/x.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("y\n1\n"))
	})

	c := client.NewClient(server.URL+"/", time.Second)

	assert.Equal(t, server.URL+"/images/a%20b.png", c.ImageURL("a b.png"))
	assert.Equal(t, server.URL+"/x.csv", c.ResolveURL("x.csv"))
	assert.Equal(t, "http://cdn.test/x.csv", c.ResolveURL("http://cdn.test/x.csv"))

	img, err := c.FetchImage(context.Background(), "a b.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img)

	_, err = c.FetchImage(context.Background(), "missing.png")
	assert.Error(t, err)

	csv, err := c.Download(context.Background(), "/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "y\n1\n", string(csv))
}
