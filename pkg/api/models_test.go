package api_test

import (
	"encoding/json"
	"forecastica/pkg/api"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowKeepsServerColumnOrder(t *testing.T) {
	var rows []api.Row
	require.NoError(t, json.Unmarshal([]byte(`[{"zeta":1,"alpha":"x","mid":null},{"zeta":2}]`), &rows))

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, rows[0].Columns())

	v, ok := rows[0].Get("alpha")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	out, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"x","mid":null}`, string(out))
}

func TestRowRejectsNonObject(t *testing.T) {
	var row api.Row
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &row))
}

func TestTableDataAcceptsBothEncodings(t *testing.T) {
	t.Run("Arrays", func(t *testing.T) {
		var data api.TableData
		require.NoError(t, json.Unmarshal([]byte(`{"b":[1,2,3],"a":["x","y","z"]}`), &data))
		assert.Equal(t, []string{"b", "a"}, data.Columns())
		assert.Equal(t, 3, data.RowCount())
		assert.Equal(t, []any{"x", "y", "z"}, data.Column("a"))
	})

	t.Run("PandasIndexObjects", func(t *testing.T) {
		var data api.TableData
		require.NoError(t, json.Unmarshal([]byte(`{"age":{"0":31,"1":null},"name":{"0":"ann","1":"bo"}}`), &data))
		assert.Equal(t, []string{"age", "name"}, data.Columns())
		assert.Equal(t, []any{float64(31), nil}, data.Column("age"))

		rows := data.Rows(1)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"age", "name"}, rows[0].Columns())
		v, _ := rows[0].Get("name")
		assert.Equal(t, "ann", v)
	})

	t.Run("PandasIndexOrder", func(t *testing.T) {
		// Sorted as strings, with index 4 missing after a dropna.
		body := `{"a":{"0":"r0","1":"r1","10":"r10","11":"r11","12":"r12","2":"r2","3":"r3","5":"r5","6":"r6","7":"r7","8":"r8","9":"r9"},` +
			`"b":{"0":0,"1":1,"10":10,"11":11,"12":12,"2":2,"3":3,"5":5,"6":6,"7":7,"8":8,"9":9}}`

		var data api.TableData
		require.NoError(t, json.Unmarshal([]byte(body), &data))
		assert.Equal(t, 12, data.RowCount())
		assert.Equal(t, []any{"r0", "r1", "r2", "r3", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12"}, data.Column("a"))

		rows := data.Rows(3)
		require.Len(t, rows, 3)
		for i, want := range []string{"r0", "r1", "r2"} {
			v, _ := rows[i].Get("a")
			assert.Equal(t, want, v)
			n, _ := rows[i].Get("b")
			assert.Equal(t, float64(i), n)
		}
	})

	t.Run("NonNumericIndexKeepsDocumentOrder", func(t *testing.T) {
		var data api.TableData
		require.NoError(t, json.Unmarshal([]byte(`{"a":{"b":2,"a":1,"10":3}}`), &data))
		assert.Equal(t, []any{float64(2), float64(1), float64(3)}, data.Column("a"))
	})

	t.Run("InvalidColumn", func(t *testing.T) {
		var data api.TableData
		assert.Error(t, json.Unmarshal([]byte(`{"a":5}`), &data))
	})
}

func TestTrainResponse(t *testing.T) {
	body := `{"results":{
		"random_forest":{"accuracy":0.91,"cv_scores_mean":0.88,"confusion_matrix":"/images/cm_rf.png"},
		"svm":"Error: could not converge",
		"xgboost":{"accuracy":0.8}
	}}`

	var res api.TrainResponse
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	require.Len(t, res.Results, 3)
	assert.Equal(t, []string{"random_forest", "svm", "xgboost"}, []string{res.Results[0].Name, res.Results[1].Name, res.Results[2].Name})

	rf := res.Results[0]
	assert.Equal(t, []api.Metric{{Name: "accuracy", Value: 0.91}, {Name: "cv_scores_mean", Value: 0.88}}, rf.Metrics)
	assert.Equal(t, api.Artifact("/images/cm_rf.png"), rf.ConfusionMatrix)
	assert.Equal(t, "accuracy: 0.9100", rf.Metrics[0].String())

	svm := res.Results[1]
	assert.True(t, svm.Failed())
	assert.Equal(t, "could not converge", svm.Error)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, `{"results":{"random_forest":{"accuracy":0.91,"cv_scores_mean":0.88,"confusion_matrix":"/images/cm_rf.png"},"svm":"Error: could not converge","xgboost":{"accuracy":0.8}}}`, string(out))
}

func TestRowEncodesAwkwardColumnNames(t *testing.T) {
	row := api.NewRow(
		api.Field{Key: "2024.01", Value: 1},
		api.Field{Key: "0", Value: "zero"},
		api.Field{Key: "a*b?", Value: nil},
		api.Field{Key: `back\slash`, Value: true},
	)

	out, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"2024.01":1,"0":"zero","a*b?":null,"back\\slash":true}`, string(out))

	var decoded api.Row
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, row.Columns(), decoded.Columns())

	data := api.NewTableData([]string{"x.y", "1"}, map[string][]any{"x.y": {1, 2}})
	out, err = json.Marshal(data)
	require.NoError(t, err)
	assert.Equal(t, `{"x.y":[1,2],"1":[]}`, string(out))
}

func TestTrainResponseMissingResults(t *testing.T) {
	var res api.TrainResponse
	assert.Error(t, json.Unmarshal([]byte(`{"message":"ok"}`), &res))
}

func TestPredictResponseOptionalArtifacts(t *testing.T) {
	var res api.PredictResponse
	require.NoError(t, json.Unmarshal([]byte(`{"predictions":[{"y":1,"pred":0.5}],"csv_url":"/x.csv"}`), &res))

	assert.Equal(t, []string{"y", "pred"}, res.Columns())
	assert.True(t, res.CSVURL.Present())
	assert.False(t, res.ConfusionMatrix.Present())
	assert.False(t, res.ShapPlot.Present())
}

func TestParseProblemType(t *testing.T) {
	pt, err := api.ParseProblemType("Time-Series")
	require.NoError(t, err)
	assert.Equal(t, api.TimeSeries, pt)

	_, err = api.ParseProblemType("clustering")
	assert.Error(t, err)
}
