package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"forecastica/cmd"
	"forecastica/internal/client"
	"forecastica/internal/config"
	"forecastica/internal/core"
	"forecastica/internal/core/utils"
	"forecastica/internal/database"
	"forecastica/internal/session"
	"forecastica/internal/storage"
	"forecastica/pkg/api"

	"github.com/schollz/progressbar/v3"
)

var (
	file        = flag.String("file", "", "csv file to upload")
	existing    = flag.String("existing", "", "use a csv already uploaded to the server instead of -file")
	target      = flag.String("target", "", "target column")
	problemType = flag.String("problem-type", "classification", "classification, regression or time_series")
	model       = flag.String("model", "", "model to run predictions with, the server's recommendation when empty")
	drop        = flag.String("drop", "", "comma separated columns to remove before training")
	nulls       = flag.String("nulls", "", "null handling to apply before training: remove, mean or mode")
	nullColumns = flag.String("null-columns", "", "comma separated columns for -nulls, all columns when empty")
	rows        = flag.Int("rows", 10, "prediction rows to print")
)

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func check(err error, view string) {
	if err != nil {
		if view != "" {
			log.Fatalf("%s (%v)", view, err)
		}
		log.Fatalf("%v", err)
	}
}

func upload(ctx context.Context, c *client.Client, sess *session.Session, rowCap int) {
	page := core.NewFileTransfer(c, sess, rowCap)

	var err error
	if *existing != "" {
		err = page.SelectExisting(ctx, *existing)
	} else {
		f, openErr := os.Open(*file)
		check(openErr, "")
		defer f.Close()

		var size int64
		if info, statErr := f.Stat(); statErr == nil {
			size = info.Size()
		}
		err = page.Upload(ctx, filepath.Base(*file), size, f)
	}
	view := page.View()
	check(err, view.Message)

	fmt.Printf("%s: %s (%s KB)\n", view.Message, view.Filename, view.SizeKB)
	if view.Info != "" {
		fmt.Println(view.Info)
	}
	fmt.Printf("columns: %s\n", strings.Join(view.Columns, ", "))
	for _, n := range view.NullCounts {
		marker := ""
		if n.Attention {
			marker = " !"
		}
		fmt.Printf("  nulls %s: %d%s\n", n.Column, n.Count, marker)
	}
}

func edit(ctx context.Context, c *client.Client, sess *session.Session, rowCap int) {
	if *drop == "" && *nulls == "" {
		return
	}

	page := core.NewEditor(c, sess, rowCap)
	check(page.Load(ctx), page.View().Message)

	toggle := func(columns []string) {
		for _, col := range page.Selected() {
			check(page.Toggle(col), "")
		}
		for _, col := range columns {
			check(page.Toggle(col), "")
		}
	}

	if columns := splitList(*drop); len(columns) > 0 {
		toggle(columns)
		check(page.RemoveSelected(ctx), page.View().Message)
		fmt.Println(page.View().Message)
	}

	if *nulls != "" {
		action, err := api.ParseNullAction(*nulls)
		check(err, "")
		toggle(splitList(*nullColumns))
		check(page.ApplyNullAction(ctx, action), page.View().Message)
		fmt.Println(page.View().Message)
	}

	fmt.Printf("columns after editing: %s\n", strings.Join(page.View().Columns, ", "))
}

func runWorkflow(ctx context.Context, c *client.Client, sess *session.Session, recorder core.RunRecorder, catalog *core.Catalog) *core.PredictionView {
	pt, err := api.ParseProblemType(*problemType)
	check(err, "")

	wf := core.NewWorkflow(c, sess, core.WorkflowOptions{AutoAdvanceOnTrainSuccess: false, Recorder: recorder, Catalog: catalog})
	check(wf.Configure(pt, *target, *model), "")

	if *model == "" {
		check(wf.Recommend(ctx), wf.View().RecommendationError)
		rec := wf.View().Recommendation
		if rec.Model == "" {
			log.Fatalf("recommended model '%s' is not in the %s catalog, pass -model", rec.Label, pt)
		}
		fmt.Printf("recommended model: %s\n", rec.Label)
		if rec.Description != "" {
			fmt.Printf("  %s\n", rec.Description)
		}
		if rec.Parameters != "" {
			fmt.Printf("  parameters: %s\n", rec.Parameters)
		}
		check(wf.Configure(pt, *target, rec.Model), "")
	}

	bar := progressbar.NewOptions(2,
		progressbar.OptionSetDescription("training"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	check(wf.Submit(ctx), wf.View().Message)
	_ = bar.Add(1)

	for _, s := range wf.View().Training {
		if s.Error != "" {
			fmt.Printf("%s: failed: %s\n", s.Name, s.Error)
			continue
		}
		fmt.Printf("%s: %s\n", s.Name, strings.Join(s.Metrics, ", "))
	}

	bar.Describe("predicting")
	check(wf.Predict(ctx), wf.View().Message)
	_ = bar.Add(1)

	view := wf.View()
	fmt.Println(view.Message)
	return view.Prediction
}

func printPredictions(p *core.PredictionView) {
	fmt.Println(strings.Join(p.Columns, "\t"))
	for i, row := range p.Rows {
		if i >= *rows {
			fmt.Printf("... %d more rows\n", len(p.Rows)-i)
			break
		}
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = utils.TruncateText(cell, utils.DefaultCellLength)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
}

func saveArtifacts(ctx context.Context, c *client.Client, store storage.ObjectStore, dir string, p *core.PredictionView) {
	refs := []api.Artifact{api.Artifact(p.CSVURL), api.Artifact(p.ConfusionMatrix), api.Artifact(p.ShapPlot)}

	n := 0
	for _, r := range refs {
		if r.Present() {
			n++
		}
	}
	if n == 0 {
		return
	}

	bar := progressbar.NewOptions(n,
		progressbar.OptionSetDescription("downloading artifacts"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	if _, err := storage.SaveArtifacts(ctx, store, c, dir, refs, 3, func(storage.Object) { _ = bar.Add(1) }); err != nil {
		slog.Error("error saving artifacts", "error", err)
		return
	}

	objects, err := store.ListObjects(ctx, dir)
	if err != nil {
		slog.Error("error listing saved artifacts", "error", err)
		return
	}
	for _, obj := range objects {
		fmt.Printf("saved %s (%d bytes)\n", obj.Name, obj.Size)
	}
}

func main() {
	cmd.LoadEnvFile()

	if (*file == "") == (*existing == "") || *target == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logFile, err := cmd.SetupLogging(cfg.Root, "cli.log")
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := database.NewDatabase(filepath.Join(cfg.Root, "db", "forecastica.db"))
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}

	sess, err := session.NewSessionCache(1, database.NewSessionStore(db)).Create(ctx)
	if err != nil {
		log.Fatalf("error creating session: %v", err)
	}

	catalog, err := core.LoadCatalog(cfg.ModelCatalog)
	if err != nil {
		log.Fatalf("error loading model catalog: %v", err)
	}

	c := client.NewClient(cfg.ServerURL, cfg.RequestTimeout)

	upload(ctx, c, sess, cfg.PreviewRowCap)
	edit(ctx, c, sess, cfg.PreviewRowCap)
	predictions := runWorkflow(ctx, c, sess, database.NewRunStore(db), catalog)
	if predictions == nil {
		return
	}
	printPredictions(predictions)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "artifacts"))
	if err != nil {
		log.Fatalf("error opening artifact store: %v", err)
	}
	saveArtifacts(ctx, c, store, sess.ID.String(), predictions)
}
