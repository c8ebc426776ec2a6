package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flexbatt/flexbatt/internal/baseline"
	"github.com/flexbatt/flexbatt/internal/benefit"
	"github.com/flexbatt/flexbatt/internal/config"
	"github.com/flexbatt/flexbatt/internal/feature"
	"github.com/flexbatt/flexbatt/internal/importer"
	"github.com/flexbatt/flexbatt/internal/ml"
	"github.com/flexbatt/flexbatt/internal/repository"
)

const usage = `Usage: flexctl <command> [flags]

Commands:
  scan       preview the folder structure under the data root
  import     import simulation outputs into the database
  benefits   recalculate benefits and store them as KPIs
  extract    run feature extraction into the feature store
  train      train models from the feature store
  predict    predict target KPIs from raw inputs
  describe   summarize the feature store and registered models
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	app := &app{cfg: cfg, logger: logger}

	ctx := context.Background()
	switch os.Args[1] {
	case "scan":
		err = app.scan(os.Args[2:])
	case "import":
		err = app.runImport(ctx, os.Args[2:])
	case "benefits":
		err = app.benefits(ctx, os.Args[2:])
	case "extract":
		err = app.extract(ctx, os.Args[2:])
	case "train":
		err = app.train(os.Args[2:])
	case "predict":
		err = app.predict(os.Args[2:])
	case "describe":
		err = app.describe()
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

// openDB connects and migrates; every subcommand except scan needs it.
func (a *app) openDB(ctx context.Context) (*repository.DB, error) {
	db, err := repository.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) scan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	root := fs.String("root", a.cfg.DataRoot, "data root to scan")
	fs.Parse(args)

	clients, err := importer.Scan(*root, importer.DefaultFlexSubfolder)
	if err != nil {
		return err
	}
	for _, client := range clients {
		fmt.Printf("%s\n", client.Name)
		for _, run := range client.Runs {
			fmt.Printf("  %s (%d configs)\n", run.Name, len(run.Configs))
			for _, c := range run.Configs {
				marker := " "
				if baseline.IsBaselineName(c.Name) {
					marker = "*"
				}
				fmt.Printf("  %s %s\n", marker, c.Name)
			}
		}
	}
	fmt.Printf("%d clients found\n", len(clients))
	return nil
}

func (a *app) runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	root := fs.String("root", a.cfg.DataRoot, "data root to import from")
	client := fs.String("client", "", "limit the import to one client folder")
	sync := fs.Bool("sync", false, "mirror the S3 bucket into the data root first")
	fs.Parse(args)

	if *sync {
		if a.cfg.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is not configured")
		}
		mirror, err := importer.NewMirror(ctx, a.cfg.S3Bucket, a.cfg.S3Prefix, a.cfg.S3Region, a.logger)
		if err != nil {
			return err
		}
		if _, err := mirror.Sync(ctx, *root); err != nil {
			return err
		}
	}

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	imp := importer.New(
		repository.NewClientRepository(db),
		repository.NewRunRepository(db),
		repository.NewConfigRepository(db),
		repository.NewKPIRepository(db),
		a.logger,
	)
	stats, err := imp.Import(ctx, *root, *client)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func (a *app) benefits(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("benefits", flag.ExitOnError)
	client := fs.String("client", "", "limit to one client")
	save := fs.Bool("save", true, "store calculated benefits as KPIs")
	fs.Parse(args)

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	runRepo := repository.NewRunRepository(db)
	configRepo := repository.NewConfigRepository(db)
	kpiRepo := repository.NewKPIRepository(db)
	resolver := baseline.NewResolver(configRepo, kpiRepo, a.logger)
	calculator := benefit.NewCalculator(runRepo, configRepo, kpiRepo, resolver, a.logger)

	rows, err := calculator.CalculateAll(ctx, *client, false)
	if err != nil {
		return err
	}
	if *save {
		saved, err := calculator.SaveAsKPIs(ctx, rows)
		if err != nil {
			return err
		}
		a.logger.Info("Benefits saved", zap.Int("configs", len(rows)), zap.Int("kpis", saved))
	}
	return printJSON(benefit.Summarize(rows))
}

func (a *app) extract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	client := fs.String("client", "", "limit to one client")
	target := fs.String("target", "", "primary target KPI")
	full := fs.Bool("full", false, "reprocess configs already in the ledger")
	noTS := fs.Bool("no-timeseries", false, "skip load profile features")
	fs.Parse(args)

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	extraction, err := config.LoadExtraction(a.cfg.ExtractionConfig)
	if err != nil {
		return err
	}
	store, err := feature.NewStore(a.cfg.FeatureStoreDir)
	if err != nil {
		return err
	}

	pipeline := feature.NewPipeline(
		repository.NewConfigRepository(db),
		repository.NewKPIRepository(db),
		store,
		extraction,
		nil,
		a.logger,
		a.cfg.BatchSize,
	)
	processed, err := pipeline.Run(ctx, feature.Options{
		TargetKPI:         *target,
		ClientFilter:      *client,
		Incremental:       !*full,
		IncludeTimeseries: !*noTS,
	})
	if err != nil {
		return err
	}
	a.logger.Info("Extraction finished", zap.Int("processed", processed))

	summary, err := store.Describe()
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func (a *app) train(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	modelType := fs.String("model", "auto", "model type: auto, ridge or gradient_boosting")
	noGroups := fs.Bool("no-groups", false, "ignore client groups when splitting")
	fs.Parse(args)

	extraction, err := config.LoadExtraction(a.cfg.ExtractionConfig)
	if err != nil {
		return err
	}
	store, err := feature.NewStore(a.cfg.FeatureStoreDir)
	if err != nil {
		return err
	}
	registry, err := ml.NewRegistry(a.cfg.ModelRegistryDir)
	if err != nil {
		return err
	}

	opts := ml.DefaultTrainOptions()
	opts.ModelType = *modelType
	opts.GroupAware = !*noGroups

	trainer := ml.NewTrainer(store, registry, a.logger)
	infos, err := trainer.TrainAll(extraction.TargetKPIs, opts)
	if err != nil {
		return err
	}
	a.logger.Info("Training finished", zap.Int("models", len(infos)))
	return printJSON(infos)
}

func (a *app) predict(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	target := fs.String("target", "", "predict one target KPI instead of all")
	inputs := fs.String("inputs", "", "path to a direct-inputs JSON file")
	ts := fs.String("timeseries", "", "path to a preprocessed load timeseries CSV")
	fs.Parse(args)

	if *inputs == "" && *ts == "" {
		return fmt.Errorf("predict needs -inputs and/or -timeseries")
	}

	extraction, err := config.LoadExtraction(a.cfg.ExtractionConfig)
	if err != nil {
		return err
	}

	direct := map[string]float64{}
	if *inputs != "" {
		if direct, err = ml.ReadDirectInputs(*inputs); err != nil {
			return err
		}
	}
	features, err := ml.NewFeatureBuilder(extraction).Build(direct, *ts)
	if err != nil {
		return err
	}

	registry, err := ml.NewRegistry(a.cfg.ModelRegistryDir)
	if err != nil {
		return err
	}
	predictor := ml.NewPredictor(registry, a.logger)

	if *target != "" {
		pred, err := predictor.Predict(*target, features)
		if err != nil {
			return err
		}
		return printJSON([]ml.Prediction{*pred})
	}
	preds, err := predictor.PredictAll(features)
	if err != nil {
		return err
	}
	return printJSON(preds)
}

func (a *app) describe() error {
	store, err := feature.NewStore(a.cfg.FeatureStoreDir)
	if err != nil {
		return err
	}
	summary, err := store.Describe()
	if err != nil {
		return err
	}
	registry, err := ml.NewRegistry(a.cfg.ModelRegistryDir)
	if err != nil {
		return err
	}
	infos, err := registry.List()
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"feature_store": summary,
		"models":        infos,
	})
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}
