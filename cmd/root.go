package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctolon/strangeness/reco"
)

var (
	// CLI flags for input files and execution
	eventsPath string // YAML event file from the event-data collaborator
	calibPath  string // YAML calibration snapshot
	cutsPath   string // optional YAML cuts bundle overriding the cut flags
	logLevel   string // log verbosity level
	workers    int    // parallel worker count (each owns its own fitter)

	// Topological selection criteria
	dcaNegToPV     float64 // DCA neg to PV
	dcaPosToPV     float64 // DCA pos to PV
	minCrossedRows int     // min crossed rows
	v0CosPA        float64 // V0 cosPA
	dcaV0Dau       float64 // DCA V0 daughters
	v0Radius       float64 // V0 radius

	// Cascade selection criteria
	dcaBachToPV      float64 // DCA bachelor to PV
	cascRadius       float64 // cascade radius
	dcaCascDau       float64 // DCA cascade daughters
	lambdaMassWindow float64 // distance from the Lambda mass

	// Operation and minimization criteria
	bzInput        float64 // bz field (kG), -999 is automatic
	useAbsDCA      bool    // absolute-DCA minimization
	useWeightedPCA bool    // covariance-weighted minimization
	matCorrType    int     // 0: none, 1: full geometry, 2: LUT

	// Run mode and output production
	processRun2    bool
	processRun3    bool
	createCascades int // -1: auto, 0: don't, 1: yes
	createV0Covs   int
	createCascCovs int
	subscriptions  []string // tables subscribed by downstream consumers
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "strangeness",
	Short: "Strange-particle candidate reconstruction from collision events",
}

// runCmd reconstructs all events of an input file using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run candidate reconstruction over an event file",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if eventsPath == "" || calibPath == "" {
			logrus.Fatalf("Both --events and --calib must be provided. Exiting.")
		}

		cfg := buildConfig()
		if cutsPath != "" {
			bundle, err := reco.LoadCutsBundle(cutsPath)
			if err != nil {
				logrus.Fatalf("Unable to read cuts bundle: %v", err)
			}
			bundle.Apply(&cfg)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		events, err := reco.LoadEvents(eventsPath)
		if err != nil {
			logrus.Fatalf("Unable to read event file: %v", err)
		}
		store, err := reco.LoadCalibFile(calibPath)
		if err != nil {
			logrus.Fatalf("Unable to read calibration file: %v", err)
		}

		logrus.Infof("Starting reconstruction of %d events with %d workers", len(events), workers)

		metrics := reco.NewMetrics()
		outs, err := reco.RunParallel(events, workers, cfg, store, subscriptions, metrics)
		if err != nil {
			logrus.Fatalf("Reconstruction aborted: %v", err)
		}

		nV0, nCasc := 0, 0
		for _, out := range outs {
			nV0 += len(out.V0s)
			nCasc += len(out.Cascades)
		}
		logrus.Infof("Accepted %d V0 records and %d cascade records", nV0, nCasc)
		metrics.Print()
	},
}

// buildConfig assembles the reconstruction config from CLI flags.
func buildConfig() reco.Config {
	cfg := reco.DefaultConfig()
	cfg.Topo.DCANegToPV = dcaNegToPV
	cfg.Topo.DCAPosToPV = dcaPosToPV
	cfg.Topo.MinCrossedRows = minCrossedRows
	cfg.Topo.V0CosPA = v0CosPA
	cfg.Topo.DCAV0Dau = dcaV0Dau
	cfg.Topo.V0Radius = v0Radius
	cfg.Casc.DCABachToPV = dcaBachToPV
	cfg.Casc.CascRadius = cascRadius
	cfg.Casc.DCACascDau = dcaCascDau
	cfg.Casc.LambdaMassWindow = lambdaMassWindow
	cfg.Fitter.UseAbsDCA = useAbsDCA
	cfg.Fitter.UseWeightedPCA = useWeightedPCA
	cfg.Fitter.MatCorr = reco.MatCorrType(matCorrType)
	cfg.Output.CreateCascades = reco.TriState(createCascades)
	cfg.Output.CreateV0Covs = reco.TriState(createV0Covs)
	cfg.Output.CreateCascCovs = reco.TriState(createCascCovs)
	cfg.ProcessRun2 = processRun2
	cfg.ProcessRun3 = processRun3
	cfg.BzOverride = bzInput
	return cfg
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&eventsPath, "events", "", "YAML event file")
	runCmd.Flags().StringVar(&calibPath, "calib", "", "YAML calibration snapshot")
	runCmd.Flags().StringVar(&cutsPath, "cuts", "", "Optional YAML cuts bundle")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().IntVar(&workers, "workers", 1, "Parallel worker count")

	// Topological selection criteria
	runCmd.Flags().Float64Var(&dcaNegToPV, "dcanegtopv", 0.1, "DCA neg to PV (cm)")
	runCmd.Flags().Float64Var(&dcaPosToPV, "dcapostopv", 0.1, "DCA pos to PV (cm)")
	runCmd.Flags().IntVar(&minCrossedRows, "mincrossedrows", 70, "Min crossed rows")
	runCmd.Flags().Float64Var(&v0CosPA, "v0cospa", 0.995, "V0 cosPA")
	runCmd.Flags().Float64Var(&dcaV0Dau, "dcav0dau", 1.0, "DCA V0 daughters (cm)")
	runCmd.Flags().Float64Var(&v0Radius, "v0radius", 5.0, "V0 radius (cm)")

	// Cascade selection criteria
	runCmd.Flags().Float64Var(&dcaBachToPV, "dcabachtopv", 0.05, "DCA bachelor to PV (cm)")
	runCmd.Flags().Float64Var(&cascRadius, "cascradius", 0.9, "Cascade radius (cm)")
	runCmd.Flags().Float64Var(&dcaCascDau, "dcacascdau", 1.0, "DCA cascade daughters (cm)")
	runCmd.Flags().Float64Var(&lambdaMassWindow, "lambdamasswindow", 0.01, "Distance from the Lambda mass (GeV)")

	// Operation and minimization criteria
	runCmd.Flags().Float64Var(&bzInput, "d-bz", -999, "bz field (kG), -999 is automatic")
	runCmd.Flags().BoolVar(&useAbsDCA, "use-abs-dca", true, "Use absolute DCAs")
	runCmd.Flags().BoolVar(&useWeightedPCA, "use-weighted-pca", false, "Vertices use covariance matrices")
	runCmd.Flags().IntVar(&matCorrType, "mat-corr-type", 0, "Material correction: 0 none, 1 full geometry, 2 LUT")

	// Run mode and output production
	runCmd.Flags().BoolVar(&processRun2, "process-run2", true, "Process the Run 2 track representation")
	runCmd.Flags().BoolVar(&processRun3, "process-run3", false, "Process the Run 3 track representation")
	runCmd.Flags().IntVar(&createCascades, "create-cascades", -1, "Produce cascade data. -1: auto, 0: don't, 1: yes")
	runCmd.Flags().IntVar(&createV0Covs, "create-v0-cov-mats", -1, "Produce V0 cov matrices. -1: auto, 0: don't, 1: yes")
	runCmd.Flags().IntVar(&createCascCovs, "create-casc-cov-mats", -1, "Produce cascade cov matrices. -1: auto, 0: don't, 1: yes")
	runCmd.Flags().StringSliceVar(&subscriptions, "subscribe", nil, "Tables subscribed by downstream consumers (CascData, V0Covs, CascCovs)")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
