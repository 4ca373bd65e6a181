package cmd

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"flexplan/adapters/planfile"
	"flexplan/core/pipeline"
	"flexplan/core/wizard"
	"flexplan/internal/config"
	"flexplan/internal/errors"
	"flexplan/internal/metrics"
)

var (
	planPath        string
	savePlanPath    string
	metricsTextfile string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create or update the Flex Plan of a deployment",
	Long: `Create or update the Flex Plan of a deployment.

With --plan the answers are read from an HCL plan file. Without it an
interactive console walks through the three steps: plan, deposit and
confirmation. Re-running after a failure resumes where the last run
stopped: completed transactions are detected and not repeated.`,
	RunE: runCreate,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "List the transactions a plan file would submit",
	RunE:  runPreview,
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(previewCmd)

	for _, c := range []*cobra.Command{createCmd, previewCmd} {
		c.Flags().StringVar(&projectID, "project", "", "project id (overrides the plan file)")
		c.Flags().StringVar(&deploymentID, "deployment", "", "deployment id (overrides the plan file)")
		c.Flags().StringVarP(&planPath, "plan", "f", "", "HCL plan file")
	}
	previewCmd.MarkFlagRequired("plan")

	createCmd.Flags().StringVar(&savePlanPath, "save-plan", "", "write the answers to a plan file")
	createCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write run metrics in Prometheus text format")
}

// loadPlan reads the plan file, letting flags override its identifiers
func loadPlan() (*planfile.File, error) {
	if planPath == "" {
		return nil, nil
	}
	f, err := planfile.Load(planPath)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFound("plan file", planPath)
	}
	if err != nil {
		return nil, errors.Wrap(errors.TypeValidation, "read plan file", err)
	}
	if projectID != "" {
		f.ProjectID = projectID
	}
	if deploymentID != "" {
		f.DeploymentID = deploymentID
	}
	return f, nil
}

// newPipeline builds the pipeline for a run. The returned flush writes the
// run metrics when a textfile is configured.
func (s *session) newPipeline(observer pipeline.Observer) (*pipeline.Pipeline, func()) {
	opts := []pipeline.Option{
		pipeline.WithLogger(s.log),
		pipeline.WithObserver(observer),
	}
	path := metricsTextfile
	if path == "" && s.cfg.Metrics.Enabled {
		path = filepath.Join(config.Dir(), "metrics.prom")
	}
	flush := func() {}
	if path != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, pipeline.WithMetrics(metrics.New(reg)))
		flush = func() {
			if err := prometheus.WriteToTextfile(path, reg); err != nil {
				s.log.Warn("writing metrics failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
	return pipeline.New(s.ledger, s.billing, s.cfg.Ledger.BillingContract, opts...), flush
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	file, err := loadPlan()
	if err != nil {
		return err
	}
	if file == nil && !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.Validation("stdin is not a terminal: pass --plan to run non-interactively")
	}
	project, deployment := projectID, deploymentID
	if file != nil {
		project, deployment = file.ProjectID, file.DeploymentID
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	w := newWriter(cmd)
	wz, err := s.startWizard(ctx, project, deployment, func() {
		w.Warning("Cancelled, nothing was submitted")
	})
	if err != nil {
		return err
	}
	if wz.State().Editing() {
		w.Info("Deployment already has plan %s; it will be updated", wz.State().ExistingPlan.ID)
	}

	progress := w.NewStageProgress()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		progress.WithSpinner()
	}
	p, flush := s.newPipeline(progress.Observer())
	defer flush()

	if file != nil {
		if err := file.Apply(wz); err != nil {
			return classify(err)
		}
		items, err := p.Preview(ctx, wz.Request())
		if err != nil {
			return classify(err)
		}
		w.RenderChecklist(items)
		w.Println("")
		req := wz.Request()
		out, err := wz.Confirm(ctx, p)
		progress.RenderOutcome(out, err)
		s.notify(ctx, req, out, err)
		return classify(err)
	}

	repl := newConsole(w, wz, p, progress, promptAsk)
	repl.onRun = func(req pipeline.Request, out *pipeline.Outcome, err error) {
		s.notify(ctx, req, out, err)
	}
	if err := repl.Run(ctx); err != nil {
		return classify(err)
	}
	if savePlanPath != "" && wz.State().Terminal == wizard.Succeeded {
		answers := planfile.FromState(project, deployment, repl.answers)
		if err := os.WriteFile(savePlanPath, answers.Encode(), 0o644); err != nil {
			return errors.Internal("save plan file", err)
		}
		w.Success("Saved answers to %s", savePlanPath)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	file, err := loadPlan()
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	wz, err := s.startWizard(ctx, file.ProjectID, file.DeploymentID, nil)
	if err != nil {
		return err
	}
	if err := file.Apply(wz); err != nil {
		return classify(err)
	}
	p, _ := s.newPipeline(nil)
	items, err := p.Preview(ctx, wz.Request())
	if err != nil {
		return classify(err)
	}

	if jsonOutput() {
		type itemJSON struct {
			Stage  string `json:"stage"`
			Label  string `json:"label"`
			Needed bool   `json:"needed"`
			Detail string `json:"detail"`
		}
		out := make([]itemJSON, len(items))
		for i, it := range items {
			out[i] = itemJSON{Stage: it.Stage.String(), Label: it.Label, Needed: it.Needed, Detail: it.Detail}
		}
		return printJSON(cmd, out)
	}

	w := newWriter(cmd)
	w.Header("Preview for " + file.DeploymentID)
	st := wz.State()
	if st.Editing() {
		w.RenderPlanChange(*st.ExistingPlan, st.Plan)
	}
	w.RenderAffordability(wz.Affordability(), st.BillingBalance)
	w.Println("")
	w.RenderChecklist(items)
	return nil
}
