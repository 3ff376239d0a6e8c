package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudverge/cloudverge/pkg/config"
	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/policy"
	"github.com/cloudverge/cloudverge/pkg/providers/ec2api"
	"github.com/cloudverge/cloudverge/pkg/stores"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

// runtime bundles the pieces every command needs: telemetry, the config
// loader, and lazily-opened store and AWS clients.
type runtime struct {
	tel *telemetry.Telemetry
	log *telemetry.Logger
}

func newRuntime() (*runtime, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = logFormat
	cfg.Logging.Output = "stderr"
	cfg.Logging.EnableCaller = false
	if jsonOutput {
		// Keep stdout clean for machine output.
		cfg.Logging.Format = "json"
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	return &runtime{
		tel: tel,
		log: tel.Logger.NewComponentLogger("cli"),
	}, nil
}

func (rt *runtime) shutdown(ctx context.Context) {
	_ = rt.tel.Shutdown(ctx)
}

// loadDocument parses and merges the given workspace sources. Defaults to
// the current directory when none are named.
func (rt *runtime) loadDocument(ctx context.Context, sources []string) (*config.Document, error) {
	if len(sources) == 0 {
		sources = []string{"."}
	}

	doc, err := config.NewLoader().Load(ctx, sources)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// policyEngine builds the policy engine with built-ins plus any policy
// paths the workspace names.
func (rt *runtime) policyEngine(ctx context.Context, doc *config.Document) (*policy.Engine, error) {
	eng, err := policy.NewEngine(rt.tel.Logger)
	if err != nil {
		return nil, err
	}
	eng.WithEvents(rt.tel.Events)

	if pc := doc.Workspace.Policy; pc != nil && len(pc.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, pc.Paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// policyEnabled reports whether policy evaluation applies to this workspace.
func policyEnabled(doc *config.Document) bool {
	if pc := doc.Workspace.Policy; pc != nil {
		return pc.Enabled
	}
	return true
}

// failOnWarnings reports whether warning findings block per the workspace.
func failOnWarnings(doc *config.Document) bool {
	if pc := doc.Workspace.Policy; pc != nil {
		return pc.OnViolation == "fail"
	}
	return false
}

// openStore opens the history database. The --store flag wins over the
// workspace store_path; the fallback lives under the user config dir. A
// nil document is fine for commands that only read history.
func (rt *runtime) openStore(ctx context.Context, doc *config.Document) (*stores.SQLiteStore, error) {
	path := storePath
	if path == "" && doc != nil {
		path = doc.Workspace.StorePath
	}
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolving store path: %w", err)
		}
		path = filepath.Join(dir, "cloudverge", "verge.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// runner builds AWS clients and the workspace runner. Flags override the
// workspace's region, profile, and endpoint.
func (rt *runtime) runner(ctx context.Context, doc *config.Document) (*engine.Runner, error) {
	awsCfg := ec2api.Config{
		Region:      doc.Workspace.Region,
		Profile:     doc.Workspace.Profile,
		EndpointURL: doc.Workspace.EndpointURL,
	}
	if region != "" {
		awsCfg.Region = region
	}
	if profile != "" {
		awsCfg.Profile = profile
	}
	if endpointURL != "" {
		awsCfg.EndpointURL = endpointURL
	}

	clients, err := ec2api.New(ctx, awsCfg, rt.tel.Logger, rt.tel.Metrics)
	if err != nil {
		return nil, err
	}

	return engine.NewRunner(clients.EC2, clients.IAM, rt.tel.Logger, rt.tel.Metrics).
		WithEvents(rt.tel.Events), nil
}

// desiredState converts the parsed document into engine desired state.
func desiredState(doc *config.Document) ([]engine.GroupDesired, []engine.InstanceDesired) {
	groups := make([]engine.GroupDesired, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		groups = append(groups, g.Desired())
	}
	instances := make([]engine.InstanceDesired, 0, len(doc.Instances))
	for _, i := range doc.Instances {
		instances = append(instances, i.Desired())
	}
	return groups, instances
}
