// Command zenus is the CLI front end for the execution core (spec.md §6):
// it loads config.yaml, resolves provider credentials from the environment,
// wires every singleton into one orchestrator.Session, and dispatches a
// single invocation the way a shell built around this core would.
//
// Grounded on cmd/demo/main.go's "wire everything by hand in main, no DI
// framework" shape, generalized from a hardcoded stub agent to the
// execution core's real singleton graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Guillhermm/zenus-os-sub000/internal/audit"
	"github.com/Guillhermm/zenus-os-sub000/internal/cache"
	"github.com/Guillhermm/zenus-os-sub000/internal/config"
	"github.com/Guillhermm/zenus-os-sub000/internal/executor"
	"github.com/Guillhermm/zenus-os-sub000/internal/failurestore"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/ledger"
	"github.com/Guillhermm/zenus-os-sub000/internal/llm"
	"github.com/Guillhermm/zenus-os-sub000/internal/llm/providers"
	"github.com/Guillhermm/zenus-os-sub000/internal/orchestrator"
	"github.com/Guillhermm/zenus-os-sub000/internal/resilience"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		iterative  = flag.Bool("iterative", false, "force the iterative GoalLoop regardless of autodetect")
		direct     = flag.Bool("direct", false, "force a single direct Planner pass regardless of autodetect")
		maxIter    = flag.Int("max-iterations", 0, "override GoalLoop.MaxIterations for this invocation (0 = use config)")
		dryRun     = flag.Bool("dry-run", false, "with -rollback, preview the rollback without executing it")
		rollbackN  = flag.Int("rollback", 0, "roll back the last N reversible actions instead of executing input")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zenus: load config: %v\n", err)
		return int(orchestrator.ExitSchemaValidation)
	}
	cfgProvider := config.NewProvider(cfg)

	sess, cleanup, err := openSession(ctx, cfgProvider, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zenus: open session: %v\n", err)
		return int(orchestrator.ExitGenericFailure)
	}
	defer cleanup()

	if *rollbackN > 0 {
		report, err := sess.Rollback(ctx, *rollbackN, *dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "zenus: rollback: %v\n", err)
		}
		fmt.Printf("rollback: attempted=%d succeeded=%d failed=%d skipped=%d\n",
			report.Attempted, len(report.Succeeded), len(report.Failed), len(report.Skipped))
		return int(report.ExitCode)
	}

	input := flag.Arg(0)
	if input == "" {
		fmt.Fprintln(os.Stderr, "zenus: usage: zenus [-config path] [-iterative|-direct] \"<goal>\"")
		return int(orchestrator.ExitGenericFailure)
	}

	result, err := sess.Execute(ctx, input, orchestrator.ExecuteOptions{
		ForceIterative: *iterative,
		ForceDirect:    *direct,
		MaxIterations:  *maxIter,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "zenus: %v\n", err)
	}
	reportResult(result)
	return int(result.ExitCode)
}

func reportResult(result orchestrator.ExecutionResult) {
	fmt.Printf("mode=%s txn=%s autodetect_score=%d\n", result.Mode, result.TxnID, result.AutodetectScore)
	switch result.Mode {
	case orchestrator.ModeDirect:
		fmt.Printf("planner_status=%s observations=%d\n", result.PlannerStatus, len(result.Observations))
	case orchestrator.ModeIterative:
		fmt.Printf("goal_loop_outcome=%s iterations=%d\n", result.GoalLoopOutcome, result.Iterations)
		if result.Reflection.Reasoning != "" {
			fmt.Printf("reflection: achieved=%v confidence=%.2f reasoning=%q\n",
				result.Reflection.Achieved, result.Reflection.Confidence, result.Reflection.Reasoning)
		}
	}
}

// openSession wires every singleton the Orchestrator drives: AuditLog,
// ActionLedger, FailureStore, IntentCache, the resilience-wrapped
// Translator, and the StepExecutor sitting behind Planner (spec.md §9
// "open_session(config) initializes all singletons").
func openSession(ctx context.Context, cfgProvider *config.Provider, logger telemetry.Logger) (*orchestrator.Session, func(), error) {
	cfg := cfgProvider.Snapshot()

	auditLog, err := audit.Open(cfg.Storage.StateRoot, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("audit log: %w", err)
	}

	// Mongo-backed Ledger/FailureStore persistence (ledger.NewMongoRepository,
	// failurestore.NewMongoStore) take a pre-constructed *mongo.Client; wiring
	// one up from cfg.Storage.MongoURI is a deployment concern for whatever
	// wraps this command in a long-running service, not this CLI entry point
	// (spec.md §1 scopes persistence backend selection as a non-goal beyond
	// "an embedded or external datastore").
	ledgerRepo := ledger.NewMemRepository()

	toolRegistry := newEnvToolRegistry()
	stepExec := executor.New(toolRegistry,
		executor.WithDefaultTimeout(time.Duration(cfg.Planner.StepTimeoutSeconds)*time.Second),
		executor.WithAuditLog(auditLog),
		executor.WithLogger(logger),
	)

	ledgerKeeper := ledger.New(ledgerRepo, stepExec, logger)
	stepExec2 := executor.New(toolRegistry,
		executor.WithDefaultTimeout(time.Duration(cfg.Planner.StepTimeoutSeconds)*time.Second),
		executor.WithAuditLog(auditLog),
		executor.WithLedger(ledgerKeeper),
		executor.WithLogger(logger),
	)

	var failures failurestore.Store = failurestore.NewMemStore(logger)

	cacheOpts := cache.Options{
		StateRoot:  cfg.Storage.StateRoot,
		TTL:        cfg.CacheTTL(),
		MaxEntries: cfg.Cache.MaxEntries,
		Logger:     logger,
	}
	if cfg.Cache.RedisAddr != "" {
		cacheOpts.Redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	}
	intentCache, err := cache.Open(cacheOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("intent cache: %w", err)
	}

	translator, kits, err := newTranslator(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("translator: %w", err)
	}

	sess, err := orchestrator.Open(orchestrator.Deps{
		Translator: translator,
		Executor:   stepExec2,
		AuditLog:   auditLog,
		Ledger:     ledgerKeeper,
		Failures:   failures,
		Cache:      intentCache,
		Config:     cfgProvider,
		Logger:     logger,
		Interact:   denyAll,
		Kits:       kits,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}

	cleanup := func() {
		_ = auditLog.Close()
		_ = intentCache.Close()
		_ = ledgerKeeper.Close(ctx)
	}
	return sess, cleanup, nil
}

// denyAll is the Interact used when no interactive shell/TUI is attached
// (spec.md §1 scopes the interactive front end as an external collaborator):
// every confirmation/stuck/batch prompt is declined rather than blocking
// forever on stdin the caller may not have wired up.
func denyAll(ctx context.Context, prompt string) (bool, error) {
	return false, nil
}

// newTranslator resolves provider credentials from the environment (spec.md
// §6's ".env / secrets" external collaborator) and builds the
// resilience-wrapped reference Translator, falling back across every
// provider cfg.Fallback.Providers lists when cfg.Fallback.Enabled.
func newTranslator(cfg *config.Config) (*llm.Translator, []*resilience.Kit, error) {
	creds := providers.Credentials{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekBaseURL: os.Getenv("DEEPSEEK_BASE_URL"),
	}

	providerNames := []config.LLMProvider{cfg.LLM.Provider}
	if cfg.Fallback.Enabled {
		providerNames = cfg.Fallback.Providers
	}
	if len(providerNames) == 0 {
		providerNames = []config.LLMProvider{cfg.LLM.Provider}
	}

	named := make([]llm.NamedProvider, 0, len(providerNames))
	for _, name := range providerNames {
		p, err := providers.New(name, cfg.LLM.Model, creds)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", name, err)
		}
		named = append(named, llm.NamedProvider{Name: string(name), Provider: p})
	}

	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		TimeoutSeconds:   cfg.CircuitBreaker.TimeoutSeconds,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		WindowSeconds:    cfg.CircuitBreaker.WindowSeconds,
	}
	retryCfg := resilience.RetryConfig{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialDelay:    time.Duration(cfg.Retry.InitialDelaySeconds * float64(time.Second)),
		MaxDelay:        time.Duration(cfg.Retry.MaxDelaySeconds * float64(time.Second)),
		ExponentialBase: cfg.Retry.ExponentialBase,
		Jitter:          cfg.Retry.Jitter,
		BudgetTotal:     cfg.Retry.BudgetTotal,
		WindowSeconds:   cfg.Retry.WindowSeconds,
	}

	validator, err := ir.NewValidator()
	if err != nil {
		return nil, nil, fmt.Errorf("intent ir validator: %w", err)
	}
	translator, err := llm.NewTranslator(named, cbCfg, retryCfg, validator, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	if err != nil {
		return nil, nil, err
	}
	return translator, translator.Kits(), nil
}

// envToolRegistry is a minimal ToolRegistry with no registered tools: this
// module's scope is the execution core, not individual tool
// implementations (spec.md §1's "individual tool implementations (shell,
// git, editor, ...)" non-goal). Every lookup reports the tool as
// unresolved, so the StepExecutor fails each step with errkind.Schema, as it
// does for any unknown tool name.
type envToolRegistry struct{}

func newEnvToolRegistry() *envToolRegistry { return &envToolRegistry{} }

func (envToolRegistry) Resolve(tool string) (executor.ToolHandler, bool) {
	return nil, false
}
