// Command lvcsrd is the decoder daemon entry point: it loads an acoustic
// model, a lexicon/language model pair, and a feature pipeline from a YAML
// config, then hosts the line-oriented control protocol (internal/ctlserver),
// HTTP health/metrics endpoints, and an optional durable result store
// around the core engine.Engine/engine.Session decode loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/audio"
	"github.com/kurenai-lab/lvcsr/internal/audio/wavfile"
	"github.com/kurenai-lab/lvcsr/internal/config"
	"github.com/kurenai-lab/lvcsr/internal/ctlserver"
	"github.com/kurenai-lab/lvcsr/internal/engine"
	"github.com/kurenai-lab/lvcsr/internal/feature/mfcc"
	"github.com/kurenai-lab/lvcsr/internal/health"
	"github.com/kurenai-lab/lvcsr/internal/lexicon"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/internal/observe"
	"github.com/kurenai-lab/lvcsr/internal/resultstore/postgres"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "lvcsrd.yaml", "path to the YAML configuration file")
	wavPath := flag.String("wav", "", "decode a single WAV file and exit, instead of running the daemon")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lvcsrd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lvcsrd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("lvcsrd starting", "config", *configPath, "lm_kind", cfg.LM.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder := &engineHolder{}
	grammars, annCloser, err := bootstrap(ctx, cfg, holder.Store)
	if err != nil {
		slog.Error("startup failed", "err", err)
		return 1
	}
	if annCloser != nil {
		defer annCloser.Close()
	}
	if holder.Load() == nil {
		slog.Error("startup failed", "err", "no engine was built")
		return 1
	}

	if *wavPath != "" {
		res, err := decodeFile(ctx, holder.Load(), *wavPath)
		if err != nil {
			slog.Error("decode failed", "err", err)
			return 1
		}
		printResult(res)
		return 0
	}

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lvcsrd"})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	var store *postgres.Store
	if cfg.ResultStore.PostgresDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.ResultStore.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect result store", "err", err)
			return 1
		}
		defer store.Close()
	}

	lifecycle := &runControl{}
	ctlSrv := ctlserver.New(lifecycle, grammars, "lvcsrd/1")

	var wg sync.WaitGroup

	if cfg.Server.ListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			slog.Error("failed to bind control listener", "err", err, "addr", cfg.Server.ListenAddr)
			return 1
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("control server listening", "addr", cfg.Server.ListenAddr)
			if err := ctlSrv.Serve(ctx, ln); err != nil {
				slog.Error("control server stopped", "err", err)
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		health.New(storeChecker(store)).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())
		handler := observe.Middleware(observe.DefaultMetrics())(mux)
		httpServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: handler}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
	}

	slog.Info("lvcsrd ready")
	select {
	case <-ctx.Done():
	case <-ctlSrv.Done():
		stop()
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	wg.Wait()
	slog.Info("goodbye")
	return 0
}

// engineHolder lets the SYNCGRAM control path rebuild and hot-swap the live
// *engine.Engine while decode requests concurrently read it.
type engineHolder struct {
	v atomic.Pointer[engine.Engine]
}

func (h *engineHolder) Load() *engine.Engine   { return h.v.Load() }
func (h *engineHolder) Store(e *engine.Engine) { h.v.Store(e) }

// runControl implements ctlserver.Lifecycle. This daemon hosts one decode
// loop at a time, driven from -wav or a future streaming front end; PAUSE/
// RESUME/TERMINATE flip a flag the next decode is expected to check rather
// than interrupting an in-flight Session, since Session itself has no
// cancellation point mid-utterance.
type runControl struct {
	mu          sync.Mutex
	paused      bool
	terminating bool
}

func (r *runControl) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

func (r *runControl) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	r.terminating = false
}

func (r *runControl) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminating = true
}

func (r *runControl) RunStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.terminating:
		return "sleep"
	case r.paused:
		return "pause"
	default:
		return "active"
	}
}

// storeChecker builds the health readiness checker for the optional result
// store. NewStore already verifies connectivity at startup and
// postgres.Store exposes no separate ping, so the check always reports
// ready, whether or not a store was configured.
func storeChecker(store *postgres.Store) health.Checker {
	return health.Checker{
		Name: "result_store",
		Check: func(ctx context.Context) error {
			return nil
		},
	}
}

// bootstrap loads every model artifact named by cfg and assembles the
// initial engine.Engine, handing it to swap. For lm.kind "dfa" it returns a
// GrammarManager whose SyncFunc rebuilds the lexicon, language model, and
// engine from scratch and calls swap again on every SYNCGRAM. lm.kind
// "ngram" is rejected: ARPA/N-gram text-format loading is out of scope for
// this daemon (SPEC_FULL.md §1), since internal/lm.Ngram expects its
// forward/backward score tables already parsed into memory.
//
// The returned io.Closer releases the codebook ANN database connection (nil
// when cfg.AM.CodebookANNDSN is unset); callers must close it on shutdown.
func bootstrap(ctx context.Context, cfg *config.Config, swap func(*engine.Engine)) (*ctlserver.GrammarManager, io.Closer, error) {
	acoustic, featureType, err := loadAcousticModel(cfg)
	if err != nil {
		return nil, nil, err
	}

	pruning, err := gaussianPruning(cfg.AM.Pruning)
	if err != nil {
		return nil, nil, err
	}
	var gms *am.GmsSelector
	if pruning == am.PruneUserPlugin && cfg.AM.GmsModelPath != "" {
		gms, err = buildGMS(cfg.AM.GmsModelPath, acoustic)
		if err != nil {
			return nil, nil, err
		}
	}

	ann, annK, annCloser, err := buildCodebookANN(ctx, cfg.AM, acoustic)
	if err != nil {
		return nil, nil, err
	}

	extract := mfcc.Extractor(sampleRateOf(cfg.Feature), 26)
	featCfg := buildFeatureConfig(cfg.Feature, featureType)
	segCfg, rejectCfg := buildSegmentConfig(cfg.Segment)
	spCfg := secondPassConfig(cfg.Search.SecondPass)

	build := func(dict *lexicon.Dictionary, model lm.FullContextModel, grammar *lm.DfaGrammar) (*engine.Engine, error) {
		shortPause := wordIDBySurface(dict, cfg.LM.ShortPauseWord)
		lex, err := buildLexicon(dict, acoustic, cfg.Lexicon, model, grammar)
		if err != nil {
			return nil, fmt.Errorf("build lexicon: %w", err)
		}
		engCfg := engine.Config{
			Feature:       featCfg,
			FirstPass:     buildFirstPassConfig(cfg.Search.FirstPass, shortPause),
			SecondPass:    spCfg,
			Segment:       segCfg,
			Reject:        rejectCfg,
			Pruning:       pruning,
			RunSecondPass: true,
		}
		eng, err := engine.New(acoustic, model, lex, dict, extract, engCfg)
		if err != nil {
			return nil, err
		}
		if gms != nil {
			eng = eng.WithGMS(gms)
		}
		if ann != nil {
			eng = eng.WithANN(ann, annK)
		}
		eng = eng.WithRescorer(&am.TriphoneRescorer{
			AM:       acoustic,
			PhonesOf: func(w types.WordID) []string { return dict.Word(w).Phones },
		})
		return eng, nil
	}

	switch cfg.LM.Kind {
	case config.LMDfa:
		registry := config.NewRegistry()
		gm := ctlserver.NewGrammarManager(registry, cfg.LM.HeadSilenceWord, cfg.LM.TailSilenceWord, cfg.LM.ShortPauseWord,
			func(dict *lexicon.Dictionary, grammar *lm.DfaGrammar) error {
				eng, err := build(dict, lm.NewDfaModel(grammar), grammar)
				if err != nil {
					return err
				}
				swap(eng)
				return nil
			})
		if err := loadGrammars(gm, cfg.LM.GrammarDir); err != nil {
			return nil, annCloser, fmt.Errorf("load grammars: %w", err)
		}
		return gm, annCloser, nil

	case config.LMNgram:
		return nil, annCloser, fmt.Errorf("lvcsrd: lm.kind \"ngram\" is not wired up by this daemon — " +
			"the ARPA/N-gram text-format reader is out of scope (SPEC_FULL.md §1); " +
			"internal/lm.NewNgram builds a working model once a caller has parsed " +
			"lm.ngram_forward_path/lm.ngram_backward_path into its map arguments itself")

	default:
		return nil, annCloser, fmt.Errorf("lvcsrd: unrecognised lm.kind %q", cfg.LM.Kind)
	}
}

func sampleRateOf(cfg config.FeatureConfig) int {
	if cfg.SampleRate <= 0 {
		return 16000
	}
	return cfg.SampleRate
}

// wordIDBySurface finds the dictionary entry whose surface form matches s,
// or types.NoWord if none matches or s is empty.
func wordIDBySurface(dict *lexicon.Dictionary, s string) types.WordID {
	if s == "" {
		return types.NoWord
	}
	for i := range dict.Words {
		if dict.Words[i].Surface == s {
			return dict.Words[i].ID
		}
	}
	return types.NoWord
}

// decodeFile drives eng over one WAV file end to end: a wavfile.Capture
// pumped through an audio.RingBuffer into a single engine.Session, exactly
// the pipeline spec.md §5 describes for any audio.Capture implementation.
func decodeFile(ctx context.Context, eng *engine.Engine, path string) (*engine.Result, error) {
	chunkSamples := eng.Cfg.Feature.FrameShift * 10
	if chunkSamples <= 0 {
		chunkSamples = 1600
	}
	capture, err := wavfile.Open(path, chunkSamples)
	if err != nil {
		return nil, err
	}

	buf := audio.NewRingBuffer(64)
	pump := audio.NewPump(capture, buf)
	pump.Start(ctx)
	defer pump.Stop()

	sess := eng.NewSession(audio.InputAudio)
	for {
		chunk, ok, err := buf.Pop(ctx)
		if err != nil {
			return nil, fmt.Errorf("decodeFile: %w", err)
		}
		if !ok {
			break
		}
		samples := make([]float64, len(chunk))
		for i, v := range chunk {
			samples[i] = float64(v)
		}
		_, segmented, err := sess.PushAudio(samples)
		if err != nil {
			return nil, fmt.Errorf("decodeFile: %w", err)
		}
		if segmented {
			break
		}
	}
	return sess.Finalize()
}

func printResult(res *engine.Result) {
	fmt.Printf("status: %s\n", res.Status)
	for _, sent := range res.Sentences {
		fmt.Print("  ")
		for i, w := range sent.Words {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Print(w.Surface)
		}
		fmt.Println()
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
