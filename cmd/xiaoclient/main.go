// Command xiaoclient is the headless voice-assistant core: it opens the
// capture/playback audio pipeline, connects to the remote voice service,
// and drives the session state machine and tool dispatcher described in
// SPEC_FULL.md. There is no GUI front-end here; one would attach as an
// external collaborator over the same session.Machine events this process
// exposes, the way the teacher's Wails layer used to sit in front of
// AudioEngine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xiaoclient/voicecore/internal/adapt"
	"github.com/xiaoclient/voicecore/internal/aec"
	"github.com/xiaoclient/voicecore/internal/agc"
	"github.com/xiaoclient/voicecore/internal/audio"
	"github.com/xiaoclient/voicecore/internal/audioio"
	"github.com/xiaoclient/voicecore/internal/codec/opus"
	"github.com/xiaoclient/voicecore/internal/config"
	"github.com/xiaoclient/voicecore/internal/dispatch"
	"github.com/xiaoclient/voicecore/internal/errs"
	"github.com/xiaoclient/voicecore/internal/highpass"
	"github.com/xiaoclient/voicecore/internal/identity"
	"github.com/xiaoclient/voicecore/internal/jitter"
	"github.com/xiaoclient/voicecore/internal/metrics"
	"github.com/xiaoclient/voicecore/internal/noise"
	"github.com/xiaoclient/voicecore/internal/noisegate"
	"github.com/xiaoclient/voicecore/internal/notify"
	"github.com/xiaoclient/voicecore/internal/resource"
	"github.com/xiaoclient/voicecore/internal/session"
	"github.com/xiaoclient/voicecore/internal/transport"
	"github.com/xiaoclient/voicecore/internal/transport/mqtt"
	"github.com/xiaoclient/voicecore/internal/transport/ws"
	"github.com/xiaoclient/voicecore/internal/vad"
	"github.com/xiaoclient/voicecore/internal/wakeword"
	"github.com/xiaoclient/voicecore/internal/wire"
)

// exit codes, per SPEC_FULL.md §6.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitStartupFailure = 2
)

type flags struct {
	mode             string
	protocol         string
	server           string
	tokenFile        string
	deviceFile       string
	wakeModelDir     string
	disableWakeWord  bool
	disableNoise     bool
	disableAEC       bool
	prometheusListen string
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet("xiaoclient", flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.mode, "mode", "cli", "run mode: \"cli\" (headless) — \"gui\" is not built by this binary")
	fs.StringVar(&f.protocol, "protocol", "", "transport protocol: websocket|mqtt (overrides config file)")
	fs.StringVar(&f.server, "server", "", "remote service address (overrides config file)")
	fs.StringVar(&f.tokenFile, "token-file", "", "path to the cached session token (internal/identity.TokenCache)")
	fs.StringVar(&f.deviceFile, "device-file", "", "path to the persisted device identity (internal/identity.Device)")
	fs.StringVar(&f.wakeModelDir, "wake-word-model-dir", "", "directory containing the wake-word cascade's ONNX models")
	fs.BoolVar(&f.disableWakeWord, "disable-wake-word", false, "disable wake-word detection regardless of config")
	fs.BoolVar(&f.disableNoise, "disable-noise", false, "disable RNNoise suppression regardless of config")
	fs.BoolVar(&f.disableAEC, "disable-aec", false, "disable acoustic echo cancellation regardless of config")
	fs.StringVar(&f.prometheusListen, "metrics-listen", "", "address to expose /metrics on (empty disables the HTTP server)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.mode != "cli" {
		return nil, fmt.Errorf("mode %q is not supported by this binary; GUI front-ends are external collaborators", f.mode)
	}
	return f, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "xiaoclient:", err)
		return exitConfigError
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "xiaoclient: build logger:", err)
		return exitConfigError
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()
	applyOverrides(&cfg, f)
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return exitConfigError
	}
	if err := resolveServerAddr(&cfg); err != nil {
		logger.Error("invalid server address", zap.Error(err))
		return exitConfigError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := startup(ctx, cfg, f, logger); err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitStartupFailure
	}
	return exitOK
}

func applyOverrides(cfg *config.Config, f *flags) {
	if f.protocol != "" {
		cfg.Protocol = f.protocol
	}
	if f.server != "" {
		cfg.ServerAddr = f.server
	}
	if f.wakeModelDir != "" {
		cfg.Wakeword.ModelDir = f.wakeModelDir
	}
	if f.disableWakeWord {
		cfg.Wakeword.Enabled = false
	}
	if f.disableNoise {
		cfg.Noise.Enabled = false
	}
	if f.disableAEC {
		cfg.AEC.Enabled = false
	}
}

func validateConfig(cfg config.Config) error {
	if cfg.ServerAddr == "" {
		return fmt.Errorf("%w: server address is required (--server or config file)", errs.ErrInvalidConfig)
	}
	if cfg.Protocol != "websocket" && cfg.Protocol != "mqtt" {
		return fmt.Errorf("%w: protocol must be \"websocket\" or \"mqtt\", got %q", errs.ErrInvalidConfig, cfg.Protocol)
	}
	return nil
}

// resolveServerAddr normalizes cfg.ServerAddr (deep links, ws(s)/http(s)
// URLs, bare hosts) into a canonical host:port before any transport dials
// it.
func resolveServerAddr(cfg *config.Config) error {
	addr, err := config.NormalizeServerAddr(cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidConfig, err)
	}
	cfg.ServerAddr = addr
	return nil
}

// startup wires every SPEC_FULL.md component into an internal/resource.Manager
// DAG and blocks until ctx is cancelled (SIGINT/SIGTERM), then tears down in
// reverse order.
func startup(ctx context.Context, cfg config.Config, f *flags, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	devicePath := f.deviceFile
	if devicePath == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			devicePath = filepath.Join(dir, "xiaoclient", "device.json")
		}
	}
	var device identity.Device
	if devicePath != "" {
		d, err := identity.LoadDevice(devicePath)
		if err != nil {
			return fmt.Errorf("load device identity: %w", err)
		}
		device = d
	}
	var tokenCache identity.TokenCache
	if f.tokenFile != "" {
		tc, err := identity.LoadToken(f.tokenFile)
		if err != nil {
			return fmt.Errorf("load token cache: %w", err)
		}
		tokenCache = tc
	}

	sess := session.New()
	sess.SetSessionID(cfg.SessionID)

	notifyCh := make(chan []float32, 4)
	notifier := notify.NewPlayer(notifyCh)

	deps, wakewordCleanup, err := buildAudioDeps(cfg, met, logger, notifyCh)
	if err != nil {
		return fmt.Errorf("build audio pipeline dependencies: %w", err)
	}
	if wakewordCleanup != nil {
		defer wakewordCleanup()
	}

	engine := audioio.New(cfg.InputDeviceID, cfg.OutputDeviceID, deps)

	var tr transport.Transport
	switch cfg.Protocol {
	case "mqtt":
		tr = mqtt.New(cfg.ServerAddr, device.DeviceID, mqtt.DefaultTopics(device.DeviceID))
	default:
		tr = ws.New(cfg.ServerAddr)
	}
	reconnector := transport.NewReconnector()

	disp := dispatch.New()
	registerTools(disp, engine, sess)
	disp.Start()

	mgr := resource.New()

	if f.prometheusListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: f.prometheusListen, Handler: mux}
		mgr.Add(&resource.Component{
			Name: "metrics-http",
			Start: func(ctx context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Warn("metrics http server exited", zap.Error(err))
					}
				}()
				return nil
			},
			Stop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}

	mgr.Add(&resource.Component{
		Name: "audio",
		Start: func(ctx context.Context) error {
			return engine.Start(ctx)
		},
		Stop: func(ctx context.Context) error {
			return engine.Stop(ctx)
		},
	})

	mgr.Add(&resource.Component{
		Name:      "transport",
		DependsOn: []string{"audio"},
		Start: func(ctx context.Context) error {
			if err := connectWithBackoff(ctx, tr, reconnector, tokenCache.Token, logger); err != nil {
				return err
			}
			sess.Fire(session.TriggerTransportEstablished)
			return nil
		},
		Stop: func(ctx context.Context) error {
			return tr.Close()
		},
	})

	mgr.Add(&resource.Component{
		Name:      "session-pump",
		DependsOn: []string{"transport"},
		Start: func(ctx context.Context) error {
			stopCh := make(chan struct{})
			go runSessionPump(ctx, stopCh, engine, tr, disp, sess, notifier, met, logger, reconnector, tokenCache.Token)
			pumpStop = stopCh
			return nil
		},
		Stop: func(ctx context.Context) error {
			if pumpStop != nil {
				close(pumpStop)
			}
			return nil
		},
	})

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	logger.Info("xiaoclient started", zap.String("session_id", cfg.SessionID), zap.String("protocol", cfg.Protocol))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), resource.ShutdownGrace*4)
	defer cancel()
	stopErr := mgr.Stop(shutdownCtx)
	sess.Fire(session.TriggerClose)
	return stopErr
}

// connectWithBackoff retries tr.Connect with the exponential backoff
// spec.md §4.7 specifies, giving up once the reconnector's attempt budget
// is exhausted.
func connectWithBackoff(ctx context.Context, tr transport.Transport, r *transport.Reconnector, token string, logger *zap.Logger) error {
	for {
		err := tr.Connect(ctx, token)
		if err == nil {
			r.Reset()
			return nil
		}
		logger.Warn("connect attempt failed", zap.Error(err), zap.Int("attempt", r.RecordFailure()))
		more, waitErr := r.Wait(ctx)
		if waitErr != nil {
			return fmt.Errorf("%w: %v", errs.ErrTransportFailed, waitErr)
		}
		if !more {
			return fmt.Errorf("%w: exhausted %d attempts: %v", errs.ErrTransportFailed, transport.MaxReconnectAttempts, err)
		}
	}
}

// pumpStop is set by the session-pump component's Start and read by its
// Stop; both run under the same resource.Manager so there is no concurrent
// access to worry about (Start always completes before Stop can run).
var pumpStop chan struct{}

// buildAudioDeps constructs the full capture/playback processing chain
// per SPEC_FULL.md §4.3–§4.5, using real native-backed implementations.
func buildAudioDeps(cfg config.Config, met *metrics.Metrics, logger *zap.Logger, notifyCh <-chan []float32) (audioio.Dependencies, func(), error) {
	deps := audioio.Dependencies{
		AEC:       aec.New(audio.FrameSamples, audio.SampleRate, aec.Config{Enabled: cfg.AEC.Enabled, StreamDelayMs: cfg.AEC.StreamDelayMs}),
		Gate:      noisegate.New(),
		Highpass:  highpass.New(float64(audio.SampleRate), 80, 0.707),
		AGC:       agc.NewWithConfig(toAGCConfig(cfg.AGC)),
		Jitter:    jitter.New(cfg.JitterDepth),
		RefRing:   audio.NewRefRing(),
		NotifyOut: notifyCh,
		Metrics:   met,
		Logger:    logger,
	}

	if cfg.Noise.Enabled {
		n := noise.New()
		n.SetLevel(cfg.Noise.Level)
		deps.Noise = n
	}

	enc, err := opus.NewEncoder(cfg.OpusBitrate, 10)
	if err != nil {
		return audioio.Dependencies{}, nil, fmt.Errorf("build opus encoder: %w", err)
	}
	deps.Encoder = enc

	dec, err := opus.NewDecoder()
	if err != nil {
		return audioio.Dependencies{}, nil, fmt.Errorf("build opus decoder: %w", err)
	}
	deps.Decoder = dec

	var cleanup func()
	if cfg.Wakeword.Enabled && cfg.Wakeword.ModelDir != "" {
		paths := wakeword.ModelPaths{
			Melspectrogram: filepath.Join(cfg.Wakeword.ModelDir, "melspectrogram.onnx"),
			Embedding:      filepath.Join(cfg.Wakeword.ModelDir, "embedding.onnx"),
			Keywords:       make(map[string]string, len(cfg.Wakeword.Keywords)),
		}
		for name, file := range cfg.Wakeword.Keywords {
			paths.Keywords[name] = filepath.Join(cfg.Wakeword.ModelDir, file)
		}
		det, destroy, err := wakeword.NewFromFiles(wakeword.Config{
			Threshold: cfg.Wakeword.Threshold,
			Cooldown:  wakeword.DefaultConfig().Cooldown,
		}, paths)
		if err != nil {
			return audioio.Dependencies{}, nil, fmt.Errorf("build wake-word detector: %w", err)
		}
		deps.Wakeword = det
		cleanup = destroy
	}

	if cfg.VAD.ModelPath != "" {
		v, err := vad.New(vad.DefaultConfig(cfg.VAD.ModelPath), audio.FrameDurationMs)
		if err != nil {
			if cleanup != nil {
				cleanup()
			}
			return audioio.Dependencies{}, nil, fmt.Errorf("build vad: %w", err)
		}
		deps.VAD = v
	}

	return deps, cleanup, nil
}

func toAGCConfig(c config.AGCConfig) agc.Config {
	cfg := agc.DefaultConfig()
	cfg.TargetLevelDBFS = c.TargetLevelDBFS
	cfg.Limiter = c.Limiter
	switch c.Mode {
	case "adaptive_analog":
		cfg.Mode = agc.AdaptiveAnalog
	case "fixed_digital":
		cfg.Mode = agc.FixedDigital
	default:
		cfg.Mode = agc.AdaptiveDigital
	}
	return cfg
}

// runSessionPump bridges the audio engine, transport, dispatcher, and
// session state machine: encoded audio out to the transport, inbound
// binary frames into the engine's playback queue, inbound text frames
// into the wire protocol and dispatcher, and wake-word/VAD events into
// session transitions.
func runSessionPump(
	ctx context.Context,
	stop <-chan struct{},
	engine *audioio.Engine,
	tr transport.Transport,
	disp *dispatch.Dispatcher,
	sess *session.Machine,
	notifier *notify.Player,
	met *metrics.Metrics,
	logger *zap.Logger,
	reconnector *transport.Reconnector,
	token string,
) {
	events := sess.Subscribe()

	go jitterAdaptLoop(ctx, stop, engine, logger)

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case pkt, ok := <-engine.EncodedOut:
				if !ok {
					return
				}
				if err := tr.SendBinary(ctx, pkt); err != nil {
					logger.Warn("send audio frame failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case ev := <-events:
				handleSessionEvent(ev, engine, notifier)
			}
		}
	}()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-engine.WakeDetections:
				sess.Fire(session.TriggerUserOrWake)
			case ev := <-engine.VADEvents:
				handleVADEvent(ev, sess)
			}
		}
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := tr.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("transport recv failed", zap.Error(err))
			met.TransportFailures.Inc()

			if !reconnectSession(ctx, tr, sess, reconnector, token, logger) {
				return
			}
			continue
		}

		switch msg.Kind {
		case transport.Binary:
			engine.PlaybackIn <- audioio.InboundFrame{OpusData: msg.Payload}
			// First (and every) inbound audio packet drives
			// LISTENING->SPEAKING; the graph no-ops once already SPEAKING.
			sess.Fire(session.TriggerInboundAudio)
		case transport.Text:
			handleWireMessage(ctx, msg.Payload, tr, disp, sess, logger)
		}
	}
}

// reconnectSession implements spec.md §4.7's reconnection policy for a
// transport error observed mid-session: fire TriggerTransportFatal to move
// the session to CONNECTING, retry with backoff, and on success re-arm
// LISTENING under a fresh session id (reconnects never resume mid-stream).
// Returns false if the reconnect budget was exhausted and the caller should
// stop pumping (the session has fallen back to IDLE).
func reconnectSession(ctx context.Context, tr transport.Transport, sess *session.Machine, reconnector *transport.Reconnector, token string, logger *zap.Logger) bool {
	sess.Fire(session.TriggerTransportFatal)

	if err := connectWithBackoff(ctx, tr, reconnector, token, logger); err != nil {
		logger.Error("reconnect budget exhausted, ending session", zap.Error(err))
		sess.Fire(session.TriggerTransportFatal)
		return false
	}

	sess.SetSessionID(uuid.NewString())
	sess.Fire(session.TriggerTransportEstablished)
	logger.Info("session re-established after transport loss", zap.String("session_id", sess.SessionID()))
	return true
}

// jitterAdaptInterval is how often the playback jitter depth is re-tuned
// from the measured concealment rate over the preceding window.
const jitterAdaptInterval = 2 * time.Second

// jitterAdaptLoop periodically measures the playback path's PLC/FEC
// concealment rate and feeds it through internal/adapt to re-tune the
// jitter buffer's priming depth. There is no RTT signal on this wire
// protocol (no ping/pong round trip, see DESIGN.md), so adapt.NextBitrate's
// encoder-side ladder stays unwired; only the loss-driven jitter depth
// adjustment applies here.
func jitterAdaptLoop(ctx context.Context, stop <-chan struct{}, engine *audioio.Engine, logger *zap.Logger) {
	ticker := time.NewTicker(jitterAdaptInterval)
	defer ticker.Stop()

	smoothedLoss := 0.0
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw := engine.PlaybackLossRate()
			smoothedLoss = adapt.SmoothLoss(smoothedLoss, raw, 0.3)
			depth := adapt.TargetJitterDepth(engine.JitterMs(), smoothedLoss)
			engine.SetJitterDepth(depth)
			logger.Debug("jitter depth adapted",
				zap.Float64("loss_rate", smoothedLoss),
				zap.Int("depth", depth))
		}
	}
}

// handleVADEvent maps a debounced speech/silence edge onto a session
// transition. EndOfUtterance always re-arms LISTENING. SpeechStart only
// matters while SPEAKING in REALTIME mode, where it is the barge-in signal
// that cuts TTS playback short (spec.md §4.8's Speaking->Aborting edge,
// S2's "Interruption during TTS" scenario); elsewhere it is ignored since
// capture already runs continuously and there is no edge for it.
func handleVADEvent(ev vad.Event, sess *session.Machine) {
	switch ev {
	case vad.SpeechStart:
		if sess.State() == session.Speaking && sess.Mode() == session.Realtime {
			sess.Fire(session.TriggerUserInterrupt)
		}
	case vad.EndOfUtterance:
		sess.Fire(session.TriggerEndOfUtterance)
	}
}

func handleSessionEvent(ev session.Event, engine *audioio.Engine, notifier *notify.Player) {
	switch ev.To {
	case session.Listening:
		engine.SetTransmitting(true)
		notifier.Play(notify.SoundWakeDetected, nil)
	case session.Idle:
		engine.SetTransmitting(false)
	case session.Aborting:
		engine.SetTransmitting(false)
	}
}

// handleWireMessage dispatches one inbound text message, which is either a
// session-lifecycle message (discriminated by its "type" field) or a
// JSON-RPC 2.0 tool call (discriminated by its "method" field) per
// spec.md §4.9's "iot"/"mcp" method family note.
func handleWireMessage(ctx context.Context, payload []byte, tr transport.Transport, disp *dispatch.Dispatcher, sess *session.Machine, logger *zap.Logger) {
	var req wire.Request
	if err := json.Unmarshal(payload, &req); err == nil && req.Method != "" {
		resp := disp.Handle(ctx, req)
		out, err := json.Marshal(resp)
		if err != nil {
			logger.Warn("marshal tool response failed", zap.Error(err))
			return
		}
		if err := tr.SendText(ctx, out); err != nil {
			logger.Warn("send tool response failed", zap.Error(err))
		}
		return
	}

	typ, err := wire.ParseType(payload)
	if err != nil {
		logger.Warn("malformed wire message", zap.Error(err))
		return
	}
	switch typ {
	case "tts":
		var tts wire.TTS
		if err := json.Unmarshal(payload, &tts); err != nil {
			logger.Warn("malformed tts message", zap.Error(err))
			return
		}
		// Only "stop" ends the turn; "start"/"sentence_start" bracket each
		// sentence of a multi-sentence reply and must not bounce the
		// session back to LISTENING mid-utterance (spec.md §6).
		if tts.State == wire.TTSStop {
			sess.Fire(session.TriggerTurnEnd)
		}
	case "abort":
		sess.Fire(session.TriggerAbortAck)
	default:
		logger.Warn("unrecognized wire message type", zap.String("type", typ))
	}
}

// registerTools wires the built-in device-control tools the dispatcher
// exposes to the remote model, per spec.md §4.9.
func registerTools(disp *dispatch.Dispatcher, engine *audioio.Engine, sess *session.Machine) {
	disp.Register(&dispatch.Tool{
		Name:        "abort_turn",
		Description: "Abort the current speaking turn.",
		Handler: func(ctx context.Context, arguments json.RawMessage) (*mcp.CallToolResult, error) {
			if err := sess.Fire(session.TriggerUserInterrupt); err != nil {
				return mcp.NewToolResultText("no active turn to abort"), nil
			}
			return mcp.NewToolResultText("aborted"), nil
		},
	})

	disp.Register(&dispatch.Tool{
		Name:        "get_session_state",
		Description: "Report the current session lifecycle state.",
		Handler: func(ctx context.Context, arguments json.RawMessage) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(sess.State().String()), nil
		},
	})
}
