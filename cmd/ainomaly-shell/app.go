package main

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Xardimods/ainomaly/internal/backend"
	"github.com/Xardimods/ainomaly/internal/config"
	"github.com/Xardimods/ainomaly/internal/debugserver"
	"github.com/Xardimods/ainomaly/internal/dialog"
	"github.com/Xardimods/ainomaly/internal/events"
	"github.com/Xardimods/ainomaly/internal/flows"
	"github.com/Xardimods/ainomaly/internal/metrics"
	"github.com/Xardimods/ainomaly/internal/poll"
	"github.com/Xardimods/ainomaly/internal/state"
	"github.com/Xardimods/ainomaly/internal/supervisor"
	"github.com/Xardimods/ainomaly/internal/uistate"
)

const readyProbeInterval = 1 * time.Second

// application owns every long-lived component of the shell and enforces the
// startup and shutdown order between them.
type application struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	metrics *metrics.Metrics
	machine *state.Machine
	prefs   *uistate.Prefs
	sup     *supervisor.Supervisor
	client  *backend.Client

	registry     *poll.Registry
	statusStore  *poll.StatusStore
	cameraStore  *poll.CameraStore
	historyStore *poll.HistoryStore
	mediaStore   *poll.MediaStore

	channel *events.Channel
	dialogs *dialog.Manager
	flows   *flows.Flows
	debug   *debugserver.Server
}

func newApplication(cfg *config.Config, logger *zap.SugaredLogger) *application {
	m := metrics.New()
	machine := state.NewMachine(logger)
	client := backend.NewClient(cfg.BackendURL, logger,
		backend.WithTimeout(cfg.RequestTimeout),
		backend.WithMalformedHook(m.AlertsDropped.Inc))

	registry := poll.NewRegistry(logger, m)
	statusStore := poll.NewStatusStore()
	cameraStore := poll.NewCameraStore()
	historyStore := poll.NewHistoryStore()
	mediaStore := poll.NewMediaStore()

	dialogs := dialog.NewManager(logger, m)
	cameraActions := poll.NewCameraActions(client, registry)
	historyActions := poll.NewHistoryActions(client, registry, historyStore)
	mediaActions := poll.NewMediaActions(client, registry, mediaStore)

	return &application{
		cfg:    cfg,
		logger: logger,
		// One handle for the whole session. The spawn configuration arrives
		// through Reconfigure in launchBackend and again on each retry.
		sup:          supervisor.New(supervisor.Config{}, logger),
		metrics:      m,
		machine:      machine,
		client:       client,
		registry:     registry,
		statusStore:  statusStore,
		cameraStore:  cameraStore,
		historyStore: historyStore,
		mediaStore:   mediaStore,
		channel:      events.New(logger, m),
		dialogs:      dialogs,
		flows:        flows.New(dialogs, client, cameraActions, historyActions, mediaActions, logger),
	}
}

// run brings the shell up, blocks until ctx is cancelled, then tears the
// components down in reverse dependency order.
func (a *application) run(ctx context.Context) error {
	a.machine.Start()

	a.openPrefs()
	a.launchBackend(ctx)
	if !a.cfg.SkipSpawn {
		go a.watchExits(ctx)
	}
	a.connect(ctx)

	if a.cfg.DebugListen != "" {
		a.debug = debugserver.New(a.cfg.DebugListen, a.machine, a.sup, a.metrics, a.logger)
		if !a.cfg.SkipSpawn {
			a.debug.SetRetryHandler(func() error { return a.retryBackend(ctx) })
		}
		a.debug.Start()
	}

	go a.watchDialogRequests(ctx)
	go a.watchTransitions(ctx)

	<-ctx.Done()
	a.shutdown()
	return nil
}

func (a *application) openPrefs() {
	prefs, err := uistate.Open(filepath.Join(a.cfg.DataDir, "ui_prefs.db"), a.logger)
	if err != nil {
		a.logger.Warnw("UI preferences unavailable, using defaults", zap.Error(err))
		return
	}
	a.prefs = prefs
	a.logger.Debugw("UI preferences loaded",
		"theme", prefs.Theme(),
		"language", prefs.Language())
}

// launchBackend spawns the detection backend unless the shell was told to
// attach to an external one. Spawn failures leave the machine in its error
// state; the shell keeps running so the ops endpoint can report what broke.
func (a *application) launchBackend(ctx context.Context) {
	if a.cfg.SkipSpawn {
		a.logger.Info("Skipping backend spawn, connecting to external instance")
		a.machine.Send(state.EventSkipSpawn)
		return
	}

	a.machine.Send(state.EventStart)

	if err := a.configureSpawn(); err != nil {
		a.logger.Errorw("Cannot resolve backend location", zap.Error(err))
		a.machine.Send(state.EventSpawnFailed)
		return
	}
	if err := a.sup.Start(); err != nil {
		a.logger.Errorw("Backend spawn failed", zap.Error(err))
		a.machine.Send(state.EventSpawnFailed)
		return
	}
	a.metrics.BackendSpawns.Inc()
	a.machine.Send(state.EventBackendStarted)
}

// configureSpawn resolves the installation layout and applies it to the
// supervisor. Resolved fresh on every attempt so a fix made after a failed
// launch, like installing the interpreter, is picked up by the next retry.
func (a *application) configureSpawn() error {
	spawnCfg, err := supervisor.ResolveConfig(a.cfg.Packaged)
	if err != nil {
		return err
	}
	if a.cfg.PythonInterpreter != "" {
		spawnCfg.Interpreter = a.cfg.PythonInterpreter
	}
	return a.sup.Reconfigure(spawnCfg)
}

// retryBackend relaunches the backend after a spawn error, driven by the
// debug endpoint. The ready probe runs in the background so the HTTP
// response returns as soon as the process is up.
func (a *application) retryBackend(ctx context.Context) error {
	if err := a.configureSpawn(); err != nil {
		a.logger.Errorw("Cannot resolve backend location", zap.Error(err))
		return err
	}
	a.machine.Send(state.EventRetry)
	if err := a.sup.Start(); err != nil {
		a.logger.Errorw("Backend relaunch failed", zap.Error(err))
		a.machine.Send(state.EventSpawnFailed)
		return err
	}
	a.metrics.BackendSpawns.Inc()
	a.machine.Send(state.EventBackendStarted)

	go func() {
		if a.waitForReady(ctx) {
			a.machine.Send(state.EventBackendReady)
			a.applyNotificationSettings(ctx)
		} else if ctx.Err() == nil {
			a.logger.Errorw("Relaunched backend never became ready",
				"timeout", a.cfg.ReadyTimeout)
			a.machine.Send(state.EventSpawnFailed)
		}
	}()
	return nil
}

func (a *application) watchExits(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-a.sup.Exits():
			outcome := "crash"
			if info.Code == 0 {
				outcome = "clean"
			}
			a.metrics.BackendExits.WithLabelValues(outcome).Inc()
			a.logger.Warnw("Backend process exited",
				"code", info.Code,
				"signal", info.Signal)
			a.machine.Send(state.EventBackendExited)
		}
	}
}

// connect waits for the backend to answer HTTP, then starts the event stream
// and the polling loops. Ready probing is skipped when the launch already
// failed, and the polling loops start regardless so recovery is automatic
// once someone fixes the backend and hits retry.
func (a *application) connect(ctx context.Context) {
	if a.machine.Current() != state.StateSpawnError {
		if a.waitForReady(ctx) {
			a.machine.Send(state.EventBackendReady)
			a.applyNotificationSettings(ctx)
		} else if ctx.Err() == nil {
			a.logger.Errorw("Backend never became ready",
				"timeout", a.cfg.ReadyTimeout)
			a.machine.Send(state.EventSpawnFailed)
		}
	}

	a.channel.Start(ctx, a.client.Events())
	a.client.StartEvents(ctx)
	go a.watchConnection(ctx)

	if err := a.registry.StartStatus(ctx, a.client, a.statusStore); err != nil {
		a.logger.Errorw("Status polling failed to start", zap.Error(err))
	}
	if err := a.registry.StartCameras(ctx, a.client, a.cameraStore); err != nil {
		a.logger.Errorw("Camera polling failed to start", zap.Error(err))
	}
	if err := a.registry.StartHistory(ctx, a.client, a.historyStore); err != nil {
		a.logger.Errorw("History polling failed to start", zap.Error(err))
	}
	if err := a.registry.StartMedia(ctx, a.client, a.mediaStore); err != nil {
		a.logger.Errorw("Media polling failed to start", zap.Error(err))
	}
}

func (a *application) waitForReady(ctx context.Context) bool {
	deadline := time.Now().Add(a.cfg.ReadyTimeout)
	ticker := time.NewTicker(readyProbeInterval)
	defer ticker.Stop()

	for {
		if _, err := a.client.GetStatus(ctx); err == nil {
			return true
		} else if !errors.Is(err, backend.ErrUnreachable) {
			a.logger.Debugw("Ready probe failed", zap.Error(err))
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// applyNotificationSettings propagates the backend-configured banner duration
// to the event channel. Missing settings are not fatal, the built-in default
// applies.
func (a *application) applyNotificationSettings(ctx context.Context) {
	settings, err := a.client.GetAlertSettings(ctx)
	if err != nil {
		a.logger.Debugw("Alert settings unavailable at startup", zap.Error(err))
		return
	}
	if settings.NotificationDuration > 0 {
		a.channel.SetDefaultDuration(time.Duration(settings.NotificationDuration) * time.Second)
	}
}

// watchConnection translates event-stream connectivity into machine events.
func (a *application) watchConnection(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cs, ok := <-a.client.ConnectionStates():
			if !ok {
				return
			}
			switch cs {
			case backend.StateConnected:
				a.machine.Send(state.EventReconnected)
			case backend.StateReconnecting, backend.StateDisconnected:
				a.machine.Send(state.EventConnectionLost)
			}
		}
	}
}

// watchDialogRequests drains the dialog request stream when no renderer is
// attached yet. Requests stay pending in the manager until resolved, this
// only keeps the channel from filling up with stale displays.
func (a *application) watchDialogRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.dialogs.Requests():
			a.logger.Infow("Dialog awaiting user",
				"id", req.ID,
				"kind", req.Kind,
				"title", req.Title)
		}
	}
}

func (a *application) watchTransitions(ctx context.Context) {
	sub := a.machine.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-sub:
			a.logger.Infow("Shell state changed",
				"from", t.From,
				"to", t.To,
				"event", t.Event,
				"label", t.To.Label())
		}
	}
}

// shutdown tears components down in reverse order: stop accepting user
// decisions, stop polling, stop the event surfaces, then the process, then
// the ops endpoint and local stores.
func (a *application) shutdown() {
	a.logger.Info("Shutting down")
	a.machine.Send(state.EventShutdown)

	a.registry.StopAll()
	a.channel.Close()
	a.client.StopEvents()

	if a.sup != nil {
		if err := a.sup.Stop(); err != nil {
			a.logger.Warnw("Backend stop reported error", zap.Error(err))
		}
	}

	if a.debug != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.debug.Shutdown(shutdownCtx); err != nil {
			a.logger.Warnw("Debug server shutdown error", zap.Error(err))
		}
		cancel()
	}

	if a.prefs != nil {
		if err := a.prefs.Close(); err != nil {
			a.logger.Warnw("Preference store close error", zap.Error(err))
		}
	}

	a.machine.Shutdown()
}
