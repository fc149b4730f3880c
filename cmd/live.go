// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"spectro/internal/apperr"
	"spectro/internal/audio"
	"spectro/internal/frame"
	"spectro/internal/log"
	"spectro/internal/producer"
	"spectro/internal/render"
	"spectro/internal/spectral"
	"spectro/internal/store"
	"spectro/internal/transport"
	"spectro/internal/transport/udp"
	"spectro/internal/tui"

	"github.com/spf13/cobra"
)

// monitorQueue bounds the frames waiting for the terminal monitor.
const monitorQueue = 64

type liveOptions struct {
	pick     bool
	monitor  bool
	record   string
	snapshot string
	duration time.Duration
}

func newLiveCommand(a *app) *cobra.Command {
	var opts liveOptions
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Capture from an input device and stream spectrogram frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLiveFlags(cmd, a)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.runLive(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.IntP("device", "d", audio.DefaultDeviceID, "Input device ID; see 'devices'")
	f.IntP("sample-rate", "s", 0, "Sample rate in Hz")
	f.IntP("channels", "c", 0, "Number of channels to capture")
	f.BoolP("low-latency", "l", false, "Size buffers from the device's low input latency")
	f.Float64("gate", 0, "Skip frames whose peak is below this fraction of full scale")
	f.String("websocket", "", "Serve frames over WebSocket on this address, e.g. :8080")
	f.Bool("udp", false, "Publish frames over UDP")
	f.String("udp-target", "", "UDP target address")
	f.BoolVarP(&opts.pick, "pick", "p", false, "Choose the device interactively")
	f.BoolVarP(&opts.monitor, "monitor", "m", false, "Show the terminal spectrum monitor")
	f.StringVarP(&opts.record, "record", "r", "", "Also record the input to this WAV file (\"auto\" names it)")
	f.StringVar(&opts.snapshot, "snapshot", "", "Render the frames held in memory to this PNG on exit")
	f.DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

// applyLiveFlags copies explicitly set flags over the loaded configuration.
func applyLiveFlags(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	if f.Changed("device") {
		a.cfg.Audio.Device, _ = f.GetInt("device")
	}
	if f.Changed("sample-rate") {
		a.cfg.Audio.SampleRate, _ = f.GetInt("sample-rate")
	}
	if f.Changed("channels") {
		a.cfg.Audio.Channels, _ = f.GetInt("channels")
	}
	if f.Changed("low-latency") {
		a.cfg.Audio.LowLatency, _ = f.GetBool("low-latency")
	}
	if f.Changed("gate") {
		a.cfg.Audio.GateThreshold, _ = f.GetFloat64("gate")
	}
	if f.Changed("websocket") {
		a.cfg.Transport.WebSocketAddr, _ = f.GetString("websocket")
	}
	if f.Changed("udp") {
		a.cfg.Transport.UDPEnabled, _ = f.GetBool("udp")
	}
	if f.Changed("udp-target") {
		a.cfg.Transport.UDPTarget, _ = f.GetString("udp-target")
	}
}

// openSinks builds the configured network sinks.
func openSinks(cfg *liveSinkConfig) (transport.Fanout, error) {
	sinks := transport.Fanout{&transport.LogSink{Every: 100}}
	if cfg.websocketAddr != "" {
		ws := transport.NewWebSocketSink()
		if _, err := ws.ListenAndServe(cfg.websocketAddr); err != nil {
			sinks.Close()
			ws.Close()
			return nil, fmt.Errorf("websocket: %w", err)
		}
		sinks = append(sinks, ws)
	}
	if cfg.udpEnabled {
		sender, err := udp.NewSender(cfg.udpTarget)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		pub, err := udp.NewPublisher(cfg.udpInterval, sender)
		if err != nil {
			sender.Close()
			sinks.Close()
			return nil, err
		}
		pub.Start()
		sinks = append(sinks, pub)
	}
	return sinks, nil
}

type liveSinkConfig struct {
	websocketAddr string
	udpEnabled    bool
	udpTarget     string
	udpInterval   time.Duration
}

func (a *app) runLive(ctx context.Context, opts liveOptions) error {
	cfg := a.cfg
	if err := audio.Initialize(); err != nil {
		return apperr.New(apperr.CaptureInitFailed, "initialize audio", err)
	}
	defer audio.Terminate()

	if opts.pick {
		sel, err := tui.PickDevice()
		if err != nil {
			return err
		}
		if !sel.Chosen {
			return nil
		}
		cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.Channels = sel.DeviceID, sel.SampleRate, sel.Channels
	}

	var dev producer.Device = audio.NewDeviceSource(cfg.Audio.Device, cfg.Audio.LowLatency)
	recordPath := opts.record
	if recordPath == "auto" || (recordPath == "" && cfg.Recording.Enabled) {
		if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
			return apperr.ClassifyWrite("create recording directory", cfg.Recording.OutputDir, err)
		}
		recordPath = filepath.Join(cfg.Recording.OutputDir,
			"recording-"+time.Now().UTC().Format("02-01-2006-150405")+".wav")
	}
	if recordPath != "" {
		dev = audio.NewRecorder(dev, recordPath)
	}

	st := store.New(cfg.Store.Options())
	st.OnMemoryWarning(func(msg string) { log.Warnf("%s", msg) })
	st.Start()
	defer st.Close()

	errs := make(chan error, 1)
	appender := store.NewAppender(st, func(err error) {
		log.Errorf("Store: %s", apperr.UserMessage(err))
	})

	sinks, err := openSinks(&liveSinkConfig{
		websocketAddr: cfg.Transport.WebSocketAddr,
		udpEnabled:    cfg.Transport.UDPEnabled,
		udpTarget:     cfg.Transport.UDPTarget,
		udpInterval:   cfg.Transport.UDPInterval,
	})
	if err != nil {
		return err
	}
	defer sinks.Close()

	var monitor chan frame.Frame
	if opts.monitor {
		monitor = make(chan frame.Frame, monitorQueue)
	}
	onFrame := func(f frame.Frame) {
		appender.Add(f)
		sinks.Publish(f)
		if monitor != nil {
			select {
			case monitor <- f:
			default:
			}
		}
	}

	prod := producer.New(spectral.NewEngine(),
		producer.WithBufferPolicy(cfg.Audio.BufferPolicy()),
		producer.WithReadPause(cfg.Audio.ReadPause),
		producer.WithGateThreshold(cfg.Audio.GateThreshold),
		producer.WithErrorHandler(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	if err := prod.Start(dev, cfg.Audio.Capture(), onFrame); err != nil {
		return err
	}
	session := prod.Config()
	log.Infof("Capturing at %d Hz, %d channels, %d byte buffers", session.SampleRate, session.Channels, session.BufferSizeBytes)
	if recordPath != "" {
		fmt.Fprintf(a.out, "Recording to %s\n", recordPath)
	}

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	var runErr error
	if opts.monitor {
		mctx, closeMonitor := context.WithCancel(ctx)
		stopped := make(chan error, 1)
		go func() {
			var err error
			select {
			case <-mctx.Done():
			case err = <-errs:
			}
			prod.Stop()
			close(monitor)
			stopped <- err
		}()
		runErr = tui.RunMonitor(monitor, tui.MonitorOptions{Stats: st.Stats, Recording: recordPath})
		closeMonitor()
		if err := <-stopped; runErr == nil {
			runErr = err
		}
	} else {
		select {
		case <-ctx.Done():
		case runErr = <-errs:
		}
		prod.Stop()
	}
	// A capture failure can race the shutdown.
	select {
	case err := <-errs:
		if runErr == nil {
			runErr = err
		}
	default:
	}

	if err := appender.Flush(); err != nil {
		log.Warnf("Flushing frames: %s", apperr.UserMessage(err))
	}
	stats := st.Stats()
	fmt.Fprintf(a.out, "Captured %d frames in memory (%d pages, %.1f%% of cap)\n",
		stats.TotalFrames, stats.CachedPageCount, stats.UsageRatio()*100)

	if opts.snapshot != "" {
		if err := writeSnapshot(st, cfg.Render.Options(), opts.snapshot); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Snapshot written to %s\n", opts.snapshot)
	}
	return runErr
}

// writeSnapshot renders every frame still held by st.
func writeSnapshot(st *store.Store, opts render.Options, path string) error {
	canvas := render.NewSpectrogram(opts)
	for _, f := range st.GetFramesInRange(math.MinInt64, math.MaxInt64, 0) {
		canvas.Add(f)
	}
	return canvas.WritePNG(path)
}
