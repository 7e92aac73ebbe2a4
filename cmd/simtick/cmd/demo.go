package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sablecraft/simtick/logging"
	"github.com/sablecraft/simtick/monitoring"
	"github.com/sablecraft/simtick/tick"
)

var (
	demoDuration time.Duration
	demoSpeed    string
	monitorOn    bool
	monitorPort  int
	openBrowser  bool
)

// shopState is the toy economy advanced by the demo.
type shopState struct {
	funds     float64
	customers int
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a toy shop economy on the tick engine.",
	RunE: func(_ *cobra.Command, _ []string) error {
		logger := logging.New(logPath, debug)
		defer func() { _ = logger.Sync() }()

		cfg := tick.LoadConfig(configPath)
		sink := tick.NewZapSink(logger)

		source := tick.NewHostTimeSource(
			time.Duration(cfg.RefreshIntervalMs * float64(time.Millisecond)))
		defer source.Stop()

		schedule := tick.NewEventSchedule(sink)
		engine := tick.NewEngine(cfg, source, schedule, sink, logger)
		engine.SetSpeed(tick.ParseSpeed(demoSpeed))

		shop := &shopState{}

		schedule.ScheduleRecurring("report", 10, 10, func(now uint64) {
			logger.Info("shop report",
				zap.Uint64("tick", now),
				zap.Float64("funds", shop.funds),
				zap.Int("customers", shop.customers))
		})

		engine.OnAutoSave(func() {
			logger.Info("auto-save", zap.Uint64("tick", engine.TickCount()))
		})

		if monitorOn {
			monitor := monitoring.NewMonitor().WithLogger(logger)
			if monitorPort != 0 {
				monitor = monitor.WithPortNumber(monitorPort)
			}
			if openBrowser {
				monitor = monitor.WithBrowser()
			}
			monitor.RegisterEngine(engine)
			if _, err := monitor.StartServer(); err != nil {
				return err
			}
		}

		engine.Start(func(ticks int) error {
			shop.customers += ticks
			shop.funds += 2.5 * float64(ticks)
			return nil
		})

		time.Sleep(demoDuration)
		engine.Stop()

		logger.Info("demo finished",
			zap.Uint64("ticks", engine.TickCount()),
			zap.Float64("funds", shop.funds))

		return engine.Err()
	},
}

func init() {
	demoCmd.Flags().DurationVar(&demoDuration, "duration", 30*time.Second,
		"how long to run the demo")
	demoCmd.Flags().StringVar(&demoSpeed, "speed", "normal",
		"speed setting: paused, normal, fast, or turbo")
	demoCmd.Flags().BoolVar(&monitorOn, "monitor", false,
		"start the monitoring HTTP server")
	demoCmd.Flags().IntVar(&monitorPort, "port", 0,
		"monitoring server port (random when unset)")
	demoCmd.Flags().BoolVar(&openBrowser, "open", false,
		"open the monitor in a browser")

	rootCmd.AddCommand(demoCmd)
}
