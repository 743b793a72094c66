// Command dimmerd regulates the PWM dimmer outputs and reports faults and
// telemetry to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/dimmer-regulator/internal/config"
	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/hal"
	"github.com/sweeney/dimmer-regulator/internal/measure"
	"github.com/sweeney/dimmer-regulator/internal/mqtt"
	"github.com/sweeney/dimmer-regulator/internal/regulation"
	"github.com/sweeney/dimmer-regulator/internal/status"
	"github.com/sweeney/dimmer-regulator/internal/store"
	"github.com/sweeney/dimmer-regulator/internal/web"
)

// commTimeoutSeconds is how long the broker may be unreachable before a
// communication timeout is raised.
const commTimeoutSeconds = 30

func main() {
	configPath := flag.String("config", "/etc/dimmer-regulator/config.yaml", "Config file")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	simulate := flag.Bool("simulate", false, "Run against a simulated output stage")
	printState := flag.Bool("print-state", false, "Print the analog inputs of every channel and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	switch *httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = *httpAddr
	}

	if err := run(cfg, *simulate, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, simulate, printState bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	layout := hal.DefaultLayout(regulation.NumChannels)
	hw, err := openHardware(cfg, layout, simulate)
	if err != nil {
		return fmt.Errorf("init hardware: %w", err)
	}
	defer hw.Close()

	if printState {
		return printChannels(hw)
	}

	ws := resolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker)
	tracker := status.NewTracker(time.Now(), status.Config{
		MeasurementMs: cfg.Cadence.Measurement.Milliseconds(),
		ControllerMs:  cfg.Cadence.Controller.Milliseconds(),
		FaultsMs:      cfg.Cadence.Faults.Milliseconds(),
		HeartbeatMs:   cfg.Cadence.Heartbeat.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		TopicPrefix:   cfg.MQTT.TopicPrefix,
		HTTPPort:      cfg.HTTP.Addr,
		WSBroker:      ws,
		Simulated:     simulate,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Commands arrive on paho's goroutine before the engine exists, so
	// they are queued and applied by the loop.
	commands := make(chan mqtt.Command, cfg.Regulation.MailboxSize)
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		OnCommand: func(c mqtt.Command) {
			select {
			case commands <- c:
			default:
				log.Printf("mqtt: command %q dropped, queue full", c.Command)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	handler := fault.NewHandler(trackingSink{sink: publisher, tracker: tracker}, func() {
		log.Printf("fault: broker unreachable for %ds", commTimeoutSeconds)
	})
	monitor := fault.NewMonitor(hw, layout, handler, cfg.FaultLimits())
	settings := store.NewFile(cfg.Store.Path)
	log.Print(describeChecks(monitor, settings))
	engine, err := regulation.New(regulation.Config{
		Hardware:    hw,
		Layout:      layout,
		Monitor:     monitor,
		Faults:      handler,
		Store:       settings,
		Tolerance:   cfg.Regulation.Tolerance,
		Smoothing:   cfg.Regulation.Smoothing,
		MailboxSize: cfg.Regulation.MailboxSize,
	})
	if err != nil {
		return fmt.Errorf("init regulation: %w", err)
	}
	tracker.Update(engine.Snapshot())

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, engine)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: measurement=%v controller=%v faults=%v heartbeat=%v broker=%s supply=%dmV simulate=%t",
		cfg.Cadence.Measurement, cfg.Cadence.Controller, cfg.Cadence.Faults, cfg.Cadence.Heartbeat,
		cfg.MQTT.Broker, cfg.Supply.Millivolts, simulate)

	measurement := time.NewTicker(cfg.Cadence.Measurement)
	defer measurement.Stop()
	controller := time.NewTicker(cfg.Cadence.Controller)
	defer controller.Stop()
	faults := time.NewTicker(cfg.Cadence.Faults)
	defer faults.Stop()
	second := time.NewTicker(cfg.Cadence.Second)
	defer second.Stop()
	t := ticks{
		measurement: measurement.C,
		controller:  controller.C,
		faults:      faults.C,
		second:      second.C,
	}
	if cfg.Cadence.Heartbeat > 0 {
		heartbeat := time.NewTicker(cfg.Cadence.Heartbeat)
		defer heartbeat.Stop()
		t.heartbeat = heartbeat.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		engine:     engine,
		handler:    handler,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		commands:   commands,
		supplyMV:   cfg.Supply.Millivolts,
	}
	return runLoop(d, t, time.Now, sigCh)
}

func openHardware(cfg *config.Config, layout hal.Layout, simulate bool) (hal.Hardware, error) {
	if simulate {
		log.Printf("hal: simulating the output stage")
		return hal.NewFake(layout, cfg.Hardware.Period), nil
	}
	lc, err := cfg.LinuxConfig()
	if err != nil {
		return nil, err
	}
	hw, err := hal.NewLinux(layout, lc)
	if err != nil {
		return nil, err
	}
	return hw, nil
}

func printChannels(hw hal.Hardware) error {
	for ch := 0; ch < regulation.NumChannels; ch++ {
		v, err := hw.ReadAnalog(ch, hal.Voltage)
		if err != nil {
			return fmt.Errorf("read channel %d: %w", ch, err)
		}
		c, err := hw.ReadAnalog(ch, hal.Current)
		if err != nil {
			return fmt.Errorf("read channel %d: %w", ch, err)
		}
		tc, err := hw.ReadAnalog(ch, hal.Temperature)
		if err != nil {
			return fmt.Errorf("read channel %d: %w", ch, err)
		}
		fmt.Printf("CH%d: sense=%d (%d mV) current=%d (%d mA) temperature=%.1f C\n",
			ch, v, measure.CountsToMillivolts(v), c, measure.CountsToMilliamps(c),
			float64(measure.CountsToTemperature(tc))/10)
	}
	return nil
}

// trackingSink counts every report in the status tracker before
// publishing it.
type trackingSink struct {
	sink    fault.Sink
	tracker *status.Tracker
}

func (s trackingSink) Report(r fault.Report) error {
	log.Printf("fault: reporting %s (0x%04X)", r.Name, r.ID)
	s.tracker.RecordFault(r)
	return s.sink.Report(r)
}

// ticks carries the scheduler cadences. A nil channel never fires.
type ticks struct {
	measurement <-chan time.Time
	controller  <-chan time.Time
	faults      <-chan time.Time
	second      <-chan time.Time
	heartbeat   <-chan time.Time
}

// daemon holds the collaborators driven by runLoop. Everything except
// the tracker and the publisher is touched only from the loop goroutine.
type daemon struct {
	engine     *regulation.Engine
	handler    *fault.Handler
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	commands   <-chan mqtt.Command
	supplyMV   uint32 // zero discovers the supply from channel 0

	reduced      bool
	offlineSince int // seconds
}

// describeChecks summarises the port check and settings location for the
// startup log.
func describeChecks(m *fault.Monitor, st *store.File) string {
	ports := "on"
	if !m.PortValidation() {
		ports = "off"
	}
	return fmt.Sprintf("fault: port validation %s, settings %s", ports, st.Path())
}

func runLoop(d *daemon, t ticks, now func() time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if err := d.engine.FlushSettings(); err != nil {
				log.Printf("store: %v", err)
			}
			d.refresh()
			snap := d.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case c := <-d.commands:
			if err := c.Apply(d.engine); err != nil {
				log.Printf("mqtt: command %q: %v", c.Command, err)
			}

		case <-t.measurement:
			d.engine.TickMeasurement()

		case <-t.controller:
			d.engine.TickController()

		case <-t.faults:
			d.engine.TickFaultChecks()
			d.handler.TickDebounce()

		case <-t.second:
			d.tickSecond()

		case <-t.heartbeat:
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			d.refresh()
			snap := d.tracker.Snapshot()
			hbEvent := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := d.publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
			if err := d.publisher.PublishTelemetry(status.FormatTelemetry(snap)); err != nil {
				log.Printf("telemetry publish error: %v", err)
			}
		}
	}
}

// tickSecond runs the once-per-second housekeeping: retry timer,
// corrective action, settings flush, supply discovery and broker watch.
func (d *daemon) tickSecond() {
	reduce := d.handler.RetryTimeout() > 0
	if reduce != d.reduced {
		if err := d.engine.SetOutputReduced(reduce); err != nil {
			log.Printf("regulation: reduce output: %v", err)
		} else {
			d.reduced = reduce
		}
	}
	d.handler.TickSecond()

	if err := d.engine.FlushSettings(); err != nil {
		log.Printf("store: %v", err)
	}

	snap := d.engine.Snapshot()
	if snap.SystemVoltage == 0 {
		if mv := d.systemVoltage(snap); mv != 0 {
			log.Printf("regulation: system voltage %d mV", mv)
			if err := d.engine.NotifySystemVoltage(mv); err != nil {
				log.Printf("regulation: notify system voltage: %v", err)
			}
		}
	}

	if d.mqttStatus != nil {
		if d.mqttStatus.IsConnected() {
			d.offlineSince = 0
		} else {
			d.offlineSince++
			if d.offlineSince == commTimeoutSeconds {
				d.handler.Raise(fault.CommunicationTimeout)
			}
		}
	}

	d.refresh()
}

// systemVoltage returns the configured supply, or measures it on the
// voltage sense input of channel 0 while every channel is off. Zero means
// not known yet.
func (d *daemon) systemVoltage(snap regulation.Snapshot) uint32 {
	if d.supplyMV != 0 {
		return d.supplyMV
	}
	for _, c := range snap.Channels {
		if c.State != regulation.Off || c.HardwareEnabled {
			return 0
		}
	}
	return measure.CountsToMillivolts(snap.Channels[0].RawVoltageCount)
}

func (d *daemon) refresh() {
	d.tracker.Update(d.engine.Snapshot())
	d.tracker.SetRetry(d.handler.Pending(), d.handler.RetryTimeout(), d.handler.RetryCount())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or
// empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
