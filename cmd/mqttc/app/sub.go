package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/cmd/mqttc/app/options"
	"github.com/vitalvas/mqttclient/extensions/router"
)

// SubOptions are the flags of the sub command.
type SubOptions struct {
	options.ClientOptions `mapstructure:",squash"`

	Topics      []string      `mapstructure:"topic"`
	QoS         int           `mapstructure:"qos"`
	Count       int           `mapstructure:"count"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Verbose     bool          `mapstructure:"verbose"`
	NoColor     bool          `mapstructure:"no-color"`
	MetricsAddr string        `mapstructure:"metrics-addr"`
}

// NewSubOptions returns the defaults of the sub command.
func NewSubOptions() *SubOptions {
	return &SubOptions{
		ClientOptions: *options.NewClientOptions(),
	}
}

// Validate checks the flag combination.
func (o *SubOptions) Validate() []error {
	errs := o.ClientOptions.Validate()

	if len(o.Topics) == 0 {
		errs = append(errs, errors.New("at least one topic filter is required"))
	}
	for _, filter := range o.Topics {
		if err := mqttclient.ValidateTopicFilter(filter); err != nil {
			errs = append(errs, fmt.Errorf("topic %q: %w", filter, err))
		}
	}
	if o.QoS < 0 || o.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos %d out of range", o.QoS))
	}
	if o.Count < 0 {
		errs = append(errs, fmt.Errorf("count %d is negative", o.Count))
	}
	if o.Timeout < 0 {
		errs = append(errs, errors.New("negative timeout"))
	}

	return errs
}

func newSubCommand() *cobra.Command {
	o := NewSubOptions()

	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe to topic filters and print messages",
		Long: `Subscribe to one or more topic filters and print every message received.

The command runs until interrupted, until --count messages arrived, or until
no message arrived for --timeout. With --metrics-addr the connection metrics
are served in the Prometheus text format at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadOptions(cmd, o); err != nil {
				return err
			}
			if err := errors.Join(o.Validate()...); err != nil {
				return err
			}
			return runSub(cmd, o)
		},
	}

	fs := cmd.Flags()
	o.ClientOptions.AddFlags(fs)
	fs.StringSliceVarP(&o.Topics, "topic", "t", o.Topics, "Topic filter to subscribe to. Repeatable.")
	fs.IntVarP(&o.QoS, "qos", "q", o.QoS, "Maximum QoS requested for every filter.")
	fs.IntVarP(&o.Count, "count", "n", o.Count, "Exit after this many messages (0 is unlimited).")
	fs.DurationVarP(&o.Timeout, "timeout", "W", o.Timeout, "Exit when no message arrives for this long (0 waits forever).")
	fs.BoolVarP(&o.Verbose, "verbose", "v", o.Verbose, "Print the topic, QoS and flags of every message.")
	fs.BoolVar(&o.NoColor, "no-color", o.NoColor, "Disable colored output.")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "Serve Prometheus metrics on this address.")

	return cmd
}

func runSub(cmd *cobra.Command, o *SubOptions) error {
	ctx := cmd.Context()

	var extra []mqttclient.Option
	if o.MetricsAddr != "" {
		metrics, stop, err := serveMetrics(ctx, o.MetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
		extra = append(extra, mqttclient.WithMetrics(metrics))
	}

	s, err := openSession(&o.ClientOptions, extra...)
	if err != nil {
		return err
	}

	if err := s.connect(ctx); err != nil {
		_ = s.close(disconnectTimeout)
		return err
	}

	p := newPrinter(cmd.OutOrStdout(), o)
	r := router.New()
	for _, filter := range o.Topics {
		r.Handle(p.handler(filter), router.WithTopic(filter), router.WithSubscribeQoS(byte(o.QoS)))
	}
	r.NotFound(p.handler(""))

	err = subscribeAndReceive(ctx, s, r, p, o)
	if closeErr := s.close(disconnectTimeout); err == nil {
		err = closeErr
	}

	// An interrupt is the normal way to stop an unbounded subscription.
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func subscribeAndReceive(ctx context.Context, s *session, r *router.Router, p *printer, o *SubOptions) error {
	subs := r.Subscriptions()
	codes, err := s.conn.Subscribe(ctx, subs...)

	var subErr *mqttclient.SubscribeError
	switch {
	case errors.As(err, &subErr):
		p.subscriptions(subs, codes)
		if len(subErr.Refused) == len(subs) {
			return err
		}
		s.logger.Warn("some filters were refused", mqttclient.LogFields{"refused": subErr.Refused})
	case err != nil:
		return err
	default:
		if o.Verbose {
			p.subscriptions(subs, codes)
		}
	}

	for received := 0; o.Count == 0 || received < o.Count; received++ {
		msg, err := receive(ctx, s.conn, o.Timeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				s.logger.Info("no message within timeout", mqttclient.LogFields{"timeout": o.Timeout.String()})
				return nil
			}
			return err
		}
		r.Route(msg)
	}

	return nil
}

func receive(ctx context.Context, conn *mqttclient.BlockingConnection, timeout time.Duration) (*mqttclient.Message, error) {
	if timeout <= 0 {
		return conn.Receive(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Receive(ctx)
}

// serveMetrics exposes a fresh registry over HTTP until stop is called.
func serveMetrics(ctx context.Context, addr string) (mqttclient.Metrics, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := mqttclient.NewPrometheusMetrics(reg)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return metrics, stop, nil
}

// printer writes messages and subscription results to the command output.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	last    *mqttclient.Message

	topic  *color.Color
	filter *color.Color
	failed *color.Color
}

func newPrinter(out io.Writer, o *SubOptions) *printer {
	p := &printer{
		out:     out,
		verbose: o.Verbose,
		topic:   color.New(color.FgCyan, color.Bold),
		filter:  color.New(color.FgHiBlack),
		failed:  color.New(color.FgRed),
	}
	if o.NoColor {
		for _, c := range []*color.Color{p.topic, p.filter, p.failed} {
			c.DisableColor()
		}
	}
	return p
}

// handler prints messages routed through filter. An empty filter marks
// messages no subscription of this command matched. A message matching
// several filters is printed once, under the first.
func (p *printer) handler(filter string) router.Handler {
	return func(msg *mqttclient.Message) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if msg == p.last {
			return
		}
		p.last = msg

		if !p.verbose {
			writeLine(p.out, "%s", msg.Payload)
			return
		}

		flags := fmt.Sprintf("qos=%d", msg.QoS)
		if msg.Retain {
			flags += " retained"
		}
		if msg.Dup {
			flags += " dup"
		}

		via := filter
		if via == "" {
			via = "unmatched"
		}
		writeLine(p.out, "%s %s %s", p.topic.Sprint(msg.Topic), p.filter.Sprintf("[%s %s]", via, flags), msg.Payload)
	}
}

// subscriptions prints the SUBACK outcome per filter.
func (p *printer) subscriptions(subs []mqttclient.Subscription, codes []byte) {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("FILTER", "REQUESTED", "GRANTED")

	for i, sub := range subs {
		granted := "-"
		if i < len(codes) {
			if codes[i] == mqttclient.SubackFailure {
				granted = p.failed.Sprint("refused")
			} else {
				granted = fmt.Sprintf("%d", codes[i])
			}
		}
		table.AddRow(sub.TopicFilter, sub.QoS, granted)
	}

	p.mu.Lock()
	writeLine(p.out, "%s", table)
	p.mu.Unlock()
}
