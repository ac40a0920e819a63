package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/cmd/mqttc/app/options"
)

// PubOptions are the flags of the pub command.
type PubOptions struct {
	options.ClientOptions `mapstructure:",squash"`

	Topic    string        `mapstructure:"topic"`
	Message  string        `mapstructure:"message"`
	File     string        `mapstructure:"file"`
	Stdin    bool          `mapstructure:"stdin"`
	QoS      int           `mapstructure:"qos"`
	Retain   bool          `mapstructure:"retain"`
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

// NewPubOptions returns the defaults of the pub command.
func NewPubOptions() *PubOptions {
	return &PubOptions{
		ClientOptions: *options.NewClientOptions(),
		Count:         1,
	}
}

// Validate checks the flag combination.
func (o *PubOptions) Validate() []error {
	errs := o.ClientOptions.Validate()

	if err := mqttclient.ValidateTopicName(o.Topic); err != nil {
		errs = append(errs, fmt.Errorf("topic %q: %w", o.Topic, err))
	}
	if o.QoS < 0 || o.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos %d out of range", o.QoS))
	}
	if o.Count < 1 {
		errs = append(errs, fmt.Errorf("count %d must be positive", o.Count))
	}
	if o.Interval < 0 {
		errs = append(errs, errors.New("negative interval"))
	}

	sources := 0
	for _, set := range []bool{o.Message != "", o.File != "", o.Stdin} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, errors.New("message, file and stdin are mutually exclusive"))
	}

	return errs
}

// payload reads the message body from the selected source.
func (o *PubOptions) payload(stdin io.Reader) ([]byte, error) {
	switch {
	case o.File != "":
		data, err := os.ReadFile(o.File)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	case o.Stdin:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	default:
		return []byte(o.Message), nil
	}
}

func newPubCommand() *cobra.Command {
	o := NewPubOptions()

	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Publish a message",
		Long: `Publish a message to a topic.

The payload comes from --message, --file or standard input (--stdin). With
--count above one the same payload is published repeatedly, --interval apart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadOptions(cmd, o); err != nil {
				return err
			}
			if err := errors.Join(o.Validate()...); err != nil {
				return err
			}
			return runPub(cmd, o)
		},
	}

	fs := cmd.Flags()
	o.ClientOptions.AddFlags(fs)
	fs.StringVarP(&o.Topic, "topic", "t", o.Topic, "Topic to publish to.")
	fs.StringVarP(&o.Message, "message", "m", o.Message, "Message payload.")
	fs.StringVarP(&o.File, "file", "f", o.File, "Read the payload from a file.")
	fs.BoolVarP(&o.Stdin, "stdin", "s", o.Stdin, "Read the payload from standard input.")
	fs.IntVarP(&o.QoS, "qos", "q", o.QoS, "Quality of service (0, 1 or 2).")
	fs.BoolVarP(&o.Retain, "retain", "r", o.Retain, "Ask the broker to retain the message.")
	fs.IntVarP(&o.Count, "count", "n", o.Count, "Number of messages to publish.")
	fs.DurationVar(&o.Interval, "interval", o.Interval, "Pause between repeated messages.")

	return cmd
}

func runPub(cmd *cobra.Command, o *PubOptions) error {
	payload, err := o.payload(cmd.InOrStdin())
	if err != nil {
		return err
	}

	s, err := openSession(&o.ClientOptions)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := s.connect(ctx); err != nil {
		_ = s.close(disconnectTimeout)
		return err
	}

	err = publishRepeated(cmd, s, o, payload)
	if closeErr := s.close(disconnectTimeout); err == nil {
		err = closeErr
	}
	return err
}

func publishRepeated(cmd *cobra.Command, s *session, o *PubOptions, payload []byte) error {
	ctx := cmd.Context()

	for i := range o.Count {
		if i > 0 && o.Interval > 0 {
			select {
			case <-time.After(o.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := s.conn.Publish(ctx, o.Topic, payload, byte(o.QoS), o.Retain); err != nil {
			return fmt.Errorf("publish %d: %w", i+1, err)
		}
		s.logger.Debug("published", mqttclient.LogFields{
			"topic": o.Topic,
			"qos":   o.QoS,
			"bytes": len(payload),
		})
	}

	if flagsChanged(cmd.Flags(), "count") {
		writeLine(cmd.OutOrStdout(), "published %d messages to %s", o.Count, o.Topic)
	}
	return nil
}
