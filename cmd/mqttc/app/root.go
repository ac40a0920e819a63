// Package app implements the mqttc commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/cmd/mqttc/app/options"
)

// EnvPrefix prefixes the environment variables read by every command.
const EnvPrefix = "MQTTC"

// disconnectTimeout bounds the goodbye sent when a command ends.
const disconnectTimeout = 5 * time.Second

// NewRootCommand creates the mqttc command tree.
func NewRootCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mqttc",
		Short: "MQTT 3.1.1 command line client",
		Long: `mqttc publishes and subscribes against an MQTT 3.1 or 3.1.1 broker.

Every flag can also be set through an MQTTC_ environment variable
(--client-id is MQTTC_CLIENT_ID, --log.level is MQTTC_LOG_LEVEL) or a
YAML file given with --config.`,
		SilenceUsage: true,
	}
	cmd.SetContext(ctx)
	cmd.PersistentFlags().String("config", "", "YAML file with flag values.")

	cmd.AddCommand(newPubCommand(), newSubCommand())
	return cmd
}

// loadOptions resolves o from flags, environment and the config file, in that
// order of precedence.
func loadOptions(cmd *cobra.Command, o any) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return v.Unmarshal(o)
}

// session is the connection a command runs against.
type session struct {
	conn   *mqttclient.BlockingConnection
	zap    *zap.Logger
	logger mqttclient.Logger
}

func openSession(o *options.ClientOptions, extra ...mqttclient.Option) (*session, error) {
	zl, err := o.Log.Build()
	if err != nil {
		return nil, err
	}
	logger := mqttclient.NewZapLogger(zl)

	cfg, err := o.ToConfig(append([]mqttclient.Option{mqttclient.WithLogger(logger)}, extra...)...)
	if err != nil {
		_ = zl.Sync()
		return nil, err
	}

	conn, err := mqttclient.NewBlockingConnection(cfg)
	if err != nil {
		_ = zl.Sync()
		return nil, err
	}

	return &session{conn: conn, zap: zl, logger: logger}, nil
}

func (s *session) connect(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		var connErr *mqttclient.ConnectError
		if errors.As(err, &connErr) {
			return fmt.Errorf("broker refused connection: %w", err)
		}
		return err
	}

	s.logger.Info("connected", mqttclient.LogFields{"client_id": s.conn.ClientID()})
	return nil
}

// close disconnects with a fresh deadline so an interrupted command still
// says goodbye to the broker.
func (s *session) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.conn.Disconnect(ctx)
	if errors.Is(err, mqttclient.ErrAlreadyClosed) || errors.Is(err, mqttclient.ErrAlreadyFailed) {
		err = nil
	}
	_ = s.zap.Sync()
	return err
}

// flagsChanged reports whether any of names was set on the command line.
func flagsChanged(fs *pflag.FlagSet, names ...string) bool {
	for _, name := range names {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

func writeLine(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
