package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kkiling/kafka-client/client"
	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/internal/backend"
	"github.com/kkiling/kafka-client/internal/config"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/kkiling/kafka-client/producer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

func setupLogger(l config.Logging) {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if l.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func main() {
	root := &cobra.Command{
		Use:           "kafkacli",
		Short:         "Read and write Kafka topics through consumer/producer sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = loaded
			setupLogger(cfg.Logging)
			client.RegisterMetrics(nil)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	root.AddCommand(getCmd(), iterateCmd(), sendCmd(), configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("kafkacli failed")
		stop()
		os.Exit(1)
	}
}

type consumeFlags struct {
	partition int32
	offset    string
	timeout   time.Duration
}

func (f *consumeFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int32VarP(&f.partition, "partition", "p", 0, "partition to read")
	cmd.Flags().StringVarP(&f.offset, "offset", "o", "stored", "start offset: stored, beginning, end or a number")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "max wait for one message (default session.timeout)")
}

func parseOffset(s string) (int64, error) {
	switch strings.ToLower(s) {
	case "", "stored":
		return consumer.OffsetStored, nil
	case "beginning":
		return consumer.OffsetBeginning, nil
	case "end":
		return consumer.OffsetEnd, nil
	}
	var off int64
	if _, err := fmt.Sscan(s, &off); err != nil || off < 0 {
		return 0, errors.Errorf("invalid offset %q", s)
	}
	return off, nil
}

func (f *consumeFlags) options(offset int64) []client.CallOption {
	timeout := f.timeout
	if timeout <= 0 {
		timeout = cfg.Session.Timeout
	}
	return []client.CallOption{
		client.WithPartition(f.partition),
		client.WithOffset(offset),
		client.WithTimeout(timeout),
	}
}

func newConsumerClient() (*client.Client, error) {
	handle, err := backend.NewConsumer(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create consumer")
	}
	return client.InitAsConsumer(handle, cfg.TopicDefaults(), client.WithFlushTimeout(cfg.Session.FlushTimeout)), nil
}

func printMessage(w io.Writer, m *client.Message) {
	fmt.Fprintf(w, "%s[%d]@%d\t%s\t%s\n", m.Topic(), m.Partition(), m.Offset(), m.Key(), m.Payload())
}

func getCmd() *cobra.Command {
	var f consumeFlags
	cmd := &cobra.Command{
		Use:   "get <topic>",
		Short: "Read one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseOffset(f.offset)
			if err != nil {
				return err
			}
			c, err := newConsumerClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			msg, err := c.GetMessage(cmd.Context(), args[0], f.options(offset)...)
			if err != nil {
				return err
			}
			if msg == nil {
				log.Info().Msgf("end of partition %s[%d]", args[0], f.partition)
				return nil
			}
			printMessage(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// drain читает итератор до конца. Возвращает смещение, с которого продолжать.
func drain(ctx context.Context, c *client.Client, w io.Writer, topic string, f *consumeFlags, offset int64) (int64, int, error) {
	it, err := c.GetMessageIterator(ctx, topic, f.options(offset)...)
	if err != nil {
		return offset, 0, err
	}
	defer it.Close()

	n := 0
	for it.Next() {
		m := it.Message()
		printMessage(w, m)
		offset = m.Offset() + 1
		n++
	}
	return offset, n, it.Err()
}

func iterateCmd() *cobra.Command {
	var (
		f      consumeFlags
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "iterate <topic>",
		Short: "Read messages until end of partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			topic := args[0]
			offset, err := parseOffset(f.offset)
			if err != nil {
				return err
			}
			c, err := newConsumerClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			if !follow {
				_, n, err := drain(ctx, c, cmd.OutOrStdout(), topic, &f, offset)
				log.Info().Msgf("read %d messages from %s[%d]", n, topic, f.partition)
				return err
			}

			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = cfg.Follow.InitialInterval
			bo.MaxInterval = cfg.Follow.MaxInterval
			bo.MaxElapsedTime = cfg.Follow.MaxElapsedTime

			operation := func() error {
				next, n, err := drain(ctx, c, cmd.OutOrStdout(), topic, &f, offset)
				offset = next
				if n > 0 {
					bo.Reset()
				}
				switch {
				case ctx.Err() != nil:
					return backoff.Permanent(ctx.Err())
				case err == nil:
					return errors.New("end of partition")
				case kafkaerr.IsTimeout(err):
					return err
				}
				return backoff.Permanent(err)
			}
			notify := func(err error, delay time.Duration) {
				log.Debug().Err(err).Msgf("reopen %s[%d] in %s", topic, f.partition, delay)
			}

			err = backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading after end of partition")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		partition int32
		key       string
		headers   []string
		timestamp int64
		block     bool
	)
	cmd := &cobra.Command{
		Use:   "send <topic> [payload...]",
		Short: "Send messages, payloads from args or stdin lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]
			hdrs, err := config.ParsePairs(headers)
			if err != nil {
				return errors.Wrap(err, "invalid header")
			}

			handle, err := backend.NewProducer(cfg, backend.LogDelivery)
			if err != nil {
				return errors.Wrap(err, "failed to create producer")
			}
			c := client.InitAsProducer(handle, cfg.TopicDefaults(), client.WithFlushTimeout(cfg.Session.FlushTimeout))
			defer c.Shutdown()

			opts := []client.CallOption{
				client.WithPartition(partition),
				client.WithTimestamp(timestamp),
			}
			if key != "" {
				opts = append(opts, client.WithKey([]byte(key)))
			}
			if len(hdrs) > 0 {
				list := make([]producer.Header, 0, len(hdrs))
				for k, v := range hdrs {
					list = append(list, producer.Header{Key: k, Value: []byte(fmt.Sprint(v))})
				}
				opts = append(opts, client.WithHeaderList(list))
			}
			if block {
				opts = append(opts, client.WithMessageFlags(producer.MsgFlagBlock))
			}

			send := func(payload string) error {
				opaque := uuid.New().String()
				err := c.SendMessage(cmd.Context(), []byte(payload), topic, append(opts, client.WithOpaque(opaque))...)
				if err != nil {
					return errors.Wrapf(err, "send %s", opaque)
				}
				log.Debug().Str("opaque", opaque).Msgf("queued to %s", topic)
				return nil
			}

			if len(args) > 1 {
				for _, p := range args[1:] {
					if err := send(p); err != nil {
						return err
					}
				}
				return nil
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if err := send(scanner.Text()); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().Int32VarP(&partition, "partition", "p", producer.PartitionUnassigned, "target partition, -1 lets the partitioner choose")
	cmd.Flags().StringVarP(&key, "key", "k", "", "message key")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "header name=value, repeatable")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "timestamp in ms, 0 lets the broker assign")
	cmd.Flags().BoolVar(&block, "block", false, "flush and retry when the local queue is full")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
