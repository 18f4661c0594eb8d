// Package node hosts the command line interface of the pinmesh node.
package node

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/config"
	"github.com/pinmesh/pinmesh/node"
	"github.com/pinmesh/pinmesh/session"
	"github.com/pinmesh/pinmesh/signing"
	"github.com/pinmesh/pinmesh/sql"
	"github.com/pinmesh/pinmesh/sql/records"
)

var (
	cfgFile string
	vip     = viper.New()
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return config.DefaultConfig(), err
	}
	if err := vip.BindPFlags(cmd.InheritedFlags()); err != nil {
		return config.DefaultConfig(), err
	}
	cfg, err := config.LoadConfig(cfgFile, vip)
	if err != nil {
		return cfg, err
	}
	if vip.IsSet("topic") {
		cfg.P2P.Topic = vip.GetString("topic")
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "join the room and synchronize records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := node.New(ctx, logger, cfg)
			if err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				app.Stop()
				return err
			}
			<-ctx.Done()
			app.Stop()
			return nil
		},
	}
	cmd.Flags().Bool("metrics", false, "expose prometheus metrics")
	cmd.Flags().Int("metrics-port", 9095, "prometheus metrics port")
	return cmd
}

func withDatabase(cmd *cobra.Command, fn func(cfg config.Config, app *appEnv) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := node.OpenDatabase(logger.Named("sql"), cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cfg, &appEnv{logger: logger, db: db})
}

type appEnv struct {
	logger *zap.Logger
	db     *sql.Database
}

func clock() clockwork.Clock {
	return clockwork.NewRealClock()
}

func loginCmd() *cobra.Command {
	var npub, nsec string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "import a key pair and create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(cfg config.Config, env *appEnv) error {
				mgr := session.New(env.logger.Named("session"), clock(), env.db, cfg.TokenValidity)
				sess, err := mgr.Import(npub, nsec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", sess.PublicKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&npub, "npub", "", "bech32 public key")
	cmd.Flags().StringVar(&nsec, "nsec", "", "bech32 secret key")
	cmd.MarkFlagRequired("npub")
	cmd.MarkFlagRequired("nsec")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "delete the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(cfg config.Config, env *appEnv) error {
				mgr := session.New(env.logger.Named("session"), clock(), env.db, cfg.TokenValidity)
				if err := mgr.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}

func postCmd() *cobra.Command {
	var (
		nsec, text, bucket, link string
		lat, lon                 float64
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "create and store a signed record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(cfg config.Config, env *appEnv) error {
				secret, err := signing.DecodeNsec(nsec)
				if err != nil {
					return err
				}
				signer, err := signing.NewSchnorrSigner(secret)
				for i := range secret {
					secret[i] = 0
				}
				if err != nil {
					return err
				}
				defer signer.Zero()

				rec := &types.Record{
					UUID:      types.RandomRecordID(),
					CreatedAt: clock().Now().UnixMilli(),
					Bucket:    bucket,
					Content:   types.Content{Text: text},
					Geo:       types.Geo{Latitude: lat, Longitude: lon},
				}
				if link != "" {
					rec.Content.Link = &link
				}
				if err := signer.SignRecord(rec); err != nil {
					return err
				}
				if err := records.Add(env.db, rec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored record %s by %s\n",
					rec.UUID, hex.EncodeToString(signer.PublicKey()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&nsec, "nsec", "", "bech32 secret key")
	cmd.Flags().StringVar(&text, "text", "", "record text")
	cmd.Flags().StringVar(&bucket, "bucket", "default", "record bucket")
	cmd.Flags().StringVar(&link, "link", "", "optional link")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.MarkFlagRequired("nsec")
	cmd.MarkFlagRequired("text")
	return cmd
}

// Execute runs the root command.
func Execute() {
	root := &cobra.Command{
		Use:          "pinmesh",
		Short:        "peer-to-peer signed-record synchronization node",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the config file")
	root.PersistentFlags().String("data-dir", config.DefaultConfig().DataDir, "data directory")
	root.PersistentFlags().String("log-level", config.DefaultConfig().LogLevel, "log level")
	root.PersistentFlags().String("topic", config.DefaultConfig().P2P.Topic, "presence topic")
	root.AddCommand(runCmd(), loginCmd(), logoutCmd(), postCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
