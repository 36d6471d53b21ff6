package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rushteam/alignkit/config"
	_ "github.com/rushteam/alignkit/config/builders"
	"github.com/rushteam/alignkit/logging"
)

// envPrefix 是环境变量覆盖的前缀，例如 ALIGNKIT_MODELS_THRESHOLD=4。
const envPrefix = "ALIGNKIT"

// overridableKeys 是可以通过环境变量覆盖的配置项。
var overridableKeys = []string{
	"log.level", "log.format",
	"models.audio_model", "models.image_model", "models.threshold",
	"models.audio_endpoint", "models.image_endpoint", "models.timeout",
	"classifier.variant", "classifier.model", "classifier.no_grad",
	"dataset.archive", "dataset.dir", "dataset.manifest", "dataset.limit",
	"labels", "workers", "fail_fast",
	"store.type", "store.path", "store.ttl",
	"store.redis.addr", "store.redis.password", "store.redis.db",
}

type commandContext struct {
	configFlag string
	viper      *viper.Viper
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{viper: newViper()}

	rootCmd := &cobra.Command{
		Use:           "alignkit",
		Short:         "Evaluate spoken-caption / image alignment with pretrained scorers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cc.configFlag, "config", "c", "", "Evaluation config file (default: ./alignkit.yaml)")

	rootCmd.AddCommand(newEvalCommand(cc))
	rootCmd.AddCommand(newScoreCommand(cc))
	rootCmd.AddCommand(newClassifyCommand(cc))
	rootCmd.AddCommand(newInspectWeightsCommand())
	rootCmd.AddCommand(newTopCommand(cc))
	return rootCmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range overridableKeys {
		// 注册 key 使 AutomaticEnv 在 Unmarshal 时生效；值为空时保留 config.Default
		_ = v.BindEnv(key)
	}
	return v
}

// load 读取配置文件（可选）与环境变量，并按 log 段配置日志。
// 命令行参数由各命令在 load 之后按 Flags().Changed 覆盖。
func (c *commandContext) load() (*config.File, error) {
	v := c.viper
	if c.configFlag != "" {
		v.SetConfigFile(c.configFlag)
	} else {
		v.SetConfigName("alignkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/alignkit")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.configFlag != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	f := config.Default()
	if err := v.Unmarshal(f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := logging.Configure(f.Log, nil); err != nil {
		return nil, fmt.Errorf("log config: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logging.Component("cli").WithField("path", used).Debug("config loaded")
	}
	return f, nil
}
